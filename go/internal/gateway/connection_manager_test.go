package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/round"
)

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func TestDisplayReceivesStateThenEvents(t *testing.T) {
	roundID := uuid.New()
	controller := &fakeController{snap: round.Snapshot{State: round.Playing, RoundID: roundID}}
	svc := newTestService(t, controller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/arena?client_id=scoreboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readMessage(t, conn)
	if first.Kind != KindState || first.State == nil {
		t.Fatalf("first message = %+v, want state", first)
	}
	if first.State.RoundID != roundID {
		t.Errorf("state round = %s, want %s", first.State.RoundID, roundID)
	}
	if got := svc.Stats().TotalConnections; got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}

	ev, err := events.New(events.EventTypeWarningRaised, roundID, time.Now(), events.WarningRaisedPayload{ElapsedMs: 50000})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	if err := svc.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	next := readMessage(t, conn)
	if next.Kind != KindEvent || next.Event == nil {
		t.Fatalf("second message = %+v, want event", next)
	}
	if next.Event.ID != ev.ID || next.Event.Type != events.EventTypeWarningRaised {
		t.Errorf("event = %+v, want %+v", next.Event, ev)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ev, err := events.New(events.EventTypeRoundReset, uuid.New(), time.Now(), events.RoundResetPayload{})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}

	// Nothing drains the queue without Start.
	for i := 0; i < cap(cm.broadcastCh)+3; i++ {
		if err := cm.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := cm.Stats().Dropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestEventDuringInitialStateReachesDisplay(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	roundID := uuid.New()
	ev, err := events.New(events.EventTypeWarningRaised, roundID, time.Now(), events.WarningRaisedPayload{ElapsedMs: 50000})
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}

	// The event is broadcast while the initial state is being built, so
	// it is not part of that state and has to follow it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		initial := func() []byte {
			if err := cm.Publish(ctx, ev); err != nil {
				t.Errorf("Publish: %v", err)
			}
			data, _ := json.Marshal(Message{Kind: KindState, State: &round.Snapshot{State: round.Playing, RoundID: roundID}})
			return data
		}
		if err := cm.UpgradeConnection(w, r, "scoreboard", initial); err != nil {
			t.Errorf("UpgradeConnection: %v", err)
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if first := readMessage(t, conn); first.Kind != KindState {
		t.Fatalf("first message = %+v, want state", first)
	}
	next := readMessage(t, conn)
	if next.Kind != KindEvent || next.Event == nil || next.Event.ID != ev.ID {
		t.Fatalf("second message = %+v, want the warning event", next)
	}
}
