package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mcdev12/impact/go/internal/events"
)

// fakeTx implements the pgx.Tx methods the store calls; the embedded
// interface panics on anything else.
type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.statements = append(tx.db.statements, sql)
	if tx.db.execErr != nil && strings.Contains(sql, "arena_round_penalties") {
		return pgconn.CommandTag{}, tx.db.execErr
	}
	if strings.Contains(sql, "INSERT INTO arena_rounds") && tx.db.duplicate {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.db.commits++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	tx.db.rollbacks++
	return nil
}

type fakeDB struct {
	statements []string
	commits    int
	rollbacks  int
	duplicate  bool
	execErr    error
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func roundEnded(t *testing.T, payload events.RoundEndedPayload) events.Event {
	t.Helper()
	ev, err := events.New(events.EventTypeRoundEnded, uuid.New(), payload.EndedAt, payload)
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	return ev
}

func TestRecordFromEvent(t *testing.T) {
	ended := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	ev := roundEnded(t, events.RoundEndedPayload{
		Winner:    "player1",
		EndedAt:   ended,
		ElapsedMs: 42000,
		Penalties: map[string]int{"player1": 0, "player2": 2},
	})

	rec, err := recordFromEvent(ev)
	if err != nil {
		t.Fatalf("recordFromEvent: %v", err)
	}
	if rec.RoundID != ev.RoundID {
		t.Errorf("round id = %s, want %s", rec.RoundID, ev.RoundID)
	}
	if want := ended.Add(-42 * time.Second); !rec.StartedAt.Equal(want) {
		t.Errorf("started at = %s, want %s", rec.StartedAt, want)
	}
	if rec.Winner != "player1" || rec.Draw || rec.Penalties["player2"] != 2 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecordFromEventDrawWithoutPenalties(t *testing.T) {
	rec, err := recordFromEvent(roundEnded(t, events.RoundEndedPayload{Draw: true, ElapsedMs: 60000}))
	if err != nil {
		t.Fatalf("recordFromEvent: %v", err)
	}
	if !rec.Draw || rec.Winner != "" || rec.Penalties == nil {
		t.Errorf("record = %+v", rec)
	}
}

type recordingSaver struct {
	records []Record
}

func (s *recordingSaver) SaveRound(ctx context.Context, rec Record) (bool, error) {
	s.records = append(s.records, rec)
	return true, nil
}

func TestRecorderOnlySavesFinishedRounds(t *testing.T) {
	saver := &recordingSaver{}
	rec := NewRecorder(saver)
	ctx := context.Background()

	started, _ := events.New(events.EventTypeRoundStarted, uuid.New(), time.Now(), events.RoundStartedPayload{})
	if err := rec.Publish(ctx, started); err != nil {
		t.Fatalf("Publish(started): %v", err)
	}
	if err := rec.Publish(ctx, roundEnded(t, events.RoundEndedPayload{Draw: true})); err != nil {
		t.Fatalf("Publish(ended): %v", err)
	}

	if len(saver.records) != 1 {
		t.Fatalf("saved %d records, want 1", len(saver.records))
	}
}

func TestRecorderRejectsBrokenPayload(t *testing.T) {
	rec := NewRecorder(&recordingSaver{})
	ev := events.Event{Type: events.EventTypeRoundEnded, Payload: []byte(`{"draw":"maybe"}`)}

	if err := rec.Publish(context.Background(), ev); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveRound(t *testing.T) {
	rec := Record{
		RoundID:   uuid.New(),
		Winner:    "player2",
		Penalties: map[string]int{"player1": 1, "player2": 0},
	}

	tests := []struct {
		name          string
		db            *fakeDB
		wantInserted  bool
		wantErr       bool
		wantStmts     int
		wantCommits   int
		wantRollbacks int
	}{
		{"new round", &fakeDB{}, true, false, 3, 1, 0},
		{"redelivered round", &fakeDB{duplicate: true}, false, false, 1, 1, 0},
		{"penalty insert fails", &fakeDB{execErr: errors.New("fk violation")}, true, true, 2, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inserted, err := NewStore(tt.db).SaveRound(context.Background(), rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if inserted != tt.wantInserted {
				t.Errorf("inserted = %v, want %v", inserted, tt.wantInserted)
			}
			if len(tt.db.statements) != tt.wantStmts {
				t.Errorf("statements = %d, want %d", len(tt.db.statements), tt.wantStmts)
			}
			if tt.db.commits != tt.wantCommits || tt.db.rollbacks != tt.wantRollbacks {
				t.Errorf("commits/rollbacks = %d/%d, want %d/%d",
					tt.db.commits, tt.db.rollbacks, tt.wantCommits, tt.wantRollbacks)
			}
		})
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewStore(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(db.statements) != 1 || !strings.Contains(db.statements[0], "CREATE TABLE IF NOT EXISTS arena_rounds") {
		t.Errorf("statements = %v", db.statements)
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Error("empty winner should be NULL")
	}
	if got := nullString("player1"); got == nil || *got != "player1" {
		t.Errorf("nullString(player1) = %v", got)
	}
}
