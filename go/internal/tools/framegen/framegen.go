package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/impact/go/internal/gameconfig"
	"github.com/mcdev12/impact/go/internal/serialframe"
)

// framegen writes synthetic controller frames at the device's pace, e.g.
//
//	go run ./go/internal/tools/framegen -scenario cheat | go run ./go/internal/cmd -replay -
func main() {
	scenario := flag.String("scenario", "draw", "draw or cheat")
	format := flag.String("format", "binary", "binary or ascii")
	rate := flag.Int("rate", 20, "frames per second")
	duration := flag.Duration("duration", 65*time.Second, "how long to emit frames")
	flag.Parse()

	f, err := serialframe.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	script, ok := scenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		os.Exit(1)
	}
	if *rate < 1 {
		fmt.Fprintf(os.Stderr, "rate must be positive\n")
		os.Exit(1)
	}

	total := int(duration.Seconds() * float64(*rate))
	if err := emit(os.Stdout, clockwork.NewRealClock(), script, f, *rate, total); err != nil {
		fmt.Fprintf(os.Stderr, "write frames: %v\n", err)
		os.Exit(1)
	}
}

// script returns the reading for the frame at elapsed.
type script func(elapsed time.Duration) serialframe.Reading

var scenarios = map[string]script{
	// Press start after a second, then stay still until the round times out.
	"draw": func(elapsed time.Duration) serialframe.Reading {
		if elapsed >= time.Second && elapsed < 1500*time.Millisecond {
			return serialframe.NewReading(1, 0, 0, 0, 0, 0, 0)
		}
		return serialframe.NewReading(0, 0, 0, 0, 0, 0, 0)
	},
	// As draw, but player 2 slips out of the strap twice.
	"cheat": func(elapsed time.Duration) serialframe.Reading {
		start := 0
		if elapsed >= time.Second && elapsed < 1500*time.Millisecond {
			start = 1
		}
		strap2 := 0
		if (elapsed >= 10*time.Second && elapsed < 12*time.Second) ||
			(elapsed >= 30*time.Second && elapsed < 31*time.Second) {
			strap2 = 1
		}
		return serialframe.NewReading(start, 0, strap2, 0, 0, 1, 0)
	},
}

// emit writes total frames, one per tick, starting with a delimiter so the
// decoder syncs on the first frame.
func emit(w io.Writer, clock clockwork.Clock, s script, format serialframe.Format, rate, total int) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(gameconfig.DefaultDelimiter); err != nil {
		return err
	}

	interval := time.Second / time.Duration(rate)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < total; i++ {
		elapsed := time.Duration(i) * interval
		if _, err := bw.Write(serialframe.EncodeFrame(s(elapsed), format, gameconfig.DefaultDelimiter)); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if i < total-1 {
			<-ticker.Chan()
		}
	}
	return nil
}
