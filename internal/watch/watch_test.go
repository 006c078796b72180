package watch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bosstimer/internal/boss"
	"github.com/jensholdgaard/bosstimer/internal/respawn"
	"github.com/jensholdgaard/bosstimer/internal/tracker"
	"github.com/jensholdgaard/bosstimer/internal/watch"
)

var (
	testTP     = noop.NewTracerProvider()
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// scriptedBoard returns one board per call, repeating the last.
type scriptedBoard struct {
	mu     sync.Mutex
	boards [][]tracker.BoardRow
	calls  int
	err    error
}

func (b *scriptedBoard) Board(context.Context) ([]tracker.BoardRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	i := min(b.calls, len(b.boards)-1)
	b.calls++
	return b.boards[i], nil
}

func (b *scriptedBoard) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func rows(statuses ...respawn.Status) []tracker.BoardRow {
	ids := []string{"BossA", "BossB", "BossC"}
	out := make([]tracker.BoardRow, len(statuses))
	for i, s := range statuses {
		out[i] = tracker.BoardRow{Boss: boss.Rule{ID: ids[i]}, Status: s}
	}
	return out
}

func TestWatcher_Check(t *testing.T) {
	ctx := context.Background()
	board := &scriptedBoard{boards: [][]tracker.BoardRow{
		rows(respawn.Cooling, respawn.Unknown),
		rows(respawn.Imminent, respawn.Unknown),
		rows(respawn.Imminent, respawn.Unknown, respawn.Cooling),
		rows(respawn.Ready, respawn.Cooling, respawn.Cooling),
	}}
	var notified []watch.Change
	w := watch.New(board, "", func(_ context.Context, c watch.Change) {
		notified = append(notified, c)
	}, testLogger, testTP)

	type transition struct {
		id       string
		from, to respawn.Status
	}
	want := [][]transition{
		nil,
		{{"BossA", respawn.Cooling, respawn.Imminent}},
		{{"BossC", "", respawn.Cooling}},
		{{"BossA", respawn.Imminent, respawn.Ready}, {"BossB", respawn.Unknown, respawn.Cooling}},
	}
	total := 0
	for poll, wantChanges := range want {
		changes, err := w.Check(ctx)
		if err != nil {
			t.Fatalf("poll %d: Check: %v", poll, err)
		}
		if len(changes) != len(wantChanges) {
			t.Fatalf("poll %d: %d changes, want %d: %+v", poll, len(changes), len(wantChanges), changes)
		}
		for i, c := range changes {
			exp := wantChanges[i]
			if c.Row.Boss.ID != exp.id || c.From != exp.from || c.Row.Status != exp.to {
				t.Errorf("poll %d change %d = %s %s->%s, want %s %s->%s",
					poll, i, c.Row.Boss.ID, c.From, c.Row.Status, exp.id, exp.from, exp.to)
			}
		}
		total += len(wantChanges)
	}
	if len(notified) != total {
		t.Errorf("notified %d times, want %d", len(notified), total)
	}
}

func TestWatcher_CheckError(t *testing.T) {
	board := &scriptedBoard{err: errors.New("backend down")}
	w := watch.New(board, "", nil, testLogger, testTP)
	if _, err := w.Check(context.Background()); err == nil {
		t.Error("expected error")
	}
	if w.Err() == nil {
		t.Error("Err() = nil after failed poll")
	}

	board.mu.Lock()
	board.err = nil
	board.boards = [][]tracker.BoardRow{rows(respawn.Cooling)}
	board.mu.Unlock()
	if _, err := w.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := w.Err(); err != nil {
		t.Errorf("Err() = %v after successful poll", err)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	ctx := context.Background()
	board := &scriptedBoard{boards: [][]tracker.BoardRow{rows(respawn.Cooling)}}
	w := watch.New(board, "@every 1h", nil, testLogger, testTP)

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := board.Calls(); got != 1 {
		t.Errorf("board polled %d times on start, want 1", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	w.Stop(stopCtx)
	// Stopping twice is harmless.
	w.Stop(stopCtx)
}

func TestWatcher_StartInvalidSchedule(t *testing.T) {
	board := &scriptedBoard{boards: [][]tracker.BoardRow{rows(respawn.Cooling)}}
	w := watch.New(board, "not a schedule", nil, testLogger, testTP)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if board.Calls() != 0 {
		t.Error("board polled despite invalid schedule")
	}
}
