// Package watch polls the respawn board on a schedule and reports bosses
// whose status changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bosstimer/internal/respawn"
	"github.com/jensholdgaard/bosstimer/internal/tracker"
)

// DefaultSchedule polls once a minute.
const DefaultSchedule = "@every 1m"

// Boarder produces the current board.
type Boarder interface {
	Board(ctx context.Context) ([]tracker.BoardRow, error)
}

// Change is a boss whose status moved between two polls.
type Change struct {
	Row  tracker.BoardRow
	From respawn.Status
}

// Notifier receives changes. It runs on the scheduler goroutine.
type Notifier func(ctx context.Context, c Change)

// Watcher compares successive boards and notifies on status transitions.
// The first poll only records a baseline.
type Watcher struct {
	board    Boarder
	notify   Notifier
	schedule string
	logger   *slog.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	last    map[string]respawn.Status
	lastErr error
	cron    *cron.Cron
}

// New returns a Watcher. An empty schedule means DefaultSchedule.
func New(board Boarder, schedule string, notify Notifier, logger *slog.Logger, tp trace.TracerProvider) *Watcher {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Watcher{
		board:    board,
		notify:   notify,
		schedule: schedule,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bosstimer/internal/watch"),
	}
}

// Check polls the board once and returns, and notifies, the changes since
// the previous poll.
func (w *Watcher) Check(ctx context.Context) ([]Change, error) {
	ctx, span := w.tracer.Start(ctx, "Watcher.Check")
	defer span.End()

	rows, err := w.board.Board(ctx)
	if err != nil {
		err = fmt.Errorf("reading board: %w", err)
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return nil, err
	}

	w.mu.Lock()
	w.lastErr = nil
	first := w.last == nil
	prev := w.last
	w.last = make(map[string]respawn.Status, len(rows))
	var changes []Change
	for _, row := range rows {
		w.last[row.Boss.ID] = row.Status
		if first {
			continue
		}
		if from, ok := prev[row.Boss.ID]; !ok || from != row.Status {
			changes = append(changes, Change{Row: row, From: from})
		}
	}
	w.mu.Unlock()

	span.SetAttributes(attribute.Int("changes", len(changes)))
	for _, c := range changes {
		w.logger.InfoContext(ctx, "boss status changed",
			slog.String("boss_id", c.Row.Boss.ID),
			slog.String("from", string(c.From)),
			slog.String("to", string(c.Row.Status)),
		)
		if w.notify != nil {
			w.notify(ctx, c)
		}
	}
	return changes, nil
}

// Err returns the error of the most recent poll, nil if it succeeded.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Start takes a baseline and then polls on the schedule until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	sched, err := cron.ParseStandard(w.schedule)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", w.schedule, err)
	}
	if _, err := w.Check(ctx); err != nil {
		return err
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := w.Check(ctx); err != nil {
			w.logger.ErrorContext(ctx, "watch poll failed", slog.Any("error", err))
		}
	}))

	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()

	c.Start()
	w.logger.InfoContext(ctx, "watcher started", slog.String("schedule", w.schedule))
	return nil
}

// Stop halts polling and waits for a running poll, or ctx, to finish.
func (w *Watcher) Stop(ctx context.Context) {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		w.logger.InfoContext(ctx, "watcher stopped")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "timed out waiting for watch poll to finish")
	}
}
