// Package tracker joins kill records with the boss catalog: it logs kills
// against known bosses and annotates records with their predicted respawn.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bosstimer/internal/boss"
	"github.com/jensholdgaard/bosstimer/internal/clock"
	"github.com/jensholdgaard/bosstimer/internal/record"
	"github.com/jensholdgaard/bosstimer/internal/respawn"
)

// Manager handles kill tracking operations.
type Manager struct {
	records *record.Store
	catalog *boss.Catalog
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewManager returns a new tracker Manager.
func NewManager(records *record.Store, catalog *boss.Catalog, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		records: records,
		catalog: catalog,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/bosstimer/internal/tracker"),
	}
}

// KillInput describes an observed kill. A zero At means now.
type KillInput struct {
	BossID  string
	At      time.Time
	Channel int
	Looted  bool
	Note    string
}

// Entry is a record annotated for display.
type Entry struct {
	Record    record.KillRecord
	BossName  string
	Respawn   respawn.Result
	Status    respawn.Status
	Remaining time.Duration
}

// BoardRow is one boss's line on the board.
type BoardRow struct {
	Boss boss.Rule
	// Last is the most recent kill, nil when none is recorded.
	Last      *record.KillRecord
	Respawn   respawn.Result
	Status    respawn.Status
	Remaining time.Duration
}

// LogKill records a kill of a catalog boss.
func (m *Manager) LogKill(ctx context.Context, in KillInput) (Entry, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.LogKill",
		trace.WithAttributes(
			attribute.String("boss_id", in.BossID),
			attribute.Int("channel", in.Channel),
		),
	)
	defer span.End()

	if _, err := m.catalog.Lookup(in.BossID); err != nil {
		return Entry{}, err
	}

	rec, err := m.records.Add(ctx, record.Draft{
		BossID:    in.BossID,
		Timestamp: in.At,
		Channel:   in.Channel,
		Looted:    in.Looted,
		Note:      in.Note,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("logging kill: %w", err)
	}

	entry := m.annotate(rec, m.clock.Now())
	m.logger.InfoContext(ctx, "kill logged",
		slog.String("record_id", rec.ID),
		slog.String("boss", entry.BossName),
		slog.String("status", string(entry.Status)),
	)
	return entry, nil
}

// Edit applies p to a record. A new boss id must be in the catalog.
func (m *Manager) Edit(ctx context.Context, id string, p record.Patch) (Entry, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Edit", trace.WithAttributes(attribute.String("record_id", id)))
	defer span.End()

	if p.BossID != nil {
		if _, err := m.catalog.Lookup(*p.BossID); err != nil {
			return Entry{}, err
		}
	}
	rec, err := m.records.Update(ctx, id, p)
	if err != nil {
		return Entry{}, fmt.Errorf("editing kill: %w", err)
	}
	return m.annotate(rec, m.clock.Now()), nil
}

// Remove deletes a record, reporting whether it existed.
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Remove", trace.WithAttributes(attribute.String("record_id", id)))
	defer span.End()

	ok, err := m.records.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("removing kill: %w", err)
	}
	return ok, nil
}

// List returns matching records annotated with their respawn. The
// bossName and respawnEarliest orderings resolve through the catalog.
func (m *Manager) List(ctx context.Context, q record.Query) ([]Entry, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.List", trace.WithAttributes(attribute.String("boss_id", q.BossID)))
	defer span.End()

	if q.Resolver == nil {
		q.Resolver = m
	}
	records, err := m.records.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing kills: %w", err)
	}
	now := m.clock.Now()
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, m.annotate(r, now))
	}
	return out, nil
}

// Today returns bossID's kills on the current calendar day, newest first.
func (m *Manager) Today(ctx context.Context, bossID string) ([]Entry, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Today", trace.WithAttributes(attribute.String("boss_id", bossID)))
	defer span.End()

	date := m.clock.Now().In(m.records.Location()).Format("2006-01-02")
	return m.List(ctx, record.Query{
		BossID: bossID,
		Date:   date,
		Sort:   record.Sort{Key: record.SortTimestamp, Desc: true},
	})
}

// Board returns one row per catalog boss, in catalog order, with the
// respawn predicted from its latest kill.
func (m *Manager) Board(ctx context.Context) ([]BoardRow, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Board")
	defer span.End()

	now := m.clock.Now()
	rules := m.catalog.All()
	rows := make([]BoardRow, 0, len(rules))
	for _, rule := range rules {
		row := BoardRow{Boss: rule, Status: respawn.Unknown}
		records, err := m.records.Query(ctx, record.Query{BossID: rule.ID})
		if err != nil {
			return nil, fmt.Errorf("reading kills for %q: %w", rule.ID, err)
		}
		if len(records) > 0 {
			last := records[0]
			row.Last = &last
			row.Respawn = respawn.Compute(last.Timestamp, rule)
			row.Status = respawn.Classify(row.Respawn, now)
			row.Remaining = respawn.Remaining(row.Respawn, now)
		}
		rows = append(rows, row)
	}
	span.SetAttributes(attribute.Int("bosses", len(rows)))
	return rows, nil
}

// Describe returns the rule text for bossID.
func (m *Manager) Describe(bossID string) (string, error) {
	rule, err := m.catalog.Lookup(bossID)
	if err != nil {
		return "", err
	}
	return rule.DisplayName() + ": " + rule.Describe(), nil
}

// BossName returns the catalog display name, or "" for unknown bosses.
func (m *Manager) BossName(bossID string) string {
	rule, ok := m.catalog.Get(bossID)
	if !ok {
		return ""
	}
	return rule.DisplayName()
}

// RespawnEarliest returns the first instant r's boss may respawn.
func (m *Manager) RespawnEarliest(r record.KillRecord) (time.Time, bool) {
	rule, ok := m.catalog.Get(r.BossID)
	if !ok {
		return time.Time{}, false
	}
	res := respawn.Compute(r.Timestamp, rule)
	earliest, ok := res.Earliest()
	if !ok {
		return time.Time{}, false
	}
	// Range rules keep their configured order, which may be reversed.
	if latest, _ := res.Latest(); latest.Before(earliest) {
		earliest = latest
	}
	return earliest, true
}

func (m *Manager) annotate(r record.KillRecord, now time.Time) Entry {
	e := Entry{Record: r, BossName: r.BossID, Status: respawn.Unknown}
	rule, ok := m.catalog.Get(r.BossID)
	if !ok {
		return e
	}
	e.BossName = rule.DisplayName()
	e.Respawn = respawn.Compute(r.Timestamp, rule)
	e.Status = respawn.Classify(e.Respawn, now)
	e.Remaining = respawn.Remaining(e.Respawn, now)
	return e
}

var _ record.SortResolver = (*Manager)(nil)
