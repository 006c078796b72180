package record

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bosstimer/internal/clock"
	"github.com/jensholdgaard/bosstimer/internal/kv"
)

const instrumentationName = "github.com/jensholdgaard/bosstimer/internal/record"

// DefaultMaxPerBoss is the retention cap applied when none is configured.
const DefaultMaxPerBoss = 3000

// Store is the partitioned kill-record store. Operations are serialised
// within one Store; separate processes sharing a backend race at key
// granularity, last write wins.
type Store struct {
	mu sync.Mutex

	backend    kv.Backend
	keys       keyspace
	maxPerBoss int
	newID      func() (string, error)

	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer

	added   metric.Int64Counter
	purged  metric.Int64Counter
	corrupt metric.Int64Counter
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	prefix     string
	mode       PartitionMode
	loc        *time.Location
	maxPerBoss int
	newID      func() (string, error)
	clock      clock.Clock
	logger     *slog.Logger
	tp         trace.TracerProvider
	mp         metric.MeterProvider
}

// WithPrefix sets the key namespace (default "abt").
func WithPrefix(p string) Option { return func(o *storeOptions) { o.prefix = p } }

// WithPartitionMode selects day or boss partitioning (default ByDay).
func WithPartitionMode(m PartitionMode) Option { return func(o *storeOptions) { o.mode = m } }

// WithLocation sets the zone calendar dates are taken in (default time.Local).
func WithLocation(loc *time.Location) Option { return func(o *storeOptions) { o.loc = loc } }

// WithMaxPerBoss sets the retention cap.
func WithMaxPerBoss(n int) Option { return func(o *storeOptions) { o.maxPerBoss = n } }

// WithIDGenerator replaces the nanoid generator.
func WithIDGenerator(f func() (string, error)) Option { return func(o *storeOptions) { o.newID = f } }

// WithClock sets the clock used for bookkeeping times.
func WithClock(c clock.Clock) Option { return func(o *storeOptions) { o.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *storeOptions) { o.logger = l } }

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *storeOptions) { o.tp = tp } }

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option { return func(o *storeOptions) { o.mp = mp } }

// NewStore returns a Store over backend.
func NewStore(backend kv.Backend, opts ...Option) (*Store, error) {
	o := storeOptions{
		prefix:     "abt",
		mode:       ByDay,
		loc:        time.Local,
		maxPerBoss: DefaultMaxPerBoss,
		newID:      func() (string, error) { return gonanoid.New() },
		clock:      clock.Real{},
		logger:     slog.Default(),
		tp:         noop.NewTracerProvider(),
		mp:         metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch o.mode {
	case ByDay, ByBoss:
	default:
		return nil, fmt.Errorf("unsupported partition mode %q", o.mode)
	}
	if o.maxPerBoss < 1 {
		return nil, fmt.Errorf("max per boss must be positive, got %d", o.maxPerBoss)
	}
	if o.prefix == "" {
		return nil, fmt.Errorf("key prefix must not be empty")
	}

	meter := o.mp.Meter(instrumentationName)
	added, err := meter.Int64Counter("bosstimer.records.added",
		metric.WithDescription("Kill records written by add, import or migration."))
	if err != nil {
		return nil, fmt.Errorf("creating added counter: %w", err)
	}
	purged, err := meter.Int64Counter("bosstimer.records.purged",
		metric.WithDescription("Kill records removed by the retention cap."))
	if err != nil {
		return nil, fmt.Errorf("creating purged counter: %w", err)
	}
	corrupt, err := meter.Int64Counter("bosstimer.partitions.corrupt",
		metric.WithDescription("Partition reads that failed to decode and were treated as empty."))
	if err != nil {
		return nil, fmt.Errorf("creating corrupt counter: %w", err)
	}

	return &Store{
		backend:    backend,
		keys:       keyspace{prefix: o.prefix, mode: o.mode, loc: o.loc},
		maxPerBoss: o.maxPerBoss,
		newID:      o.newID,
		clock:      o.clock,
		logger:     o.logger,
		tracer:     o.tp.Tracer(instrumentationName),
		added:      added,
		purged:     purged,
		corrupt:    corrupt,
	}, nil
}

// MaxPerBoss returns the retention cap.
func (s *Store) MaxPerBoss() int { return s.maxPerBoss }

// Location returns the zone calendar dates are taken in.
func (s *Store) Location() *time.Location { return s.keys.loc }

// Add validates d, stores it as a new record and then applies the retention
// cap for its boss.
func (s *Store) Add(ctx context.Context, d Draft) (KillRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Add",
		trace.WithAttributes(
			attribute.String("boss_id", d.BossID),
			attribute.Int("channel", d.Channel),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rec := KillRecord{
		ID:        d.ID,
		BossID:    d.BossID,
		Timestamp: d.Timestamp,
		Channel:   d.Channel,
		Looted:    d.Looted,
		Note:      d.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if err := Validate(rec); err != nil {
		return KillRecord{}, err
	}

	if rec.ID == "" {
		id, err := s.newID()
		if err != nil {
			return KillRecord{}, fmt.Errorf("generating record id: %w", err)
		}
		rec.ID = id
	} else {
		_, found, err := s.findLocked(ctx, rec.ID, rec.BossID)
		if err != nil {
			return KillRecord{}, err
		}
		if found {
			return KillRecord{}, fmt.Errorf("%w: id %q already exists", ErrValidation, rec.ID)
		}
	}

	key := s.keys.keyOf(rec)
	records, err := s.readPartition(ctx, key)
	if err != nil {
		return KillRecord{}, err
	}
	if err := s.writePartition(ctx, key, append(records, rec)); err != nil {
		return KillRecord{}, err
	}
	s.added.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "add")))

	s.logger.InfoContext(ctx, "kill record added",
		slog.String("record_id", rec.ID),
		slog.String("boss_id", rec.BossID),
		slog.Int("channel", rec.Channel),
	)

	if _, err := s.purgeLocked(ctx, rec.BossID); err != nil {
		s.logger.ErrorContext(ctx, "retention purge failed after add",
			slog.String("boss_id", rec.BossID),
			slog.Any("error", err),
		)
	}
	return rec, nil
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id string) (KillRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Get", trace.WithAttributes(attribute.String("record_id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	loc, found, err := s.findLocked(ctx, id, "")
	if err != nil {
		return KillRecord{}, err
	}
	if !found {
		return KillRecord{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return loc.records[loc.index], nil
}

// Update applies p to the record with id. When p changes the boss, that
// boss's partitions are searched first; otherwise, and as a fallback, every
// partition is scanned. A record whose partition key changes is written to
// its new partition before it is removed from the old one.
func (s *Store) Update(ctx context.Context, id string, p Patch) (KillRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Update", trace.WithAttributes(attribute.String("record_id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	hint := ""
	if p.BossID != nil {
		hint = *p.BossID
	}
	old, found, err := s.findLocked(ctx, id, hint)
	if err != nil {
		return KillRecord{}, err
	}
	if !found {
		return KillRecord{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	current := old.records[old.index]
	merged := p.apply(current)
	merged.UpdatedAt = s.clock.Now()
	if err := Validate(merged); err != nil {
		return KillRecord{}, err
	}

	newKey := s.keys.keyOf(merged)
	if newKey == old.key {
		old.records[old.index] = merged
		if err := s.writePartition(ctx, old.key, old.records); err != nil {
			return KillRecord{}, err
		}
	} else if err := s.moveLocked(ctx, old, newKey, merged); err != nil {
		return KillRecord{}, err
	}

	s.logger.InfoContext(ctx, "kill record updated",
		slog.String("record_id", id),
		slog.String("boss_id", merged.BossID),
		slog.Bool("moved", newKey != old.key),
	)

	if merged.BossID != current.BossID {
		if _, err := s.purgeLocked(ctx, merged.BossID); err != nil {
			s.logger.ErrorContext(ctx, "retention purge failed after update",
				slog.String("boss_id", merged.BossID),
				slog.Any("error", err),
			)
		}
	}
	return merged, nil
}

func (s *Store) moveLocked(ctx context.Context, old location, newKey string, merged KillRecord) error {
	dest, err := s.readPartition(ctx, newKey)
	if err != nil {
		return err
	}
	if err := s.writePartition(ctx, newKey, append(dest, merged)); err != nil {
		return fmt.Errorf("writing moved record: %w", err)
	}

	remaining := slices.Delete(slices.Clone(old.records), old.index, old.index+1)
	if err := s.writePartition(ctx, old.key, remaining); err != nil {
		// The record still sits in its old partition; take the copy back out
		// of the new one so it is not duplicated.
		if rbErr := s.writePartition(ctx, newKey, dest); rbErr != nil {
			s.logger.ErrorContext(ctx, "rolling back moved record failed, record is present in both partitions",
				slog.String("record_id", merged.ID),
				slog.String("old_key", old.key),
				slog.String("new_key", newKey),
				slog.Any("error", rbErr),
			)
		}
		return fmt.Errorf("removing record from old partition: %w", err)
	}
	return nil
}

// Delete removes the record with id. It reports false, with no error, when
// no such record exists.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Delete", trace.WithAttributes(attribute.String("record_id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	loc, found, err := s.findLocked(ctx, id, "")
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	remaining := slices.Delete(loc.records, loc.index, loc.index+1)
	if err := s.writePartition(ctx, loc.key, remaining); err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "kill record deleted", slog.String("record_id", id))
	return true, nil
}

// PurgeIfNeeded enforces the retention cap for bossID across all of its
// partitions, removing the oldest records by CreatedAt until exactly the
// cap remains. It returns how many records were removed.
func (s *Store) PurgeIfNeeded(ctx context.Context, bossID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Store.PurgeIfNeeded", trace.WithAttributes(attribute.String("boss_id", bossID)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.purgeLocked(ctx, bossID)
}

type indexedRecord struct {
	key   string
	index int
	rec   KillRecord
}

func (s *Store) purgeLocked(ctx context.Context, bossID string) (int, error) {
	keys, err := s.bossKeys(ctx, bossID)
	if err != nil {
		return 0, err
	}

	byKey := make(map[string][]KillRecord, len(keys))
	var all []indexedRecord
	for _, key := range keys {
		records, err := s.readPartition(ctx, key)
		if err != nil {
			return 0, err
		}
		byKey[key] = records
		for i, r := range records {
			all = append(all, indexedRecord{key: key, index: i, rec: r})
		}
	}

	excess := len(all) - s.maxPerBoss
	if excess <= 0 {
		return 0, nil
	}

	slices.SortFunc(all, func(a, b indexedRecord) int {
		if c := a.rec.CreatedAt.Compare(b.rec.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.rec.ID, b.rec.ID)
	})

	drop := make(map[string]map[int]bool)
	for _, ir := range all[:excess] {
		if drop[ir.key] == nil {
			drop[ir.key] = make(map[int]bool)
		}
		drop[ir.key][ir.index] = true
	}

	removed := 0
	for _, key := range keys {
		marked := drop[key]
		if len(marked) == 0 {
			continue
		}
		kept := make([]KillRecord, 0, len(byKey[key])-len(marked))
		for i, r := range byKey[key] {
			if !marked[i] {
				kept = append(kept, r)
			}
		}
		if err := s.writePartition(ctx, key, kept); err != nil {
			return removed, err
		}
		removed += len(marked)
	}

	s.purged.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("boss_id", bossID)))
	s.logger.InfoContext(ctx, "retention cap enforced",
		slog.String("boss_id", bossID),
		slog.Int("removed", removed),
		slog.Int("cap", s.maxPerBoss),
	)
	return removed, nil
}

// location is where a record was found.
type location struct {
	key     string
	index   int
	records []KillRecord
}

// findLocked looks id up in hintBoss's partitions first (when given) and
// then in every partition.
func (s *Store) findLocked(ctx context.Context, id, hintBoss string) (location, bool, error) {
	searched := make(map[string]bool)
	if hintBoss != "" {
		keys, err := s.bossKeys(ctx, hintBoss)
		if err != nil {
			return location{}, false, err
		}
		if loc, ok, err := s.searchKeys(ctx, keys, id, searched); ok || err != nil {
			return loc, ok, err
		}
	}
	keys, err := s.allKeys(ctx)
	if err != nil {
		return location{}, false, err
	}
	return s.searchKeys(ctx, keys, id, searched)
}

func (s *Store) searchKeys(ctx context.Context, keys []string, id string, searched map[string]bool) (location, bool, error) {
	for _, key := range keys {
		if searched[key] {
			continue
		}
		searched[key] = true
		records, err := s.readPartition(ctx, key)
		if err != nil {
			return location{}, false, err
		}
		for i, r := range records {
			if r.ID == id {
				return location{key: key, index: i, records: records}, true, nil
			}
		}
	}
	return location{}, false, nil
}

func (s *Store) allKeys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.keys.scanPrefix())
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		if _, ok := s.keys.bossID(k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) bossKeys(ctx context.Context, bossID string) ([]string, error) {
	keys, err := s.backend.Keys(ctx, s.keys.scanPrefix()+bossID)
	if err != nil {
		return nil, fmt.Errorf("listing partitions for %q: %w", bossID, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if s.keys.ownedBy(k, bossID) {
			out = append(out, k)
		}
	}
	return out, nil
}

// readPartition returns the records under key. A missing key is an empty
// partition, and so is one that fails to decode: the error is logged and
// counted rather than returned so that one bad partition does not hide the
// others.
func (s *Store) readPartition(ctx context.Context, key string) ([]KillRecord, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading partition %q: %w", key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	records, err := decodePartition(raw, s.keys.loc)
	if err != nil {
		s.corrupt.Add(ctx, 1)
		s.logger.ErrorContext(ctx, "corrupt partition treated as empty",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, nil
	}
	return records, nil
}

// writePartition stores records under key, deleting the key when empty.
func (s *Store) writePartition(ctx context.Context, key string, records []KillRecord) error {
	if len(records) == 0 {
		if err := s.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting empty partition %q: %w", key, err)
		}
		return nil
	}
	raw, err := encodePartition(records)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("writing partition %q: %w", key, err)
	}
	return nil
}
