package record

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Snapshot is the export document: every record, grouped by boss.
type Snapshot struct {
	RecordsByBoss map[string]BossRecords `json:"recordsByBoss"`
}

// BossRecords is one boss's entry in a Snapshot.
type BossRecords struct {
	Records []KillRecord `json:"records"`
}

type wireSnapshot struct {
	RecordsByBoss map[string]struct {
		Records []wireRecord `json:"records"`
	} `json:"recordsByBoss"`
}

// ImportResult summarises an import or migration.
type ImportResult struct {
	Imported int
	// Reassigned counts records given a fresh id because theirs was empty
	// or already taken.
	Reassigned int
	Purged     int
}

// ExportAll serialises every record as an indented Snapshot document.
// Records within a boss are ordered by timestamp, then id.
func (s *Store) ExportAll(ctx context.Context) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ExportAll")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.allKeys(ctx)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{RecordsByBoss: make(map[string]BossRecords)}
	total := 0
	for _, key := range keys {
		records, err := s.readPartition(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			br := snap.RecordsByBoss[r.BossID]
			br.Records = append(br.Records, r)
			snap.RecordsByBoss[r.BossID] = br
			total++
		}
	}
	for _, br := range snap.RecordsByBoss {
		slices.SortFunc(br.Records, func(a, b KillRecord) int {
			if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	span.SetAttributes(attribute.Int("records", total))
	s.logger.InfoContext(ctx, "records exported",
		slog.Int("records", total),
		slog.Int("bosses", len(snap.RecordsByBoss)),
	)
	return data, nil
}

// ImportAll merges a Snapshot document into the store. The whole document
// is decoded and validated before anything is written: malformed input
// fails with ErrParse, invalid records with ErrValidation, and in both cases
// the store is untouched. Records whose id is empty or collides with an
// existing or earlier imported record get a new id. The retention cap is
// applied to every boss touched.
func (s *Store) ImportAll(ctx context.Context, data []byte) (ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ImportAll", trace.WithAttributes(attribute.Int("bytes", len(data))))
	defer span.End()

	var ws wireSnapshot
	if err := json.Unmarshal(data, &ws); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if ws.RecordsByBoss == nil {
		return ImportResult{}, fmt.Errorf("%w: missing recordsByBoss", ErrParse)
	}

	bosses := make([]string, 0, len(ws.RecordsByBoss))
	for boss := range ws.RecordsByBoss {
		bosses = append(bosses, boss)
	}
	slices.Sort(bosses)

	var incoming []KillRecord
	for _, boss := range bosses {
		for _, w := range ws.RecordsByBoss[boss].Records {
			if w.BossID == "" {
				w.BossID = boss
			}
			r, err := w.toRecord(s.keys.loc)
			if err != nil {
				return ImportResult{}, fmt.Errorf("%w: boss %q: %v", ErrParse, boss, err)
			}
			incoming = append(incoming, r)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.mergeLocked(ctx, incoming, "import")
	if err != nil {
		return res, err
	}

	span.SetAttributes(attribute.Int("imported", res.Imported))
	s.logger.InfoContext(ctx, "records imported",
		slog.Int("imported", res.Imported),
		slog.Int("reassigned", res.Reassigned),
		slog.Int("purged", res.Purged),
	)
	return res, nil
}

// MigrateLegacy moves records from the single-key layout used before
// partitioning ({"records":[...]} under legacyKey) into partitions and then
// removes legacyKey. A missing key is a no-op. If the legacy document cannot
// be read in full it is left in place and ErrParse is returned.
func (s *Store) MigrateLegacy(ctx context.Context, legacyKey string) (ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "Store.MigrateLegacy", trace.WithAttributes(attribute.String("key", legacyKey)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.backend.Get(ctx, legacyKey)
	if err != nil {
		return ImportResult{}, fmt.Errorf("reading legacy key: %w", err)
	}
	if !ok {
		return ImportResult{}, nil
	}

	var legacy struct {
		Records []wireRecord `json:"records"`
	}
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return ImportResult{}, fmt.Errorf("%w: legacy key %q: %v", ErrParse, legacyKey, err)
	}
	incoming := make([]KillRecord, 0, len(legacy.Records))
	for _, w := range legacy.Records {
		r, err := w.toRecord(s.keys.loc)
		if err != nil {
			return ImportResult{}, fmt.Errorf("%w: legacy key %q: %v", ErrParse, legacyKey, err)
		}
		incoming = append(incoming, r)
	}

	res, err := s.mergeLocked(ctx, incoming, "migration")
	if err != nil {
		return res, err
	}
	if err := s.backend.Delete(ctx, legacyKey); err != nil {
		return res, fmt.Errorf("removing legacy key: %w", err)
	}

	s.logger.InfoContext(ctx, "migrated legacy records to partitions",
		slog.String("legacy_key", legacyKey),
		slog.Int("records", res.Imported),
	)
	return res, nil
}

// mergeLocked validates incoming, assigns ids where needed and appends the
// records to their partitions. Nothing is written unless every record is
// valid.
func (s *Store) mergeLocked(ctx context.Context, incoming []KillRecord, source string) (ImportResult, error) {
	now := s.clock.Now()
	for i := range incoming {
		r := &incoming[i]
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = r.CreatedAt
		}
		if err := Validate(*r); err != nil {
			return ImportResult{}, fmt.Errorf("record %d (%q): %w", i, r.ID, err)
		}
	}

	taken, err := s.existingIDs(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for i := range incoming {
		r := &incoming[i]
		if r.ID == "" || taken[r.ID] {
			id, err := s.newID()
			if err != nil {
				return ImportResult{}, fmt.Errorf("generating record id: %w", err)
			}
			r.ID = id
			res.Reassigned++
		}
		taken[r.ID] = true
	}

	byKey := make(map[string][]KillRecord)
	var order []string
	touched := make(map[string]bool)
	for _, r := range incoming {
		key := s.keys.keyOf(r)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], r)
		touched[r.BossID] = true
	}

	prior := make(map[string]rawValue, len(order))
	merged := make(map[string][]KillRecord, len(order))
	for _, key := range order {
		raw, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return ImportResult{}, fmt.Errorf("reading partition %q: %w", key, err)
		}
		prior[key] = rawValue{raw: raw, ok: ok}
		existing, err := s.readPartition(ctx, key)
		if err != nil {
			return ImportResult{}, err
		}
		merged[key] = append(existing, byKey[key]...)
	}

	for i, key := range order {
		if err := s.writePartition(ctx, key, merged[key]); err != nil {
			if rerr := s.restoreLocked(ctx, order[:i], prior); rerr != nil {
				return ImportResult{}, fmt.Errorf("import partially applied, restoring failed (%v): %w", rerr, err)
			}
			return ImportResult{}, err
		}
		res.Imported += len(byKey[key])
	}
	s.added.Add(ctx, int64(res.Imported), metric.WithAttributes(attribute.String("source", source)))

	bosses := make([]string, 0, len(touched))
	for b := range touched {
		bosses = append(bosses, b)
	}
	slices.Sort(bosses)
	for _, b := range bosses {
		n, err := s.purgeLocked(ctx, b)
		if err != nil {
			return res, err
		}
		res.Purged += n
	}
	return res, nil
}

type rawValue struct {
	raw string
	ok  bool
}

// restoreLocked puts keys back to their values before an import.
func (s *Store) restoreLocked(ctx context.Context, keys []string, prior map[string]rawValue) error {
	var errs []error
	for _, key := range keys {
		p := prior[key]
		var err error
		if p.ok {
			err = s.backend.Set(ctx, key, p.raw)
		} else {
			err = s.backend.Delete(ctx, key)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "restoring partition after failed import",
				slog.String("key", key),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) existingIDs(ctx context.Context) (map[string]bool, error) {
	keys, err := s.allKeys(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool)
	for _, key := range keys {
		records, err := s.readPartition(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			ids[r.ID] = true
		}
	}
	return ids, nil
}
