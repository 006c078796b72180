package record

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SortKey names a field Query can order by.
type SortKey string

const (
	SortTimestamp       SortKey = "timestamp"
	SortChannel         SortKey = "channel"
	SortLooted          SortKey = "looted"
	SortNote            SortKey = "note"
	SortBossName        SortKey = "bossName"
	SortRespawnEarliest SortKey = "respawnEarliest"
)

// Sort orders query results. The zero value means timestamp, newest first.
// Ties are always broken by record id, ascending.
type Sort struct {
	Key  SortKey `validate:"omitempty,oneof=timestamp channel looted note bossName respawnEarliest"`
	Desc bool
}

// SortResolver supplies the derived values the bossName and
// respawnEarliest orderings need.
type SortResolver interface {
	BossName(bossID string) string
	RespawnEarliest(r KillRecord) (time.Time, bool)
}

// Query selects records. Dates are calendar dates (YYYY-MM-DD) in the
// store's location, matched against each record's Timestamp. Date, when set,
// takes precedence over StartDate and EndDate.
type Query struct {
	BossID    string
	Date      string `validate:"omitempty,datetime=2006-01-02"`
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	Channel   *int   `validate:"omitempty,min=1,max=3000"`
	Looted    *bool

	Sort     Sort
	Resolver SortResolver `validate:"-"`
}

func (q Query) matches(r KillRecord, date string) bool {
	if q.BossID != "" && r.BossID != q.BossID {
		return false
	}
	if q.Channel != nil && r.Channel != *q.Channel {
		return false
	}
	if q.Looted != nil && r.Looted != *q.Looted {
		return false
	}
	if q.Date != "" {
		return date == q.Date
	}
	if q.StartDate != "" && date < q.StartDate {
		return false
	}
	if q.EndDate != "" && date > q.EndDate {
		return false
	}
	return true
}

// Query returns the records matching q, ordered by q.Sort. With a BossID
// only that boss's partitions are read.
func (s *Store) Query(ctx context.Context, q Query) ([]KillRecord, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Query",
		trace.WithAttributes(
			attribute.String("boss_id", q.BossID),
			attribute.String("sort", string(q.Sort.Key)),
		),
	)
	defer span.End()

	if err := validationError(validate.Struct(q)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	var err error
	if q.BossID != "" {
		keys, err = s.bossKeys(ctx, q.BossID)
	} else {
		keys, err = s.allKeys(ctx)
	}
	if err != nil {
		return nil, err
	}

	var out []KillRecord
	for _, key := range keys {
		records, err := s.readPartition(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if q.matches(r, s.keys.date(r.Timestamp)) {
				out = append(out, r)
			}
		}
	}

	SortRecords(out, q.Sort, q.Resolver)
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// SortRecords orders records in place. A nil resolver makes bossName fall
// back to the boss id and leaves every record without a respawn time.
func SortRecords(records []KillRecord, sort Sort, resolver SortResolver) {
	key, desc := sort.Key, sort.Desc
	if key == "" {
		key, desc = SortTimestamp, true
	}

	var earliest map[string]time.Time
	if key == SortRespawnEarliest {
		earliest = make(map[string]time.Time, len(records))
		if resolver != nil {
			for _, r := range records {
				if t, ok := resolver.RespawnEarliest(r); ok {
					earliest[r.ID] = t
				}
			}
		}
	}

	var names map[string]string
	if key == SortBossName {
		names = make(map[string]string)
		for _, r := range records {
			if _, ok := names[r.BossID]; ok {
				continue
			}
			name := r.BossID
			if resolver != nil {
				if n := resolver.BossName(r.BossID); n != "" {
					name = n
				}
			}
			names[r.BossID] = name
		}
	}

	primary := func(a, b KillRecord) int {
		switch key {
		case SortChannel:
			return cmp.Compare(a.Channel, b.Channel)
		case SortLooted:
			return compareBool(a.Looted, b.Looted)
		case SortNote:
			return strings.Compare(a.Note, b.Note)
		case SortBossName:
			return strings.Compare(names[a.BossID], names[b.BossID])
		default:
			return a.Timestamp.Compare(b.Timestamp)
		}
	}

	slices.SortStableFunc(records, func(a, b KillRecord) int {
		if key == SortRespawnEarliest {
			// Records without a prediction go last in either direction.
			ta, okA := earliest[a.ID]
			tb, okB := earliest[b.ID]
			switch {
			case okA && !okB:
				return -1
			case !okA && okB:
				return 1
			case okA && okB:
				if c := ta.Compare(tb); c != 0 {
					if desc {
						return -c
					}
					return c
				}
			}
			return cmp.Compare(a.ID, b.ID)
		}

		if c := primary(a, b); c != 0 {
			if desc {
				return -c
			}
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
