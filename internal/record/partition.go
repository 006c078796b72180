package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PartitionMode selects how records are split across backend keys.
type PartitionMode string

const (
	// ByDay keys partitions as <prefix>:<bossId>:<YYYY-MM-DD>, the date of
	// the kill in the store's location.
	ByDay PartitionMode = "day"
	// ByBoss keys partitions as <prefix>:<bossId>.
	ByBoss PartitionMode = "boss"
)

const (
	schemaVersion = "v1"
	dateLayout    = "2006-01-02"
)

type partitionMeta struct {
	SchemaVersion string `json:"schemaVersion"`
}

type partition struct {
	Records []KillRecord  `json:"records"`
	Meta    partitionMeta `json:"meta"`
}

type wirePartition struct {
	Records []wireRecord  `json:"records"`
	Meta    partitionMeta `json:"meta"`
}

// keyspace maps records to backend keys.
type keyspace struct {
	prefix string
	mode   PartitionMode
	loc    *time.Location
}

func (k keyspace) key(bossID string, ts time.Time) string {
	if k.mode == ByBoss {
		return k.prefix + ":" + bossID
	}
	return k.prefix + ":" + bossID + ":" + ts.In(k.loc).Format(dateLayout)
}

func (k keyspace) keyOf(r KillRecord) string {
	return k.key(r.BossID, r.Timestamp)
}

// scanPrefix is the prefix every partition key shares.
func (k keyspace) scanPrefix() string {
	return k.prefix + ":"
}

// bossID extracts the boss from a partition key. Keys written under either
// partition mode are recognised.
func (k keyspace) bossID(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, k.scanPrefix())
	if !ok || rest == "" {
		return "", false
	}
	boss, _, _ := strings.Cut(rest, ":")
	return boss, boss != ""
}

// ownedBy reports whether key is one of bossID's partitions.
func (k keyspace) ownedBy(key, bossID string) bool {
	b, ok := k.bossID(key)
	return ok && b == bossID
}

func (k keyspace) date(ts time.Time) string {
	return ts.In(k.loc).Format(dateLayout)
}

func encodePartition(records []KillRecord) (string, error) {
	data, err := json.Marshal(partition{
		Records: records,
		Meta:    partitionMeta{SchemaVersion: schemaVersion},
	})
	if err != nil {
		return "", fmt.Errorf("encoding partition: %w", err)
	}
	return string(data), nil
}

func decodePartition(raw string, loc *time.Location) ([]KillRecord, error) {
	var wp wirePartition
	if err := json.Unmarshal([]byte(raw), &wp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	records := make([]KillRecord, 0, len(wp.Records))
	for _, w := range wp.Records {
		r, err := w.toRecord(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		records = append(records, r)
	}
	return records, nil
}
