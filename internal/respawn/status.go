package respawn

import "time"

// Status is where a boss stands relative to its predicted respawn.
type Status string

const (
	Cooling  Status = "cooling"
	Imminent Status = "imminent"
	Ready    Status = "ready"
	Unknown  Status = "unknown"
)

// Classify places now against r: before the earliest instant is Cooling,
// between earliest and latest inclusive is Imminent, after latest is Ready.
func Classify(r Result, now time.Time) Status {
	earliest, ok := r.Earliest()
	if !ok {
		return Unknown
	}
	latest, _ := r.Latest()
	if latest.Before(earliest) {
		earliest, latest = latest, earliest
	}
	switch {
	case now.Before(earliest):
		return Cooling
	case now.After(latest):
		return Ready
	default:
		return Imminent
	}
}

// Remaining returns how long until the earliest predicted instant, or zero
// once it has passed or when r is invalid.
func Remaining(r Result, now time.Time) time.Duration {
	earliest, ok := r.Earliest()
	if !ok || !now.Before(earliest) {
		return 0
	}
	return earliest.Sub(now)
}
