// Package respawn predicts when a boss comes back from the time it was
// killed and its rule.
package respawn

import (
	"strings"
	"time"

	"github.com/jensholdgaard/bosstimer/internal/boss"
)

// Kind classifies a Result.
type Kind string

const (
	Fixed   Kind = "fixed"
	Range   Kind = "range"
	Hourly  Kind = "hourly"
	Invalid Kind = "invalid"
)

// Result is a predicted respawn. Times holds one instant for fixed and
// hourly rules and two (earliest, latest as configured) for range rules.
type Result struct {
	Kind  Kind
	Times []time.Time
	Valid bool
}

func invalid() Result { return Result{Kind: Invalid} }

// Earliest returns the first predicted instant.
func (r Result) Earliest() (time.Time, bool) {
	if !r.Valid || len(r.Times) == 0 {
		return time.Time{}, false
	}
	return r.Times[0], true
}

// Latest returns the last predicted instant. It equals Earliest for
// single-instant results.
func (r Result) Latest() (time.Time, bool) {
	if !r.Valid || len(r.Times) == 0 {
		return time.Time{}, false
	}
	return r.Times[len(r.Times)-1], true
}

// Compute predicts the respawn for a kill at kill under rule. A zero kill
// time is treated as an unparsable instant.
func Compute(kill time.Time, rule boss.Rule) Result {
	if kill.IsZero() {
		return invalid()
	}

	switch resolveType(rule) {
	case boss.FixedMinutes:
		m := fixedMinutes(rule)
		if m < 0 {
			return invalid()
		}
		return Result{Kind: Fixed, Times: []time.Time{addMinutes(kill, m)}, Valid: true}

	case boss.RangeMinutes:
		if rule.MinMinutes == nil || rule.MaxMinutes == nil {
			return invalid()
		}
		lo, hi := *rule.MinMinutes, *rule.MaxMinutes
		if lo < 0 || hi < 0 {
			return invalid()
		}
		return Result{
			Kind:  Range,
			Times: []time.Time{addMinutes(kill, lo), addMinutes(kill, hi)},
			Valid: true,
		}

	case boss.HourlyOffset:
		if rule.OffsetMinute == nil {
			return invalid()
		}
		offset := *rule.OffsetMinute
		if offset < 0 || offset > 59 {
			return invalid()
		}
		return Result{Kind: Hourly, Times: []time.Time{nextHourly(kill, offset)}, Valid: true}

	default:
		return invalid()
	}
}

// ComputeString parses kill with ParseKillTime and computes the respawn.
// Unparsable input yields an invalid Result.
func ComputeString(kill string, rule boss.Rule, loc *time.Location) Result {
	t, ok := ParseKillTime(kill, loc)
	if !ok {
		return invalid()
	}
	return Compute(t, rule)
}

// resolveType applies the catalog defaults: an untyped rule with both range
// bounds is a range, any other untyped rule is fixed.
func resolveType(rule boss.Rule) boss.RuleType {
	if rule.Type != "" {
		return rule.Type
	}
	if rule.MinMinutes != nil && rule.MaxMinutes != nil {
		return boss.RangeMinutes
	}
	return boss.FixedMinutes
}

// fixedMinutes falls back to minMinutes only for untyped rules.
func fixedMinutes(rule boss.Rule) int {
	switch {
	case rule.Minutes != nil:
		return *rule.Minutes
	case rule.Type == "" && rule.MinMinutes != nil:
		return *rule.MinMinutes
	default:
		return 0
	}
}

func addMinutes(t time.Time, m int) time.Time {
	return t.Add(time.Duration(m) * time.Minute)
}

// nextHourly truncates kill to the minute and returns the next instant whose
// minute-of-hour is offset. A kill exactly on the offset minute rolls over to
// the following hour. The step is taken in absolute time so a repeated local
// hour never yields an instant before the kill.
func nextHourly(kill time.Time, offset int) time.Time {
	t := kill.Truncate(time.Minute)
	d := offset - t.Minute()
	if d <= 0 {
		d += 60
	}
	return addMinutes(t, d)
}

var killLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseKillTime accepts RFC 3339 timestamps and the zone-less forms a
// datetime input produces; zone-less values are read in loc (time.Local if
// nil).
func ParseKillTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range killLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
