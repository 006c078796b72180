// Package boss holds the static respawn configuration for each boss and
// loads it from a catalog document.
package boss

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RuleType names how a boss's respawn is predicted.
type RuleType string

const (
	FixedMinutes RuleType = "fixedMinutes"
	RangeMinutes RuleType = "rangeMinutes"
	HourlyOffset RuleType = "hourlyOffset"
)

// Rule is the respawn configuration for one boss. Pointer fields are
// optional; a nil field is absent, which is distinct from zero.
type Rule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Type         RuleType `json:"type,omitempty"`
	Minutes      *int     `json:"minutes,omitempty"`
	MinMinutes   *int     `json:"minMinutes,omitempty"`
	MaxMinutes   *int     `json:"maxMinutes,omitempty"`
	OffsetMinute *int     `json:"offsetMinute,omitempty"`
	Image        string   `json:"image,omitempty"`
	Respawn      string   `json:"respawn,omitempty"`
}

// Int returns a pointer to v, for building rules in code.
func Int(v int) *int { return &v }

// DisplayName returns Name, falling back to ID.
func (r Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// UnmarshalJSON decodes a rule, accepting the older short field names
// "min", "max" and "minute" when the canonical ones are absent. Numeric
// fields may be JSON numbers or numeric strings; anything else leaves the
// field absent.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		Type         RuleType        `json:"type"`
		Minutes      json.RawMessage `json:"minutes"`
		MinMinutes   json.RawMessage `json:"minMinutes"`
		MaxMinutes   json.RawMessage `json:"maxMinutes"`
		OffsetMinute json.RawMessage `json:"offsetMinute"`
		Min          json.RawMessage `json:"min"`
		Max          json.RawMessage `json:"max"`
		Minute       json.RawMessage `json:"minute"`
		Image        string          `json:"image"`
		Respawn      string          `json:"respawn"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Rule{
		ID:           raw.ID,
		Name:         raw.Name,
		Type:         raw.Type,
		Minutes:      number(raw.Minutes),
		MinMinutes:   firstNumber(raw.MinMinutes, raw.Min),
		MaxMinutes:   firstNumber(raw.MaxMinutes, raw.Max),
		OffsetMinute: firstNumber(raw.OffsetMinute, raw.Minute),
		Image:        raw.Image,
		Respawn:      raw.Respawn,
	}
	return nil
}

func firstNumber(candidates ...json.RawMessage) *int {
	for _, c := range candidates {
		if v := number(c); v != nil {
			return v
		}
	}
	return nil
}

func number(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return Int(int(f))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return Int(n)
}

// Describe returns a one-line human description of the rule.
func (r Rule) Describe() string {
	switch r.Type {
	case FixedMinutes:
		if r.Minutes == nil {
			return "respawns at a fixed interval (minutes not set)"
		}
		return fmt.Sprintf("respawns %d minutes after the kill", *r.Minutes)
	case RangeMinutes:
		if r.MinMinutes == nil || r.MaxMinutes == nil {
			return "respawns within a range (bounds not set)"
		}
		return fmt.Sprintf("respawns %d to %d minutes after the kill", *r.MinMinutes, *r.MaxMinutes)
	case HourlyOffset:
		if r.OffsetMinute == nil {
			return "respawns hourly (minute not set)"
		}
		return fmt.Sprintf("respawns every hour at :%02d", *r.OffsetMinute)
	case "":
		if r.MinMinutes != nil && r.MaxMinutes != nil {
			return fmt.Sprintf("respawns %d to %d minutes after the kill", *r.MinMinutes, *r.MaxMinutes)
		}
		if r.Respawn != "" {
			return r.Respawn
		}
		return "no respawn rule"
	default:
		return fmt.Sprintf("unknown rule type %q", r.Type)
	}
}
