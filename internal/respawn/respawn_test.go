package respawn_test

import (
	"testing"
	"time"

	"github.com/jensholdgaard/bosstimer/internal/boss"
	"github.com/jensholdgaard/bosstimer/internal/respawn"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return v
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		rule     boss.Rule
		kill     string
		wantKind respawn.Kind
		want     []string
	}{
		{
			name:     "fixed minutes",
			rule:     boss.Rule{ID: "BossA", Type: boss.FixedMinutes, Minutes: boss.Int(60)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Fixed,
			want:     []string{"2024-01-01T11:00:00Z"},
		},
		{
			name:     "fixed without minutes defaults to zero",
			rule:     boss.Rule{ID: "BossA", Type: boss.FixedMinutes},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Fixed,
			want:     []string{"2024-01-01T10:00:00Z"},
		},
		{
			name:     "typed fixed ignores minMinutes",
			rule:     boss.Rule{ID: "BossA", Type: boss.FixedMinutes, MinMinutes: boss.Int(30)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Fixed,
			want:     []string{"2024-01-01T10:00:00Z"},
		},
		{
			name:     "range minutes",
			rule:     boss.Rule{ID: "BossB", Type: boss.RangeMinutes, MinMinutes: boss.Int(45), MaxMinutes: boss.Int(60)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Range,
			want:     []string{"2024-01-01T10:45:00Z", "2024-01-01T11:00:00Z"},
		},
		{
			name:     "range keeps configured order",
			rule:     boss.Rule{ID: "BossB", Type: boss.RangeMinutes, MinMinutes: boss.Int(60), MaxMinutes: boss.Int(45)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Range,
			want:     []string{"2024-01-01T11:00:00Z", "2024-01-01T10:45:00Z"},
		},
		{
			name:     "range missing max",
			rule:     boss.Rule{ID: "BossB", Type: boss.RangeMinutes, MinMinutes: boss.Int(45)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Invalid,
		},
		{
			name:     "hourly rolls to next hour past offset",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)},
			kill:     "2024-01-01T10:20:00Z",
			wantKind: respawn.Hourly,
			want:     []string{"2024-01-01T11:15:00Z"},
		},
		{
			name:     "hourly same hour before offset",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)},
			kill:     "2024-01-01T10:05:59Z",
			wantKind: respawn.Hourly,
			want:     []string{"2024-01-01T10:15:00Z"},
		},
		{
			name:     "hourly exactly on offset rolls over",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)},
			kill:     "2024-01-01T10:15:30Z",
			wantKind: respawn.Hourly,
			want:     []string{"2024-01-01T11:15:00Z"},
		},
		{
			name:     "hourly crosses midnight",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset, OffsetMinute: boss.Int(0)},
			kill:     "2024-12-31T23:30:00Z",
			wantKind: respawn.Hourly,
			want:     []string{"2025-01-01T00:00:00Z"},
		},
		{
			name:     "hourly missing offset",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset},
			kill:     "2024-01-01T10:20:00Z",
			wantKind: respawn.Invalid,
		},
		{
			name:     "hourly offset out of range",
			rule:     boss.Rule{ID: "BossC", Type: boss.HourlyOffset, OffsetMinute: boss.Int(60)},
			kill:     "2024-01-01T10:20:00Z",
			wantKind: respawn.Invalid,
		},
		{
			name:     "untyped with both bounds is a range",
			rule:     boss.Rule{ID: "X", MinMinutes: boss.Int(10), MaxMinutes: boss.Int(20)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Range,
			want:     []string{"2024-01-01T10:10:00Z", "2024-01-01T10:20:00Z"},
		},
		{
			name:     "untyped with only min is fixed on min",
			rule:     boss.Rule{ID: "X", MinMinutes: boss.Int(10)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Fixed,
			want:     []string{"2024-01-01T10:10:00Z"},
		},
		{
			name:     "untyped and empty is fixed at zero",
			rule:     boss.Rule{ID: "X"},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Fixed,
			want:     []string{"2024-01-01T10:00:00Z"},
		},
		{
			name:     "unknown type",
			rule:     boss.Rule{ID: "X", Type: "weekly", Minutes: boss.Int(5)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Invalid,
		},
		{
			name:     "negative minutes",
			rule:     boss.Rule{ID: "X", Type: boss.FixedMinutes, Minutes: boss.Int(-5)},
			kill:     "2024-01-01T10:00:00Z",
			wantKind: respawn.Invalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := respawn.Compute(mustTime(t, tt.kill), tt.rule)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Valid != (tt.wantKind != respawn.Invalid) {
				t.Errorf("Valid = %v for kind %q", got.Valid, got.Kind)
			}
			if len(got.Times) != len(tt.want) {
				t.Fatalf("Times = %v, want %v", got.Times, tt.want)
			}
			for i, w := range tt.want {
				if !got.Times[i].Equal(mustTime(t, w)) {
					t.Errorf("Times[%d] = %v, want %s", i, got.Times[i], w)
				}
			}
		})
	}
}

func TestCompute_InvalidKillTime(t *testing.T) {
	rules := []boss.Rule{
		{ID: "A", Type: boss.FixedMinutes, Minutes: boss.Int(60)},
		{ID: "B", Type: boss.RangeMinutes, MinMinutes: boss.Int(45), MaxMinutes: boss.Int(60)},
		{ID: "C", Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)},
		{ID: "D"},
	}
	for _, rule := range rules {
		t.Run(rule.ID, func(t *testing.T) {
			for _, r := range []respawn.Result{
				respawn.Compute(time.Time{}, rule),
				respawn.ComputeString("not a time", rule, time.UTC),
				respawn.ComputeString("", rule, time.UTC),
			} {
				if r.Kind != respawn.Invalid || r.Valid || len(r.Times) != 0 {
					t.Errorf("got %+v, want invalid with no times", r)
				}
			}
		})
	}
}

func TestRangeProperty(t *testing.T) {
	kill := time.Date(2024, 3, 10, 1, 59, 42, 0, time.UTC)
	for lo := 0; lo <= 240; lo += 17 {
		for hi := lo; hi <= 300; hi += 23 {
			r := respawn.Compute(kill, boss.Rule{Type: boss.RangeMinutes, MinMinutes: boss.Int(lo), MaxMinutes: boss.Int(hi)})
			if len(r.Times) != 2 {
				t.Fatalf("[%d,%d]: got %d times", lo, hi, len(r.Times))
			}
			if r.Times[0].After(r.Times[1]) || r.Times[0].Before(kill) {
				t.Errorf("[%d,%d]: times %v out of order or before kill", lo, hi, r.Times)
			}
		}
	}
}

func TestHourlyProperty(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for offset := 0; offset < 60; offset++ {
		for step := 0; step < 120; step += 7 {
			kill := start.Add(time.Duration(step)*time.Minute + 13*time.Second)
			r := respawn.Compute(kill, boss.Rule{Type: boss.HourlyOffset, OffsetMinute: boss.Int(offset)})
			if len(r.Times) != 1 {
				t.Fatalf("offset %d: got %d times", offset, len(r.Times))
			}
			got := r.Times[0]
			if got.Minute() != offset || got.Second() != 0 {
				t.Errorf("offset %d, kill %v: got %v", offset, kill, got)
			}
			truncated := kill.Truncate(time.Minute)
			if !got.After(truncated) {
				t.Errorf("offset %d, kill %v: %v not after %v", offset, kill, got, truncated)
			}
			if got.Sub(truncated) > time.Hour {
				t.Errorf("offset %d, kill %v: %v more than an hour out", offset, kill, got)
			}
		}
	}
}

func TestHourly_LocalZone(t *testing.T) {
	// Minute-of-hour is read in the kill time's own zone.
	loc := time.FixedZone("IST", 5*60*60+30*60)
	kill := time.Date(2024, 1, 1, 10, 20, 0, 0, loc)
	r := respawn.Compute(kill, boss.Rule{Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)})
	want := time.Date(2024, 1, 1, 11, 15, 0, 0, loc)
	if !r.Times[0].Equal(want) {
		t.Errorf("got %v, want %v", r.Times[0], want)
	}
}

func TestHourly_FallBack(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("loading zone: %v", err)
	}
	rule := boss.Rule{Type: boss.HourlyOffset, OffsetMinute: boss.Int(15)}
	// 01:20 occurs twice on 2024-11-03: first in EDT, then in EST.
	tests := []struct {
		name string
		kill time.Time
		want time.Time
	}{
		{
			name: "first 01:20 EDT",
			kill: time.Date(2024, 11, 3, 5, 20, 0, 0, time.UTC).In(ny),
			want: time.Date(2024, 11, 3, 6, 15, 0, 0, time.UTC),
		},
		{
			name: "second 01:20 EST",
			kill: time.Date(2024, 11, 3, 6, 20, 0, 0, time.UTC).In(ny),
			want: time.Date(2024, 11, 3, 7, 15, 0, 0, time.UTC),
		},
		{
			name: "spring forward gap",
			kill: time.Date(2024, 3, 10, 6, 50, 0, 0, time.UTC).In(ny),
			want: time.Date(2024, 3, 10, 7, 15, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := respawn.Compute(tt.kill, rule)
			if !r.Valid || len(r.Times) != 1 {
				t.Fatalf("got %+v, want one valid time", r)
			}
			got := r.Times[0]
			if !got.After(tt.kill.Truncate(time.Minute)) {
				t.Errorf("respawn %v is not after kill %v", got, tt.kill)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if got.In(ny).Minute() != 15 {
				t.Errorf("local minute = %d, want 15", got.In(ny).Minute())
			}
		})
	}
}

func TestParseKillTime(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{in: "2024-01-01T10:00:00Z", want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), ok: true},
		{in: "2024-01-01T10:00:00.5+02:00", want: time.Date(2024, 1, 1, 8, 0, 0, 500_000_000, time.UTC), ok: true},
		{in: "2024-01-01T10:00", want: time.Date(2024, 1, 1, 10, 0, 0, 0, loc), ok: true},
		{in: " 2024-01-01 10:00:30 ", want: time.Date(2024, 1, 1, 10, 0, 30, 0, loc), ok: true},
		{in: "10:00", ok: false},
		{in: "2024-13-01T10:00", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := respawn.ParseKillTime(tt.in, loc)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
