// Package record stores kill records in a kv.Backend, one JSON document per
// partition, and enforces the per-boss retention cap.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Errors returned by store operations. They are wrapped with detail; match
// them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("record not found")
	ErrParse      = errors.New("malformed record data")
)

const (
	MinChannel    = 1
	MaxChannel    = 3000
	MaxNoteLength = 200
)

// KillRecord is one observed boss kill.
type KillRecord struct {
	ID        string    `json:"id"`
	BossID    string    `json:"bossId" validate:"required,excludes=:"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Channel   int       `json:"channel" validate:"min=1,max=3000"`
	Looted    bool      `json:"looted"`
	Note      string    `json:"note" validate:"max=200"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft is the input to Store.Add. A zero Timestamp means "now"; an empty
// ID is generated.
type Draft struct {
	ID        string
	BossID    string
	Timestamp time.Time
	Channel   int
	Looted    bool
	Note      string
}

// Patch names the fields Store.Update may change. Nil fields are left as
// they are.
type Patch struct {
	BossID    *string
	Timestamp *time.Time
	Channel   *int
	Looted    *bool
	Note      *string
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.BossID == nil && p.Timestamp == nil && p.Channel == nil && p.Looted == nil && p.Note == nil
}

func (p Patch) apply(r KillRecord) KillRecord {
	if p.BossID != nil {
		r.BossID = *p.BossID
	}
	if p.Timestamp != nil {
		r.Timestamp = *p.Timestamp
	}
	if p.Channel != nil {
		r.Channel = *p.Channel
	}
	if p.Looted != nil {
		r.Looted = *p.Looted
	}
	if p.Note != nil {
		r.Note = *p.Note
	}
	return r
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks r's field constraints: a boss id without ':', a kill time,
// a channel in [1, 3000] and a note of at most 200 characters.
func Validate(r KillRecord) error {
	return validationError(validate.Struct(r))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "excludes":
			msgs = append(msgs, fmt.Sprintf("%s must not contain %q", fe.Field(), fe.Param()))
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s %v violates %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// wireRecord is the persisted form as read back. Times are strings so that
// zone-less timestamps written by older clients can be read in the store's
// location.
type wireRecord struct {
	ID        string          `json:"id"`
	BossID    string          `json:"bossId"`
	Timestamp string          `json:"timestamp"`
	Channel   json.Number     `json:"channel"`
	Looted    json.RawMessage `json:"looted"`
	Note      string          `json:"note"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// toRecord converts w. Missing bookkeeping times are left zero.
func (w wireRecord) toRecord(loc *time.Location) (KillRecord, error) {
	r := KillRecord{ID: w.ID, BossID: w.BossID, Note: w.Note}

	if w.Timestamp == "" {
		return r, fmt.Errorf("record %q: missing timestamp", w.ID)
	}
	ts, err := parseTime(w.Timestamp, loc)
	if err != nil {
		return r, fmt.Errorf("record %q: timestamp: %w", w.ID, err)
	}
	r.Timestamp = ts

	if w.Channel != "" {
		ch, err := w.Channel.Int64()
		if err != nil {
			return r, fmt.Errorf("record %q: channel: %w", w.ID, err)
		}
		r.Channel = int(ch)
	}

	if len(w.Looted) > 0 && string(w.Looted) != "null" {
		if err := json.Unmarshal(w.Looted, &r.Looted); err != nil {
			return r, fmt.Errorf("record %q: looted: %w", w.ID, err)
		}
	}

	if w.CreatedAt != "" {
		if r.CreatedAt, err = parseTime(w.CreatedAt, loc); err != nil {
			return r, fmt.Errorf("record %q: createdAt: %w", w.ID, err)
		}
	}
	if w.UpdatedAt != "" {
		if r.UpdatedAt, err = parseTime(w.UpdatedAt, loc); err != nil {
			return r, fmt.Errorf("record %q: updatedAt: %w", w.ID, err)
		}
	}
	return r, nil
}
