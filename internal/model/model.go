package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/samber/mo"
)

// Event is a recurring (or single) event before expansion.
type Event struct {
	SourceID string // feed ID from config
	UID      string // iCalendar UID

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End of the first occurrence. End >= Start.
	Start time.Time
	End   time.Time

	// RRule is the rule text including its DTSTART line, e.g.
	// "DTSTART:20120201T093000Z\nRRULE:FREQ=DAILY". Empty for single events.
	RRule string

	// Until is an event level cutoff applied on top of the rule.
	Until mo.Option[time.Time]

	ExDates []time.Time

	// RecurrenceID is set when this event overrides a single instance of
	// another recurring event with the same UID.
	RecurrenceID mo.Option[time.Time]
}

// Duration returns End-Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsOverride reports whether e replaces one instance of a recurring event.
func (e Event) IsOverride() bool {
	return e.RecurrenceID.IsPresent()
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the UTC start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time
}

// Instant is a UTC timestamp that decodes from either epoch milliseconds
// or an RFC 3339 string, and encodes as epoch milliseconds.
type Instant time.Time

var errInstant = errors.New("instant must be epoch milliseconds or an RFC 3339 string")

// ParseInstant accepts the same forms as the JSON decoder.
func ParseInstant(s string) (Instant, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Instant(time.UnixMilli(ms).UTC()), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Instant{}, errInstant
	}
	return Instant(t.UTC()), nil
}

func (i Instant) Time() time.Time {
	return time.Time(i)
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(i).UnixMilli(), 10)), nil
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseInstant(s)
		if err != nil {
			return err
		}
		*i = v
		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return errInstant
	}
	*i = Instant(time.UnixMilli(ms).UTC())
	return nil
}
