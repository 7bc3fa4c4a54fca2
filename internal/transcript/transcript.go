// Package transcript folds a turn's event stream into the ordered,
// append-only list of display records shown to users and stored with
// the thread.
//
// Projection is a pure function of the starting records and the events.
// Each event produces exactly one record, except a succeeded completion
// from a media tool, which is followed by one extra media record.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nugget/chattr/internal/agent"
	"github.com/nugget/chattr/internal/tools"
)

// Record is one display entry.
type Record struct {
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Media    *Media    `json:"media,omitempty"`
}

// Metadata annotates tool records.
type Metadata struct {
	Title    string       `json:"title,omitempty"`
	ID       string       `json:"id,omitempty"`
	Status   agent.Status `json:"status,omitempty"`
	Duration Duration     `json:"duration,omitempty"`
}

// Media references generated audio or video.
type Media struct {
	Kind tools.Kind `json:"kind"`
	Ref  string     `json:"ref"`
}

// Duration serializes as fractional seconds.
type Duration time.Duration

// Seconds returns the duration in seconds.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// MarshalJSON renders the duration as seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Seconds())
}

// UnmarshalJSON parses seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// IsText reports whether r is plain assistant text with no tool
// metadata or media.
func (r Record) IsText() bool {
	return r.Role == RoleAssistant && r.Metadata == nil && r.Media == nil
}

// Roles used by records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserRecord returns the record for a user message.
func UserRecord(content string) Record {
	return Record{Role: RoleUser, Content: content}
}

// Terminal reports whether records end in plain assistant text, the
// shape of a turn that reached DONE.
func Terminal(records []Record) bool {
	if len(records) == 0 {
		return false
	}
	return records[len(records)-1].IsText()
}
