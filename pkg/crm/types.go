package crm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flag is a completion marker that the CRM API serializes inconsistently:
// numeric 1/0, string "1"/"0", or a plain boolean. It is normalized to a
// bool once at ingestion so downstream code never re-checks representations.
type Flag bool

// UnmarshalJSON accepts bool, number and string encodings. Absent/null and
// empty-string values decode to false.
func (f *Flag) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = false
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n == 1
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		*f = Flag(s == "1" || strings.EqualFold(s, "true"))
		return nil
	}

	return fmt.Errorf("invalid flag value %s", trimmed)
}

// MarshalJSON encodes the normalized boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// DateLayout is the wire format for date-only fields.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component. The zero value means
// "no date" (the CRM sends null or omits the field).
type Date struct {
	time.Time
}

// NewDate builds a Date pinned to midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON accepts "YYYY-MM-DD" and longer timestamps whose date prefix
// matches that layout; null and "" decode to the zero Date.
func (d *Date) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*d = Date{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid date value %s", trimmed)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}

	// Some endpoints send full timestamps; only the calendar date matters.
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}

	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	*d = Date{t}
	return nil
}

// MarshalJSON encodes as "YYYY-MM-DD", or null for the zero Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// User is a CRM user directory entry.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
}

// Deal is a top-level pipeline record owned by exactly one user.
type Deal struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
	Created Date   `json:"created_at"`
}

// Task is a child record attached to one deal.
type Task struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Name      string `json:"name"`
	Completed Flag   `json:"status"`
	DueDate   Date   `json:"duedate"`
}

// HasDueDate reports whether the task carries a due date.
func (t Task) HasDueDate() bool {
	return !t.DueDate.IsZero()
}

// Meta carries list-endpoint metadata. Total is the authoritative collection
// size when the API provides it, 0 otherwise.
type Meta struct {
	Total int `json:"total"`
}

type usersResponse struct {
	Users []User `json:"users"`
	Meta  *Meta  `json:"meta,omitempty"`
}

type dealsResponse struct {
	Deals []Deal `json:"deals"`
	Meta  *Meta  `json:"meta,omitempty"`
}

type tasksResponse struct {
	Tasks []Task `json:"tasks"`
	Meta  *Meta  `json:"meta,omitempty"`
}
