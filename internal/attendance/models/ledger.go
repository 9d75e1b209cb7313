package models

import (
	"slices"
	"strings"
	"time"
)

// DateLayout is the canonical calendar-day key format.
const DateLayout = "2006-01-02"

// AttendanceRecord is one participant's check-in for the day.
type AttendanceRecord struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	// CheckedInAt is milliseconds since the Unix epoch.
	CheckedInAt int64 `json:"checkedInAt"`
}

// DailyLedger is the set of check-ins for one calendar day.
type DailyLedger struct {
	Date      string             `json:"date"`
	Attendees []AttendanceRecord `json:"attendees"`
}

// DailyStats is the summary view of today's ledger.
type DailyStats struct {
	Date      string             `json:"date"`
	Count     int                `json:"count"`
	Attendees []AttendanceRecord `json:"attendees"`
}

// DateKey formats t as a day key in loc. A nil loc uses t's own location.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// NewLedger returns an empty ledger for date.
func NewLedger(date string) *DailyLedger {
	return &DailyLedger{Date: date, Attendees: []AttendanceRecord{}}
}

// FoldName is the comparison form of a display name.
func FoldName(name string) string {
	return strings.ToLower(name)
}

// Clone returns a deep copy so transforms never alias stored state.
func (l *DailyLedger) Clone() *DailyLedger {
	if l == nil {
		return nil
	}
	out := &DailyLedger{Date: l.Date, Attendees: make([]AttendanceRecord, len(l.Attendees))}
	copy(out.Attendees, l.Attendees)
	return out
}

// IsFor reports whether the ledger is the current one for today.
func (l *DailyLedger) IsFor(today string) bool {
	return l != nil && l.Date == today
}

// FindIdentity returns the index of identity's record, or -1.
func (l *DailyLedger) FindIdentity(identity string) int {
	return slices.IndexFunc(l.Attendees, func(a AttendanceRecord) bool {
		return a.Identity == identity
	})
}

// HasName reports whether a record with the case-folded name exists.
func (l *DailyLedger) HasName(name string) bool {
	folded := FoldName(name)
	return slices.ContainsFunc(l.Attendees, func(a AttendanceRecord) bool {
		return FoldName(a.DisplayName) == folded
	})
}

// Sorted returns the attendees ordered by CheckedInAt descending. Ties keep
// insertion order.
func (l *DailyLedger) Sorted() []AttendanceRecord {
	out := make([]AttendanceRecord, len(l.Attendees))
	copy(out, l.Attendees)
	slices.SortStableFunc(out, func(a, b AttendanceRecord) int {
		switch {
		case a.CheckedInAt > b.CheckedInAt:
			return -1
		case a.CheckedInAt < b.CheckedInAt:
			return 1
		default:
			return 0
		}
	})
	return out
}
