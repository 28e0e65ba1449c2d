package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ScheduleTimeLayout is the fixed timestamp format of the schedule source.
const ScheduleTimeLayout = "2006-01-02 15:04:05"

// ScheduleHeader is the header row written to and expected from tabular sources.
var ScheduleHeader = []string{"datetime_str", "text_to_speak"}

// Texts of the two example entries written when a source is bootstrapped.
const (
	BootstrapFirstText  = "Hello from the future, EMO!"
	BootstrapSecondText = "This is your one minute warning!"
)

// Row parsing failures. Both are recoverable: the row is skipped.
var (
	ErrScheduleRowColumns = errors.New("schedule row has wrong column count")
	ErrScheduleRowTime    = errors.New("schedule row has unparsable timestamp")
)

// ScheduleEntry is one parsed row of the schedule source. Entries are
// immutable and replaced wholesale on every reload.
type ScheduleEntry struct {
	TriggerAt time.Time
	Text      string
}

// TriggerKey identifies one firing of an entry: its trigger minute plus its
// payload. Minute is the Unix time of the start of the trigger minute.
type TriggerKey struct {
	Minute int64
	Text   string
}

// Key returns the dedup key for this entry.
func (e ScheduleEntry) Key() TriggerKey {
	return TriggerKey{Minute: TruncateToMinute(e.TriggerAt).Unix(), Text: e.Text}
}

// In returns a copy of the entry with TriggerAt expressed in loc.
func (e ScheduleEntry) In(loc *time.Location) ScheduleEntry {
	return ScheduleEntry{TriggerAt: e.TriggerAt.In(loc), Text: e.Text}
}

// DueAt reports whether now falls in the entry's trigger minute. now is
// compared in the entry's location; seconds and below are ignored.
func (e ScheduleEntry) DueAt(now time.Time) bool {
	return SameMinute(e.TriggerAt, now.In(e.TriggerAt.Location()))
}

// SameMinute compares year, month, day, hour and minute field by field.
func SameMinute(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

// TruncateToMinute drops seconds and sub-seconds in t's own location.
func TruncateToMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// ParseScheduleRow turns one data row into an entry. The timestamp is read in
// loc; the text is kept verbatim.
func ParseScheduleRow(record []string, loc *time.Location) (ScheduleEntry, error) {
	if len(record) != len(ScheduleHeader) {
		return ScheduleEntry{}, fmt.Errorf("%w: got %d, want %d", ErrScheduleRowColumns, len(record), len(ScheduleHeader))
	}
	if loc == nil {
		loc = time.Local
	}
	at, err := time.ParseInLocation(ScheduleTimeLayout, strings.TrimSpace(record[0]), loc)
	if err != nil {
		return ScheduleEntry{}, fmt.Errorf("%w: %q: %v", ErrScheduleRowTime, record[0], err)
	}
	return ScheduleEntry{TriggerAt: at, Text: record[1]}, nil
}

// FormatScheduleRow is the inverse of ParseScheduleRow.
func FormatScheduleRow(e ScheduleEntry) []string {
	return []string{e.TriggerAt.Format(ScheduleTimeLayout), e.Text}
}

// BootstrapEntries returns the two example entries written into a source that
// does not exist yet, at now+first and now+second (whole seconds).
func BootstrapEntries(now time.Time, first, second time.Duration) []ScheduleEntry {
	at := func(d time.Duration) time.Time {
		t := now.Add(d)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	}
	return []ScheduleEntry{
		{TriggerAt: at(first), Text: BootstrapFirstText},
		{TriggerAt: at(second), Text: BootstrapSecondText},
	}
}
