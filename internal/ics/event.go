// Package ics implements the calendar event model for calmirror: parsing,
// canonical hashing, eligibility filtering, recurrence exception resolution,
// and the privacy-stripping sanitizer. Everything in this package is pure:
// text in, text (or verdicts) out, no I/O.
package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// Property names the engine reads or rewrites. The grammar itself is always
// left to the iCalendar library.
const (
	propUID          = "UID"
	propSummary      = "SUMMARY"
	propDescription  = "DESCRIPTION"
	propLocation     = "LOCATION"
	propAttach       = "ATTACH"
	propURL          = "URL"
	propOrganizer    = "ORGANIZER"
	propAttendee     = "ATTENDEE"
	propRecurrenceID = "RECURRENCE-ID"
	propStatus       = "STATUS"
	propTransp       = "TRANSP"
	propCategories   = "CATEGORIES"
	propClass        = "CLASS"
	propDtStart      = "DTSTART"
	propDtEnd        = "DTEND"
	propRRule        = "RRULE"
	propExDate       = "EXDATE"
	propMethod       = "METHOD"
	propDtStamp      = "DTSTAMP"
	propCreated      = "CREATED"
	propLastModified = "LAST-MODIFIED"
	propSequence     = "SEQUENCE"
)

// compoundSeparator joins a base UID with the RECURRENCE-ID of a rescheduled
// exception so master and exception can be tracked independently.
const compoundSeparator = "::RID::"

// Event is a parsed calendar event. Inputs may be a bare VEVENT or a full
// VCALENDAR container; both are normalized to a container internally and the
// distinction is resolved once, here at the ingestion boundary.
type Event struct {
	cal *ical.Calendar

	// bare records that the original input had no VCALENDAR wrapper.
	bare bool
}

// Parse parses iCalendar text into an Event. It accepts either a bare
// BEGIN:VEVENT fragment or a BEGIN:VCALENDAR container.
func Parse(text string) (*Event, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty event text")
	}

	bare := false
	if !strings.HasPrefix(trimmed, "BEGIN:VCALENDAR") {
		if !strings.HasPrefix(trimmed, "BEGIN:VEVENT") {
			return nil, errors.New("input is neither a VCALENDAR nor a VEVENT")
		}
		bare = true
		trimmed = "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//calmirror//EN\n" + trimmed + "\nEND:VCALENDAR"
	}

	// The parser expects CRLF line endings; tolerate plain LF input.
	normalized := strings.ReplaceAll(trimmed, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n")

	cal, err := ical.ParseCalendar(strings.NewReader(normalized))
	if err != nil {
		return nil, err
	}
	if len(cal.Events()) == 0 {
		return nil, errors.New("no VEVENT component found")
	}
	return &Event{cal: cal, bare: bare}, nil
}

// Serialize returns the canonical iCalendar text for the event, always in
// container form.
func (e *Event) Serialize() string {
	return e.cal.Serialize()
}

// Bare reports whether the original input was a naked VEVENT.
func (e *Event) Bare() bool {
	return e.bare
}

// VEvents returns every VEVENT in the container. A container synced from a
// recurring series can legitimately hold several (master plus exceptions).
func (e *Event) VEvents() []*ical.VEvent {
	return e.cal.Events()
}

// primary returns the first VEVENT, which carries the identity properties.
func (e *Event) primary() *ical.VEvent {
	return e.cal.Events()[0]
}

// UID returns the event's UID, or "" if absent.
func (e *Event) UID() string {
	if p := e.primary().GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return p.Value
	}
	return ""
}

// SetUID replaces the UID on every VEVENT in the container.
func (e *Event) SetUID(uid string) {
	for _, ve := range e.VEvents() {
		setProp(ve, propUID, uid, nil)
	}
}

// Summary returns the event title, or "" if absent.
func (e *Event) Summary() string {
	if p := e.primary().GetProperty(ical.ComponentPropertySummary); p != nil {
		return p.Value
	}
	return ""
}

// RecurrenceID returns the raw RECURRENCE-ID value and whether one is
// present. A present RECURRENCE-ID marks this event as an exception
// overriding one occurrence of a recurring series.
func (e *Event) RecurrenceID() (string, bool) {
	if p := e.primary().GetProperty(propRecurrenceID); p != nil && p.Value != "" {
		return p.Value, true
	}
	return "", false
}

// Status returns the upper-cased STATUS value, or "" if absent.
func (e *Event) Status() string {
	if p := e.primary().GetProperty(propStatus); p != nil {
		return strings.ToUpper(strings.TrimSpace(p.Value))
	}
	return ""
}

// Transparency returns the upper-cased TRANSP value, or "" if absent.
// The iCalendar default for an absent TRANSP is OPAQUE.
func (e *Event) Transparency() string {
	if p := e.primary().GetProperty(propTransp); p != nil {
		return strings.ToUpper(strings.TrimSpace(p.Value))
	}
	return ""
}

// RRule returns the raw recurrence rule, or "" for non-recurring events.
func (e *Event) RRule() string {
	if p := e.primary().GetProperty(ical.ComponentPropertyRrule); p != nil {
		return p.Value
	}
	return ""
}

// ExDateValues returns every individual EXDATE entry of the primary VEVENT.
// A single EXDATE property may carry a comma-separated list.
func (e *Event) ExDateValues() []string {
	return exDateValues(e.primary())
}

// ExDateDays returns the set of excluded dates as YYYYMMDD keys, accepting
// both date-only and timestamped exclusion forms.
func (e *Event) ExDateDays() map[string]bool {
	days := make(map[string]bool)
	for _, v := range e.ExDateValues() {
		if d, ok := dateKey(v); ok {
			days[d] = true
		}
	}
	return days
}

// Categories returns every CATEGORIES entry across all CATEGORIES
// properties, split on commas.
func (e *Event) Categories() []string {
	var out []string
	for _, p := range propsNamed(e.primary(), propCategories) {
		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// HasCategory reports whether the given tag appears in any CATEGORIES
// property.
func (e *Event) HasCategory(tag string) bool {
	for _, c := range e.Categories() {
		if c == tag {
			return true
		}
	}
	return false
}

// CompoundUID builds the state key for a rescheduled exception event: the
// base UID joined with the raw RECURRENCE-ID value.
func CompoundUID(baseUID, recurrenceID string) string {
	return baseUID + compoundSeparator + recurrenceID
}

// ---------------------------------------------------------------------------
// Property-slice helpers. The library offers getters but no general removal,
// so mutation works directly on the exported Properties slice.
// ---------------------------------------------------------------------------

func propsNamed(ve *ical.VEvent, name string) []*ical.IANAProperty {
	var out []*ical.IANAProperty
	for i := range ve.Properties {
		if ve.Properties[i].IANAToken == name {
			out = append(out, &ve.Properties[i])
		}
	}
	return out
}

func removeProps(ve *ical.VEvent, names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := ve.Properties[:0]
	for _, p := range ve.Properties {
		if !drop[p.IANAToken] {
			kept = append(kept, p)
		}
	}
	ve.Properties = kept
}

func removeVendorProps(ve *ical.VEvent) {
	kept := ve.Properties[:0]
	for _, p := range ve.Properties {
		if !strings.HasPrefix(p.IANAToken, "X-") {
			kept = append(kept, p)
		}
	}
	ve.Properties = kept
}

func setProp(ve *ical.VEvent, name, value string, params map[string][]string) {
	removeProps(ve, name)
	addProp(ve, name, value, params)
}

func addProp(ve *ical.VEvent, name, value string, params map[string][]string) {
	ve.Properties = append(ve.Properties, ical.IANAProperty{
		BaseProperty: ical.BaseProperty{
			IANAToken:      name,
			Value:          value,
			ICalParameters: params,
		},
	})
}

func exDateValues(ve *ical.VEvent) []string {
	var out []string
	for _, p := range propsNamed(ve, propExDate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// dateKey extracts the YYYYMMDD day portion from an iCalendar DATE or
// DATE-TIME value.
func dateKey(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return "", false
	}
	day := v[:8]
	for _, r := range day {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return day, true
}

// propTime parses a DATE or DATE-TIME property into a time.Time, honoring a
// TZID parameter when present. The second return reports a date-only value.
func propTime(p *ical.IANAProperty) (time.Time, bool, error) {
	v := strings.TrimSpace(p.Value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if !strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102", v, time.Local)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := time.Local
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}
