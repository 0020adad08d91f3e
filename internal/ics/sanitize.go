package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// FingerprintTagPrefix prefixes the source-identity tag written onto every
// mirror event. The suffix is a stable digest of the source UID, so a mirror
// can be matched back to its source even when the local state database has
// been lost.
const FingerprintTagPrefix = "CALMIRROR-FP-"

// Mode selects how much of the source event survives sanitization.
type Mode string

const (
	// ModeMirror keeps the event title.
	ModeMirror Mode = "mirror"
	// ModeBusy replaces the title with a generic placeholder.
	ModeBusy Mode = "busy"
)

// busyTitle is the placeholder summary used in busy mode.
const busyTitle = "Busy"

// SanitizeOptions controls the sanitizer.
type SanitizeOptions struct {
	Mode          Mode
	KeepReminders bool

	// SourceUID, when set, is fingerprinted into a CATEGORIES tag on the
	// mirror for orphan recovery.
	SourceUID string
}

// Fingerprint returns the stable short digest of a source UID used in
// mirror identity tags.
func Fingerprint(uid string) string {
	sum := sha256.Sum256([]byte(uid))
	return hex.EncodeToString(sum[:])[:16]
}

// FingerprintTag returns the full CATEGORIES tag carrying a source UID
// fingerprint.
func FingerprintTag(uid string) string {
	return FingerprintTagPrefix + Fingerprint(uid)
}

// Sanitize transforms source event text into the mirror event to be written
// on the target calendar. It assigns newUID, strips private payload and
// participant data, removes vendor extensions and reminders (unless kept),
// rewrites recurrence bookkeeping so the mirror stands alone, and tags the
// result as calmirror-managed.
func Sanitize(text, newUID string, opts SanitizeOptions) (*Event, error) {
	ev, err := Parse(text)
	if err != nil {
		return nil, err
	}

	ev.stripCalendarMethod()
	for _, ve := range ev.VEvents() {
		sanitizeVEvent(ve, newUID, opts)
	}
	return ev, nil
}

func (e *Event) stripCalendarMethod() {
	kept := e.cal.CalendarProperties[:0]
	for _, p := range e.cal.CalendarProperties {
		if p.IANAToken != propMethod {
			kept = append(kept, p)
		}
	}
	e.cal.CalendarProperties = kept
}

func sanitizeVEvent(ve *ical.VEvent, newUID string, opts SanitizeOptions) {
	setProp(ve, propUID, newUID, nil)

	removeProps(ve,
		propDescription, propLocation, propAttach, propURL,
		propOrganizer, propAttendee, propRecurrenceID, propStatus,
	)
	removeVendorProps(ve)

	if !opts.KeepReminders {
		removeAlarms(ve)
	}

	if opts.Mode == ModeBusy {
		setProp(ve, propSummary, busyTitle, nil)
	}

	advanceExcludedStart(ve)
	normalizeExDates(ve)

	removeProps(ve, propCategories)
	addProp(ve, propCategories, ManagedTag, nil)
	if opts.SourceUID != "" {
		addProp(ve, propCategories, FingerprintTag(opts.SourceUID), nil)
	}

	setProp(ve, propClass, "PRIVATE", nil)
}

func removeAlarms(ve *ical.VEvent) {
	kept := ve.Components[:0]
	for _, c := range ve.Components {
		if _, isAlarm := c.(*ical.VAlarm); !isAlarm {
			kept = append(kept, c)
		}
	}
	ve.Components = kept
}

// advanceExcludedStart moves DTSTART of a recurring event forward to the
// first occurrence that is not excluded by EXDATE, shifting DTEND by the
// same amount. Some stores refuse a series whose own DTSTART is excluded.
func advanceExcludedStart(ve *ical.VEvent) {
	ruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if ruleProp == nil || startProp == nil {
		return
	}

	excluded := make(map[string]bool)
	for _, v := range exDateValues(ve) {
		if d, ok := dateKey(v); ok {
			excluded[d] = true
		}
	}
	startDay, ok := dateKey(startProp.Value)
	if !ok || !excluded[startDay] {
		return
	}

	start, _, err := propTime(startProp)
	if err != nil {
		return
	}
	r, err := rrule.StrToRRule(ruleProp.Value)
	if err != nil {
		return
	}
	r.DTStart(start)

	var newStart time.Time
	found := false
	next := r.Iterator()
	for i := 0; i < occurrenceScanCap; i++ {
		t, ok := next()
		if !ok {
			break
		}
		if !excluded[t.Format("20060102")] {
			newStart, found = t, true
			break
		}
	}
	if !found || newStart.Equal(start) {
		return
	}

	setProp(ve, propDtStart, formatLike(startProp.Value, newStart), copyParams(startProp.ICalParameters))

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		if end, _, err := propTime(endProp); err == nil {
			newEnd := newStart.Add(end.Sub(start))
			setProp(ve, propDtEnd, formatLike(endProp.Value, newEnd), copyParams(endProp.ICalParameters))
		}
	}
}

// normalizeExDates rewrites date-only EXDATE entries of a timed event into
// the timed form matching DTSTART. Stores that compare exclusions by exact
// value ignore a bare date against a timed series.
func normalizeExDates(ve *ical.VEvent) {
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || !strings.Contains(startProp.Value, "T") {
		return
	}
	timePart := startProp.Value[strings.Index(startProp.Value, "T"):]
	startParams := copyParams(startProp.ICalParameters)

	type entry struct {
		value  string
		params map[string][]string
	}
	var entries []entry
	changed := false
	for _, p := range propsNamed(ve, propExDate) {
		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if !strings.Contains(v, "T") {
				if day, ok := dateKey(v); ok {
					entries = append(entries, entry{day + timePart, copyParams(startParams)})
					changed = true
					continue
				}
			}
			entries = append(entries, entry{v, copyParams(p.ICalParameters)})
		}
	}
	if !changed {
		return
	}

	removeProps(ve, propExDate)
	for _, en := range entries {
		params := en.params
		if params != nil {
			delete(params, "VALUE")
			if len(params) == 0 {
				params = nil
			}
		}
		addProp(ve, propExDate, en.value, params)
	}
}

// formatLike renders t in the same textual form as an existing DATE or
// DATE-TIME value.
func formatLike(orig string, t time.Time) string {
	switch {
	case !strings.Contains(orig, "T"):
		return t.Format("20060102")
	case strings.HasSuffix(orig, "Z"):
		return t.UTC().Format("20060102T150405Z")
	default:
		return t.Format("20060102T150405")
	}
}

func copyParams(params map[string][]string) map[string][]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string][]string, len(params))
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
