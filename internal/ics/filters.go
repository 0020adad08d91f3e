package ics

import (
	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// ManagedTag marks events created by calmirror. Its presence on a source
// event means the event is itself a mirror and must never be mirrored again;
// this is what prevents sync loops between two calendars mirroring each
// other.
const ManagedTag = "CALMIRROR-MANAGED"

// occurrenceScanCap bounds recurrence expansion for unbounded rules.
const occurrenceScanCap = 500

// IsManaged reports whether the event carries the calmirror ownership tag.
func IsManaged(e *Event) bool {
	return e.HasCategory(ManagedTag)
}

// IsCancelled reports whether the event has STATUS:CANCELLED.
func IsCancelled(e *Event) bool {
	return e.Status() == "CANCELLED"
}

// IsFreeTime reports whether the event does not block time, i.e. it has
// TRANSP:TRANSPARENT. An absent TRANSP means OPAQUE and therefore busy.
func IsFreeTime(e *Event) bool {
	return e.Transparency() == "TRANSPARENT"
}

// HasValidOccurrences reports whether a recurring event still has at least
// one occurrence that is not excluded by EXDATE. Non-recurring events always
// pass. Expansion stops at the first surviving occurrence and is capped for
// unbounded rules.
//
// Any parse failure along the way answers true: a series that cannot be
// evaluated is mirrored rather than silently dropped.
func HasValidOccurrences(e *Event) bool {
	rule := e.RRule()
	if rule == "" {
		return true
	}

	ve := e.primary()
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return true
	}
	start, _, err := propTime(startProp)
	if err != nil {
		return true
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return true
	}
	r.DTStart(start)

	excluded := e.ExDateDays()
	next := r.Iterator()
	for i := 0; i < occurrenceScanCap; i++ {
		t, ok := next()
		if !ok {
			break
		}
		if !excluded[t.Format("20060102")] {
			return true
		}
	}
	return false
}
