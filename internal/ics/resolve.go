package ics

import (
	"strings"

	ical "github.com/arran4/golang-ical"
)

// ResolvedEvent is one mirrorable event after exception resolution.
type ResolvedEvent struct {
	// Key is the state-store key: the UID for masters and standalone
	// events, or a compound UID for rescheduled exceptions.
	Key string

	// BaseUID is the UID shared by a series and its exceptions.
	BaseUID string

	// Event is the resolved event, with phantom exclusions already
	// stripped for masters.
	Event *Event

	// Text is the canonical serialized form used for hashing and as
	// sanitizer input.
	Text string

	// Rescheduled marks an exception whose start moved to a different
	// date than the occurrence it overrides.
	Rescheduled bool
}

// Resolved is the outcome of resolving one calendar's raw fetch.
type Resolved struct {
	// Events holds the eligible events by state key.
	Events map[string]*ResolvedEvent

	// Order lists keys in first-seen input order for deterministic runs.
	Order []string

	// Unparsed counts inputs that could not be parsed and were skipped.
	Unparsed int
}

// Resolve narrows a calendar's raw event texts down to the set eligible for
// mirroring, resolving the split representation of modified recurring
// occurrences.
//
// Backends publish an individually modified occurrence as two things at
// once: an exclusion date on the series master and a separate exception
// event carrying the same UID plus an occurrence timestamp. The exception is
// classified by comparing its own start date with that timestamp's date:
//   - different date: genuinely rescheduled, kept as a standalone event
//     under a compound key so master and exception are tracked
//     independently;
//   - same date and the date sits in the master's exclusion set: a declined
//     occurrence, skipped entirely (the master's exclusion is real);
//   - same date otherwise: a valid exception whose date is noted so the
//     matching phantom exclusion can be stripped from the master before
//     hashing and mirroring.
//
// Managed, cancelled, and free-time events are dropped everywhere, and
// masters whose series expands to zero occurrences (checked after phantom
// stripping) are dropped as well.
func Resolve(texts []string) *Resolved {
	res := &Resolved{Events: make(map[string]*ResolvedEvent)}

	type exception struct {
		ev  *Event
		uid string
		rid string
	}
	var masters []*Event
	masterExDays := make(map[string]map[string]bool)
	var exceptions []exception

	for _, text := range texts {
		parsed, err := Parse(text)
		if err != nil {
			res.Unparsed++
			continue
		}
		for _, item := range splitEvents(parsed) {
			uid := item.UID()
			if uid == "" {
				res.Unparsed++
				continue
			}
			if rid, ok := item.RecurrenceID(); ok {
				exceptions = append(exceptions, exception{ev: item, uid: uid, rid: rid})
				continue
			}
			masters = append(masters, item)
			if _, seen := masterExDays[uid]; !seen {
				masterExDays[uid] = item.ExDateDays()
			}
		}
	}

	validExceptionDays := make(map[string]map[string]bool)
	for _, ex := range exceptions {
		if IsManaged(ex.ev) || IsCancelled(ex.ev) || IsFreeTime(ex.ev) {
			continue
		}
		ridDay, ridOK := dateKey(ex.rid)
		startDay := ""
		if p := ex.ev.primary().GetProperty(ical.ComponentPropertyDtStart); p != nil {
			startDay, _ = dateKey(p.Value)
		}
		rescheduled := ridOK && startDay != "" && ridDay != startDay

		if rescheduled {
			key := CompoundUID(ex.uid, strings.TrimSpace(ex.rid))
			res.add(&ResolvedEvent{
				Key:         key,
				BaseUID:     ex.uid,
				Event:       ex.ev,
				Text:        ex.ev.Serialize(),
				Rescheduled: true,
			})
			continue
		}
		if ridOK && masterExDays[ex.uid][ridDay] {
			// Declined occurrence: the master's exclusion stands.
			continue
		}
		if ridOK {
			days := validExceptionDays[ex.uid]
			if days == nil {
				days = make(map[string]bool)
				validExceptionDays[ex.uid] = days
			}
			days[ridDay] = true
		}
	}

	for _, m := range masters {
		if IsManaged(m) || IsCancelled(m) || IsFreeTime(m) {
			continue
		}
		uid := m.UID()
		stripped := m
		if days := validExceptionDays[uid]; len(days) > 0 {
			stripped = StripExDates(m, days)
		}
		if !HasValidOccurrences(stripped) {
			continue
		}
		res.add(&ResolvedEvent{
			Key:     uid,
			BaseUID: uid,
			Event:   stripped,
			Text:    stripped.Serialize(),
		})
	}

	return res
}

func (r *Resolved) add(re *ResolvedEvent) {
	if _, dup := r.Events[re.Key]; dup {
		return
	}
	r.Events[re.Key] = re
	r.Order = append(r.Order, re.Key)
}

// InOrder returns the resolved events in first-seen order.
func (r *Resolved) InOrder() []*ResolvedEvent {
	out := make([]*ResolvedEvent, 0, len(r.Order))
	for _, k := range r.Order {
		out = append(out, r.Events[k])
	}
	return out
}

// StripExDates returns a copy of the event with every exclusion entry whose
// date falls in days removed. Entries on other dates are untouched.
func StripExDates(e *Event, days map[string]bool) *Event {
	copied, err := Parse(e.Serialize())
	if err != nil {
		return e
	}
	copied.bare = e.bare
	for _, ve := range copied.VEvents() {
		stripExDatesVEvent(ve, days)
	}
	return copied
}

func stripExDatesVEvent(ve *ical.VEvent, days map[string]bool) {
	type entry struct {
		value  string
		params map[string][]string
	}
	var kept []entry
	changed := false
	for _, p := range propsNamed(ve, propExDate) {
		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if d, ok := dateKey(v); ok && days[d] {
				changed = true
				continue
			}
			kept = append(kept, entry{v, copyParams(p.ICalParameters)})
		}
	}
	if !changed {
		return
	}
	removeProps(ve, propExDate)
	for _, en := range kept {
		addProp(ve, propExDate, en.value, en.params)
	}
}

// splitEvents breaks a container holding several VEVENTs into one Event per
// VEVENT. A series master fetched together with its exceptions arrives this
// way.
func splitEvents(e *Event) []*Event {
	ves := e.VEvents()
	if len(ves) == 1 {
		return []*Event{e}
	}
	out := make([]*Event, 0, len(ves))
	for _, ve := range ves {
		cal := ical.NewCalendar()
		cal.Components = append(cal.Components, ve)
		out = append(out, &Event{cal: cal, bare: e.bare})
	}
	return out
}
