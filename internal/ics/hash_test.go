package ics

import (
	"strings"
	"testing"
)

func TestComputeHash_Stable(t *testing.T) {
	text := container("UID:e", "SUMMARY:Planning", "DTSTART:20250106T090000Z")
	if ComputeHash(text) != ComputeHash(text) {
		t.Error("ComputeHash is not deterministic")
	}
}

func TestComputeHash_IgnoresBookkeepingProps(t *testing.T) {
	a := container(
		"UID:e",
		"SUMMARY:Planning",
		"DTSTART:20250106T090000Z",
		"DTSTAMP:20250101T000000Z",
		"CREATED:20250101T000000Z",
		"LAST-MODIFIED:20250101T000000Z",
		"SEQUENCE:1",
	)
	b := container(
		"UID:e",
		"SUMMARY:Planning",
		"DTSTART:20250106T090000Z",
		"DTSTAMP:20250215T120000Z",
		"CREATED:20250102T000000Z",
		"LAST-MODIFIED:20250215T120000Z",
		"SEQUENCE:7",
	)
	if ComputeHash(a) != ComputeHash(b) {
		t.Error("hash changed under bookkeeping-only edits")
	}
}

func TestComputeHash_DetectsMeaningfulChanges(t *testing.T) {
	base := []string{"UID:e", "DTSTART:20250106T090000Z", "RRULE:FREQ=DAILY;COUNT=5"}
	orig := container(append([]string{"SUMMARY:Planning"}, base...)...)

	tests := []struct {
		name  string
		lines []string
	}{
		{"title", append([]string{"SUMMARY:Renamed"}, base...)},
		{"start time", []string{"SUMMARY:Planning", "UID:e", "DTSTART:20250106T100000Z", "RRULE:FREQ=DAILY;COUNT=5"}},
		{"recurrence rule", []string{"SUMMARY:Planning", "UID:e", "DTSTART:20250106T090000Z", "RRULE:FREQ=DAILY;COUNT=9"}},
		{"exclusion dates", append([]string{"SUMMARY:Planning", "EXDATE:20250107T090000Z"}, base...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ComputeHash(container(tt.lines...)) == ComputeHash(orig) {
				t.Errorf("hash unchanged under %s edit", tt.name)
			}
		})
	}
}

func TestComputeHash_LineEndingInsensitive(t *testing.T) {
	lf := container("UID:e", "SUMMARY:Planning", "DTSTART:20250106T090000Z")
	crlf := strings.ReplaceAll(lf, "\n", "\r\n")
	if ComputeHash(lf) != ComputeHash(crlf) {
		t.Error("hash differs between LF and CRLF input")
	}
}

func TestComputeHash_UnparseableInput(t *testing.T) {
	h := ComputeHash("definitely not icalendar")
	if h == "" {
		t.Error("ComputeHash returned empty digest for unparseable input")
	}
	if h != ComputeHash("definitely not icalendar") {
		t.Error("ComputeHash unstable for unparseable input")
	}
}
