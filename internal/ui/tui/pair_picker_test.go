package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func testCalendars() []string {
	return []string{"work", "personal", "family"}
}

func TestNewPairPickerModel(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	if len(m.calendars) != 3 {
		t.Errorf("expected 3 calendars, got %d", len(m.calendars))
	}
	if m.phase != phaseSourceCalendar {
		t.Errorf("expected phase to be phaseSourceCalendar, got %d", m.phase)
	}
	if m.cursor != 0 {
		t.Errorf("expected cursor to be 0, got %d", m.cursor)
	}
}

func TestPairPickerModel_Init(t *testing.T) {
	m := NewPairPickerModel(testCalendars())
	if cmd := m.Init(); cmd != nil {
		t.Error("expected Init to return nil")
	}
}

func TestPairPickerModel_Navigation(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = newModel.(PairPickerModel)
	if m.cursor != 1 {
		t.Errorf("expected cursor 1 after down, got %d", m.cursor)
	}

	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = newModel.(PairPickerModel)
	if m.cursor != 0 {
		t.Errorf("expected cursor 0 after up, got %d", m.cursor)
	}

	// Cursor must not go negative or past the end
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = newModel.(PairPickerModel)
	if m.cursor != 0 {
		t.Errorf("cursor went negative: %d", m.cursor)
	}
	for i := 0; i < 10; i++ {
		newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = newModel.(PairPickerModel)
	}
	if m.cursor != 2 {
		t.Errorf("cursor past end: %d", m.cursor)
	}
}

func TestPairPickerModel_SelectPair(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	// Select "work" as source
	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)
	if m.phase != phaseTargetCalendar {
		t.Fatalf("expected target phase after source selection, got %d", m.phase)
	}
	if m.source != "work" {
		t.Errorf("source = %q, want work", m.source)
	}
	// Cursor should skip past the source calendar
	if m.calendars[m.cursor] == m.source {
		t.Error("cursor still on the source calendar")
	}

	// Select the target
	newModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)
	if cmd == nil {
		t.Error("expected quit command after target selection")
	}
	result := m.Result()
	if result.Action != PairPickerActionSelect {
		t.Errorf("result action = %d, want select", result.Action)
	}
	if result.Source != "work" || result.Target != "personal" {
		t.Errorf("result pair = %s/%s, want work/personal", result.Source, result.Target)
	}
}

func TestPairPickerModel_RejectsSameCalendar(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)

	// Move the cursor back onto the source and try to select it
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = newModel.(PairPickerModel)
	if m.calendars[m.cursor] != "work" {
		t.Fatalf("cursor not on source, on %q", m.calendars[m.cursor])
	}
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)

	if m.result.Action != PairPickerActionNone {
		t.Error("selecting the source as target was accepted")
	}
	if m.phase != phaseTargetCalendar {
		t.Error("phase changed after rejected selection")
	}
}

func TestPairPickerModel_BackReturnsToSourcePhase(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = newModel.(PairPickerModel)

	if m.phase != phaseSourceCalendar {
		t.Errorf("expected source phase after esc, got %d", m.phase)
	}
	if m.calendars[m.cursor] != "work" {
		t.Errorf("cursor lost the previous source selection, on %q", m.calendars[m.cursor])
	}
}

func TestPairPickerModel_QuitWithoutSelection(t *testing.T) {
	m := NewPairPickerModel(testCalendars())

	newModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = newModel.(PairPickerModel)
	if cmd == nil {
		t.Error("expected quit command")
	}
	if m.Result().Action != PairPickerActionNone {
		t.Error("quit produced a selection")
	}
	if m.View() != "" {
		t.Error("quitting model still renders a view")
	}
}

func TestPairPickerModel_View(t *testing.T) {
	m := NewPairPickerModel(testCalendars())
	view := m.View()

	if !strings.Contains(view, "Select Source") {
		t.Error("source phase view missing title")
	}
	if !strings.Contains(view, "Work") {
		t.Error("view missing title-cased calendar name")
	}

	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)
	view = m.View()
	if !strings.Contains(view, "Select Target") {
		t.Error("target phase view missing title")
	}
	if !strings.Contains(view, "same as source") {
		t.Error("target phase view does not mark the source as disabled")
	}
}

func TestPairPickerModel_EmptyCalendarList(t *testing.T) {
	m := NewPairPickerModel(nil)

	if !strings.Contains(m.View(), "no calendars found") {
		t.Error("empty list view missing placeholder")
	}
	newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = newModel.(PairPickerModel)
	if m.result.Action != PairPickerActionNone {
		t.Error("selection on empty list produced a result")
	}
}
