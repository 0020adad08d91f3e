// Package tui provides interactive terminal UI components using BubbleTea.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PairPickerAction represents the action to perform after calendar selection.
type PairPickerAction int

const (
	// PairPickerActionNone means no action was taken (user quit).
	PairPickerActionNone PairPickerAction = iota
	// PairPickerActionSelect means the user selected a calendar pair.
	PairPickerActionSelect
)

// PairPickerResult contains the result of the pair picker interaction.
type PairPickerResult struct {
	Action PairPickerAction
	Source string
	Target string
}

// pairPickerPhase represents the current phase of calendar selection.
type pairPickerPhase int

const (
	phaseSourceCalendar pairPickerPhase = iota
	phaseTargetCalendar
)

// pairPickerKeyMap defines the key bindings for the pair picker.
type pairPickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Back   key.Binding
	Quit   key.Binding
}

func defaultPairPickerKeyMap() pairPickerKeyMap {
	return pairPickerKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("enter", "select"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Styles for the pair picker TUI.
var pairPickerStyles = struct {
	Title     lipgloss.Style
	Help      lipgloss.Style
	Item      lipgloss.Style
	Selected  lipgloss.Style
	Disabled  lipgloss.Style
	Status    lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1),
	Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Item:      lipgloss.NewStyle().Padding(0, 2),
	Selected:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 2),
	Disabled:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 2),
	Status:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
	Highlight: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
}

var titleCaser = cases.Title(language.English)

// PairPickerModel is the BubbleTea model for calendar pair selection.
type PairPickerModel struct {
	calendars []string
	cursor    int
	source    string
	target    string
	phase     pairPickerPhase
	keys      pairPickerKeyMap
	result    PairPickerResult
	width     int
	height    int
	quitting  bool
}

// NewPairPickerModel creates a new pair picker over the given calendar names.
func NewPairPickerModel(calendars []string) PairPickerModel {
	return PairPickerModel{
		calendars: calendars,
		keys:      defaultPairPickerKeyMap(),
		phase:     phaseSourceCalendar,
	}
}

// Init implements tea.Model.
func (m PairPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m PairPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.calendars)-1 {
				m.cursor++
			}
			return m, nil

		case key.Matches(msg, m.keys.Back):
			if m.phase == phaseTargetCalendar {
				m.phase = phaseSourceCalendar
				m.cursor = 0
				for i, c := range m.calendars {
					if c == m.source {
						m.cursor = i
						break
					}
				}
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Select):
			if len(m.calendars) == 0 {
				return m, nil
			}
			selected := m.calendars[m.cursor]

			if m.phase == phaseSourceCalendar {
				m.source = selected
				m.phase = phaseTargetCalendar
				m.cursor = 0
				// Start at a different calendar if possible
				for i, c := range m.calendars {
					if c != m.source {
						m.cursor = i
						break
					}
				}
				return m, nil
			}

			// Mirroring a calendar onto itself makes no sense.
			if selected == m.source {
				return m, nil
			}

			m.target = selected
			m.result = PairPickerResult{
				Action: PairPickerActionSelect,
				Source: m.source,
				Target: m.target,
			}
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m PairPickerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	var title string
	if m.phase == phaseSourceCalendar {
		title = pairPickerStyles.Title.Render("Mirror Calendars - Select Source")
	} else {
		title = pairPickerStyles.Title.Render("Mirror Calendars - Select Target")
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	if m.phase == phaseTargetCalendar {
		sourceLabel := pairPickerStyles.Highlight.Render(titleCaser.String(m.source))
		b.WriteString(fmt.Sprintf("  Source: %s\n\n", sourceLabel))
	}

	if len(m.calendars) == 0 {
		b.WriteString(pairPickerStyles.Disabled.Render("no calendars found"))
		b.WriteString("\n")
	}

	for i, cal := range m.calendars {
		var line string
		name := titleCaser.String(cal)
		disabled := m.phase == phaseTargetCalendar && cal == m.source

		if i == m.cursor {
			if disabled {
				line = pairPickerStyles.Item.Render(fmt.Sprintf("> %s (same as source)", name))
			} else {
				line = pairPickerStyles.Selected.Render(fmt.Sprintf("> %s", name))
			}
		} else {
			if disabled {
				line = pairPickerStyles.Disabled.Render(fmt.Sprintf("  %s (same as source)", name))
			} else {
				line = pairPickerStyles.Item.Render(fmt.Sprintf("  %s", name))
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")

	var status string
	if m.phase == phaseSourceCalendar {
		status = "Select the calendar whose events get mirrored out"
	} else {
		status = "Select the calendar that receives the mirrors"
	}
	b.WriteString(pairPickerStyles.Status.Render(status))
	b.WriteString("\n")

	keys := []string{"↑/↓ navigate", "enter select"}
	if m.phase == phaseTargetCalendar {
		keys = append(keys, "esc back")
	}
	keys = append(keys, "q quit")
	b.WriteString(pairPickerStyles.Help.Render(strings.Join(keys, " • ")))

	return b.String()
}

// Result returns the result of the user interaction.
func (m PairPickerModel) Result() PairPickerResult {
	return m.result
}

// RunPairPicker runs the interactive calendar pair picker.
func RunPairPicker(calendars []string) (PairPickerResult, error) {
	model := NewPairPickerModel(calendars)
	finalModel, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		return PairPickerResult{}, err
	}

	if m, ok := finalModel.(PairPickerModel); ok {
		return m.Result(), nil
	}

	return PairPickerResult{}, nil
}
