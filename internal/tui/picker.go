package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/station"
)

const maxPickerResults = 8

// stationIndex implements fuzzy.Source over the catalog labels.
type stationIndex struct {
	refs []station.Reference
}

// String returns the label at index i (implements fuzzy.Source)
func (s stationIndex) String(i int) string { return s.refs[i].Label }

// Len returns the number of stations (implements fuzzy.Source)
func (s stationIndex) Len() int { return len(s.refs) }

// PickResult is a catalog station matching the picker query.
type PickResult struct {
	Ref            station.Reference
	MatchedIndexes []int
}

// Picker is the add-station dialog: a text input filtering the catalog.
type Picker struct {
	input   textinput.Model
	index   stationIndex
	results []PickResult
	cursor  int
	visible bool
	width   int
	keys    KeyMap
}

// NewPicker creates a picker over the given catalog.
func NewPicker(catalog *station.Catalog, keys KeyMap) Picker {
	ti := textinput.New()
	ti.Placeholder = "Type a station..."
	ti.CharLimit = 100
	ti.Width = 40
	ti.Prompt = "+ "
	ti.PromptStyle = accentStyle
	ti.PlaceholderStyle = dimStyle

	p := Picker{
		input: ti,
		index: stationIndex{refs: catalog.All()},
		keys:  keys,
	}
	p.filter()
	return p
}

// Show opens the picker with an empty query.
func (p *Picker) Show() {
	p.visible = true
	p.input.SetValue("")
	p.input.Focus()
	p.filter()
}

// Hide closes the picker.
func (p *Picker) Hide() {
	p.visible = false
	p.input.Blur()
}

// IsVisible returns true if the picker is open.
func (p Picker) IsVisible() bool {
	return p.visible
}

// SetWidth updates the picker width.
func (p *Picker) SetWidth(width int) {
	p.width = width
	p.input.Width = max(width/2-10, 20)
}

// Results returns the stations matching the current query, best first.
func (p Picker) Results() []PickResult {
	return p.results
}

// Selected returns the highlighted station.
func (p Picker) Selected() (station.Reference, bool) {
	if p.cursor >= len(p.results) {
		return station.Reference{}, false
	}
	return p.results[p.cursor].Ref, true
}

// Update handles a message while the picker is open. chosen is set when
// the user confirms a station.
func (p Picker) Update(msg tea.Msg) (Picker, tea.Cmd, *station.Reference) {
	if !p.visible {
		return p, nil, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, p.keys.Escape):
			p.Hide()
			return p, nil, nil

		case key.Matches(msg, p.keys.Enter):
			ref, ok := p.Selected()
			if !ok {
				return p, nil, nil
			}
			p.Hide()
			return p, nil, &ref

		case key.Matches(msg, p.keys.Down):
			if p.cursor < len(p.results)-1 {
				p.cursor++
			}
			return p, nil, nil

		case key.Matches(msg, p.keys.Up):
			if p.cursor > 0 {
				p.cursor--
			}
			return p, nil, nil
		}
	}

	var cmd tea.Cmd
	before := p.input.Value()
	p.input, cmd = p.input.Update(msg)
	if p.input.Value() != before {
		p.filter()
	}
	return p, cmd, nil
}

// filter recomputes results from the current query.
func (p *Picker) filter() {
	p.cursor = 0
	query := strings.TrimSpace(p.input.Value())
	if query == "" {
		p.results = make([]PickResult, 0, p.index.Len())
		for _, ref := range p.index.refs {
			p.results = append(p.results, PickResult{Ref: ref})
		}
		return
	}

	matches := fuzzy.FindFrom(query, p.index)
	p.results = make([]PickResult, 0, len(matches))
	for _, m := range matches {
		p.results = append(p.results, PickResult{
			Ref:            p.index.refs[m.Index],
			MatchedIndexes: m.MatchedIndexes,
		})
	}
}

// View renders the picker as a bordered dialog.
func (p Picker) View() string {
	if !p.visible {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Add station"))
	b.WriteString("\n\n")
	b.WriteString(p.input.View())
	b.WriteString("\n\n")

	if len(p.results) == 0 {
		b.WriteString(dimStyle.Render("No matching station"))
	}

	shown := min(len(p.results), maxPickerResults)
	for i, r := range p.results[:shown] {
		b.WriteString(highlightMatches(r.Ref.Label, r.MatchedIndexes, i == p.cursor))
		b.WriteString("\n")
	}
	if len(p.results) > maxPickerResults {
		b.WriteString(dimStyle.Render(fmt.Sprintf("... and %d more", len(p.results)-maxPickerResults)))
	}

	width := min(max(p.width*2/3, 40), 80)
	return modalStyle.Width(width).Render(b.String())
}

// highlightMatches renders text with the matched runes accented.
func highlightMatches(text string, matched []int, selected bool) string {
	normal, match := normalItemStyle, matchStyle
	if selected {
		normal, match = selectedItemStyle, selectedMatchStyle
	}
	if len(matched) == 0 {
		return normal.Render(text)
	}

	// sahilm/fuzzy reports byte offsets
	set := make(map[int]bool, len(matched))
	for _, i := range matched {
		set[i] = true
	}

	var out strings.Builder
	var run strings.Builder
	runMatch := false
	flush := func() {
		if run.Len() == 0 {
			return
		}
		if runMatch {
			out.WriteString(match.Render(run.String()))
		} else {
			out.WriteString(normal.Render(run.String()))
		}
		run.Reset()
	}
	for i, r := range text {
		if set[i] != runMatch {
			flush()
			runMatch = set[i]
		}
		run.WriteRune(r)
	}
	flush()

	return out.String()
}

// Styles local to the terminal board; card colors come from the card package.
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(card.White).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(card.DimGray)

	accentStyle = lipgloss.NewStyle().
			Foreground(card.MetroGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	normalItemStyle = lipgloss.NewStyle().
			Foreground(card.LightGray)

	matchStyle = lipgloss.NewStyle().
			Foreground(card.MetroGreen).
			Bold(true)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(card.White).
				Background(card.SlateDark)

	selectedMatchStyle = matchStyle.
				Background(card.SlateDark)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(card.MetroGreen).
			Padding(1, 2)
)
