// Package tui is the terminal station board: the cards, a refresh key and
// an add-station picker driving the same application as the HTTP API.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/station"
)

const (
	defaultWidth     = 80
	defaultCardWidth = 32
	updateBuffer     = 16
)

// Board is the card state the model draws.
type Board interface {
	Cards() []card.Card
	Loading() bool
	Subscribe(fn func(card.Card)) (unsubscribe func())
}

// Actions are the user operations the model triggers.
type Actions interface {
	Refresh(ctx context.Context) error
	AddStation(ctx context.Context, ref station.Reference) (bool, error)
}

// Config holds the model's collaborators.
type Config struct {
	Board   Board
	Actions Actions
	Catalog *station.Catalog

	// Context bounds refreshes and adds. Defaults to context.Background.
	Context context.Context

	// CardWidth is the outer width of one card (optional).
	CardWidth int
}

// Model is the Bubble Tea model of the terminal board.
type Model struct {
	board       Board
	actions     Actions
	ctx         context.Context
	cardWidth   int
	keys        KeyMap
	help        help.Model
	picker      Picker
	updates     chan card.Card
	unsubscribe func()

	width   int
	height  int
	busy    bool
	status  string
	isError bool
}

// New creates a model subscribed to the board. Close releases the
// subscription.
func New(cfg Config) Model {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cardWidth := cfg.CardWidth
	if cardWidth <= 0 {
		cardWidth = defaultCardWidth
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = station.DefaultCatalog()
	}

	keys := DefaultKeyMap()
	updates := make(chan card.Card, updateBuffer)
	observer := NewChannelObserver(updates)

	return Model{
		board:       cfg.Board,
		actions:     cfg.Actions,
		ctx:         ctx,
		cardWidth:   cardWidth,
		keys:        keys,
		help:        help.New(),
		picker:      NewPicker(catalog, keys),
		updates:     updates,
		unsubscribe: cfg.Board.Subscribe(observer.OnCard),
		width:       defaultWidth,
	}
}

// Close removes the board subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init starts listening for card updates.
func (m Model) Init() tea.Cmd {
	return m.waitForCard()
}

func (m Model) waitForCard() tea.Cmd {
	ch := m.updates
	return func() tea.Msg {
		return cardUpdatedMsg{Card: <-ch}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, actions := m.ctx, m.actions
	return func() tea.Msg {
		return refreshDoneMsg{Err: actions.Refresh(ctx)}
	}
}

func (m Model) addStation(ref station.Reference) tea.Cmd {
	ctx, actions := m.ctx, m.actions
	return func() tea.Msg {
		added, err := actions.AddStation(ctx, ref)
		return stationAddedMsg{Ref: ref, Added: added, Err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.picker.SetWidth(msg.Width)
		return m, nil

	case cardUpdatedMsg:
		// The view reads the board; keep listening.
		return m, m.waitForCard()

	case refreshDoneMsg:
		m.busy = false
		if msg.Err != nil {
			m.setError("Some stations could not be refreshed")
		} else {
			m.setStatus("Board refreshed")
		}
		return m, nil

	case stationAddedMsg:
		m.busy = false
		switch {
		case errors.Is(msg.Err, station.ErrInvalidReference):
			m.setError("Invalid station")
		case msg.Err != nil:
			m.setError("Could not save " + msg.Ref.Title() + ": " + msg.Err.Error())
		case !msg.Added:
			m.setStatus(msg.Ref.Title() + " is already on the board")
		default:
			m.setStatus("Added " + msg.Ref.Label)
		}
		return m, nil
	}

	if m.picker.IsVisible() {
		var (
			cmd    tea.Cmd
			chosen *station.Reference
		)
		m.picker, cmd, chosen = m.picker.Update(msg)
		if chosen != nil {
			m.busy = true
			m.setStatus("Adding " + chosen.Title() + "...")
			return m, m.addStation(*chosen)
		}
		return m, cmd
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Refresh):
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.setStatus("Refreshing...")
			return m, m.refresh()

		case key.Matches(msg, m.keys.Add):
			m.picker.Show()
			return m, nil
		}
	}

	return m, nil
}

func (m *Model) setStatus(s string) {
	m.status, m.isError = s, false
}

func (m *Model) setError(s string) {
	m.status, m.isError = s, true
}

// Status returns the status line text.
func (m Model) Status() string {
	return m.status
}

// View renders the board.
func (m Model) View() string {
	if m.picker.IsVisible() {
		dialog := m.picker.View()
		if m.height > 0 {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, dialog)
		}
		return dialog
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Station Board"))
	if m.board.Loading() {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render("loading..."))
	}
	b.WriteString("\n\n")

	if cards := m.board.Cards(); len(cards) > 0 {
		b.WriteString(card.RenderBoard(cards, m.width, m.cardWidth))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.isError {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(accentStyle.Render(m.status))
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
