package card

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	MetroGreen = lipgloss.Color("#00A88F")
	SlateDark  = lipgloss.Color("#1F2937")
	DimGray    = lipgloss.Color("#6B7280")
	LightGray  = lipgloss.Color("#9CA3AF")
	White      = lipgloss.Color("#F9FAFB")
)

// Styles used to draw cards.
var (
	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DimGray).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	UpdatedStyle = lipgloss.NewStyle().
			Foreground(DimGray).
			Italic(true)

	SlotStyle = lipgloss.NewStyle().
			Foreground(MetroGreen)

	EmptySlotStyle = lipgloss.NewStyle().
			Foreground(DimGray)
)

const emptySlot = "--"

// minCardWidth keeps the border readable on narrow terminals.
const minCardWidth = 24

// Render draws a single card with the given outer width.
func Render(c Card, width int) string {
	if width < minCardWidth {
		width = minCardWidth
	}
	inner := width - CardStyle.GetHorizontalFrameSize()
	block := width - CardStyle.GetHorizontalBorderSize()

	lines := []string{
		TitleStyle.Render(truncate(c.Title, inner)),
		SubtitleStyle.Render(truncate(c.Subtitle, inner)),
		UpdatedStyle.Render(truncate(formatUpdated(c.LastUpdated), inner)),
	}
	for _, msg := range c.Slots {
		if msg == "" {
			lines = append(lines, EmptySlotStyle.Render(emptySlot))
			continue
		}
		lines = append(lines, SlotStyle.Render(truncate(msg, inner)))
	}

	return CardStyle.Width(block).Render(strings.Join(lines, "\n"))
}

// RenderBoard draws cards side by side, wrapping rows to fit width.
func RenderBoard(cards []Card, width, cardWidth int) string {
	if len(cards) == 0 {
		return ""
	}
	if cardWidth < minCardWidth {
		cardWidth = minCardWidth
	}

	perRow := width / cardWidth
	if perRow < 1 {
		perRow = 1
	}

	rows := make([]string, 0, (len(cards)+perRow-1)/perRow)
	for start := 0; start < len(cards); start += perRow {
		end := min(start+perRow, len(cards))
		rendered := make([]string, 0, end-start)
		for _, c := range cards[start:end] {
			rendered = append(rendered, Render(c, cardWidth))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	}

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
