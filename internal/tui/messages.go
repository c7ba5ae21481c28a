package tui

import (
	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/station"
)

// cardUpdatedMsg carries a card the board has just updated.
type cardUpdatedMsg struct {
	Card card.Card
}

// refreshDoneMsg signals that a board refresh finished. Err joins the
// failed fetches; their cards already show the fallback.
type refreshDoneMsg struct {
	Err error
}

// stationAddedMsg signals that an add finished.
type stationAddedMsg struct {
	Ref   station.Reference
	Added bool
	Err   error
}
