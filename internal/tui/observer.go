package tui

import "github.com/stationboard/stationboard/internal/card"

// ChannelObserver adapts board updates to a channel for Bubble Tea.
type ChannelObserver struct {
	ch chan<- card.Card
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- card.Card) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnCard sends c to the channel. Updates are dropped while the channel is
// full; the view always reads the board itself, so nothing is lost but a
// redraw.
func (o *ChannelObserver) OnCard(c card.Card) {
	select {
	case o.ch <- c:
	default:
	}
}
