// Package card keeps the set of visible station cards and applies schedule
// results to them.
package card

import (
	"sync"
	"time"

	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/station"
)

// Card is the rendered state of one station.
type Card struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`

	// LastUpdated is the creation time reported with the schedule.
	LastUpdated time.Time `json:"last_updated"`

	// Slots holds the arrival messages; an empty string is an unfilled slot.
	Slots [schedule.VisibleSlots]string `json:"slots"`
}

// Reference returns the station shown by the card.
func (c Card) Reference() station.Reference {
	return station.Reference{Key: c.Key, Label: c.Label}
}

// Board holds the visible cards keyed by station key, in creation order.
// It is safe for concurrent use.
type Board struct {
	mu      sync.RWMutex
	cards   map[string]*Card
	order   []string
	loading bool

	subMu   sync.Mutex
	subs    map[int]func(Card)
	nextSub int
}

// NewBoard creates an empty board in the loading state.
func NewBoard() *Board {
	return &Board{
		cards:   make(map[string]*Card),
		loading: true,
		subs:    make(map[int]func(Card)),
	}
}

// Update applies a schedule result. A card is created the first time its key
// is seen; title and subtitle are fixed at creation. Slots beyond the
// result's entries keep their previous content.
func (b *Board) Update(result schedule.Result) {
	b.mu.Lock()
	c, ok := b.cards[result.Key]
	if !ok {
		title, subtitle := station.SplitLabel(result.Label)
		c = &Card{
			Key:      result.Key,
			Label:    result.Label,
			Title:    title,
			Subtitle: subtitle,
		}
		b.cards[result.Key] = c
		b.order = append(b.order, result.Key)
	}

	c.LastUpdated = result.Created
	for i, entry := range result.Visible() {
		c.Slots[i] = entry.Message
	}
	b.loading = false

	snapshot := *c
	b.mu.Unlock()

	b.notify(snapshot)
}

// Cards returns a snapshot of all cards in creation order.
func (b *Board) Cards() []Card {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Card, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.cards[key])
	}
	return out
}

// Card returns the card for key.
func (b *Board) Card(key string) (Card, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.cards[key]
	if !ok {
		return Card{}, false
	}
	return *c, true
}

// References returns the stations of all visible cards with their labels.
func (b *Board) References() []station.Reference {
	b.mu.RLock()
	defer b.mu.RUnlock()

	refs := make([]station.Reference, 0, len(b.order))
	for _, key := range b.order {
		refs = append(refs, b.cards[key].Reference())
	}
	return refs
}

// Len returns the number of visible cards.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Loading reports whether no update has been applied yet.
func (b *Board) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loading
}

// Subscribe registers fn to receive every updated card. The returned
// function removes the subscription. fn is called synchronously from Update
// and must not block.
func (b *Board) Subscribe(fn func(Card)) (unsubscribe func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Board) notify(c Card) {
	b.subMu.Lock()
	subs := make([]func(Card), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}
