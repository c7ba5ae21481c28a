package models

import (
	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/station"
)

// Board is the response of GET /v1/board.
type Board struct {
	Loading bool   `json:"loading"`
	Cards   []Card `json:"cards"`
}

// Card is one station card. Slots always has four entries; an empty string
// is a slot no schedule has filled yet.
type Card struct {
	Key         string     `json:"key"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle"`
	LastUpdated *Timestamp `json:"lastUpdated,omitempty"`
	Slots       []string   `json:"slots"`
}

// NewBoard converts board state into its API representation.
func NewBoard(loading bool, cards []card.Card) Board {
	out := Board{Loading: loading, Cards: make([]Card, 0, len(cards))}
	for _, c := range cards {
		out.Cards = append(out.Cards, NewCard(c))
	}
	return out
}

// NewCard converts a card into its API representation.
func NewCard(c card.Card) Card {
	out := Card{
		Key:      c.Key,
		Title:    c.Title,
		Subtitle: c.Subtitle,
		Slots:    append([]string(nil), c.Slots[:]...),
	}
	if !c.LastUpdated.IsZero() {
		ts := Timestamp(c.LastUpdated)
		out.LastUpdated = &ts
	}
	return out
}

// AddStationRequest is the body of POST /v1/stations.
type AddStationRequest struct {
	Key   string `json:"key" validate:"required,max=200"`
	Label string `json:"label" validate:"required,max=200"`
}

// Reference returns the requested station.
func (r AddStationRequest) Reference() station.Reference {
	return station.Reference{Key: r.Key, Label: r.Label}
}

// StationList is the response of GET /v1/stations and the catalog.
type StationList struct {
	Stations []station.Reference `json:"stations"`
}

// AddStationResponse reports whether POST /v1/stations added a new station.
type AddStationResponse struct {
	Station station.Reference `json:"station"`
	Added   bool              `json:"added"`
}

// ShellStatus is the response of GET /v1/shell/caches.
type ShellStatus struct {
	Version     string   `json:"version"`
	DataCache   string   `json:"dataCache"`
	Controlling bool     `json:"controlling"`
	Caches      []string `json:"caches"`
}

// ActivateResponse lists the caches removed by activation.
type ActivateResponse struct {
	Purged []string `json:"purged"`
}
