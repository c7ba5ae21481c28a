// Package station models the stations a user tracks on the board and their
// persistence.
package station

import (
	"errors"
	"strings"
)

// Station errors.
var (
	ErrInvalidReference = errors.New("station reference requires key and label")
)

// DefaultKey and DefaultLabel identify the station shown on first run.
const (
	DefaultKey   = "metros/1/bastille/A"
	DefaultLabel = "Bastille, Direction La Défense"
)

// Reference identifies a tracked transit stop.
type Reference struct {
	// Key is the opaque path-like identifier, used both as the schedule API
	// path suffix and as the persistence key (e.g., "metros/1/bastille/A").
	Key string `json:"key"`

	// Label is the display string, "Title, Subtitle".
	Label string `json:"label"`
}

// Default returns the station shown when nothing has been selected yet.
func Default() Reference {
	return Reference{Key: DefaultKey, Label: DefaultLabel}
}

// Validate checks that both fields are set.
func (r Reference) Validate() error {
	if strings.TrimSpace(r.Key) == "" || strings.TrimSpace(r.Label) == "" {
		return ErrInvalidReference
	}
	return nil
}

// Title returns the part of the label before the first ", ".
func (r Reference) Title() string {
	title, _ := SplitLabel(r.Label)
	return title
}

// Subtitle returns the part of the label after the first ", ".
func (r Reference) Subtitle() string {
	_, subtitle := SplitLabel(r.Label)
	return subtitle
}

// SplitLabel splits a label into title and subtitle on the first ", ".
func SplitLabel(label string) (title, subtitle string) {
	title, subtitle, _ = strings.Cut(label, ", ")
	return title, subtitle
}
