// Package featureflags provides runtime toggles for fallback, refresh and
// search behaviour. Every flag is a boolean with a built-in default; stored
// values override the default until changed again.
package featureflags

import (
	"errors"
	"sort"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagFallbackLastKnownGood shows the failing station's last successful
	// schedule instead of the default station's placeholder.
	FlagFallbackLastKnownGood = "fallback_last_known_good"

	// FlagDisableBackgroundRefresh pauses the worker's periodic board refresh.
	FlagDisableBackgroundRefresh = "disable_background_refresh"

	// FlagFuzzyCatalogSearch enables fuzzy matching in the station catalog.
	FlagFuzzyCatalogSearch = "fuzzy_catalog_search"
)

// ErrUnknownFlag is returned when an update names a flag that is not defined.
var ErrUnknownFlag = errors.New("unknown feature flag")

// Definition describes a flag and its default.
type Definition struct {
	Key         string
	Default     bool
	Description string
}

var definitions = map[string]Definition{
	FlagFallbackLastKnownGood: {
		Key:         FlagFallbackLastKnownGood,
		Description: "On fetch failure show the station's last successful schedule",
	},
	FlagDisableBackgroundRefresh: {
		Key:         FlagDisableBackgroundRefresh,
		Description: "Skip scheduled board refreshes; forced refreshes still run",
	},
	FlagFuzzyCatalogSearch: {
		Key:         FlagFuzzyCatalogSearch,
		Default:     true,
		Description: "Match catalog queries fuzzily instead of by substring",
	},
}

// Definitions returns every known flag, sorted by key.
func Definitions() []Definition {
	defs := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}

// Lookup returns the definition of key.
func Lookup(key string) (Definition, bool) {
	d, ok := definitions[key]
	return d, ok
}

// Flag is the current state of a feature flag.
type Flag struct {
	Key         string    `json:"key"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate sets one flag.
type FlagUpdate struct {
	Key     string `json:"key" validate:"required"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates" validate:"required,min=1,dive"`
	Reason  string       `json:"reason" validate:"max=500"`
}

// defaults returns every flag at its default value.
func defaults() map[string]Flag {
	flags := make(map[string]Flag, len(definitions))
	for key, d := range definitions {
		flags[key] = Flag{Key: key, Enabled: d.Default, Description: d.Description}
	}
	return flags
}
