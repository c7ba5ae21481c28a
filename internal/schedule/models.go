// Package schedule fetches arrival schedules for tracked stations and delivers
// them to a card presenter, serving cached data first when available.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/stationboard/stationboard/internal/station"
)

// Schedule errors.
var (
	// ErrNetworkFailure covers rejected requests and non-200 responses.
	ErrNetworkFailure = errors.New("schedule network failure")

	// ErrParseFailure is returned for malformed upstream payloads.
	ErrParseFailure = errors.New("schedule parse failure")
)

// VisibleSlots is the number of schedule entries a card shows.
const VisibleSlots = 4

// Entry is one upcoming arrival.
type Entry struct {
	Message     string `json:"message"`
	Destination string `json:"destination,omitempty"`
}

// Result is the schedule of a station at a point in time.
type Result struct {
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Created   time.Time `json:"created"`
	Schedules []Entry   `json:"schedules"`
}

// Reference returns the station the result belongs to.
func (r Result) Reference() station.Reference {
	return station.Reference{Key: r.Key, Label: r.Label}
}

// Visible returns the entries shown on a card, at most VisibleSlots.
func (r Result) Visible() []Entry {
	if len(r.Schedules) <= VisibleSlots {
		return r.Schedules
	}
	return r.Schedules[:VisibleSlots]
}

// Presenter receives schedule updates. Implementations must be idempotent:
// the same station may be updated several times in a row.
type Presenter interface {
	Update(result Result)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Result)

// Update calls f(result).
func (f PresenterFunc) Update(result Result) {
	f(result)
}

// Provider retrieves schedules from the upstream API.
type Provider interface {
	// ScheduleURL returns the request URL for a station key.
	ScheduleURL(key string) string

	// GetSchedule fetches the current schedule over the network.
	GetSchedule(ctx context.Context, ref station.Reference) (*Result, error)

	// Decode parses a raw upstream payload, as found in the response cache.
	Decode(data []byte, ref station.Reference) (*Result, error)

	// Name returns the provider name for logging.
	Name() string
}

// ResponseCache is the read side of the response cache consulted before the
// network.
type ResponseCache interface {
	MatchBody(ctx context.Context, url string) ([]byte, bool, error)
}

// FlagSource selects the failure fallback. When the last-known-good policy is
// on, a failed fetch shows the failing station's last successful result
// instead of the default station's placeholder.
type FlagSource interface {
	IsLastKnownGoodFallbackEnabled(ctx context.Context) bool
}

// FallbackResult is shown when a fetch fails. It always describes the default
// station, whichever station failed.
func FallbackResult() Result {
	return Result{
		Key:     station.DefaultKey,
		Label:   station.DefaultLabel,
		Created: time.Date(2017, time.July, 18, 17, 8, 42, 0, time.FixedZone("CEST", 2*60*60)),
		Schedules: []Entry{
			{Message: "0 mn"},
			{Message: "2 mn"},
			{Message: "5 mn"},
		},
	}
}
