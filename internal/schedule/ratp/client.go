// Package ratp implements the schedule provider backed by the public RATP
// schedules API.
package ratp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/provider/resilience"
	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/station"
)

const (
	// ProviderName identifies this schedule provider.
	ProviderName = "ratp"

	// DefaultBaseURL is the RATP API base URL.
	DefaultBaseURL = "https://api-ratp.pierre-grimaud.fr/v3"

	// maxBodySize caps upstream payloads.
	maxBodySize = 1 << 20
)

// Doer executes HTTP requests. Satisfied by *http.Client and
// *resilience.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the RATP client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the RATP API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a plain resilience client.
	HTTPClient Doer

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a RATP API client for station schedules.
type Client struct {
	baseURL    string
	httpClient Doer
	logger     zerolog.Logger
}

// NewClient creates a new RATP client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ScheduleURL returns the request URL for a station key. The key is used
// verbatim: it already has the form "<type>/<line>/<station>/<direction>".
func (c *Client) ScheduleURL(key string) string {
	return c.baseURL + "/schedules/" + key
}

// GetSchedule fetches the current schedule of a station.
func (c *Client) GetSchedule(ctx context.Context, ref station.Reference) (*schedule.Result, error) {
	url := c.ScheduleURL(ref.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", schedule.ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: executing request: %w", schedule.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", schedule.ErrNetworkFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", schedule.ErrNetworkFailure, err)
	}

	c.logger.Debug().Str("station", ref.Key).Int("bytes", len(body)).Msg("fetched schedule")

	return c.Decode(body, ref)
}

// Decode parses a raw schedules payload. The station identity always comes
// from ref, never from the payload.
func (c *Client) Decode(data []byte, ref station.Reference) (*schedule.Result, error) {
	var payload schedulesResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", schedule.ErrParseFailure, err)
	}
	if payload.Result == nil {
		return nil, fmt.Errorf("%w: missing result", schedule.ErrParseFailure)
	}

	result := &schedule.Result{
		Key:       ref.Key,
		Label:     ref.Label,
		Schedules: make([]schedule.Entry, 0, len(payload.Result.Schedules)),
	}

	if date := payload.Metadata.Date; date != "" {
		created, err := time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata date %q: %w", schedule.ErrParseFailure, date, err)
		}
		result.Created = created
	}

	for _, s := range payload.Result.Schedules {
		result.Schedules = append(result.Schedules, schedule.Entry{
			Message:     s.Message,
			Destination: s.Destination,
		})
	}

	return result, nil
}

// RATP API response structures.

type schedulesResponse struct {
	Result   *ratpResult  `json:"result"`
	Metadata ratpMetadata `json:"_metadata"`
}

type ratpResult struct {
	Schedules []ratpSchedule `json:"schedules"`
}

type ratpSchedule struct {
	Message     string `json:"message"`
	Destination string `json:"destination"`
}

type ratpMetadata struct {
	Call string `json:"call"`
	Date string `json:"date"`
}
