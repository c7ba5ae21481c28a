package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling upstream while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures one upstream client.
type ClientConfig struct {
	// Name identifies the client in the registry, breaker and logs.
	Name string
	// Timeout bounds each attempt. Zero means 10s.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first. Zero is a single try.
	MaxRetries uint64
	// InitialInterval and MaxInterval shape the exponential backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Breaker enables circuit breaking when set.
	Breaker *BreakerConfig
	// Registry receives success and failure reports. Optional.
	Registry *Registry
	// Transport is the underlying round tripper. Optional.
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

// DefaultClientConfig is a plain client: one attempt and no breaker, the way
// the board talks to its upstream unless hardening is asked for.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Logger:          zerolog.Nop(),
	}
}

// HardenedClientConfig retries transient failures three times behind the
// default breaker.
func HardenedClientConfig(name string) ClientConfig {
	cfg := DefaultClientConfig(name)
	breaker := DefaultBreakerConfig()
	cfg.MaxRetries = 3
	cfg.Breaker = &breaker
	return cfg
}

// Client performs upstream requests under the configured policy.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a client and registers it when a registry is configured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
	}
	if cfg.Breaker != nil {
		c.breaker = newBreaker[*http.Response](cfg.Name, *cfg.Breaker, cfg.Logger) //nolint:bodyclose // type parameter
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the configured client name.
func (c *Client) Name() string { return c.cfg.Name }

// Do sends req under the request's context. Once retries are exhausted a 5xx
// is handed back as a response so callers can inspect it; only transport
// failures and an open breaker come back as errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)

	var last *http.Response
	attempt := func() error {
		if last != nil {
			last.Body.Close()
			last = nil
		}
		resp, err := c.send(req.Clone(ctx))
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			last = resp
			return err
		}
		last = resp
		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		c.report(err)
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	c.report(nil)
	return last, nil
}

// send makes one attempt, through the breaker when configured. A 5xx counts
// as a failure but its response is kept.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	call := func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &ServerError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	}
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call) //nolint:bodyclose // caller closes
}

func (c *Client) report(err error) {
	reg := c.cfg.Registry
	if reg == nil {
		return
	}
	if err != nil {
		reg.RecordFailure(c.cfg.Name, err)
		return
	}
	reg.RecordSuccess(c.cfg.Name)
}

// ServerError is an upstream 5xx.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "upstream server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState reports closed for clients without a breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// CircuitBreakerCounts returns the breaker's counters for the current generation.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	if c.breaker == nil {
		return gobreaker.Counts{}
	}
	return c.breaker.Counts()
}
