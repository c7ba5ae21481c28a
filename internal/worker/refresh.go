package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/station"
)

// Board is the application state refreshed by the job. RefreshStations
// reports how many stations it fetched; Stations is the selection.
type Board interface {
	RefreshStations(ctx context.Context) (int, error)
	Stations() []station.Reference
}

// Flags pauses background refreshes.
type Flags interface {
	IsBackgroundRefreshDisabled(ctx context.Context) bool
}

// RefreshJob re-fetches every selected station on a schedule or on demand.
type RefreshJob struct {
	config RefreshConfig
	board  Board
	flags  Flags
	logger zerolog.Logger

	// Serializes runs so a trigger never overlaps a tick
	runMu sync.Mutex

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes    int64
	SkippedRefreshes  int64
	SuccessfulFetches int64
	FailedFetches     int64

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Board  Board
	Flags  Flags // optional
	Logger zerolog.Logger
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	return &RefreshJob{
		config:  cfg.Config.withDefaults(),
		board:   cfg.Board,
		flags:   cfg.Flags,
		logger:  cfg.Logger,
		metrics: &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Stations   int
	Successful int
	Failed     int
	Skipped    bool
	Errors     []string
}

// Run refreshes the board once. Unless force is set, the run is skipped
// while the disable_background_refresh flag is on.
func (j *RefreshJob) Run(ctx context.Context, force bool) *RefreshResult {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	startTime := time.Now()
	result := &RefreshResult{
		StartTime: startTime,
		Stations:  len(j.board.Stations()),
	}

	if !force && j.flags != nil && j.flags.IsBackgroundRefreshDisabled(ctx) {
		result.Skipped = true
		result.EndTime = time.Now()
		j.updateMetrics(result)
		j.logger.Debug().Msg("background refresh disabled, skipping")
		return result
	}

	runCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	fetched, err := j.board.RefreshStations(runCtx)
	result.Stations = fetched
	errs := splitErrors(err)
	for _, err := range errs {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Failed = min(len(errs), result.Stations)
	result.Successful = result.Stations - result.Failed

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("stations", result.Stations).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("board refresh completed")

	return result
}

// Loop runs the job every Interval until ctx is done. With a zero interval
// it only waits for ctx.
func (j *RefreshJob) Loop(ctx context.Context) error {
	if j.config.Interval == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.Run(ctx, false)
		}
	}
}

// splitErrors flattens an errors.Join result.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	if result.Skipped {
		j.metrics.SkippedRefreshes++
		return
	}
	j.metrics.SuccessfulFetches += int64(result.Successful)
	j.metrics.FailedFetches += int64(result.Failed)
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SkippedRefreshes:    j.metrics.SkippedRefreshes,
		SuccessfulFetches:   j.metrics.SuccessfulFetches,
		FailedFetches:       j.metrics.FailedFetches,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"skipped_refreshes":     m.SkippedRefreshes,
		"successful_fetches":    m.SuccessfulFetches,
		"failed_fetches":        m.FailedFetches,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
