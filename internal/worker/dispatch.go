package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Job types accepted on the refresh subscription.
const (
	JobBoardRefresh = "board_refresh"
	JobShellUpdate  = "shell_update"
)

var (
	// ErrUnknownJob is returned for messages with an unrecognised job type.
	ErrUnknownJob = errors.New("unknown job type")

	// ErrMalformedJob is returned for payloads that are not a job message.
	ErrMalformedJob = errors.New("malformed job message")
)

// Retryable reports whether a Dispatch error is worth a redelivery.
// Unknown and malformed messages fail the same way every time.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnknownJob) && !errors.Is(err, ErrMalformedJob)
}

// ShellInstaller re-installs and activates the app shell cache.
type ShellInstaller interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) ([]string, error)
}

// RefreshMessage represents a worker job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`

	// Force runs a board refresh even while background refresh is disabled.
	Force bool `json:"force,omitempty"`
}

// Dispatcher runs the job described by a message payload.
type Dispatcher struct {
	refreshJob *RefreshJob
	shell      ShellInstaller
	logger     zerolog.Logger
}

// NewDispatcher creates a Dispatcher. shell may be nil, in which case
// shell_update jobs fail.
func NewDispatcher(refreshJob *RefreshJob, shell ShellInstaller, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{refreshJob: refreshJob, shell: shell, logger: logger}
}

// Dispatch decodes data and runs the job.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}

	switch msg.JobType {
	case JobBoardRefresh:
		result := d.refreshJob.Run(ctx, msg.Force)
		if !result.Skipped && result.Stations > 0 && result.Failed == result.Stations {
			return fmt.Errorf("every station failed to refresh: %d/%d", result.Failed, result.Stations)
		}
		return nil
	case JobShellUpdate:
		return d.updateShell(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) updateShell(ctx context.Context) error {
	if d.shell == nil {
		return errors.New("no shell cache configured")
	}
	if err := d.shell.Install(ctx); err != nil {
		return fmt.Errorf("installing shell: %w", err)
	}
	purged, err := d.shell.Activate(ctx)
	if err != nil {
		return fmt.Errorf("activating shell: %w", err)
	}
	d.logger.Info().Strs("purged", purged).Msg("shell cache updated")
	return nil
}
