package worker

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubConfig configures a Subscriber.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// Subscriber feeds messages from a Pub/Sub subscription to a Dispatcher.
// Messages are processed one at a time.
type Subscriber struct {
	client *pubsub.Client
	sub    *pubsub.Subscriber
	name   string
	jobs   *Dispatcher
	log    zerolog.Logger
}

// NewSubscriber connects to Pub/Sub. Close releases the client.
func NewSubscriber(ctx context.Context, cfg PubSubConfig) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	sub := client.Subscriber(cfg.SubscriptionName)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.MaxExtension = 5 * time.Minute

	return &Subscriber{
		client: client,
		sub:    sub,
		name:   cfg.SubscriptionName,
		jobs:   cfg.Dispatcher,
		log:    cfg.Logger.With().Str("subscription", cfg.SubscriptionName).Logger(),
	}, nil
}

// Run receives until ctx is done or the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	s.log.Info().Msg("receiving refresh jobs")
	return s.sub.Receive(ctx, s.handle)
}

// Close closes the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

func (s *Subscriber) handle(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()
	log := s.log.With().
		Str("message_id", msg.ID).
		Time("published", msg.PublishTime).
		Logger()

	err := s.jobs.Dispatch(ctx, msg.Data)
	switch {
	case err == nil:
		log.Info().Dur("duration", time.Since(start)).Msg("job completed")
		msg.Ack()
	case Retryable(err):
		log.Error().Err(err).Msg("job failed, requesting redelivery")
		msg.Nack()
	default:
		log.Warn().Err(err).Str("payload", truncate(msg.Data, 256)).Msg("dropping message")
		msg.Ack()
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
