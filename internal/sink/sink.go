package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// ackTimeout bounds how long a publish waits for the external system.
const ackTimeout = 5 * time.Second

var errMissingBlock = errors.New("configuration block missing")

// Sink drains a change event channel into an external system. A Sink is
// owned by a single consumer goroutine.
type Sink interface {
	// Run publishes events until the channel is closed; the producer closes
	// it after cancellation, so buffered events are still delivered.
	// Failed publishes are logged and the event is dropped.
	Run(ctx context.Context, events <-chan models.ChangeEvent) error
	Close() error
}

// ConnectionError is returned when a sink cannot be constructed.
type ConnectionError struct {
	Sink string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect %s sink: %v", e.Sink, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError describes one event that could not be delivered.
type PublishError struct {
	Destination string
	EventID     string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish event %s to %s: %v", e.EventID, e.Destination, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Destination joins a sink prefix with the event's canonical topic name.
func Destination(prefix string, e models.ChangeEvent) string {
	if prefix == "" {
		return e.TopicName()
	}
	return prefix + "." + e.TopicName()
}

type publishFunc func(ctx context.Context, e models.ChangeEvent) (string, error)

// consume is the shared fire-and-forget loop: one publish per event, no
// retries, failures are logged and skipped. It returns once the channel is
// closed, so events still buffered at cancellation are published. Each
// publish is bounded by ackTimeout rather than by ctx.
func consume(ctx context.Context, log *logrus.Entry, events <-chan models.ChangeEvent, publish publishFunc) error {
	base := context.WithoutCancel(ctx)
	for e := range events {
		dest, err := publishOne(base, e, publish)
		if err != nil {
			log.Errorf("%v", &PublishError{Destination: dest, EventID: e.ID.String(), Err: err})
			continue
		}
		log.Debugf("Published event %s to %s", e.ID, dest)
	}
	log.Info("Event channel closed, stopping sink")
	return nil
}

func publishOne(base context.Context, e models.ChangeEvent, publish publishFunc) (string, error) {
	ctx, cancel := context.WithTimeout(base, ackTimeout)
	defer cancel()
	return publish(ctx, e)
}

// New builds the sink selected by cfg.SinkKind.
func New(ctx context.Context, cfg config.StreamingConfig, logger *logrus.Logger) (Sink, error) {
	switch kind := cfg.SinkKind(); kind {
	case "kafka":
		if cfg.Kafka == nil {
			return nil, &ConnectionError{Sink: kind, Err: errMissingBlock}
		}
		return NewKafka(ctx, *cfg.Kafka, logger)
	case "redis":
		if cfg.Redis == nil {
			return nil, &ConnectionError{Sink: kind, Err: errMissingBlock}
		}
		return NewRedis(ctx, *cfg.Redis, logger)
	case "nats":
		if cfg.NATS == nil {
			return nil, &ConnectionError{Sink: kind, Err: errMissingBlock}
		}
		return NewNATS(*cfg.NATS, logger)
	case "":
		return nil, errors.New("no streaming sink configured")
	default:
		return nil, fmt.Errorf("unsupported streaming sink %q", kind)
	}
}
