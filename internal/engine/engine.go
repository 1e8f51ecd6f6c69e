package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/connector"
	"cdc-streamer/internal/models"
)

// ChannelCapacity bounds the hand-off between a connector and its sink.
const ChannelCapacity = 1000

// Factory establishes the connector for one database.
type Factory func(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (connector.Connector, error)

// DefaultFactory picks the connector variant matching the database type.
func DefaultFactory(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (connector.Connector, error) {
	switch cfg.Type {
	case config.PostgreSQL:
		return connector.NewPostgres(ctx, cfg, logger)
	case config.ScyllaDB:
		return connector.NewScylla(ctx, cfg, logger)
	case config.MySQL:
		return connector.NewMySQL(ctx, cfg, logger)
	}
	return nil, &connector.ConnectionError{Database: cfg.Name, Err: fmt.Errorf("unsupported database type %q", cfg.Type)}
}

// Engine owns the connector and producer goroutine for one database.
type Engine struct {
	cfg      config.DatabaseConfig
	logger   *logrus.Logger
	log      *logrus.Entry
	factory  Factory
	capacity int
	done     chan struct{}
}

type Option func(*Engine)

// WithFactory replaces the connector factory.
func WithFactory(f Factory) Option {
	return func(e *Engine) { e.factory = f }
}

func New(cfg config.DatabaseConfig, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.Clone(),
		logger:   logger,
		log:      logger.WithField("database", cfg.Name),
		factory:  DefaultFactory,
		capacity: ChannelCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start establishes the connector, runs its setup and launches the producer.
// Only connection failures are returned; everything after that is logged by
// the producer. Cancelling ctx stops the producer and closes the channel.
func (e *Engine) Start(ctx context.Context) (<-chan models.ChangeEvent, error) {
	if e.done != nil {
		return nil, fmt.Errorf("engine for %s already started", e.cfg.Name)
	}

	conn, err := e.factory(ctx, e.cfg.Clone(), e.logger)
	if err != nil {
		var connErr *connector.ConnectionError
		if !errors.As(err, &connErr) {
			err = &connector.ConnectionError{Database: e.cfg.Name, Err: err}
		}
		return nil, err
	}

	if err := conn.Setup(ctx); err != nil {
		e.log.Warnf("%v, continuing", err)
	}

	events := make(chan models.ChangeEvent, e.capacity)
	e.done = make(chan struct{})
	go e.run(ctx, conn, events)

	e.log.Infof("Started %s CDC engine for tables %v", e.cfg.Type, e.cfg.Tables)
	return events, nil
}

func (e *Engine) run(ctx context.Context, conn connector.Connector, events chan models.ChangeEvent) {
	defer close(e.done)
	defer close(events)
	defer func() {
		if err := conn.Close(); err != nil {
			e.log.Warnf("Error closing connector: %v", err)
		}
	}()

	err := conn.Produce(ctx, events)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Errorf("Producer stopped: %v", err)
		return
	}
	e.log.Info("Producer stopped")
}

// Done is closed once the producer has exited and the channel is closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the producer exits. It returns immediately if the
// engine was never started.
func (e *Engine) Wait() {
	if e.done != nil {
		<-e.done
	}
}
