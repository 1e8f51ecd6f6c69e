package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// changeLog is a server-side logical decoding cursor.
type changeLog interface {
	CreateSlot(ctx context.Context) error
	// Drain consumes and returns every entry currently queued on the slot,
	// in server order.
	Drain(ctx context.Context) ([]string, error)
	Close()
}

type pgChangeLog struct {
	pool *pgxpool.Pool
	slot string
}

func (l *pgChangeLog) CreateSlot(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, "SELECT pg_create_logical_replication_slot($1, 'wal2json')", l.slot)
	if err != nil {
		return fmt.Errorf("create replication slot %s: %w", l.slot, err)
	}
	return nil
}

func (l *pgChangeLog) Drain(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, "SELECT data FROM pg_logical_slot_get_changes($1, NULL, NULL)", l.slot)
	if err != nil {
		return nil, fmt.Errorf("query slot %s: %w", l.slot, err)
	}
	data, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan slot %s: %w", l.slot, err)
	}
	return data, nil
}

func (l *pgChangeLog) Close() {
	l.pool.Close()
}

// PostgresConnector drains a wal2json logical replication slot.
type PostgresConnector struct {
	cfg   config.DatabaseConfig
	log   *logrus.Entry
	src   changeLog
	delay time.Duration
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresConnector, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, &ConnectionError{Database: cfg.Name, Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Database: cfg.Name, Err: err}
	}

	slot := SlotName(cfg)
	return newPostgres(cfg, logger, &pgChangeLog{pool: pool, slot: slot}), nil
}

func newPostgres(cfg config.DatabaseConfig, logger *logrus.Logger, src changeLog) *PostgresConnector {
	return &PostgresConnector{
		cfg: cfg,
		log: logger.WithFields(logrus.Fields{
			"connector": "postgres",
			"database":  cfg.Name,
		}),
		src:   src,
		delay: pollDelay,
	}
}

// SlotName returns the slot used for a database: slot_name when configured,
// otherwise "slot_<name>" reduced to the characters Postgres accepts.
func SlotName(cfg config.DatabaseConfig) string {
	if cfg.SlotName != "" {
		return cfg.SlotName
	}
	return "slot_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, cfg.Name)
}

// Setup creates the replication slot. Failure usually means the slot
// already exists.
func (p *PostgresConnector) Setup(ctx context.Context) error {
	if err := p.src.CreateSlot(ctx); err != nil {
		return &SetupError{Database: p.cfg.Name, Err: err}
	}
	p.log.Info("Created replication slot")
	return nil
}

func (p *PostgresConnector) Produce(ctx context.Context, out chan<- models.ChangeEvent) error {
	p.log.Info("Starting WAL reader...")
	for {
		if err := p.poll(ctx, out); err != nil {
			return err
		}
		if err := sleep(ctx, p.delay); err != nil {
			return err
		}
	}
}

// poll runs one drain iteration. Only context cancellation is returned;
// read and parse failures are logged and absorbed.
func (p *PostgresConnector) poll(ctx context.Context, out chan<- models.ChangeEvent) error {
	entries, err := p.src.Drain(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warnf("%v, retrying in %s", &ReadError{Database: p.cfg.Name, Err: err}, p.delay)
		return nil
	}

	for _, data := range entries {
		changes, err := decodeWal2JSON([]byte(data))
		if err != nil {
			p.log.WithError(&ParseError{Data: data, Err: err}).Debug("Dropping change entry")
			continue
		}
		for _, c := range changes {
			event, ok := p.toEvent(c)
			if !ok {
				continue
			}
			if err := emit(ctx, out, event); err != nil {
				return err
			}
		}
	}
	if len(entries) > 0 {
		p.log.Debugf("Drained %d change entries", len(entries))
	}
	return nil
}

func (p *PostgresConnector) toEvent(c walChange) (models.ChangeEvent, bool) {
	if !p.cfg.Tracks(c.Table) && !p.cfg.Tracks(c.Schema+"."+c.Table) {
		return models.ChangeEvent{}, false
	}
	op, ok := operationFor(c.Kind)
	if !ok {
		return models.ChangeEvent{}, false
	}

	event := models.NewChangeEvent(p.cfg.Name, c.Table, op, c.Before, c.After, firstColumn(c.After, c.AfterOrder))
	event.TransactionID = c.XID
	return event, true
}

func (p *PostgresConnector) Close() error {
	p.src.Close()
	return nil
}

var _ Connector = (*PostgresConnector)(nil)
