package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/binlog"
	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// binlogSource yields raw binlog events starting from the server's current
// position.
type binlogSource interface {
	Start(ctx context.Context) error
	Started() bool
	ReadEvent(ctx context.Context) (*replication.BinlogEvent, error)
	Close()
}

type binlogStream struct {
	reader  *binlog.Reader
	checker *binlog.Checker
}

func (s *binlogStream) Start(ctx context.Context) error {
	pos, err := s.checker.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	return s.reader.Start(pos)
}

func (s *binlogStream) Started() bool { return s.reader.Started() }

func (s *binlogStream) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	return s.reader.ReadEvent(ctx)
}

func (s *binlogStream) Close() { s.reader.Close() }

// rowDecoder is satisfied by *binlog.Decoder.
type rowDecoder interface {
	Decode(ctx context.Context, event *replication.BinlogEvent) ([]binlog.RowChange, error)
}

// MySQLConnector follows a MySQL or MariaDB binlog as a replica. It starts
// at the server's current position on every run.
type MySQLConnector struct {
	cfg     config.DatabaseConfig
	log     *logrus.Entry
	db      *sql.DB
	src     binlogSource
	decoder rowDecoder
	delay   time.Duration
}

// NewMySQL validates the server and prepares a binlog syncer. The
// connection string is a go-sql-driver DSN.
func NewMySQL(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*MySQLConnector, error) {
	log := logger.WithFields(logrus.Fields{
		"connector": "mysql",
		"database":  cfg.Name,
	})

	readerCfg, err := binlog.ReaderConfigFromDSN(cfg.ConnectionString, cfg.ServerID, cfg.Flavor)
	if err != nil {
		return nil, &ConnectionError{Database: cfg.Name, Err: err}
	}

	db, err := sql.Open("mysql", cfg.ConnectionString)
	if err != nil {
		return nil, &ConnectionError{Database: cfg.Name, Err: fmt.Errorf("failed to open MySQL connection: %w", err)}
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	checker := binlog.NewChecker(db, log)
	if err := checker.Check(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Database: cfg.Name, Err: err}
	}

	c := &MySQLConnector{
		cfg:   cfg,
		log:   log,
		db:    db,
		src:   &binlogStream{reader: binlog.NewReader(readerCfg, log), checker: checker},
		delay: pollDelay,
	}
	c.decoder = binlog.NewDecoder(binlog.NewSchemaColumns(db), c.tracks, log)
	return c, nil
}

func (m *MySQLConnector) tracks(schema, table string) bool {
	return m.cfg.Tracks(table) || m.cfg.Tracks(schema+"."+table)
}

// Setup starts the binlog stream. On failure Produce retries the start.
func (m *MySQLConnector) Setup(ctx context.Context) error {
	if err := m.src.Start(ctx); err != nil {
		return &SetupError{Database: m.cfg.Name, Err: err}
	}
	return nil
}

func (m *MySQLConnector) Produce(ctx context.Context, out chan<- models.ChangeEvent) error {
	m.log.Info("Starting binlog reader...")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !m.src.Started() {
			if err := m.src.Start(ctx); err != nil {
				m.log.Warnf("%v, retrying in %s", &ReadError{Database: m.cfg.Name, Err: err}, m.delay)
				if err := sleep(ctx, m.delay); err != nil {
					return err
				}
				continue
			}
		}

		event, err := m.src.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Timeouts are expected while the server is idle
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			m.log.Errorf("Error reading binlog event: %v", err)
			if err := sleep(ctx, m.delay); err != nil {
				return err
			}
			continue
		}

		changes, err := m.decoder.Decode(ctx, event)
		if err != nil {
			m.log.WithError(err).Warn("Dropping rows event")
			continue
		}
		for _, c := range changes {
			e := models.NewChangeEvent(m.cfg.Name, c.Table, c.Operation, c.Before, c.After, c.PrimaryKey)
			if err := emit(ctx, out, e); err != nil {
				return err
			}
		}
		if len(changes) > 0 {
			m.log.Debugf("Processed %s event for %s.%s (%d rows)", changes[0].Operation, changes[0].Schema, changes[0].Table, len(changes))
		}
	}
}

func (m *MySQLConnector) Close() error {
	m.src.Close()
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

var _ Connector = (*MySQLConnector)(nil)
