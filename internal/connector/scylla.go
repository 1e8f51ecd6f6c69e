package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// tableScanner runs a bounded scan and reports how many rows came back. A
// scan that fails part way returns the rows read so far with the error.
type tableScanner interface {
	ScanTable(ctx context.Context, keyspace, table string, limit int) (int, error)
	Close()
}

type gocqlScanner struct {
	session *gocql.Session
}

func (s *gocqlScanner) ScanTable(ctx context.Context, keyspace, table string, limit int) (int, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", keyspace, table, limit)
	iter := s.session.Query(stmt).WithContext(ctx).Iter()

	n := 0
	row := make(map[string]interface{})
	for iter.MapScan(row) {
		n++
		row = make(map[string]interface{})
	}
	if err := iter.Close(); err != nil {
		return n, err
	}
	return n, nil
}

func (s *gocqlScanner) Close() {
	s.session.Close()
}

// ScyllaConnector approximates change capture on a wide-column store by
// sampling every tracked table once per poll interval. Each sampled row is
// reported as an Update with placeholder key and payload; it is not a
// change log and does not see deletes.
type ScyllaConnector struct {
	cfg     config.DatabaseConfig
	log     *logrus.Entry
	scanner tableScanner
}

// NewScylla opens a session against the comma separated node list in the
// connection string.
func NewScylla(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*ScyllaConnector, error) {
	cluster := gocql.NewCluster(strings.Split(cfg.ConnectionString, ",")...)
	cluster.Authenticator = gocql.PasswordAuthenticator{
		Username: cfg.Username,
		Password: cfg.Password,
	}
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, &ConnectionError{Database: cfg.Name, Err: err}
	}
	return newScylla(cfg, logger, &gocqlScanner{session: session}), nil
}

func newScylla(cfg config.DatabaseConfig, logger *logrus.Logger, scanner tableScanner) *ScyllaConnector {
	return &ScyllaConnector{
		cfg: cfg,
		log: logger.WithFields(logrus.Fields{
			"connector": "scylla",
			"database":  cfg.Name,
		}),
		scanner: scanner,
	}
}

// Setup is a no-op; there is no cursor to create.
func (s *ScyllaConnector) Setup(context.Context) error { return nil }

func (s *ScyllaConnector) Produce(ctx context.Context, out chan<- models.ChangeEvent) error {
	interval := s.cfg.PollInterval()
	if interval <= 0 {
		interval = pollDelay
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infof("Sampling %d tables every %s", len(s.cfg.Tables), interval)
	for {
		if err := s.sample(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ScyllaConnector) sample(ctx context.Context, out chan<- models.ChangeEvent) error {
	for _, table := range s.cfg.Tables {
		n, err := s.scanner.ScanTable(ctx, s.cfg.Name, table, s.cfg.ScanLimit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warnf("%v after %d rows", &ReadError{Database: s.cfg.Name, Err: fmt.Errorf("scan %s: %w", table, err)}, n)
		}
		for i := 0; i < n; i++ {
			event := models.NewChangeEvent(s.cfg.Name, table, models.Update,
				nil,
				models.Row{"table": table},
				models.Row{"id": "cdc"},
			)
			if err := emit(ctx, out, event); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ScyllaConnector) Close() error {
	s.scanner.Close()
	return nil
}

var _ Connector = (*ScyllaConnector)(nil)
