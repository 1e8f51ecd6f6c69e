package binlog

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// ReaderConfig holds what the binlog syncer needs to register as a replica.
type ReaderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ServerID uint32
	Flavor   string
}

// ReaderConfigFromDSN extracts replica credentials from a go-sql-driver DSN
// such as "user:pass@tcp(host:3306)/".
func ReaderConfigFromDSN(dsn string, serverID uint32, flavor string) (ReaderConfig, error) {
	parsed, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return ReaderConfig{}, fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}

	host, portStr, err := net.SplitHostPort(parsed.Addr)
	if err != nil {
		return ReaderConfig{}, fmt.Errorf("invalid MySQL address %q: %w", parsed.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ReaderConfig{}, fmt.Errorf("invalid MySQL port %q: %w", portStr, err)
	}

	// Set default flavor if not specified
	if flavor == "" {
		flavor = "mysql"
	}
	return ReaderConfig{
		Host:     host,
		Port:     port,
		User:     parsed.User,
		Password: parsed.Passwd,
		ServerID: serverID,
		Flavor:   flavor,
	}, nil
}

// Reader handles reading binlog events from MySQL. Positions are kept in
// memory only; a restarted reader starts from wherever it is told.
type Reader struct {
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	position mysql.Position
	logger   *logrus.Entry
}

// NewReader creates a new binlog reader
func NewReader(cfg ReaderConfig, logger *logrus.Entry) *Reader {
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: cfg.ServerID,
		Flavor:   cfg.Flavor,
		Host:     cfg.Host,
		Port:     uint16(cfg.Port),
		User:     cfg.User,
		Password: cfg.Password,
	})
	return &Reader{
		syncer: syncer,
		logger: logger,
	}
}

// Start begins streaming from pos.
func (r *Reader) Start(pos mysql.Position) error {
	streamer, err := r.syncer.StartSync(pos)
	if err != nil {
		return fmt.Errorf("failed to start binlog sync: %w", err)
	}
	r.streamer = streamer
	r.position = pos
	r.logger.Infof("Started binlog sync from position: %s:%d", pos.Name, pos.Pos)
	return nil
}

// Started reports whether Start succeeded.
func (r *Reader) Started() bool {
	return r.streamer != nil
}

// ReadEvent reads the next binlog event, waiting at most 10 seconds.
func (r *Reader) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	if r.streamer == nil {
		return nil, fmt.Errorf("binlog sync not started")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	event, err := r.streamer.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	if e, ok := event.Event.(*replication.RotateEvent); ok {
		r.position.Name = string(e.NextLogName)
		r.position.Pos = uint32(e.Position)
		r.logger.Infof("Binlog rotated to: %s", r.position.Name)
	} else if event.Header.LogPos > 0 {
		r.position.Pos = event.Header.LogPos
	}

	return event, nil
}

// Close closes the binlog reader
func (r *Reader) Close() {
	if r.syncer != nil {
		if r.streamer != nil {
			r.logger.Infof("Closing binlog reader at position: %s:%d", r.position.Name, r.position.Pos)
		}
		r.syncer.Close()
	}
}
