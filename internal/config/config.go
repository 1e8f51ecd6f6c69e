package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSelector is used when neither --only nor active_db is set.
const DefaultSelector = "PostgreSQL"

type Config struct {
	ActiveDB  string           `yaml:"active_db"`
	Databases []DatabaseConfig `yaml:"databases"`
	Streaming StreamingConfig  `yaml:"streaming"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// DatabaseType discriminates connector variants.
type DatabaseType string

const (
	PostgreSQL DatabaseType = "PostgreSQL"
	ScyllaDB   DatabaseType = "ScyllaDB"
	MySQL      DatabaseType = "MySQL"
)

var selectorAliases = map[DatabaseType][]string{
	PostgreSQL: {"psql", "postgresql"},
	ScyllaDB:   {"scylla", "scylladb"},
	MySQL:      {"mysql", "mariadb"},
}

// ParseDatabaseType accepts the canonical names case-insensitively.
func ParseDatabaseType(s string) (DatabaseType, error) {
	for _, t := range []DatabaseType{PostgreSQL, ScyllaDB, MySQL} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown database type %q", s)
}

func (t *DatabaseType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDatabaseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Matches reports whether a --only / active_db selector picks this type.
func (t DatabaseType) Matches(selector string) bool {
	selector = strings.ToLower(strings.TrimSpace(selector))
	for _, alias := range selectorAliases[t] {
		if selector == alias {
			return true
		}
	}
	return false
}

type DatabaseConfig struct {
	Name             string       `yaml:"name"`
	Type             DatabaseType `yaml:"db_type"`
	ConnectionString string       `yaml:"connection_string"`
	Tables           []string     `yaml:"tables"`
	PollIntervalMS   int          `yaml:"poll_interval_ms"`

	SlotName  string `yaml:"slot_name"`  // PostgreSQL
	Username  string `yaml:"username"`   // ScyllaDB
	Password  string `yaml:"password"`   // ScyllaDB
	ScanLimit int    `yaml:"scan_limit"` // ScyllaDB
	ServerID  uint32 `yaml:"server_id"`  // MySQL
	Flavor    string `yaml:"flavor"`     // MySQL: mysql, mariadb
}

// PollInterval returns the configured interval as a duration.
func (d DatabaseConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMS) * time.Millisecond
}

// Tracks reports whether changes to table should be emitted.
func (d DatabaseConfig) Tracks(table string) bool {
	for _, t := range d.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with the receiver.
func (d DatabaseConfig) Clone() DatabaseConfig {
	d.Tables = append([]string(nil), d.Tables...)
	return d
}

type StreamingConfig struct {
	Sink  string       `yaml:"sink"` // kafka, redis, nats; empty picks the first configured
	Kafka *KafkaConfig `yaml:"kafka"`
	Redis *RedisConfig `yaml:"redis"`
	NATS  *NATSConfig  `yaml:"nats"`
}

type KafkaConfig struct {
	Brokers     string `yaml:"brokers"` // comma separated
	TopicPrefix string `yaml:"topic_prefix"`
	BatchSize   int    `yaml:"batch_size"` // caps client-buffered records; sends are one at a time
}

type RedisConfig struct {
	URL          string `yaml:"url"`
	StreamPrefix string `yaml:"stream_prefix"`
	MaxLen       *int64 `yaml:"max_len"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// MetricsConfig is parsed and validated but nothing is exposed yet.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    uint16 `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Databases {
		db := &c.Databases[i]
		if db.PollIntervalMS <= 0 {
			db.PollIntervalMS = 1000
		}
		switch db.Type {
		case ScyllaDB:
			if db.Username == "" {
				db.Username = "cassandra"
				db.Password = "cassandra"
			}
			if db.ScanLimit <= 0 {
				db.ScanLimit = 10
			}
		case MySQL:
			if db.ServerID == 0 {
				db.ServerID = 1001
			}
			if db.Flavor == "" {
				db.Flavor = "mysql"
			}
		}
	}
	if n := c.Streaming.NATS; n != nil {
		if n.ReconnectWait == 0 {
			n.ReconnectWait = 2 * time.Second
		}
		if n.MaxReconnect == 0 {
			n.MaxReconnect = 10
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Databases))
	for i, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("databases[%d]: name is required", i)
		}
		if seen[db.Name] {
			return fmt.Errorf("databases[%d]: duplicate name %q", i, db.Name)
		}
		seen[db.Name] = true
		if db.Type == "" {
			return fmt.Errorf("database %q: db_type is required", db.Name)
		}
		if db.ConnectionString == "" {
			return fmt.Errorf("database %q: connection_string is required", db.Name)
		}
	}

	switch strings.ToLower(c.Streaming.Sink) {
	case "":
	case "kafka":
		if c.Streaming.Kafka == nil {
			return fmt.Errorf("streaming.sink is kafka but streaming.kafka is not configured")
		}
	case "redis":
		if c.Streaming.Redis == nil {
			return fmt.Errorf("streaming.sink is redis but streaming.redis is not configured")
		}
	case "nats":
		if c.Streaming.NATS == nil {
			return fmt.Errorf("streaming.sink is nats but streaming.nats is not configured")
		}
	default:
		return fmt.Errorf("unknown streaming.sink %q", c.Streaming.Sink)
	}

	if r := c.Streaming.Redis; r != nil && r.MaxLen != nil && *r.MaxLen <= 0 {
		return fmt.Errorf("streaming.redis.max_len must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required when metrics are enabled")
	}
	return nil
}

// Selector resolves the effective database selector; only takes precedence.
func (c *Config) Selector(only string) string {
	if only != "" {
		return only
	}
	if c.ActiveDB != "" {
		return c.ActiveDB
	}
	return DefaultSelector
}

// SelectDatabases returns copies of every database matching the selector.
func (c *Config) SelectDatabases(selector string) []DatabaseConfig {
	var out []DatabaseConfig
	for _, db := range c.Databases {
		if db.Type.Matches(selector) {
			out = append(out, db.Clone())
		}
	}
	return out
}

// SinkKind returns the configured sink variant, falling back to the first
// configured block in kafka, redis, nats order. Empty means none.
func (s StreamingConfig) SinkKind() string {
	if s.Sink != "" {
		return strings.ToLower(s.Sink)
	}
	switch {
	case s.Kafka != nil:
		return "kafka"
	case s.Redis != nil:
		return "redis"
	case s.NATS != nil:
		return "nats"
	}
	return ""
}
