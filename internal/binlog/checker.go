package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"
)

// Checker validates that a MySQL server can serve as a binlog source.
type Checker struct {
	db     *sql.DB
	logger *logrus.Entry
}

// NewChecker creates a new MySQL checker
func NewChecker(db *sql.DB, logger *logrus.Entry) *Checker {
	return &Checker{
		db:     db,
		logger: logger,
	}
}

var requiredPrivs = []string{
	"REPLICATION SLAVE",
	"REPLICATION CLIENT",
	"SELECT",
}

// Check verifies connectivity, replication grants and that binary logging
// is on. A non-ROW binlog_format only produces a warning.
func (c *Checker) Check(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	if err := c.checkGrants(ctx); err != nil {
		return err
	}
	c.logger.Info("All required permissions verified")

	logBin, err := c.variable(ctx, "log_bin")
	if err != nil {
		c.logger.Warn("Could not verify binlog status")
	} else if logBin != "ON" && logBin != "1" {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration", logBin)
	} else {
		c.logger.Info("Binary logging is enabled")
	}

	format, err := c.variable(ctx, "binlog_format")
	switch {
	case err != nil:
		c.logger.Warn("Could not verify binlog_format")
	case format != "ROW":
		c.logger.Warnf("binlog_format is set to '%s', but ROW format is required for row events", format)
	}
	return nil
}

func (c *Checker) checkGrants(ctx context.Context) error {
	// SHOW GRANTS can return multiple rows
	rows, err := c.db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// Try alternative query for MySQL 5.6
		rows, err = c.db.QueryContext(ctx, "SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	all := strings.Join(grants, "; ")
	upper := strings.ToUpper(all)
	if strings.Contains(upper, "ALL PRIVILEGES") {
		return nil
	}
	var missing []string
	for _, priv := range requiredPrivs {
		if !strings.Contains(upper, priv) {
			missing = append(missing, priv)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), all)
	}
	return nil
}

func (c *Checker) variable(ctx context.Context, name string) (string, error) {
	var value string
	if err := c.db.QueryRowContext(ctx, "SELECT @@"+name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return strings.ToUpper(value), nil
}

// CurrentPosition returns the server's current binlog coordinates.
func (c *Checker) CurrentPosition(ctx context.Context) (mysql.Position, error) {
	pos, err := c.statusPosition(ctx, "SHOW MASTER STATUS")
	if err != nil {
		// MySQL 8.4 removed SHOW MASTER STATUS
		pos, err = c.statusPosition(ctx, "SHOW BINARY LOG STATUS")
	}
	return pos, err
}

func (c *Checker) statusPosition(ctx context.Context, query string) (mysql.Position, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to query binlog position: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to read binlog status columns: %w", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mysql.Position{}, fmt.Errorf("failed to read binlog status: %w", err)
		}
		return mysql.Position{}, fmt.Errorf("binlog status is empty, is log_bin enabled?")
	}

	values := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return mysql.Position{}, fmt.Errorf("failed to scan binlog status: %w", err)
	}

	var pos mysql.Position
	for i, col := range cols {
		switch strings.ToLower(col) {
		case "file":
			pos.Name = values[i].String
		case "position":
			var p uint32
			if _, err := fmt.Sscanf(values[i].String, "%d", &p); err != nil {
				return mysql.Position{}, fmt.Errorf("invalid binlog position %q: %w", values[i].String, err)
			}
			pos.Pos = p
		}
	}
	return pos, nil
}
