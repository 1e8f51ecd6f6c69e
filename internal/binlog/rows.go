package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/models"
)

// RowChange is one row mutation decoded from a rows event.
type RowChange struct {
	Schema     string
	Table      string
	Operation  models.Operation
	Before     models.Row
	After      models.Row
	PrimaryKey models.Row
}

// ColumnResolver looks up column names for servers that do not ship them in
// the table map (binlog_row_metadata=MINIMAL).
type ColumnResolver interface {
	Columns(ctx context.Context, schema, table string) ([]string, error)
}

// SchemaColumns resolves column names from INFORMATION_SCHEMA and caches
// them per table.
type SchemaColumns struct {
	db    *sql.DB
	cache map[string][]string
}

func NewSchemaColumns(db *sql.DB) *SchemaColumns {
	return &SchemaColumns{db: db, cache: make(map[string][]string)}
}

func (s *SchemaColumns) Columns(ctx context.Context, schema, table string) ([]string, error) {
	cacheKey := schema + "." + table
	if cols, ok := s.cache[cacheKey]; ok {
		return cols, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	s.cache[cacheKey] = columns
	return columns, nil
}

// Decoder turns binlog events into row changes. It is not safe for
// concurrent use.
type Decoder struct {
	columns ColumnResolver
	tracked func(schema, table string) bool
	tables  map[uint64]*replication.TableMapEvent
	logger  *logrus.Entry
}

func NewDecoder(columns ColumnResolver, tracked func(schema, table string) bool, logger *logrus.Entry) *Decoder {
	return &Decoder{
		columns: columns,
		tracked: tracked,
		tables:  make(map[uint64]*replication.TableMapEvent),
		logger:  logger,
	}
}

// Decode returns the row changes carried by event, or nothing for
// bookkeeping events and untracked tables.
func (d *Decoder) Decode(ctx context.Context, event *replication.BinlogEvent) ([]RowChange, error) {
	switch e := event.Event.(type) {
	case *replication.TableMapEvent:
		d.tables[e.TableID] = e
		d.logger.Debugf("Cached table map for %s.%s (ID: %d)", string(e.Schema), string(e.Table), e.TableID)
		return nil, nil

	case *replication.RowsEvent:
		var op models.Operation
		switch event.Header.EventType {
		case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
			op = models.Insert
		case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
			op = models.Update
		case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
			op = models.Delete
		default:
			d.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
			return nil, nil
		}
		return d.decodeRows(ctx, e, op)

	case *replication.XIDEvent:
		d.logger.Debugf("XID event: %d", e.XID)
	}
	return nil, nil
}

func (d *Decoder) decodeRows(ctx context.Context, e *replication.RowsEvent, op models.Operation) ([]RowChange, error) {
	tableMap := e.Table
	if tableMap == nil {
		var ok bool
		if tableMap, ok = d.tables[e.TableID]; !ok {
			return nil, fmt.Errorf("table map not found for table ID %d", e.TableID)
		}
	}

	schema := string(tableMap.Schema)
	table := string(tableMap.Table)
	if d.tracked != nil && !d.tracked(schema, table) {
		return nil, nil
	}

	// Column names are in the binlog on MySQL 8.0+ with binlog_row_metadata=FULL
	var names []string
	if len(tableMap.ColumnName) > 0 {
		names = make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			names[i] = string(col)
		}
	} else {
		var err error
		if names, err = d.columns.Columns(ctx, schema, table); err != nil {
			return nil, fmt.Errorf("failed to get column info: %w", err)
		}
		if len(names) < int(tableMap.ColumnCount) {
			d.logger.Warnf("Column count mismatch: expected %d columns, got %d names", tableMap.ColumnCount, len(names))
		}
	}

	var changes []RowChange
	if op == models.Update {
		// Update rows come as [old_1, new_1, old_2, new_2, ...]
		for i := 0; i+1 < len(e.Rows); i += 2 {
			before := toRow(e.Rows[i], names)
			after := toRow(e.Rows[i+1], names)
			changes = append(changes, RowChange{
				Schema: schema, Table: table, Operation: op,
				Before: before, After: after,
				PrimaryKey: primaryKey(tableMap, after, e.Rows[i+1], names),
			})
		}
		return changes, nil
	}

	for _, values := range e.Rows {
		row := toRow(values, names)
		c := RowChange{Schema: schema, Table: table, Operation: op, PrimaryKey: primaryKey(tableMap, row, values, names)}
		if op == models.Insert {
			c.After = row
		} else {
			c.Before = row
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func toRow(values []interface{}, names []string) models.Row {
	row := make(models.Row, len(values))
	for j := 0; j < len(values) && j < len(names); j++ {
		row[names[j]] = convertValue(values[j])
	}
	return row
}

// primaryKey uses the table map's declared key columns when the server
// sends them and otherwise falls back to the first column.
func primaryKey(tableMap *replication.TableMapEvent, row models.Row, values []interface{}, names []string) models.Row {
	pk := models.Row{}
	for _, idx := range tableMap.PrimaryKey {
		if int(idx) < len(names) && int(idx) < len(values) {
			pk[names[idx]] = row[names[idx]]
		}
	}
	if len(pk) == 0 && len(names) > 0 && len(values) > 0 {
		pk[names[0]] = row[names[0]]
	}
	return pk
}

// convertValue turns textual []byte values into strings so they serialise
// as text rather than base64. Binary data is left alone.
func convertValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok && utf8.Valid(b) {
		return string(b)
	}
	return value
}
