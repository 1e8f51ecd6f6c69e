package binlog

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-streamer/internal/models"
)

type staticColumns struct {
	cols  []string
	err   error
	calls int
}

func (s *staticColumns) Columns(context.Context, string, string) ([]string, error) {
	s.calls++
	return s.cols, s.err
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func usersTable(withNames bool) *replication.TableMapEvent {
	tm := &replication.TableMapEvent{
		TableID:     7,
		Schema:      []byte("app"),
		Table:       []byte("users"),
		ColumnCount: 3,
	}
	if withNames {
		tm.ColumnName = [][]byte{[]byte("email"), []byte("id"), []byte("name")}
		tm.PrimaryKey = []uint64{1}
	}
	return tm
}

func rowsEvent(t replication.EventType, tm *replication.TableMapEvent, rows ...[]interface{}) *replication.BinlogEvent {
	return &replication.BinlogEvent{
		Header: &replication.EventHeader{EventType: t},
		Event:  &replication.RowsEvent{TableID: tm.TableID, Table: tm, Rows: rows},
	}
}

func TestDecodeInsertUsesDeclaredPrimaryKey(t *testing.T) {
	d := NewDecoder(&staticColumns{}, nil, testLogger())
	tm := usersTable(true)

	changes, err := d.Decode(context.Background(), rowsEvent(replication.WRITE_ROWS_EVENTv2, tm,
		[]interface{}{[]byte("a@x.io"), int64(1), []byte("Ann")},
		[]interface{}{[]byte("b@x.io"), int64(2), nil},
	))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, models.Insert, changes[0].Operation)
	assert.Equal(t, "app", changes[0].Schema)
	assert.Equal(t, "users", changes[0].Table)
	assert.Nil(t, changes[0].Before)
	assert.Equal(t, models.Row{"email": "a@x.io", "id": int64(1), "name": "Ann"}, changes[0].After)
	assert.Equal(t, models.Row{"id": int64(1)}, changes[0].PrimaryKey)
	assert.Equal(t, models.Row{"id": int64(2)}, changes[1].PrimaryKey)
}

func TestDecodeUpdatePairsRows(t *testing.T) {
	d := NewDecoder(&staticColumns{}, nil, testLogger())
	tm := usersTable(true)

	changes, err := d.Decode(context.Background(), rowsEvent(replication.UPDATE_ROWS_EVENTv2, tm,
		[]interface{}{[]byte("a@x.io"), int64(1), []byte("Ann")},
		[]interface{}{[]byte("a@y.io"), int64(1), []byte("Ann")},
	))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	assert.Equal(t, models.Update, changes[0].Operation)
	assert.Equal(t, "a@x.io", changes[0].Before["email"])
	assert.Equal(t, "a@y.io", changes[0].After["email"])
}

func TestDecodeDeleteResolvesColumnsFromSchema(t *testing.T) {
	cols := &staticColumns{cols: []string{"id", "email", "name"}}
	d := NewDecoder(cols, nil, testLogger())
	tm := usersTable(false)

	changes, err := d.Decode(context.Background(), rowsEvent(replication.DELETE_ROWS_EVENTv1, tm,
		[]interface{}{int64(9), []byte("z@x.io"), []byte{0xff, 0xfe}},
	))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	assert.Equal(t, models.Delete, changes[0].Operation)
	assert.Nil(t, changes[0].After)
	assert.Equal(t, []byte{0xff, 0xfe}, changes[0].Before["name"])
	assert.Equal(t, models.Row{"id": int64(9)}, changes[0].PrimaryKey)
	assert.Equal(t, 1, cols.calls)
}

func TestDecodeSkipsUntrackedTables(t *testing.T) {
	cols := &staticColumns{}
	d := NewDecoder(cols, func(schema, table string) bool { return table == "orders" }, testLogger())

	changes, err := d.Decode(context.Background(), rowsEvent(replication.WRITE_ROWS_EVENTv2, usersTable(false),
		[]interface{}{int64(1), []byte("a"), []byte("b")},
	))
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Zero(t, cols.calls)
}

func TestDecodeColumnLookupFailure(t *testing.T) {
	d := NewDecoder(&staticColumns{err: errors.New("boom")}, nil, testLogger())

	_, err := d.Decode(context.Background(), rowsEvent(replication.WRITE_ROWS_EVENTv2, usersTable(false),
		[]interface{}{int64(1), []byte("a"), []byte("b")},
	))
	assert.ErrorContains(t, err, "boom")
}

func TestDecodeCachesTableMaps(t *testing.T) {
	d := NewDecoder(&staticColumns{}, nil, testLogger())
	tm := usersTable(true)

	changes, err := d.Decode(context.Background(), &replication.BinlogEvent{
		Header: &replication.EventHeader{EventType: replication.TABLE_MAP_EVENT},
		Event:  tm,
	})
	require.NoError(t, err)
	assert.Empty(t, changes)

	ev := rowsEvent(replication.WRITE_ROWS_EVENTv2, tm, []interface{}{[]byte("a"), int64(3), []byte("c")})
	ev.Event.(*replication.RowsEvent).Table = nil

	changes, err = d.Decode(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "users", changes[0].Table)
}

func TestReaderConfigFromDSN(t *testing.T) {
	cfg, err := ReaderConfigFromDSN("repl:s3cret@tcp(db.internal:3307)/", 42, "")
	require.NoError(t, err)

	assert.Equal(t, ReaderConfig{
		Host:     "db.internal",
		Port:     3307,
		User:     "repl",
		Password: "s3cret",
		ServerID: 42,
		Flavor:   "mysql",
	}, cfg)

	_, err = ReaderConfigFromDSN("not a dsn", 1, "mysql")
	assert.Error(t, err)
}
