package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

type scanCall struct {
	keyspace, table string
	limit           int
}

type fakeScanner struct {
	mu     sync.Mutex
	rows   map[string]int
	errs   map[string]error
	calls  []scanCall
	closed bool
}

func (f *fakeScanner) ScanTable(_ context.Context, keyspace, table string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scanCall{keyspace, table, limit})
	return f.rows[table], f.errs[table]
}

func (f *fakeScanner) Close() { f.closed = true }

func scyllaConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Name:           "telemetry",
		Type:           config.ScyllaDB,
		Tables:         []string{"samples", "broken", "devices"},
		PollIntervalMS: 5,
		ScanLimit:      10,
	}
}

func TestScyllaSampleSynthesisesUpdates(t *testing.T) {
	scanner := &fakeScanner{
		rows: map[string]int{"samples": 3, "devices": 1},
		errs: map[string]error{"broken": errors.New("unconfigured table broken")},
	}
	s := newScylla(scyllaConfig(), nullLogger(), scanner)

	out := make(chan models.ChangeEvent, 10)
	require.NoError(t, s.sample(context.Background(), out))
	close(out)

	var events []models.ChangeEvent
	for e := range out {
		events = append(events, e)
	}
	require.Len(t, events, 4)

	for i, e := range events {
		want := "samples"
		if i == 3 {
			want = "devices"
		}
		assert.Equal(t, "telemetry", e.Database)
		assert.Equal(t, want, e.Table)
		assert.Equal(t, models.Update, e.Operation)
		assert.Nil(t, e.Before)
		assert.Equal(t, models.Row{"table": want}, e.After)
		assert.Equal(t, models.Row{"id": "cdc"}, e.PrimaryKey)
	}

	assert.Equal(t, []scanCall{
		{"telemetry", "samples", 10},
		{"telemetry", "broken", 10},
		{"telemetry", "devices", 10},
	}, scanner.calls)
}

func TestScyllaProducePollsRepeatedly(t *testing.T) {
	scanner := &fakeScanner{rows: map[string]int{"samples": 1}}
	cfg := scyllaConfig()
	cfg.Tables = []string{"samples"}
	s := newScylla(cfg, nullLogger(), scanner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan models.ChangeEvent, 100)
	done := make(chan error, 1)
	go func() { done <- s.Produce(ctx, out) }()

	require.Eventually(t, func() bool { return len(out) >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	require.NoError(t, s.Setup(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, scanner.closed)
}

func TestScyllaSampleKeepsRowsFromFailedScan(t *testing.T) {
	scanner := &fakeScanner{
		rows: map[string]int{"samples": 2},
		errs: map[string]error{"samples": errors.New("read timeout")},
	}
	cfg := scyllaConfig()
	cfg.Tables = []string{"samples"}
	logger, hook := test.NewNullLogger()
	s := newScylla(cfg, logger, scanner)

	out := make(chan models.ChangeEvent, 10)
	require.NoError(t, s.sample(context.Background(), out))
	assert.Len(t, out, 2)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Contains(t, last.Message, "read timeout")
	assert.Contains(t, last.Message, "after 2 rows")
}
