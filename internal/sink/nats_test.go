package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

type fakeNATS struct {
	msgs     []*nats.Msg
	flushes  []time.Duration
	flushErr error
	closed   bool
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNATS) FlushTimeout(d time.Duration) error {
	f.flushes = append(f.flushes, d)
	err := f.flushErr
	f.flushErr = nil
	return err
}

func (f *fakeNATS) Close() { f.closed = true }

func TestNATSPublishesWithHeader(t *testing.T) {
	logger, _ := test.NewNullLogger()
	fake := &fakeNATS{}
	n := newNATS(fake, "events", logger.WithField("sink", "nats"))

	e := newEvent("shop", "orders")
	require.NoError(t, n.Run(context.Background(), feed(e)))

	require.Len(t, fake.msgs, 1)
	msg := fake.msgs[0]
	assert.Equal(t, "events.cdc.shop.orders", msg.Subject)
	assert.Equal(t, e.ID.String(), msg.Header.Get(EventIDHeader))
	assert.Equal(t, []time.Duration{ackTimeout}, fake.flushes)

	got, err := models.Unmarshal(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, e.Table, got.Table)

	require.NoError(t, n.Close())
	assert.True(t, fake.closed)
}

func TestNATSFlushFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	fake := &fakeNATS{flushErr: nats.ErrTimeout}
	n := newNATS(fake, "", logger.WithField("sink", "nats"))

	first, second := newEvent("shop", "a"), newEvent("shop", "b")
	require.NoError(t, n.Run(context.Background(), feed(first, second)))

	assert.Len(t, fake.msgs, 2)
	errs := errorEntries(hook)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, first.ID.String())
	assert.Contains(t, errs[0].Message, "cdc.shop.a")
}

func TestNewRejectsUnconfiguredSink(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := New(context.Background(), config.StreamingConfig{}, logger)
	assert.EqualError(t, err, "no streaming sink configured")

	_, err = New(context.Background(), config.StreamingConfig{Sink: "kafka"}, logger)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, errors.Is(err, errMissingBlock))

	_, err = New(context.Background(), config.StreamingConfig{Sink: "pulsar"}, logger)
	assert.ErrorContains(t, err, "unsupported streaming sink")
}
