package sink

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

// EventIDHeader carries the event identifier on NATS messages.
const EventIDHeader = "Event-Id"

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSSink publishes each event to "<subject_prefix>.cdc.<database>.<table>".
type NATSSink struct {
	conn   natsConn
	prefix string
	log    *logrus.Entry
}

// NewNATS connects to NATS with reconnect handling.
func NewNATS(cfg config.NATSConfig, logger *logrus.Logger) (*NATSSink, error) {
	log := logger.WithField("sink", "nats")

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, &ConnectionError{Sink: "nats", Err: err}
	}

	log.Infof("Connected to NATS at %s", cfg.URL)
	return newNATS(conn, cfg.SubjectPrefix, log), nil
}

func newNATS(conn natsConn, prefix string, log *logrus.Entry) *NATSSink {
	return &NATSSink{conn: conn, prefix: prefix, log: log}
}

func (n *NATSSink) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	n.log.Info("Starting NATS streaming...")
	return consume(ctx, n.log, events, n.publish)
}

// publish sends the event and flushes so that a server round trip confirms
// it within ackTimeout.
func (n *NATSSink) publish(_ context.Context, e models.ChangeEvent) (string, error) {
	subject := Destination(n.prefix, e)
	payload, err := e.Marshal()
	if err != nil {
		return subject, err
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(EventIDHeader, e.ID.String())

	if err := n.conn.PublishMsg(msg); err != nil {
		return subject, err
	}
	return subject, n.conn.FlushTimeout(ackTimeout)
}

func (n *NATSSink) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
