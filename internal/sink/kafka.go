package sink

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdc-streamer/internal/config"
	"cdc-streamer/internal/models"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaSink publishes each event to "<topic_prefix>.cdc.<database>.<table>"
// keyed by the event id.
type KafkaSink struct {
	client producer
	prefix string
	log    *logrus.Entry
}

// NewKafka builds a franz-go client for the comma separated broker list and
// checks that at least one broker answers.
func NewKafka(ctx context.Context, cfg config.KafkaConfig, logger *logrus.Logger) (*KafkaSink, error) {
	log := logger.WithField("sink", "kafka")

	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, &ConnectionError{Sink: "kafka", Err: errors.New("no brokers configured")}
	}

	client, err := kgo.NewClient(kafkaOptions(cfg, brokers, log)...)
	if err != nil {
		return nil, &ConnectionError{Sink: "kafka", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, &ConnectionError{Sink: "kafka", Err: err}
	}

	log.Infof("Connected to Kafka at %s", strings.Join(brokers, ","))
	return newKafka(client, cfg.TopicPrefix, log), nil
}

// kafkaOptions builds the client options. batch_size only caps the records
// the client buffers; events are produced one at a time with ProduceSync, so
// in practice at most one record is in flight and no batching happens.
func kafkaOptions(cfg config.KafkaConfig, brokers []string, log *logrus.Entry) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RecordDeliveryTimeout(ackTimeout),
		kgo.WithLogger(&kgoLogger{log: log}),
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(cfg.BatchSize))
	}
	return opts
}

func newKafka(client producer, prefix string, log *logrus.Entry) *KafkaSink {
	return &KafkaSink{client: client, prefix: prefix, log: log}
}

func (k *KafkaSink) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	k.log.Info("Starting Kafka streaming...")
	return consume(ctx, k.log, events, k.publish)
}

func (k *KafkaSink) publish(ctx context.Context, e models.ChangeEvent) (string, error) {
	topic := Destination(k.prefix, e)
	payload, err := e.Marshal()
	if err != nil {
		return topic, err
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(e.ID.String()),
		Value: payload,
	}
	return topic, k.client.ProduceSync(ctx, record).FirstErr()
}

func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// kgoLogger forwards franz-go client logs to logrus.
type kgoLogger struct {
	log *logrus.Entry
}

func (k *kgoLogger) Level() kgo.LogLevel {
	switch k.log.Logger.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return kgo.LogLevelDebug
	case logrus.InfoLevel:
		return kgo.LogLevelInfo
	case logrus.WarnLevel:
		return kgo.LogLevelWarn
	}
	return kgo.LogLevelError
}

func (k *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	entry := k.log
	if len(keyvals) > 0 {
		fields := logrus.Fields{}
		for i := 0; i+1 < len(keyvals); i += 2 {
			if key, ok := keyvals[i].(string); ok {
				fields[key] = keyvals[i+1]
			}
		}
		entry = entry.WithFields(fields)
	}

	switch level {
	case kgo.LogLevelError:
		entry.Error(msg)
	case kgo.LogLevelWarn:
		entry.Warn(msg)
	case kgo.LogLevelInfo:
		entry.Info(msg)
	case kgo.LogLevelDebug:
		entry.Debug(msg)
	}
}
