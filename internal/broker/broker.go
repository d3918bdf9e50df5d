// Package broker owns the new_token_created / token_cex_updated envelopes
// and publishes them on redis pub/sub, with an optional Shopify/sarama
// mirror for deployments that also want a durable Kafka copy of attribution
// events. Grounded on the teacher's
// datasync/chaindatafetcher/event/kafka/kafka.go (AsyncProducer setup,
// topic-keyed ProducerMessage) and kafka/repository.go (repository wrapping
// a broker behind a narrow publish surface).
package broker

import (
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.Broker)

// Publisher is the narrow surface the Creator Handler and Supervisor need;
// satisfied by *cache.Cache directly.
type Publisher interface {
	Publish(channel string, msg interface{}) error
}

// Broker fans new_token_created/token_cex_updated envelopes out to redis
// pub/sub and, if configured, a mirrored Kafka topic.
type Broker struct {
	primary Publisher
	mirror  *kafkaMirror
}

// New wraps the primary redis-backed publisher. Call WithKafkaMirror to
// additionally mirror every publish to Kafka.
func New(primary Publisher) *Broker {
	return &Broker{primary: primary}
}

// WithKafkaMirror enables a best-effort Kafka mirror of every publish;
// brokers is the bootstrap list, topicPrefix namespaces topics per
// environment the way kafka/config.go's TopicPrefix does.
func (b *Broker) WithKafkaMirror(brokers []string, topicPrefix string) error {
	m, err := newKafkaMirror(brokers, topicPrefix)
	if err != nil {
		return err
	}
	b.mirror = m
	return nil
}

// Close releases the Kafka producer, if one was started.
func (b *Broker) Close() error {
	if b.mirror == nil {
		return nil
	}
	return b.mirror.close()
}

// PublishNewTokenCreated fans a NewTokenCache envelope out.
func (b *Broker) PublishNewTokenCreated(env cache.NewTokenCache) error {
	return b.publish(cache.ChannelNewTokenCreated, env)
}

// PublishTokenCexUpdated fans a TokenCexUpdatedEnvelope out (spec §4.E step 6).
func (b *Broker) PublishTokenCexUpdated(env cache.TokenCexUpdatedEnvelope) error {
	return b.publish(cache.ChannelTokenCexUpdated, env)
}

func (b *Broker) publish(channel string, msg interface{}) error {
	if err := b.primary.Publish(channel, msg); err != nil {
		return errors.Wrapf(err, "broker: publish %s", channel)
	}
	if b.mirror != nil {
		if err := b.mirror.publish(channel, msg); err != nil {
			logger.Warn("kafka_mirror_publish_failed", "channel", channel, "err", err)
		}
	}
	return nil
}

// kafkaMirror is an optional best-effort mirror of broker publishes onto a
// Kafka topic, following the teacher's AsyncProducer setup (WaitForLocal
// acks, snappy compression); no time-based flush frequency is set.
type kafkaMirror struct {
	producer    sarama.AsyncProducer
	topicPrefix string
}

func newKafkaMirror(brokers []string, topicPrefix string) (*kafkaMirror, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 0 // set by caller via cfg if ever exposed
	cfg.Producer.Return.Successes = false

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "broker: start kafka producer")
	}
	go func() {
		for err := range producer.Errors() {
			logger.Warn("kafka_mirror_async_error", "err", err)
		}
	}()
	return &kafkaMirror{producer: producer, topicPrefix: topicPrefix}, nil
}

func (m *kafkaMirror) publish(channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "kafka mirror: marshal")
	}
	m.producer.Input() <- &sarama.ProducerMessage{
		Topic: m.topicPrefix + "-" + channel,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

func (m *kafkaMirror) close() error {
	return m.producer.Close()
}
