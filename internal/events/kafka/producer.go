package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"goatclash/internal/game"
)

const DefaultTopic = "goatclash.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes engine events. Messages are keyed by commitment so every
// bet's history lands on one partition in order; engine-wide events are keyed
// by their type.
type Producer struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// ProducerConfig holds configuration for Kafka producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	Logger  zerolog.Logger
}

// NewProducer returns nil without brokers.
func NewProducer(config ProducerConfig) *Producer {
	if len(config.Brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, config.Topic, config.Logger)
}

func newProducer(w messageWriter, topic string, logger zerolog.Logger) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "kafka-producer").Logger(),
	}
}

func (p *Producer) Name() string {
	return "kafka"
}

// Handle writes synchronously; the dispatcher calls it in sequence order.
func (p *Producer) Handle(ctx context.Context, ev game.Event) (err error) {
	defer p.recover(&err)

	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", string(msg.Key)).
			Uint64("seq", ev.Seq).
			Msg("Failed to send event to Kafka")
		return errors.Wrapf(err, "kafka event %d", ev.Seq)
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("key", string(msg.Key)).
		Uint64("seq", ev.Seq).
		Msg("Event sent to Kafka")
	return nil
}

func (p *Producer) message(ev game.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal event")
	}
	key := string(ev.Type)
	if ev.Commitment != nil {
		key = ev.Commitment.Hex()
	}
	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "seq", Value: []byte(fmt.Sprintf("%d", ev.Seq))},
		},
	}, nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka producer")
		return err
	}
	return nil
}

func (p *Producer) recover(err *error) {
	if r := recover(); r != nil {
		p.logger.Error().
			Str("operation", "send_event_kafka").
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack_trace", string(debug.Stack())).
			Msg("Panic recovered")
		*err = errors.Errorf("kafka producer panic: %v", r)
	}
}
