package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes encoded messages to Kafka, one Kafka topic per bus
// topic.
type KafkaSink struct {
	w      kafkaWriter
	codec  Codec
	prefix string
}

// NewKafkaSink returns a sink writing to brokers. The writer connects
// lazily on the first publish.
func NewKafkaSink(brokers []string, topicPrefix string, codec Codec) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  false,
	}
	return newKafkaSink(w, topicPrefix, codec), nil
}

func newKafkaSink(w kafkaWriter, prefix string, codec Codec) *KafkaSink {
	if codec == nil {
		codec = ProtoCodec{}
	}
	return &KafkaSink{w: w, codec: codec, prefix: strings.Trim(prefix, "/.")}
}

// KafkaTopic maps a bus topic such as "/cloud" onto a legal Kafka topic
// name.
func (s *KafkaSink) KafkaTopic(topic string) string {
	t := strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	if s.prefix != "" {
		t = s.prefix + "." + t
	}
	return t
}

func (s *KafkaSink) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	t := s.KafkaTopic(topic)
	km := kafka.Message{
		Topic: t,
		Key:   []byte(msg.MessageType()),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(s.codec.ContentType())},
		},
	}
	if err := s.w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka publish %s: %w", t, err)
	}
	tracef("kafka published %s bytes=%d", t, len(payload))
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
