package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("sink closed")

// Sink publishes messages to a topic. Publish must honour ctx so a slow
// bus cannot stall the caller past its deadline.
type Sink interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// Published is one message recorded by a MemorySink.
type Published struct {
	Topic   string
	Message Message
	At      time.Time
}

// MemorySink keeps every published message in memory.
type MemorySink struct {
	mu       sync.Mutex
	messages []Published
	err      error
	delay    time.Duration
	closed   bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetError makes subsequent publishes fail with err. Nil clears it.
func (s *MemorySink) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes subsequent publishes wait d, or until ctx is done.
func (s *MemorySink) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *MemorySink) Publish(ctx context.Context, topic string, msg Message) error {
	s.mu.Lock()
	err, delay, closed := s.err, s.delay, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.messages = append(s.messages, Published{Topic: topic, Message: msg, At: time.Now()})
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far.
func (s *MemorySink) Messages() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Published(nil), s.messages...)
}

// Topic returns the messages published to topic.
func (s *MemorySink) Topic(topic string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, p := range s.messages {
		if p.Topic == topic {
			out = append(out, p.Message)
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// LogSink writes a one-line summary of every message to the diag stream.
// It is the default sink when no bus is configured.
type LogSink struct {
	codec Codec
}

// NewLogSink returns a LogSink that reports encoded sizes using codec.
func NewLogSink(codec Codec) *LogSink {
	if codec == nil {
		codec = ProtoCodec{}
	}
	return &LogSink{codec: codec}
}

func (s *LogSink) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *PointCloudMessage:
		diagf("publish %s %s frame=%s stamp=%.3f points=%d bytes=%d",
			topic, m.MessageType(), m.Header.FrameID, m.Header.Stamp.Seconds(), len(m.Points), len(payload))
	default:
		diagf("publish %s %s bytes=%d", topic, msg.MessageType(), len(payload))
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// Config selects and configures a sink.
type Config struct {
	Kind         string // log, memory, mqtt, kafka
	Encoding     string // proto, json
	MQTTBroker   string
	MQTTClientID string
	MQTTQoS      byte
	TopicPrefix  string
	KafkaBrokers []string
}

// New builds the sink named by cfg.Kind. MQTT sinks connect before
// returning.
func New(ctx context.Context, cfg Config) (Sink, error) {
	codec, err := NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "log":
		return NewLogSink(codec), nil
	case "memory":
		return NewMemorySink(), nil
	case "mqtt":
		return DialMQTT(ctx, MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			QoS:         cfg.MQTTQoS,
			TopicPrefix: cfg.TopicPrefix,
		}, codec)
	case "kafka":
		return NewKafkaSink(cfg.KafkaBrokers, cfg.TopicPrefix, codec)
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Kind)
}
