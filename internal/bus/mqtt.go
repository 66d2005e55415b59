package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures an MQTTSink.
type MQTTConfig struct {
	Broker      string // host:port or a full URL
	ClientID    string
	QoS         byte
	TopicPrefix string
}

// mqttPublisher is the part of mqtt.Client the sink uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes encoded messages to an MQTT broker.
type MQTTSink struct {
	client mqttPublisher
	codec  Codec
	qos    byte
	prefix string

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
	closed    bool
}

// DialMQTT connects to the broker and returns a sink. The client reconnects
// on its own after a lost connection.
func DialMQTT(ctx context.Context, cfg MQTTConfig, codec Codec) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		diagf("mqtt connected broker=%s client_id=%s", broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		opsf("mqtt connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, 5*time.Second); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return newMQTTSink(client, codec, cfg), nil
}

func newMQTTSink(client mqttPublisher, codec Codec, cfg MQTTConfig) *MQTTSink {
	if codec == nil {
		codec = ProtoCodec{}
	}
	return &MQTTSink{
		client:    client,
		codec:     codec,
		qos:       cfg.QoS,
		prefix:    strings.TrimSuffix(cfg.TopicPrefix, "/"),
		published: make(map[string]uint64),
	}
}

// MQTTTopic maps a bus topic onto the broker namespace.
func (s *MQTTSink) MQTTTopic(topic string) string {
	topic = strings.TrimPrefix(topic, "/")
	if s.prefix == "" {
		return topic
	}
	return s.prefix + "/" + topic
}

func (s *MQTTSink) Publish(ctx context.Context, topic string, msg Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := s.codec.Encode(msg)
	if err != nil {
		s.countError()
		return err
	}
	t := s.MQTTTopic(topic)
	if err := waitToken(ctx, s.client.Publish(t, s.qos, false, payload), 2*time.Second); err != nil {
		s.countError()
		return fmt.Errorf("mqtt publish %s: %w", t, err)
	}

	s.mu.Lock()
	s.published[t]++
	s.mu.Unlock()
	tracef("mqtt published %s qos=%d bytes=%d", t, s.qos, len(payload))
	return nil
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Stats returns per-topic publish counts and the error count.
func (s *MQTTSink) Stats() (map[string]uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		out[k] = v
	}
	return out, s.errors
}

func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.client.Disconnect(250)
	return nil
}

// waitToken waits for token to complete, ctx to end, or limit to elapse.
func waitToken(ctx context.Context, token mqtt.Token, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}
