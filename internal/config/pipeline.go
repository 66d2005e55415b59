package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the root configuration of the depth pipeline. Every
// field is optional; the Get* methods supply defaults for omitted fields.
type PipelineConfig struct {
	// Scheduling
	PublishInterval     *string `json:"publish_interval,omitempty"` // duration string like "500ms"
	RenderFPS           *int    `json:"render_fps,omitempty"`
	ResolveTimeout      *string `json:"resolve_timeout,omitempty"`
	DiagnosticsInterval *string `json:"diagnostics_interval,omitempty"` // sample time, not wall time

	// Point cloud
	MaxPoints      *int    `json:"max_points,omitempty"`
	FloatsPerPoint *int    `json:"floats_per_point,omitempty"`
	CapacityPolicy *string `json:"capacity_policy,omitempty"` // "truncate" or "strict"

	// Publishing
	CloudTopic *string `json:"cloud_topic,omitempty"`
	ImuTopic   *string `json:"imu_topic,omitempty"`
	PublishIMU *bool   `json:"publish_imu,omitempty"`
	FrameID    *string `json:"frame_id,omitempty"`

	// Sink
	Sink         *string  `json:"sink,omitempty"` // "log", "mqtt", "kafka" or "memory"
	Encoding     *string  `json:"encoding,omitempty"`
	MQTTBroker   *string  `json:"mqtt_broker,omitempty"`
	MQTTClientID *string  `json:"mqtt_client_id,omitempty"`
	MQTTQoS      *int     `json:"mqtt_qos,omitempty"`
	KafkaBrokers []string `json:"kafka_brokers,omitempty"`

	// Diagnostics database path; empty disables persistence.
	DiagDB *string `json:"diag_db,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field set to its
// default.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		PublishInterval:     ptrString("500ms"),
		RenderFPS:           ptrInt(30),
		ResolveTimeout:      ptrString("5ms"),
		DiagnosticsInterval: ptrString("100ms"),
		MaxPoints:           ptrInt(60000),
		FloatsPerPoint:      ptrInt(4),
		CapacityPolicy:      ptrString("truncate"),
		CloudTopic:          ptrString("/cloud"),
		ImuTopic:            ptrString("/imu"),
		PublishIMU:          ptrBool(false),
		FrameID:             ptrString("depth"),
		Sink:                ptrString("log"),
		Encoding:            ptrString("proto"),
		MQTTBroker:          ptrString(""),
		MQTTClientID:        ptrString("depthbridge"),
		MQTTQoS:             ptrInt(0),
		DiagDB:              ptrString(""),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and be under 1MB. Fields omitted from the file
// keep their defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories. It panics if the file cannot be loaded and is intended for
// test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(name string, v *string, allowZero bool) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if err := validDuration("publish_interval", c.PublishInterval, false); err != nil {
		return err
	}
	if err := validDuration("resolve_timeout", c.ResolveTimeout, true); err != nil {
		return err
	}
	if err := validDuration("diagnostics_interval", c.DiagnosticsInterval, false); err != nil {
		return err
	}
	if c.RenderFPS != nil && (*c.RenderFPS <= 0 || *c.RenderFPS > 240) {
		return fmt.Errorf("render_fps must be between 1 and 240, got %d", *c.RenderFPS)
	}
	if c.MaxPoints != nil && *c.MaxPoints <= 0 {
		return fmt.Errorf("max_points must be positive, got %d", *c.MaxPoints)
	}
	if c.FloatsPerPoint != nil && *c.FloatsPerPoint < 3 {
		return fmt.Errorf("floats_per_point must be at least 3, got %d", *c.FloatsPerPoint)
	}
	if c.CapacityPolicy != nil {
		switch strings.ToLower(*c.CapacityPolicy) {
		case "", "truncate", "strict":
		default:
			return fmt.Errorf("capacity_policy must be 'truncate' or 'strict', got %q", *c.CapacityPolicy)
		}
	}
	if c.CloudTopic != nil && *c.CloudTopic == "" {
		return fmt.Errorf("cloud_topic must not be empty")
	}
	if c.Sink != nil {
		switch *c.Sink {
		case "", "log", "memory":
		case "mqtt":
			if c.MQTTBroker == nil || *c.MQTTBroker == "" {
				return fmt.Errorf("sink 'mqtt' requires mqtt_broker")
			}
		case "kafka":
			if len(c.KafkaBrokers) == 0 {
				return fmt.Errorf("sink 'kafka' requires kafka_brokers")
			}
		default:
			return fmt.Errorf("sink must be one of log, mqtt, kafka, memory; got %q", *c.Sink)
		}
	}
	if c.Encoding != nil {
		switch *c.Encoding {
		case "", "proto", "json":
		default:
			return fmt.Errorf("encoding must be 'proto' or 'json', got %q", *c.Encoding)
		}
	}
	if c.MQTTQoS != nil && (*c.MQTTQoS < 0 || *c.MQTTQoS > 2) {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetPublishInterval returns the publish period.
func (c *PipelineConfig) GetPublishInterval() time.Duration {
	return durationOr(c.PublishInterval, 500*time.Millisecond)
}

// GetResolveTimeout returns the transform lookup timeout.
func (c *PipelineConfig) GetResolveTimeout() time.Duration {
	return durationOr(c.ResolveTimeout, 5*time.Millisecond)
}

// GetDiagnosticsInterval returns the cloud statistics interval in sample
// time.
func (c *PipelineConfig) GetDiagnosticsInterval() time.Duration {
	return durationOr(c.DiagnosticsInterval, 100*time.Millisecond)
}

// GetRenderFPS returns the render loop rate.
func (c *PipelineConfig) GetRenderFPS() int {
	if c.RenderFPS == nil {
		return 30
	}
	return *c.RenderFPS
}

// GetMaxPoints returns the render point capacity.
func (c *PipelineConfig) GetMaxPoints() int {
	if c.MaxPoints == nil {
		return 60000
	}
	return *c.MaxPoints
}

// GetFloatsPerPoint returns the sample stride.
func (c *PipelineConfig) GetFloatsPerPoint() int {
	if c.FloatsPerPoint == nil {
		return 4
	}
	return *c.FloatsPerPoint
}

// GetCapacityPolicy returns "truncate" or "strict".
func (c *PipelineConfig) GetCapacityPolicy() string {
	return strings.ToLower(stringOr(c.CapacityPolicy, "truncate"))
}

func (c *PipelineConfig) GetCloudTopic() string { return stringOr(c.CloudTopic, "/cloud") }
func (c *PipelineConfig) GetImuTopic() string   { return stringOr(c.ImuTopic, "/imu") }
func (c *PipelineConfig) GetFrameID() string    { return stringOr(c.FrameID, "depth") }

// GetPublishIMU reports whether IMU messages are published.
func (c *PipelineConfig) GetPublishIMU() bool {
	if c.PublishIMU == nil {
		return false
	}
	return *c.PublishIMU
}

func (c *PipelineConfig) GetSink() string         { return stringOr(c.Sink, "log") }
func (c *PipelineConfig) GetEncoding() string     { return stringOr(c.Encoding, "proto") }
func (c *PipelineConfig) GetMQTTBroker() string   { return stringOr(c.MQTTBroker, "") }
func (c *PipelineConfig) GetMQTTClientID() string { return stringOr(c.MQTTClientID, "depthbridge") }

// GetMQTTQoS returns the MQTT quality of service level.
func (c *PipelineConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 0
	}
	return byte(*c.MQTTQoS)
}

// GetKafkaBrokers returns the Kafka bootstrap brokers.
func (c *PipelineConfig) GetKafkaBrokers() []string {
	return append([]string(nil), c.KafkaBrokers...)
}

// GetDiagDB returns the diagnostics database path.
func (c *PipelineConfig) GetDiagDB() string { return stringOr(c.DiagDB, "") }
