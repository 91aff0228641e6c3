// Package config loads the node configuration from an optional YAML
// file, applies environment overrides, and fills defaults. The result
// is captured once at startup and never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Role selects which side of the stream protocol this node plays.
type Role string

const (
	// RolePublisher owns the channel streams: plays Author on the
	// ledger plane, admits verified peers, publishes sensor data.
	RolePublisher Role = "publisher"

	// RoleSubscriber consumes streams: receives announcements and
	// keyloads, mirrors ledger messages into the local index.
	RoleSubscriber Role = "subscriber"
)

// PublicChannelKey is the reserved channel key whose stream is readable
// by all verified peers.
const PublicChannelKey = "public_stream"

// SensorSpec describes one locally attached sensor in the catalog.
type SensorSpec struct {
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Unit    string `yaml:"unit"`
	Channel string `yaml:"channel"`
}

// Config is the immutable runtime configuration of one node.
type Config struct {
	Role Role `yaml:"role"`

	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`
	DeviceType string `yaml:"device_type"`
	ThingKey   string `yaml:"thing_key"`
	ThingPwd   string `yaml:"thing_pwd"`

	Channels []string     `yaml:"channels"`
	Sensors  []SensorSpec `yaml:"sensors"`

	// SubscribeChannels are other Publishers' public channels this
	// node follows. On these the node always runs the subscriber
	// path, regardless of its own role.
	SubscribeChannels []string `yaml:"subscribe_channels"`

	// ExpectedSubscribers is the subscriber count at which the
	// Publisher mints the keyload and closes the reader set.
	ExpectedSubscribers int `yaml:"expected_subscribers"`

	// PublicAnnLink pre-seeds the public channel's announcement link
	// for a Subscriber joining an already announced stream.
	PublicAnnLink string `yaml:"public_ann_link"`

	IdentitySocket string `yaml:"identity_socket"`
	StreamsSocket  string `yaml:"streams_socket"`
	BrokerSocket   string `yaml:"broker_socket"`

	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	CACertPath  string `yaml:"ca_cert_path"`
	OpsAddr     string `yaml:"ops_addr"`
	AdapterAddr string `yaml:"adapter_addr"`
	IPEchoURL   string `yaml:"ip_echo_url"`

	CycleSeconds   int `yaml:"cycle_seconds"`
	VerifyAttempts int `yaml:"verify_attempts"`
	BatchLimit     int `yaml:"batch_limit"`
	RPCTimeoutSec  int `yaml:"rpc_timeout_sec"`
}

// Load reads path (missing file is not an error), applies env
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IS_FACTORY"); v != "" {
		if getBool(v) {
			c.Role = RolePublisher
		} else {
			c.Role = RoleSubscriber
		}
	}
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.DeviceName = getEnv("DEVICE_NAME", c.DeviceName)
	c.DeviceType = getEnv("DEVICE_TYPE", c.DeviceType)
	c.ThingKey = getEnv("THING_NAME", c.ThingKey)
	c.ThingPwd = getEnv("THING_PWD", c.ThingPwd)

	if v := os.Getenv("CHANNEL_IDS"); v != "" {
		c.Channels = splitList(v)
	}
	if v := os.Getenv("SENSOR_IDS"); v != "" {
		c.Sensors = mergeSensorKeys(c.Sensors, splitList(v))
	}
	if v := os.Getenv("SUBSCRIBE_CHANNEL_IDS"); v != "" {
		c.SubscribeChannels = splitList(v)
	}
	if v := getEnvInt("NUM_SUBSCRIBER", 0); v > 0 {
		c.ExpectedSubscribers = v
	}
	c.PublicAnnLink = getEnv("PUBLIC_ANN_LINK", c.PublicAnnLink)

	c.IdentitySocket = getEnv("IDENTITY_GRPC_SOCKET", c.IdentitySocket)
	c.StreamsSocket = getEnv("STREAMS_GRPC_SOCKET", c.StreamsSocket)
	c.BrokerSocket = getEnv("MQTT_GRPC_SOCKET", c.BrokerSocket)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)

	c.CACertPath = getEnv("CA_CERT_PATH", c.CACertPath)
	c.OpsAddr = getEnv("OPS_ADDR", c.OpsAddr)
	c.AdapterAddr = getEnv("ADAPTER_GRPC_SOCKET", c.AdapterAddr)
	c.IPEchoURL = getEnv("IP_ECHO_URL", c.IPEchoURL)

	if v := getEnvInt("CYCLE_SECONDS", 0); v > 0 {
		c.CycleSeconds = v
	}
	if v := getEnvInt("VERIFY_ATTEMPTS", 0); v > 0 {
		c.VerifyAttempts = v
	}
}

func (c *Config) applyDefaults() {
	if c.Role == "" {
		c.Role = RoleSubscriber
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{PublicChannelKey}
	}
	if c.ExpectedSubscribers == 0 {
		c.ExpectedSubscribers = 1
	}
	if c.IdentitySocket == "" {
		c.IdentitySocket = "0.0.0.0:50053"
	}
	if c.StreamsSocket == "" {
		c.StreamsSocket = "0.0.0.0:50052"
	}
	if c.BrokerSocket == "" {
		c.BrokerSocket = "0.0.0.0:50054"
	}
	if c.CACertPath == "" {
		c.CACertPath = "cert/ca.crt"
	}
	if c.OpsAddr == "" {
		c.OpsAddr = ":8080"
	}
	if c.AdapterAddr == "" {
		c.AdapterAddr = "0.0.0.0:50051"
	}
	if c.IPEchoURL == "" {
		c.IPEchoURL = "https://api.ipify.org"
	}
	if c.CycleSeconds == 0 {
		c.CycleSeconds = 10
	}
	if c.VerifyAttempts == 0 {
		c.VerifyAttempts = 10
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 20
	}
	if c.RPCTimeoutSec == 0 {
		c.RPCTimeoutSec = 5
	}
	for i := range c.Sensors {
		if c.Sensors[i].Name == "" {
			c.Sensors[i].Name = c.Sensors[i].Key
		}
		if c.Sensors[i].Type == "" {
			c.Sensors[i].Type = "generic"
		}
		if c.Sensors[i].Channel == "" {
			c.Sensors[i].Channel = c.Channels[0]
		}
	}
}

func (c *Config) validate() error {
	if c.Role != RolePublisher && c.Role != RoleSubscriber {
		return fmt.Errorf("config: invalid role %q", c.Role)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("config: DEVICE_ID is required")
	}
	if c.ThingKey == "" {
		return fmt.Errorf("config: THING_NAME is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	return nil
}

// CycleInterval returns the reconciliation wake period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleSeconds) * time.Second
}

// RPCTimeout returns the per-call deadline for gateway RPCs.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

// IsPublisher reports whether this node owns its channel streams.
func (c *Config) IsPublisher() bool { return c.Role == RolePublisher }

// Follows reports whether channelKey is a foreign channel this node
// only consumes.
func (c *Config) Follows(channelKey string) bool {
	for _, key := range c.SubscribeChannels {
		if key == channelKey {
			return true
		}
	}
	return false
}

// PublisherFor reports whether this node runs the publisher path on
// channelKey: a Publisher owns every configured channel except the
// ones it merely follows.
func (c *Config) PublisherFor(channelKey string) bool {
	return c.Role == RolePublisher && !c.Follows(channelKey)
}

// AllChannels returns owned and followed channel keys, owned first.
func (c *Config) AllChannels() []string {
	out := make([]string, 0, len(c.Channels)+len(c.SubscribeChannels))
	out = append(out, c.Channels...)
	for _, key := range c.SubscribeChannels {
		if !containsKey(out, key) {
			out = append(out, key)
		}
	}
	return out
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// mergeSensorKeys keeps YAML-declared sensor specs and adds bare specs
// for keys only named in the environment.
func mergeSensorKeys(specs []SensorSpec, keys []string) []SensorSpec {
	have := make(map[string]bool, len(specs))
	for _, s := range specs {
		have[s.Key] = true
	}
	for _, k := range keys {
		if !have[k] {
			specs = append(specs, SensorSpec{Key: k})
		}
	}
	return specs
}

func splitList(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ";") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBool(val string) bool {
	switch strings.ToLower(val) {
	case "true", "t", "1":
		return true
	}
	return false
}
