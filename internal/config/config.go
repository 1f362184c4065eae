package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Manager    ManagerConfig    `mapstructure:"manager"`
	Dialog     DialogConfig     `mapstructure:"dialog"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ManagerConfig describes the telephony manager session.
type ManagerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	DialContext      string        `mapstructure:"dial_context"`
	EmergencyContext string        `mapstructure:"emergency_context"`
	CallerIDName     string        `mapstructure:"caller_id_name"`
	OriginateTimeout time.Duration `mapstructure:"originate_timeout"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
}

// DialogConfig tunes the per-call questionnaire state machine.
type DialogConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	AudioPrefix     string        `mapstructure:"audio_prefix"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	HistorySize     int           `mapstructure:"history_size"`
}

// ScoringConfig points at the optional LLM enrichment backend.
type ScoringConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TranscribeConfig points at the optional speech-to-text backend.
type TranscribeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	ResultTopic     string        `mapstructure:"result_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ThrottleConfig bounds concurrent outbound calls.
type ThrottleConfig struct {
	PerHospital int           `mapstructure:"per_hospital"`
	SlotTTL     time.Duration `mapstructure:"slot_ttl"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("FOLLOWUP")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Manager.ActionTimeout <= 0 {
		c.Manager.ActionTimeout = 5 * time.Second
	}
	if c.Manager.OriginateTimeout <= 0 {
		c.Manager.OriginateTimeout = 30 * time.Second
	}
	if c.Manager.DialContext == "" {
		c.Manager.DialContext = "followup-medical"
	}
	if c.Manager.EmergencyContext == "" {
		c.Manager.EmergencyContext = "emergency"
	}
	if c.Dialog.ResponseTimeout <= 0 {
		c.Dialog.ResponseTimeout = 10 * time.Second
	}
	if c.Dialog.AudioPrefix == "" {
		c.Dialog.AudioPrefix = "followup"
	}
	if c.Dialog.MaxAttempts <= 0 {
		c.Dialog.MaxAttempts = 3
	}
	if c.Dialog.HistorySize <= 0 {
		c.Dialog.HistorySize = 1024
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
