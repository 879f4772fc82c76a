package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Propagation PropagationConfig `koanf:"propagation"`
	Providers   ProvidersConfig   `koanf:"providers"`
	Audit       AuditConfig       `koanf:"audit"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// PropagationConfig tunes the orchestrator and its worker pool
type PropagationConfig struct {
	Workers          int           `koanf:"workers"`
	QueueSize        int           `koanf:"queue_size"`
	MaxInFlightCalls int           `koanf:"max_in_flight_calls"`
	CallTimeout      time.Duration `koanf:"call_timeout"`
	RetryLockTTL     time.Duration `koanf:"retry_lock_ttl"`
}

// ProvidersConfig carries per-provider endpoint configuration. Credentials
// live in the per-organization provider settings store, not here.
type ProvidersConfig struct {
	Ytel     ProviderEndpoint `koanf:"ytel"`
	Genesys  ProviderEndpoint `koanf:"genesys"`
	DNCScrub ProviderEndpoint `koanf:"dncscrub"`
	CCC      ProviderEndpoint `koanf:"ccc"`
	Filevine ProviderEndpoint `koanf:"filevine"`
}

type ProviderEndpoint struct {
	BaseURL      string        `koanf:"base_url"`
	AuthURL      string        `koanf:"auth_url"`
	Timeout      time.Duration `koanf:"timeout"`
	RateLimitRPS int           `koanf:"rate_limit_rps"`
}

type AuditConfig struct {
	StuckPendingAge time.Duration `koanf:"stuck_pending_age"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Propagation: PropagationConfig{
			Workers:          4,
			QueueSize:        256,
			MaxInFlightCalls: 20,
			CallTimeout:      30 * time.Second,
			RetryLockTTL:     2 * time.Minute,
		},
		Providers: ProvidersConfig{
			Ytel:     ProviderEndpoint{Timeout: 30 * time.Second, RateLimitRPS: 5},
			Genesys:  ProviderEndpoint{Timeout: 30 * time.Second, RateLimitRPS: 10},
			DNCScrub: ProviderEndpoint{Timeout: 30 * time.Second, RateLimitRPS: 5},
			CCC:      ProviderEndpoint{Timeout: 30 * time.Second, RateLimitRPS: 5},
			Filevine: ProviderEndpoint{Timeout: 30 * time.Second, RateLimitRPS: 5},
		},
		Audit: AuditConfig{
			StuckPendingAge: time.Hour,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
			BatchTimeout: 5 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file if exists
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		// Config file is optional, only log if it's not a "file not found" error
	}

	// Override with environment variables
	if err := k.Load(env.Provider("DNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DNC_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
