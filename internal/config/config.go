// Package config loads the prdflow configuration: defaults, then an
// optional YAML file, then PRDFLOW_* environment variables. Command-line
// flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/prdflow/pkg/channel"
	"github.com/aretw0/prdflow/pkg/frame"
	"github.com/aretw0/prdflow/pkg/persistence/middleware"
	"github.com/aretw0/prdflow/pkg/session"
	"gopkg.in/yaml.v3"
)

// Transports.
const (
	TransportStream = "stream"
	TransportSocket = "socket"
)

// DefaultPath is read when no file is given explicitly.
const DefaultPath = "prdflow.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRDFLOW_"

// Config is the full client and stub-server configuration.
type Config struct {
	Transport   string               `yaml:"transport"`
	Stream      session.StreamConfig `yaml:"stream"`
	Socket      session.SocketConfig `yaml:"socket"`
	HTTPTimeout time.Duration        `yaml:"http_timeout"`
	MaxLineSize int                  `yaml:"max_line_size"`
	Reconnect   channel.Policy       `yaml:"reconnect"`
	LogLevel    string               `yaml:"log_level"`
	MetricsAddr string               `yaml:"metrics_addr"`
	NATS        NATSConfig           `yaml:"nats"`
	Server      ServerConfig         `yaml:"server"`
}

// NATSConfig enables the event mirror when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ServerConfig configures the stub backend.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	RedisAddr string `yaml:"redis_addr"`
	// DataDir keeps conversations as JSON files. Exclusive with RedisAddr.
	DataDir string `yaml:"data_dir"`
	// EncryptionKey seals stored conversations with AES-256-GCM when set.
	// Base64 or hex encoded.
	EncryptionKey string `yaml:"encryption_key"`
	// PreviousKeys still open data sealed before a key rotation.
	PreviousKeys []string `yaml:"previous_encryption_keys"`

	Delay       time.Duration `yaml:"delay"`
	ResultDelay time.Duration `yaml:"result_delay"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Transport: TransportStream,
		Stream: session.StreamConfig{
			BaseURL:    "http://localhost:8000",
			StreamPath: session.DefaultStreamPath,
		},
		Socket: session.SocketConfig{
			URL:  "ws://localhost:8000",
			Path: "/ws/",
		},
		HTTPTimeout: 0,
		MaxLineSize: frame.DefaultMaxLineSize,
		Reconnect:   channel.DefaultPolicy(),
		LogLevel:    "warn",
		Server: ServerConfig{
			Addr:        ":8000",
			Delay:       500 * time.Millisecond,
			ResultDelay: 2 * time.Second,
			LockTTL:     30 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error unless it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("TRANSPORT", &c.Transport)
	str("BASE_URL", &c.Stream.BaseURL)
	str("STREAM_PATH", &c.Stream.StreamPath)
	str("START_PATH", &c.Stream.StartPath)
	str("CONTINUE_PATH", &c.Stream.ContinuePath)
	str("PIPELINE_PATH", &c.Stream.PipelinePath)
	str("SOCKET_URL", &c.Socket.URL)
	str("SOCKET_PATH", &c.Socket.Path)
	str("CLIENT_ID", &c.Socket.ClientID)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)
	str("SERVER_ADDR", &c.Server.Addr)
	str("REDIS_ADDR", &c.Server.RedisAddr)
	str("DATA_DIR", &c.Server.DataDir)
	str("ENCRYPTION_KEY", &c.Server.EncryptionKey)

	if v, ok := lookup(EnvPrefix + "MAX_LINE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_LINE_SIZE: %w", EnvPrefix, err)
		}
		c.MaxLineSize = n
	}
	for key, dst := range map[string]*time.Duration{
		"HTTP_TIMEOUT":       &c.HTTPTimeout,
		"RECONNECT_BASE":     &c.Reconnect.Base,
		"RECONNECT_MAX":      &c.Reconnect.Max,
		"RECONNECT_COOLDOWN": &c.Reconnect.Cooldown,
		"SERVER_DELAY":       &c.Server.Delay,
		"RESULT_DELAY":       &c.Server.ResultDelay,
		"LOCK_TTL":           &c.Server.LockTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Transport) {
	case TransportStream, TransportSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.MaxLineSize <= 0 {
		errs = append(errs, errors.New("max_line_size must be positive"))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http_timeout must not be negative"))
	}
	if c.Server.RedisAddr != "" && c.Server.DataDir != "" {
		errs = append(errs, errors.New("server.redis_addr and server.data_dir are exclusive"))
	}
	for _, k := range append([]string{c.Server.EncryptionKey}, c.Server.PreviousKeys...) {
		if k == "" {
			continue
		}
		if _, err := middleware.ParseKey(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
