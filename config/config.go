// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
//
// Environment variables use the RPC_, LOG_ and HTTP_ prefixes, for example
// RPC_SAFE_MODE=true or HTTP_ADDR=:9000. List values are separated by ';'.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
)

type Config struct {
	RPC  RPCConfig  `yaml:"rpc"`
	Log  LogConfig  `yaml:"log"`
	HTTP HTTPConfig `yaml:"http"`
}

// RPCConfig mirrors jsonrpc.Options.
type RPCConfig struct {
	SafeMode            bool   `yaml:"safe_mode" env:"RPC_SAFE_MODE"`
	WarnOnUnsafe        bool   `yaml:"warn_on_unsafe" env:"RPC_WARN_ON_UNSAFE"`
	EnableBatch         bool   `yaml:"enable_batch" env:"RPC_ENABLE_BATCH"`
	MaxBatchSize        int    `yaml:"max_batch_size" env:"RPC_MAX_BATCH_SIZE"`
	BatchConcurrency    int    `yaml:"batch_concurrency" env:"RPC_BATCH_CONCURRENCY"`
	EnableMiddleware    bool   `yaml:"enable_middleware" env:"RPC_ENABLE_MIDDLEWARE"`
	EnableValidation    bool   `yaml:"enable_validation" env:"RPC_ENABLE_VALIDATION"`
	SanitizeErrors      bool   `yaml:"sanitize_errors" env:"RPC_SANITIZE_ERRORS"`
	EnableIntrospection bool   `yaml:"enable_introspection" env:"RPC_ENABLE_INTROSPECTION"`
	IntrospectionPrefix string `yaml:"introspection_prefix" env:"RPC_INTROSPECTION_PREFIX"`
}

type LogConfig struct {
	Enabled bool `yaml:"enabled" env:"LOG_ENABLED"`
	// Level is one of silent, error, warn, info, debug or trace.
	Level string `yaml:"level" env:"LOG_LEVEL"`
	// Format is text or json.
	Format    string `yaml:"format" env:"LOG_FORMAT"`
	Timestamp bool   `yaml:"timestamp" env:"LOG_TIMESTAMP"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR"`
	Path string `yaml:"path" env:"HTTP_PATH"`
	// MaxBodyBytes limits request bodies. Negative disables the limit.
	MaxBodyBytes      int64         `yaml:"max_body_bytes" env:"HTTP_MAX_BODY_BYTES"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string `yaml:"cors_origins" env:"HTTP_CORS_ORIGINS"`
}

// Default returns the built-in configuration.
func Default() Config {
	o := jsonrpc.DefaultOptions()
	return Config{
		RPC: RPCConfig{
			SafeMode:            o.SafeMode,
			WarnOnUnsafe:        o.WarnOnUnsafe,
			EnableBatch:         o.EnableBatch,
			MaxBatchSize:        o.MaxBatchSize,
			BatchConcurrency:    o.BatchConcurrency,
			EnableMiddleware:    o.EnableMiddleware,
			EnableValidation:    o.EnableValidation,
			SanitizeErrors:      o.SanitizeErrors,
			EnableIntrospection: o.EnableIntrospection,
			IntrospectionPrefix: o.IntrospectionPrefix,
		},
		Log: LogConfig{
			Enabled:   o.EnableLogging,
			Level:     "info",
			Format:    "text",
			Timestamp: true,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			Path:              "/rpc",
			MaxBodyBytes:      jsonrpc.DefaultMaxBodyBytes,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
	}
}

// Load returns Default overlaid with the YAML file at path, if path is not
// empty, and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadDotEnv loads .env style files into the process environment. Variables
// that are already set win. Missing files are skipped; with no arguments it
// reads ".env".
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format must be text or json, got %q", c.Log.Format)
	}
	if c.RPC.MaxBatchSize < 0 {
		return fmt.Errorf("config: max batch size must not be negative, got %d", c.RPC.MaxBatchSize)
	}
	if c.RPC.BatchConcurrency < 0 {
		return fmt.Errorf("config: batch concurrency must not be negative, got %d", c.RPC.BatchConcurrency)
	}
	if strings.Contains(strings.TrimSuffix(c.RPC.IntrospectionPrefix, "."), ".") {
		return fmt.Errorf("config: introspection prefix must not contain '.', got %q", c.RPC.IntrospectionPrefix)
	}
	if !strings.HasPrefix(c.HTTP.Path, "/") {
		return fmt.Errorf("config: http path must start with '/', got %q", c.HTTP.Path)
	}
	return nil
}

// EndpointOptions converts the RPC and logging settings to endpoint options.
func (c Config) EndpointOptions(logger *slog.Logger) jsonrpc.Options {
	level, _ := ParseLevel(c.Log.Level)
	return jsonrpc.Options{
		SafeMode:            c.RPC.SafeMode,
		WarnOnUnsafe:        c.RPC.WarnOnUnsafe,
		EnableBatch:         c.RPC.EnableBatch,
		MaxBatchSize:        c.RPC.MaxBatchSize,
		BatchConcurrency:    c.RPC.BatchConcurrency,
		EnableLogging:       c.Log.Enabled && level != LevelSilent,
		Logger:              logger,
		EnableMiddleware:    c.RPC.EnableMiddleware,
		EnableValidation:    c.RPC.EnableValidation,
		SanitizeErrors:      c.RPC.SanitizeErrors,
		EnableIntrospection: c.RPC.EnableIntrospection,
		IntrospectionPrefix: strings.TrimSuffix(c.RPC.IntrospectionPrefix, "."),
	}
}

// HTTPOptions converts the HTTP settings. processors run ahead of the RPC
// request checks.
func (c Config) HTTPOptions(processors ...endpoint.Processor) *jsonrpc.HTTPOptions {
	return &jsonrpc.HTTPOptions{
		MaxBodyBytes: c.HTTP.MaxBodyBytes,
		Processors:   processors,
	}
}
