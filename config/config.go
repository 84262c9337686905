// Package config holds the session configuration of the match logger and
// loads it from TOML files.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid is wrapped by every validation error returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Defaults applied by Default.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 7099
	DefaultRetryDelay      = time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultLogPath         = "game.log"
	DefaultResultPath      = "result.json"
	DefaultResultPrecision = -1
	DefaultRedisPrefix     = "matchlogger:"
	DefaultRedisTTL        = 24 * time.Hour
)

// Config describes one logging session. It is supplied once to the
// controller and not mutated afterwards.
type Config struct {
	// Connection
	Host           string
	Port           int
	Token          string
	RetryDelay     time.Duration // fixed pause before every connect attempt
	ConnectTimeout time.Duration // dial timeout of a single attempt

	// Output
	LogPath         string
	ResultPath      string
	ResultPrecision int // digits after the decimal point; -1 is the shortest exact form

	// Diagnostics
	LogLevel string
	LogDir   string // empty logs to stderr only

	Redis RedisConfig
}

// RedisConfig enables mirroring of the score pair to Redis when Addr is set.
type RedisConfig struct {
	Addr   string
	Prefix string
	TTL    time.Duration
}

// Enabled reports whether a Redis scoreboard is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		RetryDelay:      DefaultRetryDelay,
		ConnectTimeout:  DefaultConnectTimeout,
		LogPath:         DefaultLogPath,
		ResultPath:      DefaultResultPath,
		ResultPrecision: DefaultResultPrecision,
		LogLevel:        "info",
		Redis: RedisConfig{
			Prefix: DefaultRedisPrefix,
			TTL:    DefaultRedisTTL,
		},
	}
}

// Address returns the coordinator address as host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks that the configuration can drive a session.
//
// Returns:
//   - nil if valid, otherwise an error wrapping ErrInvalid naming the first bad field
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalid)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, c.Port)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay %s is negative", ErrInvalid, c.RetryDelay)
	case c.ConnectTimeout < 0:
		return fmt.Errorf("%w: connect timeout %s is negative", ErrInvalid, c.ConnectTimeout)
	case strings.TrimSpace(c.LogPath) == "":
		return fmt.Errorf("%w: log path is required", ErrInvalid)
	case strings.TrimSpace(c.ResultPath) == "":
		return fmt.Errorf("%w: result path is required", ErrInvalid)
	case c.LogPath == c.ResultPath:
		return fmt.Errorf("%w: log path and result path must differ", ErrInvalid)
	case c.ResultPrecision < -1:
		return fmt.Errorf("%w: result precision %d must be -1 or greater", ErrInvalid, c.ResultPrecision)
	case c.Redis.Enabled() && c.Redis.TTL < 0:
		return fmt.Errorf("%w: redis ttl %s is negative", ErrInvalid, c.Redis.TTL)
	}

	return nil
}

type fileConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Token           string `toml:"token"`
	RetryDelay      string `toml:"retry_delay"`
	RetryDelayMS    int64  `toml:"retry_delay_ms"`
	ConnectTimeout  string `toml:"connect_timeout"`
	LogPath         string `toml:"log_path"`
	ResultPath      string `toml:"result_path"`
	ResultPrecision int    `toml:"result_precision"`
	LogLevel        string `toml:"log_level"`
	LogDir          string `toml:"log_dir"`
	Redis           struct {
		Addr   string `toml:"addr"`
		Prefix string `toml:"prefix"`
		TTL    string `toml:"ttl"`
	} `toml:"redis"`
}

// LoadFile reads a TOML file and applies the keys it defines on top of base.
// Keys absent from the file keep the value from base.
//
// Parameters:
//   - path: Path of the TOML file
//   - base: Starting configuration, usually Default()
//
// Returns:
//   - The merged Config, or an error if the file cannot be read or a value is malformed
func LoadFile(path string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	return apply(base, raw, meta)
}

// Parse is LoadFile for TOML held in memory.
func Parse(data string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return apply(base, raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}

	if meta.IsDefined("retry_delay") && meta.IsDefined("retry_delay_ms") {
		return Config{}, fmt.Errorf("%w: retry_delay and retry_delay_ms are mutually exclusive", ErrInvalid)
	}

	if meta.IsDefined("retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryDelay))
		if err != nil {
			return Config{}, fmt.Errorf("parse retry_delay: %w", err)
		}
		cfg.RetryDelay = d
	}

	if meta.IsDefined("retry_delay_ms") {
		cfg.RetryDelay = time.Duration(raw.RetryDelayMS) * time.Millisecond
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}

	if meta.IsDefined("log_path") {
		cfg.LogPath = strings.TrimSpace(raw.LogPath)
	}

	if meta.IsDefined("result_path") {
		cfg.ResultPath = strings.TrimSpace(raw.ResultPath)
	}

	if meta.IsDefined("result_precision") {
		cfg.ResultPrecision = raw.ResultPrecision
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}

	if meta.IsDefined("redis", "addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Redis.Addr)
	}

	if meta.IsDefined("redis", "prefix") {
		cfg.Redis.Prefix = raw.Redis.Prefix
	}

	if meta.IsDefined("redis", "ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Redis.TTL))
		if err != nil {
			return Config{}, fmt.Errorf("parse redis.ttl: %w", err)
		}
		cfg.Redis.TTL = d
	}

	return cfg, nil
}
