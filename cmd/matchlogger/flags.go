package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/matchlogger/config"
)

// errHelp is returned by parseArgs when usage was printed on request.
var errHelp = errors.New("help requested")

// parseArgs builds the session configuration from defaults, the optional
// TOML file named by --config, positional "host port token" arguments and
// flags, in increasing order of precedence.
func parseArgs(args []string, usageOut io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("matchlogger", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	var (
		configPath string
		host       string
		port       int
		token      string
		retryDelay time.Duration
		connectTO  time.Duration
		logPath    string
		resultPath string
		precision  int
		logLevel   string
		logDir     string
		redisAddr  string
		showHelp   bool
	)

	// ── session ──────────────────────────────────────────────────
	fs.StringVarP(&configPath, "config", "c", "", "TOML config file")
	fs.StringVarP(&host, "host", "H", "", "Coordinator host")
	fs.IntVarP(&port, "port", "p", 0, "Coordinator port")
	fs.StringVarP(&token, "token", "t", "", "Client token")
	fs.DurationVar(&retryDelay, "retry-delay", 0, "Delay before every connect attempt")
	fs.DurationVar(&connectTO, "connect-timeout", 0, "Timeout of a single connect attempt")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&logPath, "log-path", "", "Event log file")
	fs.StringVar(&resultPath, "result-path", "", "Result file")
	fs.IntVar(&precision, "precision", 0, "Fractional digits in the result file (-1 for shortest)")

	// ── diagnostics ──────────────────────────────────────────────
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&logDir, "log-dir", "", "Directory for rotated process logs")
	fs.StringVar(&redisAddr, "redis-addr", "", "Mirror scores to this Redis server")

	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	if showHelp {
		fmt.Fprintf(usageOut, "Usage: matchlogger [flags] [host port token]\n\n%s", fs.FlagUsages())
		return config.Config{}, errHelp
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath, cfg)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if err := applyPositional(&cfg, fs.Args()); err != nil {
		return config.Config{}, err
	}

	if fs.Changed("host") {
		cfg.Host = host
	}
	if fs.Changed("port") {
		cfg.Port = port
	}
	if fs.Changed("token") {
		cfg.Token = token
	}
	if fs.Changed("retry-delay") {
		cfg.RetryDelay = retryDelay
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = connectTO
	}
	if fs.Changed("log-path") {
		cfg.LogPath = logPath
	}
	if fs.Changed("result-path") {
		cfg.ResultPath = resultPath
	}
	if fs.Changed("precision") {
		cfg.ResultPrecision = precision
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if fs.Changed("log-dir") {
		cfg.LogDir = logDir
	}
	if fs.Changed("redis-addr") {
		cfg.Redis.Addr = redisAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// applyPositional accepts the "host port token" form used by match launchers.
func applyPositional(cfg *config.Config, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 3:
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Host, cfg.Port, cfg.Token = args[0], port, args[2]
		return nil
	default:
		return fmt.Errorf("expected host, port and token, got %d arguments", len(args))
	}
}
