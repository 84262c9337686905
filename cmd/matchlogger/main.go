// Command matchlogger records one match session: it connects to the
// coordinator, logs every event it receives and writes the final scores to
// the result file when the coordinator sends shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/matchlogger/config"
	"github.com/cyberinferno/matchlogger/controller"
	"github.com/cyberinferno/matchlogger/logger"
	"github.com/cyberinferno/matchlogger/scoreboard"
)

const (
	serviceName  = "matchlogger"
	boardTimeout = 2 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "matchlogger: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer log.Close()

	board, closeBoard := newScoreboard(cfg, log)
	defer closeBoard()

	log.Info("starting session",
		logger.F("addr", cfg.Address()),
		logger.F("log_path", cfg.LogPath),
		logger.F("result_path", cfg.ResultPath))

	c := controller.New(cfg, controller.WithLogger(log), controller.WithScoreboard(board))
	c.Start()

	if c.State() != controller.Finalized {
		return fmt.Errorf("session ended in state %s without a result", c.State())
	}

	logLatest(board, cfg.Token, log)
	return nil
}

// newScoreboard mirrors scores to Redis when it is configured and answers a
// ping, and to an in-process go-cache board otherwise.
func newScoreboard(cfg config.Config, log logger.Logger) (scoreboard.Scoreboard, func()) {
	memory := func() (scoreboard.Scoreboard, func()) {
		return scoreboard.NewMemoryScoreboard(cfg.Redis.TTL, time.Minute), func() {}
	}

	if !cfg.Redis.Enabled() {
		return memory()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	ctx, cancel := context.WithTimeout(context.Background(), boardTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn("redis unavailable, mirroring scores in memory", logger.F("addr", cfg.Redis.Addr), logger.Err(err))
		return memory()
	}

	board := scoreboard.NewRedisScoreboard(client, cfg.Redis.Prefix, cfg.Redis.TTL)
	return board, func() { _ = client.Close() }
}

func logLatest(board scoreboard.Scoreboard, token string, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), boardTimeout)
	defer cancel()

	s, found, err := board.Latest(ctx, token)
	switch {
	case err != nil:
		log.Warn("can not read scoreboard", logger.Err(err))
	case !found:
		log.Warn("scoreboard has no entry for the session")
	default:
		log.Info("scoreboard entry",
			logger.F("score0", s.Score0),
			logger.F("score1", s.Score1),
			logger.F("final", s.Final))
	}
}

func newLogger(cfg config.Config, stderr io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(serviceName, cfg.LogDir, level)
	}

	return logger.NewZerologLogger(zerolog.New(zerolog.SyncWriter(stderr)), serviceName, level), nil
}
