package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/shortlink-realtime/internal/auth"
	"github.com/rickgao/shortlink-realtime/internal/config"
	"github.com/rickgao/shortlink-realtime/internal/database"
	"github.com/rickgao/shortlink-realtime/internal/journal"
	"github.com/rickgao/shortlink-realtime/internal/realtime"
	"github.com/rickgao/shortlink-realtime/internal/version"
)

const statsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/linktap.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("linktap", version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	// Set up structured logging
	logger, err := cfg.Logging.NewLogger(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting linktap",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("linktap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("linktap stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := []realtime.Option{realtime.WithLogger(logger)}
	if src := tokenSource(cfg.Realtime); src != nil {
		opts = append(opts, realtime.WithTokenSource(src))
	}
	client := realtime.New(cfg.Realtime.ClientConfig(), opts...)

	for _, msgType := range cfg.Realtime.Subscribe {
		client.Subscribe(msgType, printer(os.Stdout, msgType))
	}

	var writer *journal.Writer
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, client, pool, cfg.Realtime.Subscribe, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	client.Connect(cfg.Realtime.URL)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sendLoop(gctx, client, lines, logger)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-client.Errors():
				logger.Debug("realtime error", "error", err)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s := client.Stats()
				logger.Info("realtime stats",
					"state", s.State,
					"opens", s.Opens,
					"received", s.Received,
					"dispatched", s.Dispatched,
					"dropped", s.Dropped,
					"parse_errors", s.ParseErrors,
					"sent", s.Sent,
				)
			}
		}
	})

	logger.Info("linktap running",
		"url", cfg.Realtime.URL,
		"subscribe", cfg.Realtime.Subscribe,
		"journal", cfg.Journal.Enabled,
	)

	waitErr := g.Wait()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Client first: once its read loop has exited no handler can enqueue
	// a row behind the journal's final flush.
	if err := client.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime shutdown", "error", err)
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop", "error", err)
		}
		logger.Info("journal stats", "stats", writer.Stats())
	}

	return waitErr
}

// tokenSource prefers a token file over an inline token.
func tokenSource(cfg config.RealtimeConfig) auth.TokenSource {
	switch {
	case cfg.TokenFile != "":
		return auth.FileToken{Path: cfg.TokenFile}
	case cfg.Token != "":
		return auth.StaticToken(cfg.Token)
	}
	return nil
}

func printer(w io.Writer, msgType string) realtime.Handler {
	return func(data json.RawMessage) {
		fmt.Fprintf(w, "%s %s\n", msgType, data)
	}
}

// readLines forwards stdin lines until EOF, then closes out.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func sendLoop(ctx context.Context, client *realtime.Client, lines <-chan string, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep listening until a signal arrives
				lines = nil
				continue
			}
			msgType, data, err := parseLine(line)
			if err != nil {
				if !errors.Is(err, errBlankLine) {
					logger.Warn("ignoring input", "line", line, "error", err)
				}
				continue
			}
			if err := client.Send(msgType, data); err != nil {
				logger.Warn("send failed", "type", msgType, "error", err)
			}
		}
	}
}

var errBlankLine = errors.New("blank line")

// parseLine splits "<type> <json>" input. A missing payload sends null.
func parseLine(line string) (string, json.RawMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, errBlankLine
	}

	msgType, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return msgType, nil, nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("payload for %q is not valid JSON", msgType)
	}
	return msgType, json.RawMessage(rest), nil
}
