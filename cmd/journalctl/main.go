package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	eventjournal "github.com/arcflow-db/eventjournal"
	"github.com/arcflow-db/eventjournal/internal/config"
	"github.com/arcflow-db/eventjournal/internal/model"
	"github.com/arcflow-db/eventjournal/internal/storage"
	"github.com/arcflow-db/eventjournal/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}

	level := parseLogLevel(os.Getenv("JOURNAL_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, logger)
	case "write":
		err = runWrite(ctx, logger, os.Args[2:])
	case "replay":
		err = runReplay(ctx, logger, os.Args[2:])
	default:
		usage()
		return 2
	}
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: journalctl <migrate|write|replay> [flags]")
	fmt.Fprintln(os.Stderr, "  migrate                 run embedded schema migrations for the configured provider")
	fmt.Fprintln(os.Stderr, "  write -pid P -payload J write one event as a smoke test")
	fmt.Fprintln(os.Stderr, "  replay -pid P            replay all events for a persistence id")
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runMigrate(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, err := connectBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close(ctx)

	var migrationsFS = pickMigrationsFS(backend.ProviderName())
	statements, err := storage.LoadSQLFiles(migrationsFS)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := backend.RunMigrations(ctx, statements); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("journalctl: migrations applied", "provider", backend.ProviderName(), "version", version)
	return nil
}

func runWrite(ctx context.Context, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("write", flag.ExitOnError)
	pid := flags.String("pid", "", "persistence id")
	payload := flags.String("payload", "{}", "JSON payload")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *pid == "" {
		return fmt.Errorf("write: -pid is required")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(*payload), &decoded); err != nil {
		return fmt.Errorf("write: invalid -payload: %w", err)
	}

	j, err := eventjournal.Open(ctx, eventjournal.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close(context.Background())

	perWrite, err := j.WriteMessages(ctx, []eventjournal.AtomicWrite{{
		Payload: []eventjournal.PersistentRepr{{PersistenceID: *pid, SequenceNr: 1, Payload: decoded}},
	}}, 0)
	if err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	if perWrite[0] != nil {
		return fmt.Errorf("write: %w", perWrite[0])
	}

	logger.Info("journalctl: wrote event", "persistence_id", *pid)
	return nil
}

func runReplay(ctx context.Context, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("replay", flag.ExitOnError)
	pid := flags.String("pid", "", "persistence id")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *pid == "" {
		return fmt.Errorf("replay: -pid is required")
	}

	j, err := eventjournal.Open(ctx, eventjournal.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close(context.Background())

	completions, err := j.Messages(ctx, *pid, 0, math.MaxInt64, -1)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for _, c := range completions {
		if c.Err != nil {
			logger.Warn("journalctl: replay entry failed to deserialize", "sequence_nr", c.SequenceNumber, "error", c.Err)
			continue
		}
		fmt.Printf("%d\t%v\n", c.SequenceNumber, c.Event)
	}
	return nil
}

func pickMigrationsFS(provider model.ProviderName) fs.FS {
	if provider == model.ProviderPostgres {
		return migrations.Postgres
	}
	return migrations.SQLite
}

func connectBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Backend, error) {
	storageCfg := storage.Config{
		ConnectionString:   cfg.ConnectionString,
		Provider:           cfg.Provider,
		TagMode:            cfg.TagMode,
		AutoInitialize:     cfg.AutoInitialize,
		UseCloneConnection: cfg.UseCloneConnection,
		Logger:             logger,
	}
	switch cfg.Provider {
	case model.ProviderPostgres:
		return storage.NewPostgres(ctx, storageCfg)
	case model.ProviderSQLiteMS, model.ProviderSQLiteClassic:
		return storage.NewSQLite(ctx, storageCfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
