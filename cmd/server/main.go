package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"carejournal/internal/config"
	"carejournal/internal/core"
	"carejournal/internal/db"
	httpserver "carejournal/internal/http"
	"carejournal/internal/llm"
	"carejournal/internal/metrics"
	"carejournal/internal/speech"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carejournal",
		Short: "Clinical note and patient diary ingestion service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load demo patients before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == db.DriverMemory {
				logger.Info().Msg("memory store needs no migration")
				return nil
			}
			conn, err := openSQL(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn, cfg.StoreDriver); err != nil {
				return err
			}
			logger.Info().Str("driver", cfg.StoreDriver).Msg("schema applied")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients, diary entries and notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == db.DriverMemory {
				logger.Warn().Msg("seeding the memory store has no lasting effect; use serve --seed")
				return nil
			}
			conn, err := openSQL(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn, cfg.StoreDriver); err != nil {
				return err
			}
			return seedStore(cmd.Context(), logger, db.NewRepository(conn, cfg.StoreDriver))
		},
	}
}

func setup() (zerolog.Logger, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger.Error().Err(err).Msg("failed to load config")
		return logger, nil, err
	}
	return newLogger(cfg, os.Stdout), cfg, nil
}

// newLogger writes JSON lines, or colored console output in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	w := out
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: out, NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func openSQL(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.StoreDriver == db.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	return db.Open(ctx, cfg.StoreDriver, dsn, cfg.DBMaxOpenConns)
}

func seedStore(ctx context.Context, logger zerolog.Logger, store core.Store) error {
	n, err := db.Seed(ctx, store, time.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Info().Msg("demo data already present")
		return nil
	}
	logger.Info().Int("records", n).Msg("demo data seeded")
	return nil
}

func runServer(seed bool) error {
	logger, cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Store and notifications
	var (
		store      core.Store
		notifier   core.NoteNotifier
		subscriber httpserver.Subscriber
	)
	switch cfg.StoreDriver {
	case db.DriverMemory:
		store = db.NewMemoryStore()
		b := db.NewBroadcaster()
		notifier, subscriber = b, b
	default:
		conn, err := openSQL(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer conn.Close()
		if err := db.Migrate(ctx, conn, cfg.StoreDriver); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		store = db.NewRepository(conn, cfg.StoreDriver)
		if cfg.StoreDriver == db.DriverPostgres {
			n := db.NewNotifier(conn, cfg.DatabaseURL, cfg.NotifyChannel, logger)
			b := db.NewBroadcaster()
			if err := b.Relay(ctx, n); err != nil {
				logger.Fatal().Err(err).Msg("failed to listen for note notifications")
			}
			notifier, subscriber = n, b
		} else {
			b := db.NewBroadcaster()
			notifier, subscriber = b, b
		}
	}
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	if seed {
		if err := seedStore(ctx, logger, store); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo data")
		}
	}

	// AI services
	var (
		recognizer speech.Recognizer
		extractor  core.Extractor
	)
	if cfg.UseMockAI {
		logger.Warn().Msg("USE_MOCK_AI is set, serving canned transcriptions and extractions")
		recognizer, extractor = llm.MockClient{}, llm.MockClient{}
	} else {
		client := llm.NewOpenAIClient(llm.Config{
			APIKey:          cfg.OpenAIAPIKey,
			APIType:         cfg.OpenAIAPIType,
			BaseURL:         cfg.OpenAIBaseURL,
			ChatModel:       cfg.OpenAIChatModel,
			TranscribeModel: cfg.OpenAITranscribeModel,
			Temperature:     cfg.ExtractionTemperature,
		})
		recognizer, extractor = client, client
	}
	transcriber := speech.NewTranscriber(recognizer, cfg.SpeechLanguage, cfg.AudioTempDir)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	pipeline := core.NewPipeline(store, transcriber, extractor,
		core.WithNotifier(notifier),
		core.WithMetrics(m),
		core.WithLogger(logger),
		core.WithHistoryLimit(cfg.HistoryLimit),
	)

	roster, err := db.Roster()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load patient roster")
	}

	srv := httpserver.NewServer(pipeline, roster, logger)
	srv.Subscriber = subscriber
	srv.Gatherer = registry
	srv.MaxAudioBytes = cfg.MaxAudioBytes
	e := srv.Echo(cfg.CORSOrigins)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
