package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labinsight/labinsight/internal/config"
	"github.com/labinsight/labinsight/internal/domain/labreport"
	"github.com/labinsight/labinsight/internal/platform/blobstore"
	"github.com/labinsight/labinsight/internal/platform/db"
	"github.com/labinsight/labinsight/internal/platform/inference"
	"github.com/labinsight/labinsight/internal/platform/middleware"
	"github.com/labinsight/labinsight/internal/platform/ocr"
	"github.com/labinsight/labinsight/internal/platform/openapi"
	"github.com/labinsight/labinsight/internal/platform/pdf"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "labinsight-server",
		Short: "Lab report analysis API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	run := func(fn func(m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}
			m, err := db.OpenMigrator(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: run(func(m *db.Migrator) error {
			if err := m.Up(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("Migrations applied successfully.")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: run(func(m *db.Migrator) error {
			if err := m.Down(); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Println("Rolled back one migration.")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: run(func(m *db.Migrator) error {
			return m.Status(os.Stdout)
		}),
	})

	return cmd
}

func analyzeCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a lab report file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the JSON result.
			logger := newLogger(os.Stderr, "warn")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(args[0]), err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc, err := buildService(ctx, cfg, nil, blobstore.NewInMemoryBlobStore(), logger)
			if err != nil {
				return err
			}

			res, err := svc.Analyze(ctx, doc, contentType)
			if err != nil {
				logger.Debug().Err(err).Msg("analysis failed")
				return errors.New(labreport.UserMessage(err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Document MIME type (sniffed from content when empty)")
	cmd.SilenceUsage = true
	return cmd
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// newCompleter returns nil when no provider is configured so the pipeline
// reports inference as unavailable instead of holding a typed nil.
func newCompleter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (inference.Completer, error) {
	var c inference.Completer
	switch cfg.ResolvedProvider() {
	case config.ProviderGemini:
		g, err := inference.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.ResolvedModel(), cfg.InferenceTimeout, logger)
		if err != nil {
			return nil, err
		}
		c = g
	case config.ProviderOpenAI:
		c = inference.NewOpenAIClient(inference.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.ResolvedModel(),
			Timeout: cfg.InferenceTimeout,
		}, logger)
	default:
		return nil, nil
	}
	return inference.WithRateLimit(c, cfg.InferenceRPS, cfg.InferenceBurst), nil
}

func buildService(ctx context.Context, cfg *config.Config, repo labreport.ReportRepository, blobs blobstore.BlobStore, logger zerolog.Logger) (*labreport.Service, error) {
	if err := pdf.SetLicense(cfg.UniPDFLicenseKey); err != nil {
		return nil, err
	}
	llm, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("inference provider: %w", err)
	}
	if llm == nil {
		logger.Warn().Msg("no inference provider configured; uploads will fail with analysis unavailable")
	}

	reader := pdf.NewReader(logger)
	return labreport.NewService(labreport.Deps{
		Decoder:    reader,
		Rasterizer: reader,
		Recognizer: ocr.NewTesseract(cfg.OCRLanguage),
		LLM:        llm,
		Repo:       repo,
		Blobs:      blobs,
	}, labreport.Options{
		OCRDPI:            cfg.OCRDPI,
		OCRConcurrency:    cfg.OCRConcurrency,
		EnrichConcurrency: cfg.EnrichConcurrency,
		EnrichRetries:     cfg.EnrichRetries,
		RemoteClassify:    cfg.ClassifyMode == config.ClassifyRemote,
	}, logger), nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Storage
	var pool *pgxpool.Pool
	var repo labreport.ReportRepository
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = labreport.NewReportRepoPG(pool)
		logger.Info().Msg("connected to database")
	} else {
		repo = labreport.NewMemoryRepo()
		logger.Warn().Msg("DATABASE_URL not set; reports are kept in memory")
	}

	var blobs blobstore.BlobStore = blobstore.NewInMemoryBlobStore()
	if cfg.UploadDir != "" {
		disk, err := blobstore.NewDiskBlobStore(cfg.UploadDir)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to open upload directory")
		}
		blobs = disk
	}

	svc, err := buildService(ctx, cfg, repo, blobs, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build analysis service")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(1<<20, maxUpload, "/api/v1/reports"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// API groups
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	reportHandler := labreport.NewHandler(svc, maxUpload)
	reportHandler.RegisterRoutes(apiV1)

	// API document
	docs := openapi.NewGenerator("LabInsight API", version, "/api/v1")
	docs.Add(reportHandler.Operations()...)
	docs.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
