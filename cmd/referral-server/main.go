package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/referral/internal/config"
	"github.com/ehr/referral/internal/domain/referral"
	"github.com/ehr/referral/internal/platform/auth"
	"github.com/ehr/referral/internal/platform/db"
	"github.com/ehr/referral/internal/platform/middleware"
	"github.com/ehr/referral/internal/workflow"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "referral-server",
		Short:        "Referral workflow API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(catalogCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the stage catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a stage catalog file loads and contains the PAR stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			par, _ := cmd.Flags().GetString("par-stage")
			c, err := loadCatalog(catalogPath(args), par)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d stages, PAR stage %q at position %d\n",
				c.Len(), par, mustIndex(c, par)+1)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [path]",
		Short: "Print the stages of a catalog in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			par, _ := cmd.Flags().GetString("par-stage")
			c, err := loadCatalog(catalogPath(args), par)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), c, par)
			return nil
		},
	})

	cmd.PersistentFlags().String("par-stage", workflow.DefaultPARStage, "Name of the readiness-gated stage")
	return cmd
}

func catalogPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if p := os.Getenv("STAGE_CATALOG_PATH"); p != "" {
		return p
	}
	return config.DefaultStageCatalogPath
}

func mustIndex(c *workflow.Catalog, name string) int {
	i, _ := c.IndexOf(name)
	return i
}

func printCatalog(w io.Writer, c *workflow.Catalog, par string) {
	fmt.Fprintf(w, "%-3s %-30s %-8s %s\n", "#", "STAGE", "TARGET", "REQUIRED DOCS")
	for _, s := range c.Stages() {
		target := "-"
		if s.TargetDays != nil {
			target = fmt.Sprintf("%dd", *s.TargetDays)
		}
		name := s.Name
		if name == par {
			name += " *"
		}
		fmt.Fprintf(w, "%-3d %-30s %-8s %s\n", s.Index+1, name, target, strings.Join(s.RequiredDocs.Strings(), ","))
	}
}

// loadCatalog reads the stage catalog and checks that the PAR stage exists;
// without it the readiness gate could never fire.
func loadCatalog(path, parStage string) (*workflow.Catalog, error) {
	c, err := workflow.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	if !c.Has(parStage) {
		return nil, fmt.Errorf("stage catalog %s has no stage named %q", path, parStage)
	}
	return c, nil
}

// documentCatalog returns nil when DOCUMENT_KEYS is unset, which accepts any
// key. Catalog and rule documents are always allowed.
func documentCatalog(cfg *config.Config, c *workflow.Catalog) *workflow.DocumentCatalog {
	if len(cfg.DocumentKeys) == 0 {
		return nil
	}
	keys := workflow.DocSetFromStrings(cfg.DocumentKeys).
		Union(c.DocKeys()).
		Union(workflow.RuleDocuments())
	return workflow.NewDocumentCatalog(keys.Sorted()...)
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL:       cfg.DatabaseURL,
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		HealthCheckPeriod: time.Minute,
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", "referral").Logger()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newServer wires middleware and routes. It is separate from runServer so
// the route table can be built without a database.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *referral.Service, health db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(health))

	apiV1 := e.Group("/api/v1")
	referral.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Bootstrap logger until the configured level is known.
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg, os.Stdout)

	catalog, err := loadCatalog(cfg.StageCatalogPath, cfg.PARStage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load stage catalog")
	}
	logger.Info().
		Str("path", cfg.StageCatalogPath).
		Int("stages", catalog.Len()).
		Str("par_stage", cfg.PARStage).
		Msg("stage catalog loaded")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	engine := workflow.NewEngine(catalog, workflow.WithPARStage(cfg.PARStage))
	svc := referral.NewService(engine, referral.Repositories{
		Patients:    referral.NewPatientRepoPG(pool),
		Orders:      referral.NewOrderRepoPG(pool),
		Notes:       referral.NewNoteRepoPG(pool),
		Regressions: referral.NewRegressionRepoPG(pool),
	}, db.NewTxManager(pool))
	svc.SetLogger(logger)
	svc.SetLedger(referral.NewLogLedger(logger))
	svc.SetDocumentCatalog(documentCatalog(cfg, catalog))

	e := newServer(cfg, logger, svc, pool)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
