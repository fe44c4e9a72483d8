package setup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/database"
	"github.com/tandem-social/tandem/internal/database/migrations"
	"github.com/tandem-social/tandem/internal/notify"
	"github.com/tandem-social/tandem/internal/presence"
	"github.com/tandem-social/tandem/internal/realtime"
	"github.com/tandem-social/tandem/internal/redis"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/tandem-social/tandem/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// Version is reported with traces. Overridden at build time.
var Version = "dev"

// ErrPendingMigrations is returned when the schema is behind and auto migration is off.
var ErrPendingMigrations = errors.New("database migrations are pending, run `tandem db migrate`")

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config        *config.Config     // Application configuration
	Logger        *zap.Logger        // Main application logger
	DBLogger      *zap.Logger        // Database-specific logger
	DB            database.Client    // Database connection pool
	Service       *database.Service  // Business services
	RedisManager  *redis.Manager     // Redis connection manager
	Tracker       *presence.Tracker  // Chat session and read state tracking
	Dispatcher    *notify.Dispatcher // Background push dispatch
	Gateway       *realtime.Gateway  // WebSocket gateway
	Verifier      *auth.Verifier     // Bearer token verification
	LogManager    *telemetry.Manager // Log management system
	debugServer   *debugServer       // Loopback profile server, nil when disabled
	shutdownTrace func(context.Context) error
}

// Options tune InitializeApp for the calling command.
type Options struct {
	// ConfigPath loads a specific file instead of searching the config paths.
	ConfigPath string
	// AutoMigrate applies pending migrations instead of refusing to start.
	AutoMigrate bool
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(
	ctx context.Context, serviceType telemetry.ServiceType, logDir string, opts Options,
) (*App, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Debug, &cfg.Loki)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	shutdownTrace := telemetry.ConfigureTracing(&cfg.Telemetry, Version, logger)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	db, err := checkMigrations(ctx, &cfg.PostgreSQL, dbLogger, opts.AutoMigrate)
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for presence and pub/sub
	redisManager := redis.NewManager(&cfg.Redis, logger)

	presenceClient, err := redisManager.GetClient(redis.PresenceDBIndex)
	if err != nil {
		db.Close()
		return nil, err
	}

	pubsubClient, err := redisManager.GetClient(redis.PubSubDBIndex)
	if err != nil {
		db.Close()
		return nil, err
	}

	repo := db.Model()
	tracker := presence.NewTracker(
		presenceClient, repo.Chat(), time.Duration(cfg.Presence.SessionTTL)*time.Minute, logger,
	)

	dispatcher := newDispatcher(cfg, repo, tracker, logger)
	publisher := realtime.NewPublisher(pubsubClient)

	svc := database.NewService(repo, tracker, publisher, dispatcher, cfg, logger)

	gateway := realtime.NewGateway(
		pubsubClient, tracker, svc.Chat(), verifier, cfg.API.AllowedOrigins, logger,
	)

	// Start profiling endpoint if enabled
	debugSrv, err := startDebugServer(&cfg.Debug, logger)
	if err != nil {
		logger.Error("Failed to start debug server", zap.Error(err))
	} else if debugSrv != nil {
		logger.Warn("pprof debugging endpoint enabled - this should not be used in production!")
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DBLogger:      dbLogger.Named("database"),
		DB:            db,
		Service:       svc,
		RedisManager:  redisManager,
		Tracker:       tracker,
		Dispatcher:    dispatcher,
		Gateway:       gateway,
		Verifier:      verifier,
		LogManager:    logManager,
		debugServer:   debugSrv,
		shutdownTrace: shutdownTrace,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	if s.debugServer != nil {
		if err := s.debugServer.Close(ctx); err != nil {
			s.Logger.Error("Failed to shutdown debug server", zap.Error(err))
		}
	}

	// Let in-flight pushes finish before their stores go away
	s.Dispatcher.Wait()

	if err := s.shutdownTrace(ctx); err != nil {
		s.Logger.Warn("Failed to flush traces", zap.Error(err))
	}

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	s.RedisManager.Close()

	_ = s.Logger.Sync()
	_ = s.DBLogger.Sync()
	s.LogManager.Stop()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, _, err := config.LoadConfig()
	return cfg, err
}

// newDispatcher wires the push provider behind the fan-out and its background dispatcher.
func newDispatcher(
	cfg *config.Config, repo *database.Repository, tracker *presence.Tracker, logger *zap.Logger,
) *notify.Dispatcher {
	n := &cfg.Notifications

	provider := notify.NewExpoProvider(n.Endpoint, n.AccessToken, n.RequestsPerSecond, logger)
	fanout := notify.NewFanout(repo.User(), repo.Chat(), tracker, provider, n.ChunkSize, n.MaxConcurrent, logger)

	return notify.NewDispatcher(fanout, time.Duration(n.DispatchTimeout)*time.Millisecond, n.PreviewLength, logger)
}

// checkMigrations connects and makes sure the schema is current.
func checkMigrations(
	ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger, autoMigrate bool,
) (database.Client, error) {
	db, err := database.NewConnection(ctx, cfg, dbLogger, autoMigrate)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		return db, nil
	}

	migrator := migrate.NewMigrator(db.DB(), migrations.Migrations)

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	if unapplied := ms.Unapplied(); len(unapplied) > 0 {
		db.Close()
		return nil, fmt.Errorf("%w: %s", ErrPendingMigrations, unapplied.String())
	}

	return db, nil
}
