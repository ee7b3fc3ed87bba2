package app

import (
	"context"
	"database/sql"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parkpilot/internal/config"
	httpserver "parkpilot/internal/http"
	"parkpilot/internal/http/handlers"
	"parkpilot/internal/http/middleware"
	"parkpilot/internal/http/ws"
	"parkpilot/internal/livefeed"
	"parkpilot/internal/notify"
	"parkpilot/internal/reconciler"
	"parkpilot/internal/redisstore"
	"parkpilot/internal/repository"
	"parkpilot/internal/service"
	libdb "parkpilot/libs/db"
	libredis "parkpilot/libs/redis"
)

// App wires parking service dependencies.
type App struct {
	server      *httpserver.Server
	job         *reconciler.Job
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	sessionRepo := repository.NewSessionRepository(sqlDB)
	zoneRepo := repository.NewZoneRepository(sqlDB)
	txRepo := repository.NewTransactionRepository(sqlDB)
	profileRepo := repository.NewProfileRepository(sqlDB)

	activeStore := redisstore.NewStore(redisClient, cfg.ActiveSessionTTL())
	feedPublisher := livefeed.NewPublisher(redisClient, logger)
	feedSubscriber := livefeed.NewSubscriber(redisClient, logger)

	var sender notify.PushSender
	if cfg.Push.Enabled {
		snsSender, err := notify.NewSNSSender(ctx, cfg.Push.Region)
		if err != nil {
			sqlDB.Close()
			redisClient.Close()
			return nil, err
		}
		sender = snsSender
	} else {
		sender = notify.NopSender{}
	}
	dispatcher := notify.NewDispatcher(profileRepo, sender, logger)

	clk := clock.New()
	sessionsService := service.NewSessionsService(
		sessionRepo,
		zoneRepo,
		profileRepo,
		txRepo,
		activeStore,
		feedPublisher,
		dispatcher,
		clk,
		logger,
	)

	job := reconciler.New(
		sessionRepo,
		zoneRepo,
		profileRepo,
		dispatcher,
		feedPublisher,
		clk,
		cfg.ReconcileInterval(),
		cfg.Reconciler.LeadMinutes,
		logger,
	)

	sessionsHandler := handlers.NewSessionsHandler(sessionsService, logger)
	feedHandler := ws.NewFeedHandler(feedSubscriber, logger)

	routes := httpserver.Routes{
		SessionStart:   sessionsHandler.HandleStart,
		SessionEnd:     sessionsHandler.HandleEnd,
		SessionAutoEnd: sessionsHandler.HandleAutoEnd,
		SessionModify:  sessionsHandler.HandleModifyEnd,
		SessionRestore: sessionsHandler.HandleRestore,
		SessionsMe:     sessionsHandler.HandleHistory,
		TransactionsMe: sessionsHandler.HandleTransactions,
		SessionsFeed:   feedHandler.Handle,
		ActiveSessions: sessionsHandler.HandleActiveSessions,
		AdminReconcile: handlers.NewReconcileHandler(job, logger),
		Health:         handlers.NewHealthHandler(),
		AuthMiddleware: middleware.AuthMiddleware(cfg.Auth.JWTSecret),
		OperatorGate:   middleware.RequireRole(middleware.RoleOperator),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		job:         job,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the HTTP server and the reconciliation schedule.
func (a *App) Run(ctx context.Context) error {
	go a.job.Run(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
