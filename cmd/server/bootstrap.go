package main

import (
	"os"

	"github.com/huangang/crmbridge/internal/config"
	"github.com/huangang/crmbridge/internal/handlers"
	"github.com/huangang/crmbridge/internal/models"
	"github.com/huangang/crmbridge/internal/repository"
	"github.com/huangang/crmbridge/internal/services"
	"github.com/huangang/crmbridge/internal/services/webhook"
	"github.com/huangang/crmbridge/internal/utils"
	"github.com/huangang/crmbridge/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	db             *gorm.DB
	signer         *utils.SessionSigner
	authService    *services.AuthService
	taskQueue      services.TaskQueue
	worker         *services.Worker
	tokenCleanup   *services.TokenCleanupService
	authHandler    *handlers.AuthHandler
	oauthHandler   *handlers.OAuthHandler
	webhookHandler *handlers.WebhookHandler
	healthHandler  *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	db, err := models.Open(&cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	cipher, err := utils.NewTokenCipher(cfg.Encryption.Key)
	if err != nil {
		logger.Fatalf("Failed to initialize token cipher: %v", err)
	}
	signer, err := utils.NewSessionSigner(cfg.JWT.Secret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	if err != nil {
		logger.Fatalf("Failed to initialize session signer: %v", err)
	}

	users := repository.NewGormUserRepository(db)
	credentials := services.NewCredentialStore(repository.NewGormCredentialRepository(db))
	client := services.NewHubSpotClient(cfg.OAuth, cfg.CRM)

	tokenManager := services.NewTokenManager(credentials, cipher, client, cfg.OAuth)
	authService := services.NewAuthService(users, signer, cfg.Session.MaxRefreshTokens, cfg.Session.TokenTTL())
	dispatcher := webhook.NewDispatcher(users, tokenManager, client, cfg.Webhook, cfg.CRM)

	// Uses Redis if enabled, otherwise events are dispatched inline
	taskQueue := services.NewTaskQueue(&cfg.Redis, dispatcher.ProcessTask)

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, dispatcher.ProcessTask)
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start webhook worker: %v", err)
		}
	}

	owner, _ := os.Hostname()
	tokenCleanup := services.NewTokenCleanupService(authService, services.DefaultCleanupSchedule).
		WithLock(repository.NewGormSchedulerLockRepository(db), owner)
	if err := tokenCleanup.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start token cleanup scheduler")
	}

	return &appServices{
		db:             db,
		signer:         signer,
		authService:    authService,
		taskQueue:      taskQueue,
		worker:         worker,
		tokenCleanup:   tokenCleanup,
		authHandler:    handlers.NewAuthHandler(authService),
		oauthHandler:   handlers.NewOAuthHandler(tokenManager, signer, authService),
		webhookHandler: handlers.NewWebhookHandler(webhook.NewVerifier(cfg.OAuth.ClientSecret), dispatcher, taskQueue),
		healthHandler:  handlers.NewHealthHandler(db, taskQueue),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.tokenCleanup.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
