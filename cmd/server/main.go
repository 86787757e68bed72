package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/veritrail/veritrail/internal/application/dispatcher"
	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/application/service"
	appworkflow "github.com/veritrail/veritrail/internal/application/workflow"
	"github.com/veritrail/veritrail/internal/config"
	"github.com/veritrail/veritrail/internal/domain/event"
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
	"github.com/veritrail/veritrail/internal/infrastructure/notification"
	"github.com/veritrail/veritrail/internal/infrastructure/persistence/repository"
	"github.com/veritrail/veritrail/internal/infrastructure/persistence/sqlite"
	httpserver "github.com/veritrail/veritrail/internal/interfaces/http"
	"github.com/veritrail/veritrail/pkg/database"
	"github.com/veritrail/veritrail/pkg/utils"
)

func main() {
	// Optional .env for local development; values feed viper's AutomaticEnv
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting workflow service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Transaction manager shares the connection the repositories use
	txManager := sqlite.NewDB(db.DB, logger)

	// Repositories
	definitionRepo := repository.NewDefinitionRepository(db.DB, logger)
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	executionRepo := repository.NewStepExecutionRepository(db.DB, logger)
	userRepo := repository.NewUserRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	sugar := utils.NewSugarAdapter(logger)

	// Outbound notifications go to the webhook when configured, otherwise
	// they are logged only
	var notifier port.Notifier
	if cfg.Notification.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.Notification.WebhookURL, cfg.Notification.Timeout, logger)
	} else {
		notifier = notification.NewLogNotifier(logger)
	}

	// Lifecycle event dispatcher
	eventDispatcher := dispatcher.NewDispatcher(dispatcher.WithLogger(sugar))
	defer eventDispatcher.Close()

	notificationService := service.NewNotificationService(notificationRepo, notifier, sugar,
		service.WithEventDispatcher(eventDispatcher))
	handlers := domainwf.NewHandlerSet(notificationService, nil)

	eventDispatcher.SubscribeNamed(event.TypeWorkflowCompleted, "completion-log",
		func(ctx context.Context, evt *event.Event) error {
			logger.Info("Workflow completed",
				zap.String("event_id", evt.ID),
				zap.Int64("instance_id", evt.InstanceID),
				zap.Int64("tenant_id", evt.TenantID))
			return nil
		})

	engine := appworkflow.NewEngine(
		definitionRepo,
		instanceRepo,
		executionRepo,
		userRepo,
		txManager,
		handlers,
		logger,
		appworkflow.WithDispatcher(eventDispatcher),
	)

	definitionService := service.NewDefinitionService(definitionRepo, txManager, sugar)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, definitionService, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server error", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
