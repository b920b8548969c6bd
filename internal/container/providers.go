package container

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/dispatcher"
	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/application/service"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/po-workflow/internal/infrastructure/external/sms"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/report"
	"github.com/garyjia/po-workflow/internal/infrastructure/worker"
	httpif "github.com/garyjia/po-workflow/internal/interfaces/http"
	"github.com/garyjia/po-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Orders          port.PurchaseOrderRepository
	Tokens          port.TokenRepository
	History         port.HistoryRepository
	Suppliers       port.SupplierRepository
	Materials       port.MaterialRepository
	Budgets         port.BudgetRepository
	Users           *repository.UserRepository
	Audit           *repository.AuditRepository
	Notifications   *repository.NotificationRepository
	MaterialCreator *repository.MaterialCreator
}

// AdapterBundle holds the external collaborators. Disabled channels are nil.
type AdapterBundle struct {
	Mailer     port.SupplierMailer
	SMS        port.SMSSender
	Chat       port.ChatMessenger
	Classifier port.RejectionClassifier
	Renderer   service.SummaryRenderer
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Orders       service.OrderService
	Responses    service.ResponseProcessor
	Deliveries   service.DeliveryConfirmer
	Retries      service.RetryAdvisor
	Analytics    service.AnalyticsService
	Audit        service.AuditService
	Notification service.NotificationService
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Repos       *RepositoryBundle
	Adapters    *AdapterBundle
	TxManager   port.TransactionManager
	Engine      appwf.WorkflowEngine
	Permissions port.PermissionChecker
	Dispatcher  dispatcher.Dispatcher
	Server      *ServerConfig
	Workflow    *WorkflowConfig
	Logger      *zap.Logger
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Repos    *RepositoryBundle
	Reminder worker.SupplierReminder
	Config   worker.MaintenanceConfig
	Logger   *zap.Logger
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, txManager port.TransactionManager, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	orders := repository.NewPurchaseOrderRepository(sqlDB, logger)
	materials := repository.NewMaterialRepository(sqlDB, logger)

	return &RepositoryBundle{
		Orders:          orders,
		Tokens:          repository.NewTokenRepository(sqlDB, logger),
		History:         repository.NewHistoryRepository(sqlDB, logger),
		Suppliers:       repository.NewSupplierRepository(sqlDB, logger),
		Materials:       materials,
		Budgets:         repository.NewBudgetRepository(sqlDB, logger),
		Users:           repository.NewUserRepository(sqlDB, logger),
		Audit:           repository.NewAuditRepository(sqlDB, logger),
		Notifications:   repository.NewNotificationRepository(sqlDB, logger),
		MaterialCreator: repository.NewMaterialCreator(txManager, orders, materials, logger),
	}, nil
}

// ProvideAdapters creates the enabled external channels.
func ProvideAdapters(cfg *Config, logger *zap.Logger) (*AdapterBundle, error) {
	bundle := &AdapterBundle{
		Renderer: report.NewRejectionWorkbook(logger),
	}

	if cfg.Email != nil {
		bundle.Mailer = email.NewMailer(*cfg.Email, logger)
		logger.Info("Supplier email enabled", zap.String("host", cfg.Email.Host))
	}

	if cfg.SMS != nil {
		client, err := sms.NewClient(*cfg.SMS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sms client: %w", err)
		}
		bundle.SMS = client
		logger.Info("SMS notifications enabled")
	}

	if cfg.Lark != nil {
		bundle.Chat = lark.NewMessenger(lark.NewClient(*cfg.Lark, logger), logger)
		logger.Info("Lark messaging enabled")
	}

	if cfg.OpenAI != nil {
		prompts, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		bundle.Classifier = openai.NewRejectionClassifier(cfg.OpenAI.Config, prompts, logger)
		logger.Info("Rejection classification enabled", zap.String("model", cfg.OpenAI.Model))
	}

	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *WorkflowConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{dispatcher.WithLogger(&zapLoggerAdapter{logger: logger})}
	if cfg != nil && cfg.HandlerTimeout > 0 {
		opts = append(opts, dispatcher.WithHandlerTimeout(cfg.HandlerTimeout))
	}
	return dispatcher.NewDispatcher(opts...), nil
}

// ProvideWorkflowEngine creates the purchase order workflow engine.
func ProvideWorkflowEngine(repos *RepositoryBundle, txManager port.TransactionManager, permissions port.PermissionChecker, d dispatcher.Dispatcher, logger *zap.Logger) (appwf.WorkflowEngine, error) {
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if txManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	return appwf.NewEngine(
		repos.Orders,
		repos.History,
		repos.Tokens,
		permissions,
		txManager,
		appwf.WithDispatcher(d),
		appwf.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// ProvideServices creates all application services and subscribes their
// side-effect handlers to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.Adapters == nil || deps.Engine == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("repositories, adapters, engine and dispatcher are required")
	}

	repos := deps.Repos
	logger := &zapLoggerAdapter{logger: deps.Logger}
	settings := service.Settings{
		AutoCommitDefault: deps.Workflow.AutoCommitDefault,
		HybridTopN:        deps.Workflow.HybridTopN,
	}

	ledger := service.NewCapitalLedger(repos.Budgets)
	issuer := service.NewTokenIssuer(repos.Tokens, deps.Workflow.ResponseTokenTTL, deps.Workflow.FulfillmentTokenTTL)
	scorer := service.NewSupplierScorer(repos.Orders)

	bundle := &ServiceBundle{
		Orders: service.NewOrderService(
			deps.Engine, repos.Orders, repos.History, repos.Tokens, repos.Suppliers, repos.Users,
			ledger, deps.Permissions, deps.TxManager, issuer, deps.Dispatcher, logger,
		),
		Responses: service.NewResponseProcessor(
			deps.Engine, repos.Orders, repos.Users, ledger, issuer, deps.Dispatcher, settings, logger,
		),
		Deliveries: service.NewDeliveryConfirmer(
			deps.Engine, repos.Orders, repos.Users, repos.MaterialCreator, ledger, deps.Dispatcher, logger,
		),
		Retries: service.NewRetryAdvisor(
			deps.Engine, repos.Orders, repos.Suppliers, repos.Users, scorer, issuer, deps.Dispatcher, settings, logger,
		),
		Analytics: service.NewAnalyticsService(repos.Orders, deps.Permissions, deps.Adapters.Renderer, logger),
		Audit:     service.NewAuditService(repos.Audit, logger),
		Notification: service.NewNotificationService(
			repos.Notifications, repos.Users, repos.Suppliers, repos.Orders,
			deps.Adapters.Mailer, deps.Adapters.SMS, deps.Adapters.Chat, deps.Adapters.Classifier,
			service.NotificationSettings{PublicBaseURL: deps.Server.PublicBaseURL},
			logger,
		),
	}

	service.RegisterHandlers(deps.Dispatcher, bundle.Audit, bundle.Notification)

	return bundle, nil
}

// ProvideWorkers creates the worker manager with the maintenance worker registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	manager.Register(worker.NewMaintenanceWorker(
		deps.Config,
		deps.Repos.Orders,
		deps.Repos.Tokens,
		deps.Reminder,
		deps.Logger,
	))

	return manager, nil
}

// ProvideHTTPServer creates the HTTP server over the application services.
func ProvideHTTPServer(cfg *ServerConfig, services *ServiceBundle, repos *RepositoryBundle, logger *zap.Logger) *httpif.Server {
	return httpif.NewServer(httpif.ServerConfig{
		Host:                cfg.Host,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		JWTSecret:           cfg.JWTSecret,
		Version:             cfg.Version,
		PublicRatePerSecond: cfg.PublicRatePerSecond,
		PublicBurst:         cfg.PublicBurst,
	}, httpif.Services{
		Orders:     services.Orders,
		Responses:  services.Responses,
		Deliveries: services.Deliveries,
		Retries:    services.Retries,
		Analytics:  services.Analytics,
		Inbox:      repos.Notifications,
		Audit:      repos.Audit,
		Identities: repos.Users,
	}, &zapLoggerAdapter{logger: logger})
}
