package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/dispatcher"
	"github.com/garyjia/crm-workflow/internal/application/history"
	"github.com/garyjia/crm-workflow/internal/application/notify"
	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/application/service"
	"github.com/garyjia/crm-workflow/internal/application/workflow"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	"github.com/garyjia/crm-workflow/internal/infrastructure/external/email"
	infraLark "github.com/garyjia/crm-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/crm-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/crm-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/crm-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/crm-workflow/internal/infrastructure/report"
	"github.com/garyjia/crm-workflow/internal/infrastructure/worker"
	"github.com/garyjia/crm-workflow/migrations"
	"github.com/garyjia/crm-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the optional outbound integrations.
// A nil field means the integration is not configured.
type ExternalBundle struct {
	Email  port.EmailSender
	Chat   port.ChatNotifier
	Scorer port.RiskScorer
}

// ProvideDatabase opens the database and runs pending migrations.
// Embedded migrations are used unless cfg.MigrationsDir is set.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
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

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrationsFromDir(cfg.MigrationsDir)
	} else {
		err = migrator.RunMigrations(migrations.FS)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Application:  repository.NewApplicationRepository(sqlDB, logger),
		Document:     repository.NewDocumentRepository(sqlDB, logger),
		StatusChange: repository.NewHistoryRepository(sqlDB, logger),
		Notification: repository.NewNotificationRepository(sqlDB, logger),
		Profile:      repository.NewProfileRepository(sqlDB, logger),
		Pending:      repository.NewPendingTransitionRepository(sqlDB, logger),
	}, nil
}

// ProvideExternalClients creates the SMTP sender, Lark messenger and OpenAI
// scorer. Each one is left nil when its configuration is incomplete.
func ProvideExternalClients(cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &ExternalBundle{}

	smtpCfg := email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	}
	if smtpCfg.Enabled() {
		bundle.Email = email.NewSMTPSender(smtpCfg, logger)
	} else {
		logger.Info("SMTP not configured, email notifications disabled")
	}

	larkCfg := infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		ChatID:    cfg.Lark.ChatID,
		BaseURL:   cfg.Lark.BaseURL,
	}
	if larkCfg.Enabled() {
		bundle.Chat = infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, logger), logger)
	} else {
		logger.Info("Lark not configured, team chat messages disabled")
	}

	if cfg.OpenAI.APIKey != "" {
		scorer, err := ProvideRiskScorer(&cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		bundle.Scorer = scorer
	} else {
		logger.Info("OpenAI API key not set, risk scoring disabled")
	}

	return bundle, nil
}

// ProvideRiskScorer creates the OpenAI risk scorer.
// Prompts come from cfg.PromptsPath or the embedded defaults.
func ProvideRiskScorer(cfg *OpenAIConfig, logger *zap.Logger) (port.RiskScorer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai config is required")
	}

	var (
		prompts *openai.PromptConfig
		err     error
	)
	if cfg.PromptsPath != "" {
		prompts, err = openai.LoadPrompts(cfg.PromptsPath)
	} else {
		prompts, err = openai.DefaultPrompts()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	return openai.NewRiskScorer(openai.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}, prompts, logger), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *WorkerConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	}
	if cfg != nil && cfg.AsyncTimeout > 0 {
		opts = append(opts, dispatcher.WithAsyncTimeout(cfg.AsyncTimeout))
	}
	return dispatcher.NewDispatcher(opts...), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	External   *ExternalBundle
	Dispatcher dispatcher.Dispatcher
	WorkerCfg  *WorkerConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine wires the history recorder and notification
// dispatcher into the status workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, *history.Recorder, error) {
	if deps == nil {
		return nil, nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}

	recorder := history.NewRecorder(deps.Repos.StatusChange, deps.Logger)

	var notifyOpts []notify.Option
	if deps.External != nil {
		if deps.External.Email != nil {
			notifyOpts = append(notifyOpts, notify.WithEmail(deps.External.Email))
		}
		if deps.External.Chat != nil {
			notifyOpts = append(notifyOpts, notify.WithChat(deps.External.Chat))
		}
	}
	notifier := notify.NewDispatcher(deps.Repos.Notification, deps.Repos.Profile, deps.Logger, notifyOpts...)

	engineOpts := []workflow.EngineOption{workflow.WithLogger(deps.Logger)}
	if deps.WorkerCfg != nil {
		engineOpts = append(engineOpts,
			workflow.WithClaimLease(deps.WorkerCfg.ClaimLease),
			workflow.WithResumeGrace(deps.WorkerCfg.ResumeGrace),
		)
	}
	if deps.Dispatcher != nil {
		engineOpts = append(engineOpts, workflow.WithDispatcher(deps.Dispatcher))
	}

	engine := workflow.NewEngine(
		deps.Repos.Application,
		deps.Repos.Document,
		deps.Repos.Pending,
		deps.TxManager,
		recorder,
		notifier,
		engineOpts...,
	)
	return engine, recorder, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Recorder   *history.Recorder
	Engine     workflow.Engine
	External   *ExternalBundle
	Dispatcher dispatcher.Dispatcher
	AutoScore  bool
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// ones that react to workflow events.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	bundle := &ServiceBundle{
		Workflow: deps.Engine,
		Application: service.NewApplicationService(
			deps.Repos.Application,
			deps.Repos.Document,
			deps.TxManager,
			deps.Recorder,
			report.NewHistoryExporter(deps.Logger),
			deps.Dispatcher,
			serviceLogger,
		),
		Notification: service.NewNotificationService(deps.Repos.Notification, serviceLogger),
		Profile:      service.NewProfileService(deps.Repos.Profile, serviceLogger),
	}

	if deps.External != nil && deps.External.Scorer != nil {
		bundle.Risk = service.NewRiskService(
			deps.Repos.Application,
			deps.Repos.Document,
			deps.External.Scorer,
			deps.Dispatcher,
			serviceLogger,
		)
		if deps.AutoScore && deps.Dispatcher != nil {
			deps.Dispatcher.SubscribeNamed(event.TypeStatusChanged, "risk_scorer",
				"scores applications when they are submitted", bundle.Risk.HandleStatusChanged)
		}
	}

	return bundle, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Resumer   worker.Resumer
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Resumer == nil {
		return nil, fmt.Errorf("resumer is required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	followUpCfg := worker.DefaultFollowUpWorkerConfig()
	if deps.WorkerCfg.ResumeInterval > 0 {
		followUpCfg.PollInterval = deps.WorkerCfg.ResumeInterval
	}
	if deps.WorkerCfg.ResumeBatch > 0 {
		followUpCfg.BatchSize = deps.WorkerCfg.ResumeBatch
	}
	manager.Register(worker.NewFollowUpWorker(followUpCfg, deps.Resumer, deps.Logger))

	return manager, nil
}
