// Package coursecraft provides a top-level convenience entry point for
// running curriculum workflows with minimal boilerplate.
//
// Usage:
//
//	app, err := coursecraft.New(coursecraft.WithConfigPath("config.yaml"))
//	if err != nil { ... }
//	defer app.Close(ctx)
//
//	state, err := app.Run(ctx, &types.Request{Goal: "learn Go concurrency"})
//	// ... later, after a human decision:
//	state, err = app.Resume(ctx, state.WorkflowID, &types.ReviewDecision{Approved: true})
package coursecraft

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft/agents"
	"github.com/coursecraft/coursecraft/checkpoint"
	"github.com/coursecraft/coursecraft/config"
	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/internal/telemetry"
	"github.com/coursecraft/coursecraft/notify"
	"github.com/coursecraft/coursecraft/taskstore"
	"github.com/coursecraft/coursecraft/types"
	"github.com/coursecraft/coursecraft/workflow"
)

// App bundles a fully wired orchestrator: configuration, stores, agents,
// and the executor, plus the observability plumbing behind them.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Executor    *workflow.Executor
	Agents      *agents.Set
	Checkpoints checkpoint.Store
	Tasks       taskstore.Store
	Sink        notify.Sink
	Collector   *metrics.Collector

	telemetry *telemetry.Providers
	closers   []func(context.Context) error
}

type appOptions struct {
	cfg         *config.Config
	configPath  string
	agentSet    *agents.Set
	checkpoints checkpoint.Store
	tasks       taskstore.Store
	sink        notify.Sink
	logger      *zap.Logger
	registerer  prometheus.Registerer
}

// Option configures the App created by [New].
type Option func(*appOptions)

// WithConfig supplies a pre-built configuration, bypassing file loading.
func WithConfig(cfg *config.Config) Option {
	return func(o *appOptions) { o.cfg = cfg }
}

// WithConfigPath loads configuration from a YAML file with environment
// overrides.
func WithConfigPath(path string) Option {
	return func(o *appOptions) { o.configPath = path }
}

// WithAgents supplies the stage agents, bypassing the OpenAI-backed
// default. Useful for offline runs and tests.
func WithAgents(set *agents.Set) Option {
	return func(o *appOptions) { o.agentSet = set }
}

// WithCheckpointStore overrides the configured checkpoint backend.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(o *appOptions) { o.checkpoints = store }
}

// WithTaskStore overrides the task status store.
func WithTaskStore(store taskstore.Store) Option {
	return func(o *appOptions) { o.tasks = store }
}

// WithSink overrides the progress notification sink.
func WithSink(sink notify.Sink) Option {
	return func(o *appOptions) { o.sink = sink }
}

// WithLogger supplies a logger, bypassing the one built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *appOptions) { o.logger = logger }
}

// WithRegisterer registers metrics against a custom Prometheus
// registerer instead of the default one.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *appOptions) { o.registerer = reg }
}

// New wires an App from configuration: logger, metrics, telemetry,
// checkpoint and task stores for the configured backend, stage agents,
// and the executor with all six node runners registered.
func New(opts ...Option) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := resolveConfig(&o)
	if err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger, err = config.BuildLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("coursecraft: build logger: %w", err)
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Collector: collector,
	}

	app.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("coursecraft: init telemetry: %w", err)
	}

	if err := app.wireStores(&o); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	if err := app.wireAgents(&o); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	if err := app.wireExecutor(); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func resolveConfig(o *appOptions) (*config.Config, error) {
	if o.cfg != nil {
		if err := o.cfg.Validate(); err != nil {
			return nil, fmt.Errorf("coursecraft: invalid config: %w", err)
		}
		return o.cfg, nil
	}
	loader := config.NewLoader().WithEnvPrefix("COURSECRAFT")
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("coursecraft: load config: %w", err)
	}
	return cfg, nil
}

// wireStores builds the checkpoint and task stores for the configured
// backend, plus the progress sink.
func (a *App) wireStores(o *appOptions) error {
	cfg := a.Config
	a.Checkpoints = o.checkpoints
	a.Tasks = o.tasks
	a.Sink = o.sink

	switch {
	case a.Checkpoints != nil:
		// Caller-supplied store wins over the configured backend.

	case cfg.Checkpoint.Backend == "memory":
		a.Checkpoints = checkpoint.NewMemoryStore()

	case cfg.Checkpoint.Backend == "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.Checkpoints = checkpoint.NewRedisStore(client, cfg.Redis.KeyPrefix)
		if a.Sink == nil {
			redisSink, err := notify.NewRedisSink(client, cfg.Redis.KeyPrefix+"events")
			if err != nil {
				return fmt.Errorf("coursecraft: redis sink: %w", err)
			}
			a.Sink = notify.NewMultiSink(notify.NewLogSink(a.Logger), redisSink)
		}

	case cfg.Checkpoint.Backend == "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("coursecraft: checkpoint backend postgres requires database.dsn")
		}
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("coursecraft: open postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("coursecraft: postgres pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })

		a.Checkpoints, err = checkpoint.NewGormStore(db)
		if err != nil {
			return fmt.Errorf("coursecraft: checkpoint store: %w", err)
		}
		if a.Tasks == nil {
			a.Tasks, err = taskstore.NewGormStore(db)
			if err != nil {
				return fmt.Errorf("coursecraft: task store: %w", err)
			}
		}

	case cfg.Checkpoint.Backend == "mongo":
		if cfg.Mongo.URI == "" {
			return fmt.Errorf("coursecraft: checkpoint backend mongo requires mongo.uri")
		}
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("coursecraft: connect mongo: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)
		a.Checkpoints, err = checkpoint.NewMongoStore(client, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return fmt.Errorf("coursecraft: checkpoint store: %w", err)
		}

	default:
		return fmt.Errorf("coursecraft: unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}

	if a.Tasks == nil {
		a.Tasks = taskstore.NewMemoryStore()
	}
	if a.Sink == nil {
		a.Sink = notify.NewLogSink(a.Logger)
	}
	return nil
}

func (a *App) wireAgents(o *appOptions) error {
	if o.agentSet != nil {
		if err := o.agentSet.Validate(); err != nil {
			return err
		}
		a.Agents = o.agentSet
		return nil
	}

	cfg := a.Config
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("coursecraft: llm.api_key is required (or supply agents via WithAgents)")
	}
	retry := agents.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLM.MaxRetries
	retry.InitialDelay = cfg.LLM.InitialRetryDelay
	retry.MaxDelay = cfg.LLM.MaxRetryDelay

	openaiAgents, err := agents.NewOpenAIAgents(agents.OpenAIOptions{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		Retry:             retry,
	}, a.Logger, a.Collector)
	if err != nil {
		return fmt.Errorf("coursecraft: build agents: %w", err)
	}
	a.Agents = openaiAgents.Set()
	return nil
}

func (a *App) wireExecutor() error {
	wcfg := a.Config.Workflow
	exec, err := workflow.NewExecutor(workflow.ExecutorOptions{
		Workflow:    wcfg,
		Checkpoints: a.Checkpoints,
		Tasks:       a.Tasks,
		Sink:        a.Sink,
		Logger:      a.Logger,
		Collector:   a.Collector,
	})
	if err != nil {
		return err
	}

	exec.Register(
		workflow.NewIntentRunner(a.Agents.Intent, wcfg.AgentTimeout),
		workflow.NewCurriculumRunner(a.Agents.Curriculum, wcfg.AgentTimeout),
		workflow.NewValidationRunner(a.Agents.Validator, wcfg.AgentTimeout),
		workflow.NewEditorRunner(a.Agents.Editor, wcfg.AgentTimeout),
		workflow.NewReviewRunner(),
		workflow.NewContentRunner(workflow.ContentRunnerOptions{
			Tutorial:        a.Agents.Tutorial,
			Resource:        a.Agents.Resource,
			Quiz:            a.Agents.Quiz,
			Concurrency:     wcfg.ContentConcurrency,
			CheckpointEvery: wcfg.CheckpointEvery,
			AgentTimeout:    wcfg.AgentTimeout,
			Saver:           exec,
			Sink:            a.Sink,
			Logger:          a.Logger,
			Collector:       a.Collector,
		}),
	)
	a.Executor = exec
	return nil
}

// Run starts a new workflow for a learner request with a generated
// workflow id.
func (a *App) Run(ctx context.Context, req *types.Request) (*workflow.State, error) {
	return a.Executor.Run(ctx, workflow.NewState("", req))
}

// RunWithID starts a new workflow under a caller-chosen id.
func (a *App) RunWithID(ctx context.Context, workflowID string, req *types.Request) (*workflow.State, error) {
	return a.Executor.Run(ctx, workflow.NewState(workflowID, req))
}

// Resume continues a suspended or crashed workflow. decision may be nil
// when no human verdict is being delivered.
func (a *App) Resume(ctx context.Context, workflowID string, decision *types.ReviewDecision) (*workflow.State, error) {
	return a.Executor.Resume(ctx, workflowID, decision)
}

// Close releases backend connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, closer := range a.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
