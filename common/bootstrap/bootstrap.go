package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/diaflow/diaflow/common/config"
	"github.com/diaflow/diaflow/common/logger"
	"github.com/diaflow/diaflow/engine"
	"github.com/diaflow/diaflow/router"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
	"github.com/diaflow/diaflow/store"
)

// Setup initializes all engine components.
// This is the main entry point for both binaries.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize the execution store: redis when enabled, memory otherwise
	if !options.skipRedis && components.Config.Redis.Enabled {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		client := redis.NewClient(&redis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = client
		components.Store = store.NewRedisStore(&store.RedisStoreOpts{
			Client: client,
			TTL:    components.Config.Redis.TTL,
			Logger: components.Logger,
		})
		components.addCleanup(func() error {
			components.Logger.Info("closing redis client")
			return client.Close()
		})
	} else {
		components.Store = store.NewMemoryStore()
	}

	// 4. Initialize the Postgres archive (if enabled)
	if !options.skipArchive && components.Config.Database.Enabled {
		components.Logger.Info("connecting to database",
			"host", components.Config.Database.Host,
			"db", components.Config.Database.Database)

		poolConfig, err := pgxpool.ParseConfig(components.Config.DatabaseURL())
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(components.Config.Database.MaxConns)
		poolConfig.MinConns = int32(components.Config.Database.MinConns)
		poolConfig.MaxConnLifetime = components.Config.Database.MaxLifetime
		poolConfig.MaxConnIdleTime = components.Config.Database.MaxIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("create connection pool: %w", err)
		}
		components.Pool = pool
		components.addCleanup(func() error {
			components.Logger.Info("closing database connection pool")
			pool.Close()
			return nil
		})

		components.Archive = store.NewArchive(pool, components.Logger)
		if err := components.Archive.Migrate(ctx); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("migrate archive schema: %w", err)
		}
	}

	// 5. Assemble the service bundle
	if options.customBundle != nil {
		components.Bundle = options.customBundle
	} else {
		bundle, err := buildBundle(components.Config, components.Logger, options)
		if err != nil {
			components.Shutdown(ctx)
			return nil, err
		}
		components.Bundle = bundle
	}

	// 6. Router and engine
	components.Router = router.New(&router.RouterOpts{Logger: components.Logger})
	components.addCleanup(func() error {
		components.Router.Close()
		return nil
	})

	components.Engine = engine.New(&engine.Opts{
		Store:   components.Store,
		Router:  components.Router,
		Bundle:  components.Bundle,
		Archive: components.Archive,
		Logger:  components.Logger,
		Defaults: scheduler.Options{
			DebugMode:        components.Config.Engine.DebugMode,
			MaxIterations:    components.Config.Engine.MaxIterations,
			TimeoutSeconds:   components.Config.Engine.TimeoutSeconds,
			MaxParallelNodes: components.Config.Engine.MaxParallelNodes,
			PollInterval:     components.Config.Engine.PollInterval,
			MaxPollRetries:   components.Config.Engine.MaxPollRetries,
		},
	})

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"redis", components.Redis != nil,
		"archive", components.Archive != nil,
		"llm", components.Bundle.Has(services.ServiceLLM),
	)

	return components, nil
}

// buildBundle wires the configured node services
func buildBundle(cfg *config.Config, log *logger.Logger, options *options) (*services.Bundle, error) {
	bundle := &services.Bundle{
		Memory:  services.NewConversationMemory(),
		APIKeys: services.NewAPIKeyVault(nil),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}

	files, err := services.NewFileService(cfg.Engine.FilesDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file service: %w", err)
	}
	bundle.Files = files

	if !options.skipLLM && cfg.LLM.APIKey != "" {
		llm, err := services.NewOpenAIClient(&services.OpenAIOpts{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize llm service: %w", err)
		}
		bundle.LLM = llm
	}

	if cfg.Notion.Token != "" {
		bundle.Notion = services.NewNotionClient(cfg.Notion.Token, bundle.HTTP, log)
	}

	return bundle, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
