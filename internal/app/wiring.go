package app

import (
	"context"
	"fmt"

	"github.com/pinnlo/service_layer/internal/ai"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/app/storage/memory"
	"github.com/pinnlo/service_layer/internal/app/storage/postgres"
	supabasestore "github.com/pinnlo/service_layer/internal/app/storage/supabase"
	"github.com/pinnlo/service_layer/internal/cache"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/github"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/platform/migrations"
	"github.com/pinnlo/service_layer/internal/supabase"
)

// Build connects the backends selected by cfg and returns the application.
// Connections opened here are closed by Stop.
func Build(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	var closers []func() error
	fail := func(err error) (*Application, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	var deps Dependencies

	var sb *supabase.Client
	if cfg.Supabase.URL != "" && (cfg.Supabase.ServiceKey != "" || cfg.Supabase.AnonKey != "") {
		key := cfg.Supabase.ServiceKey
		if key == "" {
			key = cfg.Supabase.AnonKey
		}
		client, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: key})
		if err != nil {
			return fail(fmt.Errorf("supabase client: %w", err))
		}
		sb = client
		deps.Users = client
	}

	store, closeStore, err := openStore(ctx, cfg, sb, log)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	deps.Store = store

	deps.Previews = cache.NewMemory()
	if cfg.Redis.URL != "" {
		client, err := cache.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable; previews are kept in memory")
		} else {
			deps.Previews = cache.NewRedis(client)
			closers = append(closers, client.Close)
			log.Info("preview cache using redis")
		}
	}

	gen, err := NewGenerator(cfg, log.Named("ai"))
	if err != nil {
		return fail(err)
	}
	if cfg.MCP.ServerURL != "" {
		src, err := ai.NewMCPSource(ai.MCPConfig{URL: cfg.MCP.ServerURL, Token: cfg.MCP.Token, Timeout: cfg.AI.RequestTimeout})
		if err != nil {
			return fail(fmt.Errorf("mcp source: %w", err))
		}
		gen.UseMCP(src)
	}
	deps.Generator = gen

	if cfg.GitHub.Token != "" {
		gh, err := github.New(github.Config{Token: cfg.GitHub.Token, BaseURL: cfg.GitHub.BaseURL})
		if err != nil {
			return fail(fmt.Errorf("github client: %w", err))
		}
		deps.Issues = gh
	} else {
		log.Warn("GITHUB_TOKEN not set; GitHub export disabled")
	}

	if cfg.Supabase.Realtime {
		key := cfg.Supabase.ServiceKey
		if key == "" {
			key = cfg.Supabase.AnonKey
		}
		rt, err := supabase.NewRealtimeClient(supabase.RealtimeConfig{
			URL:    cfg.Supabase.URL,
			APIKey: key,
			Logger: log.Named("supabase-realtime"),
		})
		if err != nil {
			return fail(fmt.Errorf("supabase realtime: %w", err))
		}
		deps.Changes = rt
	}

	application, err := New(cfg, deps, log)
	if err != nil {
		return fail(err)
	}
	for _, c := range closers {
		application.OnClose(c)
	}
	return application, nil
}

// OpenStore opens only the store backend selected by cfg. The returned close
// function may be nil.
func OpenStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (storage.Store, func() error, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	var sb *supabase.Client
	if cfg.StoreBackend == config.BackendSupabase {
		client, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.ServiceKey})
		if err != nil {
			return nil, nil, fmt.Errorf("supabase client: %w", err)
		}
		sb = client
	}
	return openStore(ctx, cfg, sb, log)
}

func openStore(ctx context.Context, cfg *config.Config, sb *supabase.Client, log *logging.Logger) (storage.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := migrations.Apply(ctx, db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		log.Info("using postgres store")
		return postgres.New(db), db.Close, nil
	case config.BackendSupabase:
		if sb == nil {
			return nil, nil, fmt.Errorf("supabase store requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		log.Info("using supabase store")
		return supabasestore.New(sb), nil, nil
	default:
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil, nil
	}
}

// NewGenerator builds the AI generator with every provider whose API key is
// configured.
func NewGenerator(cfg *config.Config, log *logging.Logger) (*ai.Generator, error) {
	templates, err := config.LoadPromptTemplates(cfg.AI.PromptTemplatesPath)
	if err != nil {
		return nil, err
	}
	gen := ai.NewGenerator(ai.GeneratorConfig{
		DefaultProvider: cfg.AI.DefaultProvider,
		MaxTokens:       cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
	}, ai.NewPromptBuilder(templates), log)

	if cfg.AI.OpenAIKey != "" {
		p, err := ai.NewOpenAI(ai.OpenAIConfig{
			APIKey:  cfg.AI.OpenAIKey,
			BaseURL: cfg.AI.OpenAIBaseURL,
			Model:   cfg.AI.OpenAIModel,
			Timeout: cfg.AI.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		gen.Register(p)
	}
	if cfg.AI.AnthropicKey != "" {
		p, err := ai.NewAnthropic(ai.AnthropicConfig{
			APIKey:  cfg.AI.AnthropicKey,
			BaseURL: cfg.AI.AnthropicBaseURL,
			Model:   cfg.AI.AnthropicModel,
			Timeout: cfg.AI.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		gen.Register(p)
	}
	if len(gen.Providers()) == 0 {
		log.Warn("no AI provider keys configured; generation requests will fail")
	}
	return gen, nil
}
