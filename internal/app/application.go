package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pinnlo/service_layer/internal/ai"
	"github.com/pinnlo/service_layer/internal/app/services/automation"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/app/services/export"
	"github.com/pinnlo/service_layer/internal/app/services/generation"
	"github.com/pinnlo/service_layer/internal/app/services/intelligence"
	"github.com/pinnlo/service_layer/internal/app/services/strategies"
	"github.com/pinnlo/service_layer/internal/app/services/templates"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/app/storage/memory"
	"github.com/pinnlo/service_layer/internal/app/system"
	"github.com/pinnlo/service_layer/internal/cache"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/middleware"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Dependencies are the external collaborators of the application. Nil
// fields fall back to in-process defaults or leave the feature disabled.
type Dependencies struct {
	// Store defaults to the in-memory store.
	Store storage.Store
	// Previews defaults to the in-memory preview cache.
	Previews cache.PreviewStore
	// Generator is required for the AI endpoints.
	Generator *ai.Generator
	// Issues enables the GitHub export.
	Issues export.IssueCreator
	// Changes feeds Supabase Realtime inserts to card_event rules. When nil
	// the card service notifies automation in-process instead.
	Changes automation.ChangeSource
	// Users resolves access tokens when no JWT secret is configured.
	Users middleware.UserLookup
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger
	started time.Time
	closers []func() error

	Config *config.Config
	Store  storage.Store
	Users  middleware.UserLookup
	AI     *ai.Generator

	Strategies   *strategies.Service
	Cards        *cards.Service
	Intelligence *intelligence.Service
	Templates    *templates.Service
	Generation   *generation.Service
	Automation   *automation.Service
	// Export is nil when no GitHub token is configured.
	Export *export.Service
}

// New builds a fully initialised application from cfg and deps.
func New(cfg *config.Config, deps Dependencies, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if log == nil {
		log = logging.NewDefault("app")
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Previews == nil {
		deps.Previews = cache.NewMemory()
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("ai generator is required")
	}

	manager := system.NewManager()
	store := deps.Store

	strategySvc := strategies.New(store, store, log.Named("strategies"))
	cardSvc := cards.New(store, store, store, log.Named("cards"))
	groupSvc := intelligence.New(store, log.Named("intelligence"))
	templateSvc := templates.New(store, log.Named("templates"))
	generationSvc := generation.New(generation.Config{PreviewTTL: cfg.Redis.PreviewTTL},
		store, cardSvc, groupSvc, deps.Generator, deps.Previews, log.Named("generation"))
	automationSvc := automation.New(automation.Config{ConditionTimeout: cfg.Automation.ConditionTimeout},
		store, store, generationSvc, log.Named("automation"))

	var exportSvc *export.Service
	if deps.Issues != nil {
		exportSvc = export.New(store, cardSvc, deps.Issues, log.Named("export"))
	}

	a := &Application{
		manager:      manager,
		log:          log,
		started:      time.Now(),
		Config:       cfg,
		Store:        store,
		Users:        deps.Users,
		AI:           deps.Generator,
		Strategies:   strategySvc,
		Cards:        cardSvc,
		Intelligence: groupSvc,
		Templates:    templateSvc,
		Generation:   generationSvc,
		Automation:   automationSvc,
		Export:       exportSvc,
	}

	if !cfg.Automation.Enabled {
		log.Warn("AUTOMATION_ENABLED is false; automation rules will not run")
		return a, nil
	}
	if err := manager.Register(automationSvc); err != nil {
		return nil, fmt.Errorf("register automation: %w", err)
	}
	if deps.Changes != nil {
		if err := manager.Register(automation.NewCardListener(deps.Changes, automationSvc, log.Named("automation-realtime"))); err != nil {
			return nil, fmt.Errorf("register automation realtime: %w", err)
		}
	} else {
		cardSvc.OnInsert(automationSvc.CardInsertHook())
	}
	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// OnClose registers fn to run after the services have stopped.
func (a *Application) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services, then releases connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i](); cerr != nil {
			a.log.WithError(cerr).Warn("close resource")
		}
	}
	a.closers = nil
	return err
}

// Uptime reports how long the application has existed.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.started)
}

// Services lists the lifecycle-managed services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Ping checks the backing store when it is remote.
func (a *Application) Ping(ctx context.Context) error {
	if p, ok := a.Store.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
