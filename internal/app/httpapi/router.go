// Package httpapi exposes the PINNLO REST API.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/app/metrics"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logging.Logger
}

// NewRouter returns the /api router with its middleware chain.
func NewRouter(application *app.Application, log *logging.Logger) (http.Handler, error) {
	if log == nil {
		log = logging.NewDefault("http")
	}
	cfg := application.Config

	sink, err := newFileAuditSink(cfg.HTTP.AuditLogPath)
	if err != nil {
		return nil, err
	}
	var auditSink auditSink
	if sink != nil {
		auditSink = sink
		application.OnClose(sink.Close)
	}
	return newRouter(application, newAuditLog(500, auditSink), log), nil
}

func newRouter(application *app.Application, audit *auditLog, log *logging.Logger) http.Handler {
	cfg := application.Config
	h := &handler{app: application, audit: audit, log: log}

	root := mux.NewRouter()
	root.Use(middleware.MetricsMiddleware())
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	root.HandleFunc("/api/health", h.health).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{
		JWTSecret:  cfg.Supabase.JWTSecret,
		CookieName: cfg.HTTP.AuthCookieName,
		Lookup:     application.Users,
	}, log.Named("auth"))

	apiLimit := apiRateLimit(cfg)
	apiLimit.TrustForwardedFor = cfg.HTTP.TrustForwardedFor
	aiLimit := middleware.PerMinute("ai", cfg.HTTP.AIRateLimitPerMin)
	aiLimit.TrustForwardedFor = cfg.HTTP.TrustForwardedFor
	aiLimiter := middleware.NewRateLimiter(aiLimit, log.Named("ratelimit"))
	apiLimiter := middleware.NewRateLimiter(apiLimit, log.Named("ratelimit"))
	for _, l := range []*middleware.RateLimiter{apiLimiter, aiLimiter} {
		if err := application.Attach(l); err != nil {
			log.WithError(err).Warn("rate limiter eviction not scheduled")
		}
	}

	api := root.PathPrefix("/api").Subrouter()
	api.Use(
		auth.Handler,
		apiLimiter.Handler,
		h.auditMutations,
	)
	ai := func(fn http.HandlerFunc) http.Handler { return aiLimiter.Handler(fn) }

	api.HandleFunc("/me", h.me).Methods(http.MethodGet)
	api.HandleFunc("/card-types", h.cardTypes).Methods(http.MethodGet)
	api.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	api.HandleFunc("/strategies", h.listStrategies).Methods(http.MethodGet)
	api.HandleFunc("/strategies", h.createStrategy).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}", h.getStrategy).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{id}", h.updateStrategy).Methods(http.MethodPatch)
	api.HandleFunc("/strategies/{id}", h.deleteStrategy).Methods(http.MethodDelete)
	api.HandleFunc("/strategies/{id}/cards", h.listCards).Methods(http.MethodGet)
	api.HandleFunc("/strategies/{id}/cards", h.createCard).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/cards/from-template", h.createCardFromTemplate).Methods(http.MethodPost)
	api.HandleFunc("/strategies/{id}/github/issues", h.exportIssues).Methods(http.MethodPost)

	api.Handle("/cards/generate", ai(h.generateCards)).Methods(http.MethodPost)
	api.Handle("/cards/generate/commit", http.HandlerFunc(h.commitPreview)).Methods(http.MethodPost)
	api.HandleFunc("/cards/{id}", h.getCard).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id}", h.updateCard).Methods(http.MethodPatch)
	api.HandleFunc("/cards/{id}", h.deleteCard).Methods(http.MethodDelete)
	api.Handle("/cards/{id}/enhance", ai(h.enhanceCard)).Methods(http.MethodPost)

	api.HandleFunc("/intelligence-groups", h.listGroups).Methods(http.MethodGet)
	api.HandleFunc("/intelligence-groups", h.createGroup).Methods(http.MethodPost)
	api.HandleFunc("/intelligence-groups/{id}", h.getGroup).Methods(http.MethodGet)
	api.HandleFunc("/intelligence-groups/{id}", h.updateGroup).Methods(http.MethodPatch)
	api.HandleFunc("/intelligence-groups/{id}", h.deleteGroup).Methods(http.MethodDelete)
	api.HandleFunc("/intelligence-groups/{id}/cards", h.addGroupCards).Methods(http.MethodPost)
	api.HandleFunc("/intelligence-groups/{id}/cards/{cardId}", h.removeGroupCard).Methods(http.MethodDelete)

	api.HandleFunc("/automation/rules", h.listRules).Methods(http.MethodGet)
	api.HandleFunc("/automation/rules", h.createRule).Methods(http.MethodPost)
	api.HandleFunc("/automation/rules/{id}", h.getRule).Methods(http.MethodGet)
	api.HandleFunc("/automation/rules/{id}", h.updateRule).Methods(http.MethodPatch)
	api.HandleFunc("/automation/rules/{id}", h.deleteRule).Methods(http.MethodDelete)
	api.Handle("/automation/rules/{id}/run", ai(h.runRule)).Methods(http.MethodPost)
	api.HandleFunc("/automation/rules/{id}/executions", h.listExecutions).Methods(http.MethodGet)

	root.NotFoundHandler = http.HandlerFunc(h.notFound)
	root.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	// mux only runs Use middleware on matched routes; preflights and
	// unmatched requests still need trace ids and CORS headers.
	cors := middleware.NewCORSMiddleware(cfg.HTTP.AllowedOrigins)
	return middleware.NewTracingMiddleware(log).Handler(cors.Handler(root))
}

func apiRateLimit(cfg *config.Config) middleware.RateLimitConfig {
	rps, burst := cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst
	if rps <= 0 {
		rps = 20
	}
	return middleware.PerSecond("api", rps, burst)
}
