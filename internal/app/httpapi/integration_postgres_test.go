//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/ai"
	app "github.com/pinnlo/service_layer/internal/app"
	"github.com/pinnlo/service_layer/internal/app/storage/postgres"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/platform/migrations"
)

// Runs the REST flow against a migrated Postgres database.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn, 4)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(ctx, db))

	cfg := &config.Config{
		StoreBackend: config.BackendPostgres,
		Supabase:     config.SupabaseConfig{JWTSecret: jwtSecret},
		HTTP:         config.HTTPConfig{RateLimitRPS: 1000, RateLimitBurst: 1000, AIRateLimitPerMin: 100},
	}
	templates, err := config.LoadPromptTemplates("")
	require.NoError(t, err)
	gen := ai.NewGenerator(ai.GeneratorConfig{}, ai.NewPromptBuilder(templates), logging.Discard())
	gen.Register(&stubCompleter{reply: `[{"title":"Integration OKR"}]`})

	application, err := app.New(cfg, app.Dependencies{Store: postgres.New(db), Generator: gen}, logging.Discard())
	require.NoError(t, err)
	s := &testServer{t: t, handler: newRouter(application, newAuditLog(10, nil), logging.Discard()), app: application}

	user := "00000000-0000-4000-8000-000000000001"
	rr, env := s.do(user, http.MethodPost, "/api/strategies", map[string]string{"title": "Integration"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var st struct{ ID string }
	decode(t, env, &st)
	t.Cleanup(func() { s.do(user, http.MethodDelete, "/api/strategies/"+st.ID, nil) })

	rr, _ = s.do(user, http.MethodPost, "/api/cards/generate", map[string]interface{}{
		"strategy_id": st.ID, "card_type": "okrs", "count": 1, "commit": true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr, env = s.do(user, http.MethodGet, "/api/strategies/"+st.ID+"/cards", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, *env.Count)

	rr, _ = s.do(user, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
