package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/domain/strategy"
	"github.com/pinnlo/service_layer/internal/app/storage"
	"github.com/pinnlo/service_layer/internal/app/storage/memory"
	"github.com/pinnlo/service_layer/internal/config"
	"github.com/pinnlo/service_layer/internal/logging"
)

func newTestCLI(t *testing.T, backend string, store storage.Store) *cli {
	t.Helper()
	return &cli{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{StoreBackend: backend, LogLevel: "error"}, nil
		},
		openStore: func(context.Context, *config.Config, *logging.Logger) (storage.Store, func() error, error) {
			return store, nil, nil
		},
	}
}

func run(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(c)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStrategy(t *testing.T, store *memory.Store) strategy.Strategy {
	t.Helper()
	ctx := context.Background()
	st, err := store.CreateStrategy(ctx, strategy.Strategy{UserID: "user-1", Title: "Growth plan", Status: strategy.StatusActive})
	require.NoError(t, err)
	_, err = store.CreateCards(ctx, []card.Card{
		{StrategyID: st.ID, UserID: "user-1", Title: "North star", CardType: "vision", Priority: card.LevelHigh, ConfidenceLevel: card.LevelMedium},
		{StrategyID: st.ID, UserID: "user-1", Title: "Retention OKR", CardType: "okrs", Priority: card.LevelMedium, ConfidenceLevel: card.LevelLow},
		{StrategyID: st.ID, UserID: "user-1", Title: "Second OKR", CardType: "okrs", Priority: card.LevelLow, ConfidenceLevel: card.LevelLow},
	})
	require.NoError(t, err)
	return st
}

func TestDebugCardsTable(t *testing.T) {
	store := memory.New()
	st := seedStrategy(t, store)

	out, err := run(t, newTestCLI(t, config.BackendMemory, store), "debug", "cards", "--user", "user-1", "--strategy", st.ID, "--type", "okrs")
	require.NoError(t, err)
	assert.Contains(t, out, "Retention OKR")
	assert.Contains(t, out, "Second OKR")
	assert.NotContains(t, out, "North star")
	assert.Contains(t, out, "2 cards")
}

func TestDebugCardsJSON(t *testing.T) {
	store := memory.New()
	st := seedStrategy(t, store)

	out, err := run(t, newTestCLI(t, config.BackendMemory, store), "debug", "cards", "-u", "user-1", "-s", st.ID, "--json")
	require.NoError(t, err)
	var cards []card.Card
	require.NoError(t, json.Unmarshal([]byte(out), &cards))
	assert.Len(t, cards, 3)
}

func TestDebugCardsValidation(t *testing.T) {
	c := newTestCLI(t, config.BackendMemory, memory.New())

	_, err := run(t, c, "debug", "cards", "--strategy", "s1")
	assert.Error(t, err)

	_, err = run(t, c, "debug", "cards", "--user", "u", "--strategy", "s1", "--type", "not-a-type")
	assert.ErrorContains(t, err, "unknown card type")
}

func TestDebugStrategySummary(t *testing.T) {
	store := memory.New()
	st := seedStrategy(t, store)
	c := newTestCLI(t, config.BackendMemory, store)

	out, err := run(t, c, "debug", "strategy", st.ID, "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Growth plan")
	assert.Regexp(t, `okrs\s+2`, out)
	assert.Regexp(t, `Cards\s+3`, out)

	out, err = run(t, c, "debug", "strategy", st.ID, "--user", "user-1", "--json")
	require.NoError(t, err)
	var summary strategy.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.TotalCards)
	assert.Equal(t, 1, summary.CardCounts["vision"])

	_, err = run(t, c, "debug", "strategy", st.ID, "--user", "someone-else")
	assert.Error(t, err)
}

func TestSeedTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`templates:
  - card_type: vision
    title: Product vision
    description: Where we are going.
  - card_type: okrs
    title: Quarterly objective
`), 0o600))

	store := memory.New()
	out, err := run(t, newTestCLI(t, config.BackendPostgres, store), "seed", "templates", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 templates")

	list, err := store.ListTemplates(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// reseeding updates in place
	_, err = run(t, newTestCLI(t, config.BackendPostgres, store), "seed", "templates", "--file", path)
	require.NoError(t, err)
	list, err = store.ListTemplates(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSeedRefusesMemoryStore(t *testing.T) {
	_, err := run(t, newTestCLI(t, config.BackendMemory, memory.New()), "seed", "templates")
	assert.ErrorContains(t, err, "persistent store")
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	_, err := run(t, newTestCLI(t, config.BackendMemory, memory.New()), "migrate", "version")
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = run(t, newTestCLI(t, config.BackendMemory, memory.New()), "migrate", "down", "zero")
	assert.ErrorContains(t, err, "invalid step count")
}
