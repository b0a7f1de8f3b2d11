package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"STORE_BACKEND", "DATABASE_URL", "SUPABASE_URL", "SUPABASE_SERVICE_KEY", "SUPABASE_REALTIME", "AI_DEFAULT_PROVIDER", "PORT", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultsToMemoryStore(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Redis.PreviewTTL != 30*time.Minute {
		t.Errorf("PreviewTTL = %s", cfg.Redis.PreviewTTL)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestLoadResolvesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/pinnlo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendPostgres {
		t.Fatalf("StoreBackend = %q", cfg.StoreBackend)
	}
}

func TestLoadRejectsIncompleteSupabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "supabase")
	t.Setenv("SUPABASE_URL", "https://x.supabase.co")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SUPABASE_SERVICE_KEY") {
		t.Fatalf("expected missing service key error, got %v", err)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_DEFAULT_PROVIDER", "gemini")
	if _, err := Load(); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestCSVDecode(t *testing.T) {
	var c CSV
	if err := c.Decode(" https://a.com, ,https://b.com "); err != nil {
		t.Fatal(err)
	}
	if len(c) != 2 || c[0] != "https://a.com" || c[1] != "https://b.com" {
		t.Fatalf("CSV = %v", c)
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PINNLO_TEST_A=file\nPINNLO_TEST_B=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PINNLO_TEST_A", "env")
	os.Unsetenv("PINNLO_TEST_B")
	t.Cleanup(func() { os.Unsetenv("PINNLO_TEST_B") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if os.Getenv("PINNLO_TEST_A") != "env" || os.Getenv("PINNLO_TEST_B") != "file" {
		t.Fatalf("A=%q B=%q", os.Getenv("PINNLO_TEST_A"), os.Getenv("PINNLO_TEST_B"))
	}
}

func TestBuiltInPromptTemplates(t *testing.T) {
	pt, err := LoadPromptTemplates("")
	if err != nil {
		t.Fatalf("LoadPromptTemplates: %v", err)
	}
	if !pt.Has("vision") {
		t.Fatal("expected vision template")
	}
	v := pt.Lookup("vision")
	if v.System == "" {
		t.Fatal("vision should inherit the default system prompt")
	}
	other := pt.Lookup("roadmap")
	if other.CardType != "roadmap" || other.User != pt.Default.User {
		t.Fatalf("roadmap should fall back to default, got %+v", other)
	}
}

func TestPromptTemplateOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	doc := "templates:\n  - card_type: vision\n    user: custom {{.Count}}\n  - card_type: roadmap\n    user: roadmap {{.Count}}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	pt, err := LoadPromptTemplates(path)
	if err != nil {
		t.Fatalf("LoadPromptTemplates: %v", err)
	}
	if pt.Lookup("vision").User != "custom {{.Count}}" {
		t.Fatalf("vision not overridden")
	}
	if !pt.Has("roadmap") || !pt.Has("okrs") {
		t.Fatal("override should merge with built-ins")
	}
	list := pt.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].CardType > list[i].CardType {
			t.Fatalf("list not sorted: %v", list)
		}
	}
}

func TestParsePromptTemplatesRequiresCardType(t *testing.T) {
	if _, err := ParsePromptTemplates([]byte("templates:\n  - user: x\n")); err == nil {
		t.Fatal("expected error")
	}
}
