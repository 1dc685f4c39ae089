package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search.Iterations != 100 {
		t.Errorf("default iterations = %d, want 100", cfg.Search.Iterations)
	}
	if cfg.Search.QualityThreshold != 0.87 {
		t.Errorf("default quality threshold = %v, want 0.87", cfg.Search.QualityThreshold)
	}
	if cfg.Oracle.Provider != "openai" {
		t.Errorf("default provider = %q, want openai", cfg.Oracle.Provider)
	}
	if cfg.Search.Ranking != "aggregate" {
		t.Errorf("default ranking = %q, want aggregate", cfg.Search.Ranking)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
oracle:
  provider: groq
  generation_model: llama-3.3-70b-versatile
search:
  iterations: 12
  workers: 4
storage:
  postgres:
    host: db.internal
    dbname: ideaforge
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Oracle.Provider != "groq" {
		t.Errorf("provider = %q, want groq", cfg.Oracle.Provider)
	}
	if cfg.Search.Iterations != 12 || cfg.Search.Workers != 4 {
		t.Errorf("search knobs not applied: %+v", cfg.Search)
	}
	// File values merge over defaults rather than replacing the section.
	if cfg.Search.MaxChildren != 5 {
		t.Errorf("max_children = %d, want default 5", cfg.Search.MaxChildren)
	}
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	want := "postgres://:@db.internal:5432/ideaforge?sslmode=disable"
	if dsn != want {
		t.Errorf("dsn = %q, want %q", dsn, want)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad provider":  "oracle:\n  provider: anthropic\n",
		"bad ranking":   "search:\n  ranking: alphabetical\n",
		"bad threshold": "search:\n  quality_threshold: 1.5\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gk-test")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("oracle:\n  provider: groq\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Oracle.APIKey != "gk-test" {
		t.Errorf("api key = %q, want env value", cfg.Oracle.APIKey)
	}
}

func TestPostgresDSNPrefersURL(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@h:5/db", Host: "ignored", DBName: "ignored"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatal(err)
	}
	if dsn != "postgres://u:p@h:5/db" {
		t.Errorf("dsn = %q", dsn)
	}
	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Error("empty postgres config should not produce a DSN")
	}
}
