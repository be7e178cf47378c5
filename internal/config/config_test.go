package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/54b3r/cograg-go/internal/logging"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  base_url: https://my-resource.openai.azure.com
  max_tokens: 8192
  temperature: 0.3
  azure:
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
  batch_size: 32
qdrant:
  host: qdrant.internal
  port: 6334
  collection_prefix: kb_
chunking:
  parent_size: 2000
  child_size: 400
  strip_urls: true
retrieval:
  score_threshold: 0.45
  doc_routing: true
worker:
  concurrency: 4
store:
  db_path: /var/lib/cograg/cograg.db
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_BASE_URL", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_BATCH_SIZE",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION_PREFIX",
		"CHUNK_PARENT_SIZE", "CHUNK_CHILD_SIZE", "CHUNK_STRIP_URLS",
		"RETRIEVAL_SCORE_THRESHOLD", "RETRIEVAL_DOC_ROUTING",
		"WORKER_CONCURRENCY", "COGRAG_DB",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	loaded, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":            "azure",
		"MODEL_BASE_URL":            "https://my-resource.openai.azure.com",
		"MODEL_MAX_TOKENS":          "8192",
		"MODEL_TEMPERATURE":         "0.3",
		"AZURE_DEPLOYMENT":          "gpt-4o",
		"AZURE_OPENAI_API_VERSION":  "2025-04-01-preview",
		"EMBEDDING_PROVIDER":        "ollama",
		"EMBEDDING_MODEL":           "nomic-embed-text",
		"EMBEDDING_BATCH_SIZE":      "32",
		"QDRANT_HOST":               "qdrant.internal",
		"QDRANT_PORT":               "6334",
		"QDRANT_COLLECTION_PREFIX":  "kb_",
		"CHUNK_PARENT_SIZE":         "2000",
		"CHUNK_CHILD_SIZE":          "400",
		"CHUNK_STRIP_URLS":          "true",
		"RETRIEVAL_SCORE_THRESHOLD": "0.45",
		"RETRIEVAL_DOC_ROUTING":     "true",
		"WORKER_CONCURRENCY":        "4",
		"COGRAG_DB":                 "/var/lib/cograg/cograg.db",
		"LOG_LEVEL":                 "debug",
		"LOG_FORMAT":                "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, logging.Discard()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COGRAG_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath: got %q, want %q", got, cfgPath)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("COGRAG_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("COGRAG_TEST_DOTENV", "")
	os.Unsetenv("COGRAG_TEST_DOTENV")

	if err := LoadDotEnv(logging.Discard()); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("COGRAG_TEST_DOTENV"); got != "from-file" {
		t.Errorf("COGRAG_TEST_DOTENV: got %q, want %q", got, "from-file")
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := LoadDotEnv(logging.Discard()); err != nil {
		t.Fatalf("missing .env should not be an error, got %v", err)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{0.45, "0.45"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CFG_T_STR", "hello")
	t.Setenv("CFG_T_INT", " 42 ")
	t.Setenv("CFG_T_BAD_INT", "forty")
	t.Setenv("CFG_T_FLOAT", "0.35")
	t.Setenv("CFG_T_BOOL", "true")
	t.Setenv("CFG_T_DUR", "1500ms")

	if got := String("CFG_T_STR", "x"); got != "hello" {
		t.Errorf("String: got %q", got)
	}
	if got := String("CFG_T_UNSET", "x"); got != "x" {
		t.Errorf("String fallback: got %q", got)
	}
	if got := Int("CFG_T_INT", 1); got != 42 {
		t.Errorf("Int: got %d", got)
	}
	if got := Int("CFG_T_BAD_INT", 7); got != 7 {
		t.Errorf("Int fallback on parse error: got %d", got)
	}
	if got := Float32("CFG_T_FLOAT", 0); got != float32(0.35) {
		t.Errorf("Float32: got %v", got)
	}
	if got := Float64("CFG_T_FLOAT", 0); got != 0.35 {
		t.Errorf("Float64: got %v", got)
	}
	if got := Bool("CFG_T_BOOL", false); !got {
		t.Error("Bool: got false")
	}
	if got := Duration("CFG_T_DUR", time.Second); got != 1500*time.Millisecond {
		t.Errorf("Duration: got %v", got)
	}
}
