package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
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
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: my-docs
pipeline:
  chunk_size: 1200
  relevance_threshold: 0.65
store:
  db_path: /var/lib/studyai/studyai.db
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"CHUNK_SIZE", "RELEVANCE_THRESHOLD", "STUDYAI_DB",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"QDRANT_HOST":              "qdrant.internal",
		"QDRANT_PORT":              "6334",
		"QDRANT_COLLECTION":        "my-docs",
		"CHUNK_SIZE":               "1200",
		"RELEVANCE_THRESHOLD":      "0.65",
		"STUDYAI_DB":               "/var/lib/studyai/studyai.db",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
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

	// Set env var before loading; it must not be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
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

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.65, "0.65"},
		{1.0, "1"},
		{float64(float32(0.3)), "0.3"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("STUDYAI_TEST_STR", "x")
	t.Setenv("STUDYAI_TEST_INT", "42")
	t.Setenv("STUDYAI_TEST_BAD_INT", "forty")
	t.Setenv("STUDYAI_TEST_FLOAT", "0.75")
	t.Setenv("STUDYAI_TEST_DUR", "90s")
	t.Setenv("STUDYAI_TEST_BOOL", "true")

	if got := EnvString("STUDYAI_TEST_STR", "y"); got != "x" {
		t.Errorf("EnvString = %q", got)
	}
	if got := EnvString("STUDYAI_TEST_UNSET", "y"); got != "y" {
		t.Errorf("EnvString fallback = %q", got)
	}
	if got := EnvInt("STUDYAI_TEST_INT", 1); got != 42 {
		t.Errorf("EnvInt = %d", got)
	}
	if got := EnvInt("STUDYAI_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("EnvInt unparseable = %d, want fallback", got)
	}
	if got := EnvFloat("STUDYAI_TEST_FLOAT", 0); got != 0.75 {
		t.Errorf("EnvFloat = %v", got)
	}
	if got := EnvDuration("STUDYAI_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("EnvDuration = %v", got)
	}
	if !EnvBool("STUDYAI_TEST_BOOL") || EnvBool("STUDYAI_TEST_UNSET") {
		t.Error("EnvBool mismatch")
	}
}

func TestLoad_StudyPolicy(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
pipeline:
  levels:
    - {min: 85, level: excellent}
    - {min: 60, level: good}
    - {min: 0, level: needs_improvement}
  priorities:
    needs_improvement: high
    good: medium
    excellent: low
  review_offsets:
    high: 24h
    low: 336h
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"SCORE_LEVELS", "LEVEL_PRIORITIES", "REVIEW_OFFSETS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := map[string]string{
		"SCORE_LEVELS":     "85:excellent,60:good,0:needs_improvement",
		"LEVEL_PRIORITIES": "excellent:low,good:medium,needs_improvement:high",
		"REVIEW_OFFSETS":   "high:24h,low:336h",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}

	levels, err := EnvPairs("SCORE_LEVELS")
	if err != nil {
		t.Fatalf("EnvPairs: %v", err)
	}
	want := []Pair{{"85", "excellent"}, {"60", "good"}, {"0", "needs_improvement"}}
	if len(levels) != len(want) {
		t.Fatalf("EnvPairs returned %d pairs, want %d", len(levels), len(want))
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("pair %d: got %+v, want %+v", i, levels[i], want[i])
		}
	}
}

func TestEnvPairs(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{"unset", "", 0, false},
		{"single", "high:48h", 1, false},
		{"spaces", " high : 48h , low:7d ", 2, false},
		{"missing colon", "high", 0, true},
		{"empty value", "high:", 0, true},
		{"empty key", ":48h", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STUDYAI_TEST_PAIRS", tt.value)
			got, err := EnvPairs("STUDYAI_TEST_PAIRS")
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnvPairs(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("EnvPairs(%q) returned %d pairs, want %d", tt.value, len(got), tt.want)
			}
		})
	}
}
