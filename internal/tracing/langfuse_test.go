package tracing

import "testing"

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	cfg := ConfigFromEnv()
	if cfg.Host != defaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, defaultHost)
	}
	if cfg.Enabled() {
		t.Error("want disabled without a secret key")
	}
}

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	flush, enabled := Setup(Config{})
	if enabled {
		t.Fatal("want disabled for empty config")
	}
	flush()
}
