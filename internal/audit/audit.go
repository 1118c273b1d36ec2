// Package audit provides a structured audit logger for CLI command invocations.
// It logs the command name, the config file, and a sanitised view of the
// environment so operators can trace a run without exposing secrets.
//
// Secrets are logged as "set" or "unset", never their values. URLs that may
// carry credentials are logged with the userinfo stripped.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

// redaction controls how an env var value appears in the audit log.
type redaction int

const (
	// plain values are logged as-is.
	plain redaction = iota
	// secret values are reduced to presence.
	secret
	// credURL values are logged without userinfo.
	credURL
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	key  string
	mode redaction
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", plain},
	{"OLLAMA_HOST", plain},
	{"OLLAMA_MODEL", plain},
	{"OPENAI_API_KEY", secret},
	{"OPENAI_MODEL", plain},
	{"AZURE_OPENAI_API_KEY", secret},
	{"AZURE_OPENAI_ENDPOINT", plain},
	{"AZURE_OPENAI_DEPLOYMENT", plain},
	{"GOOGLE_API_KEY", secret},
	{"GEMINI_MODEL", plain},
	{"AWS_REGION", plain},
	{"BEDROCK_MODEL_ID", plain},
	{"EMBEDDING_PROVIDER", plain},
	{"EMBEDDING_MODEL", plain},
	{"EMBEDDING_API_KEY", secret},
	{"REDIS_URL", credURL},
	{"INDEX_BACKEND", plain},
	{"QDRANT_HOST", plain},
	{"QDRANT_PORT", plain},
	{"QDRANT_COLLECTION", plain},
	{"QDRANT_API_KEY", secret},
	{"STUDYAI_API_KEY", secret},
	{"STUDYAI_DB", plain},
	{"LOG_LEVEL", plain},
	{"LOG_FORMAT", plain},
	{"LANGFUSE_PUBLIC_KEY", secret},
	{"LANGFUSE_SECRET_KEY", secret},
	{"AWS_SECRET_ACCESS_KEY", secret},
	{"AWS_SESSION_TOKEN", secret},
}

// modes indexes auditKeys by name for SanitiseKey.
var modes = func() map[string]redaction {
	m := make(map[string]redaction, len(auditKeys))
	for _, e := range auditKeys {
		m[e.key] = e.mode
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, sanitise(e.mode, os.Getenv(e.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// LogCommandEnd records how a command finished.
func LogCommandEnd(log *slog.Logger, command string, elapsed time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.Duration("elapsed", elapsed),
	}
	level := slog.LevelInfo
	outcome := "ok"
	if err != nil {
		level = slog.LevelError
		outcome = "error"
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	attrs = append(attrs, slog.String("outcome", outcome))
	log.LogAttrs(context.Background(), level, "audit: command end", attrs...)
}

// SanitiseKey returns the loggable form of value for the env var key.
// Unknown keys are logged as-is.
func SanitiseKey(key, value string) string {
	return sanitise(modes[key], value)
}

func sanitise(mode redaction, v string) string {
	switch mode {
	case secret:
		return presence(v)
	case credURL:
		return stripUserinfo(v)
	default:
		return valOrUnset(v)
	}
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// stripUserinfo drops credentials from a URL. Unparseable values are
// reduced to presence.
func stripUserinfo(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return presence(v)
	}
	u.User = nil
	return u.String()
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
