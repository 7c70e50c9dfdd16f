// Package envconfig centralizes environment-variable configuration via
// lazy accessors (Var/String/Bool helpers wrapping os.Getenv).
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

// Var returns an environment variable stripped of leading/trailing quotes and spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// String returns a lazy string accessor for the given environment variable.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// BoolWithDefault returns a lazy bool accessor for the given environment variable,
// allowing a caller-specified default. If the variable is set but cannot be parsed
// as a bool, the defaultValue is returned.
func BoolWithDefault(key string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return defaultValue
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a lazy bool accessor that defaults to false when the variable is unset.
func Bool(key string) func() bool {
	withDefault := BoolWithDefault(key)
	return func() bool {
		return withDefault(false)
	}
}

// LogLevel reads LOG_LEVEL and returns the corresponding slog.Level.
func LogLevel() slog.Level {
	return logging.ParseLevel(Var("LOG_LEVEL"))
}

// LogFile returns the path LOG_FILE should be written to, if set; an
// empty string means log to stderr only.
func LogFile() string {
	return Var("LOG_FILE")
}

// AllowedOrigins returns the list of CORS-allowed origins. It reads
// LEMONADE_ORIGINS and always appends the default localhost/127.0.0.1
// entries on http and https with wildcard ports.
func AllowedOrigins() (origins []string) {
	if s := Var("LEMONADE_ORIGINS"); s != "" {
		for _, o := range strings.Split(s, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}

	for _, host := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", host),
			fmt.Sprintf("https://%s", host),
			fmt.Sprintf("http://%s", net.JoinHostPort(host, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(host, "*")),
		)
	}

	return origins
}

// Host returns the listen host. Configured via LEMONADE_HOST; defaults
// to "localhost".
func Host() string {
	if s := Var("LEMONADE_HOST"); s != "" {
		return s
	}
	return "localhost"
}

// Port returns the listen port. Configured via LEMONADE_PORT; defaults
// to "8000".
func Port() string {
	if s := Var("LEMONADE_PORT"); s != "" {
		return s
	}
	return "8000"
}

// CacheDir returns the root directory for the artifact cache, installed
// engine binaries, the user catalog, and the instance lock file.
// Configured via LEMONADE_CACHE_DIR; defaults to ~/.cache/lemonade.
func CacheDir() (string, error) {
	if s := Var("LEMONADE_CACHE_DIR"); s != "" {
		return s, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "lemonade"), nil
}

// HFToken returns the bearer token ArtifactFetcher sends to the remote
// hub API, if set. Configured via HF_TOKEN.
func HFToken() string {
	return Var("HF_TOKEN")
}

// Offline is true when LEMONADE_OFFLINE is set to a truthy value;
// ArtifactFetcher then serves only from the local cache.
var Offline = Bool("LEMONADE_OFFLINE")

// LlamaCppServerPath returns the path to the CPU/GPU engine's server
// binary, if already installed outside the managed install root.
// Configured via LLAMACPP_SERVER_PATH.
func LlamaCppServerPath() string {
	return Var("LLAMACPP_SERVER_PATH")
}

// LlamaCppArgs returns custom arguments to pass to the CPU/GPU engine.
// Configured via LLAMACPP_ARGS.
func LlamaCppArgs() string {
	return Var("LLAMACPP_ARGS")
}

// NPUServerPath returns the path to the NPU engine's binary, if already
// installed outside the managed install root. Configured via
// NPU_SERVER_PATH.
func NPUServerPath() string {
	return Var("NPU_SERVER_PATH")
}

// DefaultKeepAlive returns the KEEP_ALIVE duration string used when a
// load request doesn't specify one. Configured via LEMONADE_KEEP_ALIVE.
func DefaultKeepAlive() string {
	return Var("LEMONADE_KEEP_ALIVE")
}

// EnvVar describes a single environment variable with its current value
// and a human-readable description.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns a map of all gateway environment variables with their
// current values and descriptions. Useful for `/api/v1/system-info` and
// introspection.
func AsMap() map[string]EnvVar {
	cacheDir, _ := CacheDir()
	return map[string]EnvVar{
		"LEMONADE_HOST":       {"LEMONADE_HOST", Host(), "Listen host (default: localhost)"},
		"LEMONADE_PORT":       {"LEMONADE_PORT", Port(), "Listen port (default: 8000)"},
		"LEMONADE_CACHE_DIR":  {"LEMONADE_CACHE_DIR", cacheDir, "Root directory for the artifact cache and installed engines"},
		"LEMONADE_ORIGINS":    {"LEMONADE_ORIGINS", AllowedOrigins(), "Comma-separated CORS allowed origins (defaults plus any env-provided origins)"},
		"LEMONADE_OFFLINE":    {"LEMONADE_OFFLINE", Offline(), "Serve only from the local cache; skip all network calls"},
		"LEMONADE_KEEP_ALIVE": {"LEMONADE_KEEP_ALIVE", DefaultKeepAlive(), "Default keep_alive duration for loaded models"},
		"HF_TOKEN":            {"HF_TOKEN", HFToken() != "", "Whether a hub bearer token is configured"},
		"LLAMACPP_SERVER_PATH": {"LLAMACPP_SERVER_PATH", LlamaCppServerPath(), "Path to the CPU/GPU engine server binary"},
		"LLAMACPP_ARGS":       {"LLAMACPP_ARGS", LlamaCppArgs(), "Extra arguments passed to the CPU/GPU engine"},
		"NPU_SERVER_PATH":     {"NPU_SERVER_PATH", NPUServerPath(), "Path to the NPU engine binary"},
		"LOG_LEVEL":           {"LOG_LEVEL", LogLevel(), "Log verbosity: debug, info, warn, error (default: info)"},
		"LOG_FILE":            {"LOG_FILE", LogFile(), "Optional log file path (default: stderr only)"},
	}
}
