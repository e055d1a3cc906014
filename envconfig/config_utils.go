// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - Preload/NoProgress: weitere Variablen
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Weitere Variablen
// =============================================================================

var (
	// Preload bindet Aliase an Artefakte im Format alias:ENCODING:TARGET:pfad
	Preload = String("NNHOST_PRELOAD")

	// NoProgress unterdrueckt Fortschrittsbalken der CLI
	NoProgress = Bool("NNHOST_NOPROGRESS")
)

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"NNHOST_DEBUG":        {"NNHOST_DEBUG", LogLevel(), "Show additional debug information (e.g. NNHOST_DEBUG=1)"},
		"NNHOST_HOST":         {"NNHOST_HOST", Host(), "IP Address for the nnhost server (default 127.0.0.1:11500)"},
		"NNHOST_LOAD_TIMEOUT": {"NNHOST_LOAD_TIMEOUT", LoadTimeout(), "How long to allow graph loads to run before giving up (default \"5m\")"},
		"NNHOST_MODELS":       {"NNHOST_MODELS", Models(), "The path to the models directory"},
		"NNHOST_NOPROGRESS":   {"NNHOST_NOPROGRESS", NoProgress(), "Do not show progress bars"},
		"NNHOST_NUM_THREADS":  {"NNHOST_NUM_THREADS", NumThreads(), "Number of CPU threads used to load and run graphs"},
		"NNHOST_ORIGINS":      {"NNHOST_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"NNHOST_PRELOAD":      {"NNHOST_PRELOAD", Preload(), "Comma separated graph aliases (alias:ENCODING:TARGET:path)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
