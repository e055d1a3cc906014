// Package logutil - Logging-Hilfen
//
// Dieses Modul enthaelt:
// - LevelTrace: Log-Level unterhalb von DEBUG (NNHOST_DEBUG=2)
// - NewLogger: Text-Logger mit kurzem Quellpfad
// - Trace/TraceContext: Logging auf TRACE-Level
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

// LevelTrace liegt eine Stufe unter slog.LevelDebug.
const LevelTrace slog.Level = -8

// NewLogger erstellt einen Text-Logger, der TRACE als Level-Namen ausgibt
// und nur den Dateinamen der Quelle anzeigt.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if level, ok := attr.Value.Any().(slog.Level); ok && level == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	}))
}

// Trace loggt msg auf TRACE-Level ueber den Default-Logger.
func Trace(msg string, args ...any) {
	TraceContext(context.TODO(), msg, args...)
}

// TraceContext loggt msg auf TRACE-Level mit ctx.
func TraceContext(ctx context.Context, msg string, args ...any) {
	if logger := slog.Default(); logger.Enabled(ctx, LevelTrace) {
		logger.Log(ctx, LevelTrace, msg, args...)
	}
}
