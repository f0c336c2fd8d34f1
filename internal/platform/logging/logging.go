// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package logging centralizes the structured JSON logger setup shared by every
zero-sync binary.

It generalizes the inline slog wiring that used to live in cmd/api/main.go so
that both the server (cmd/zero-cache) and the client driver (cmd/zero-client)
start from the same conventions: JSON output, a fixed "component" field, and
a debug-level override.
*/
package logging

import (
	"log/slog"
	"os"
)

// New builds a JSON [slog.Logger] tagged with component, and installs it as
// the process default so library code that calls slog.Default() picks it up.
func New(component string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	log := slog.New(handler).With(slog.String("component", component))
	slog.SetDefault(log)
	return log
}
