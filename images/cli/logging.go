package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// NewLogger returns a text logger writing to w at level,
// one of debug, info, warn or error.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	const errCtx = "creating logger"

	var lvl slog.Level
	if err := lvl.UnmarshalText(
		[]byte(strings.TrimSpace(level)),
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}),
	), nil
}
