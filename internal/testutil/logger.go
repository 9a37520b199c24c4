package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output.
// Components using log.Logger (an alias for *slog.Logger) can use
// log.NewNop() directly; this exists for call sites that import
// testutil anyway.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
