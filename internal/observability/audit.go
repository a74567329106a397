package observability

import (
	"context"
	"log/slog"
)

// Audit writes a security event. Callers pass identifiers only, never secrets,
// tokens or hashes.
func Audit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	base := make([]any, 0, len(attrs)+2)
	base = append(base, "event", event)
	base = append(base, attrs...)
	logger.InfoContext(ctx, "audit", base...)
}
