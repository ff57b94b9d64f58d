package streaming

import (
	"context"
	"log/slog"

	"github.com/alphacourse/backend/internal/logging"
)

// LogAuditor writes one structured line per granted segment access.
type LogAuditor struct{}

// RecordAccess implements Auditor.
func (LogAuditor) RecordAccess(ctx context.Context, rec AccessRecord) {
	logging.FromContext(ctx).Info("video access",
		slog.String("username", rec.Username),
		slog.Int64("userId", rec.UserID),
		slog.Int("segment", rec.Segment),
		slog.String("media", rec.Media),
		slog.String("watermark", rec.Watermark),
		slog.Time("at", rec.At),
	)
}
