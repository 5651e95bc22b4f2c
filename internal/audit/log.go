package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogSink writes each entry as one structured log line.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink that logs through l.
func NewLogSink(l *zap.Logger) *LogSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSink{log: l.With(zap.String("type", "audit"))}
}

// AppendAuditLog implements Sink.
func (s *LogSink) AppendAuditLog(_ context.Context, e Entry) error {
	fields := []zap.Field{
		zap.String("id", e.ID),
		zap.String("store_id", e.StoreID),
		zap.String("user_id", e.UserID),
		zap.String("request_id", e.RequestID),
		zap.String("action", e.Action),
		zap.String("resource", e.Resource),
		zap.String("status", string(e.Status)),
		zap.Int64("duration_ms", e.DurationMs),
		zap.Any("metadata", e.Metadata),
	}
	if e.IPAddress != "" {
		fields = append(fields, zap.String("ip_address", e.IPAddress))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	if e.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", e.ErrorMessage))
	}
	s.log.Info("audit", fields...)
	return nil
}

// Tee fans an entry out to several sinks and joins their errors.
type Tee []Sink

// AppendAuditLog implements Sink.
func (t Tee) AppendAuditLog(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range t {
		if err := s.AppendAuditLog(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
