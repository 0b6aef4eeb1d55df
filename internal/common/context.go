package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRunID   contextKey = "run_id"
	ContextKeyFamily  contextKey = "family"
	ContextKeyDocID   contextKey = "doc_id"
	ContextKeyTrigger contextKey = "trigger"
)

// WithRunID adds an OCR run token to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext extracts the OCR run token from context
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return v
	}
	return ""
}

// WithDocument tags the context with the family and id of the document being processed.
func WithDocument(ctx context.Context, family, docID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyFamily, family)
	return context.WithValue(ctx, ContextKeyDocID, docID)
}

// DocumentFromContext returns the family and id stored by WithDocument.
func DocumentFromContext(ctx context.Context) (family, docID string) {
	family, _ = ctx.Value(ContextKeyFamily).(string)
	docID, _ = ctx.Value(ContextKeyDocID).(string)
	return family, docID
}

// WithTrigger records who asked for the work ("poller" or "backfill").
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, ContextKeyTrigger, trigger)
}

// TriggerFromContext returns the trigger stored by WithTrigger.
func TriggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyTrigger).(string); ok {
		return v
	}
	return ""
}

// LoggerWith decorates logger with whatever document attributes ctx carries.
func LoggerWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	family, docID := DocumentFromContext(ctx)
	if family != "" {
		logger = logger.With("family", family)
	}
	if docID != "" {
		logger = logger.With("doc_id", docID)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	if trigger := TriggerFromContext(ctx); trigger != "" {
		logger = logger.With("trigger", trigger)
	}
	return logger
}
