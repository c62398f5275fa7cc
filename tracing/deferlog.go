package tracing

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/overmindtech/decommission/logging"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type runIDKey struct{}

// ContextWithRunID attaches the decommission run id to ctx so that anything
// reported from deeper down can be tied back to the run
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by ContextWithRunID, or ""
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// RecoverToError recovers from a panic, reports it and stores it in *errp so
// the run fails instead of exiting cleanly. Must be deferred directly. Does
// nothing when there is no panic
func RecoverToError(ctx context.Context, loc string, errp *error) {
	p := recover()
	if p == nil {
		return
	}

	err := HandlePanic(ctx, loc, p, string(debug.Stack()))
	if errp != nil {
		*errp = err
	}
}

// HandlePanic logs a recovered panic and forwards it to sentry and the span in
// ctx, tagged with the run id when there is one
func HandlePanic(ctx context.Context, loc string, p any, stack string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := RunIDFromContext(ctx)

	if hub := sentry.CurrentHub(); hub != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("decom.panic.loc", loc)
			if runID != "" {
				scope.SetTag(logging.FieldRunID, runID)
			}
			hub.Recover(p)
		})
	}

	fields := log.Fields{"loc": loc, "stack": stack}
	if runID != "" {
		fields[logging.FieldRunID] = runID
	}
	msg := fmt.Sprintf("unhandled panic in %v: %v", loc, p)
	log.WithContext(ctx).WithFields(fields).Error(msg)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("decom.panic.loc", loc),
		attribute.String("decom.panic.stack", stack),
	)
	if runID != "" {
		span.SetAttributes(attribute.String("decom.run-id", runID))
	}
	span.SetStatus(codes.Error, msg)

	return fmt.Errorf("panic in %v: %v", loc, p)
}
