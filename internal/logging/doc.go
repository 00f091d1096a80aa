// Package logging wraps zap for feedbackd.
//
// Logger methods take a context and prepend its correlation fields to every
// entry: trace_id and span_id from the active OpenTelemetry span, request.id
// set by the HTTP layer, and job.run_id set while a training run executes.
//
//	ctx = logging.WithRunID(ctx, job.RunID)
//	logger.Info(ctx, "phase complete", zap.String("phase", "correlation"))
//
// Output goes to stdout (json or console), to an OpenTelemetry log provider
// through the otelzap bridge, or both. A custom Trace level sits below Debug.
//
// Components that take a *zap.Logger directly receive Logger.Underlying().
// Tests use NewTestLogger and its Assert helpers.
package logging
