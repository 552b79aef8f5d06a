// Package logging builds the process zap logger.
//
// Outputs (stdout, stderr, OpenTelemetry via otelzap) are teed. Sensitive
// fields are scrubbed per output, and entries below Error are sampled. A
// Trace level sits below Debug for raw model output.
//
// Correlation ids travel in the context and are attached with For:
//
//	ctx = logging.WithTurnID(ctx, turn.ID)
//	logging.For(ctx, logger).Info("turn complete")
package logging
