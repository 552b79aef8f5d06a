// Package telemetry provides OpenTelemetry tracing and metrics for askd.
//
// Spans and instruments are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. Components create their own tracers and meters by scope name:
//
//	tel, err := telemetry.New(ctx, &cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("askd.react")
//	ctx, span := tracer.Start(ctx, "react.run")
//	defer span.End()
//
// When telemetry is disabled the global no-op providers are returned, so
// components never need nil checks. Tests use NewTestTelemetry, which records
// spans in memory and collects metrics through a ManualReader.
package telemetry
