// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth client library.
//
// Instrumentation is optional. When disabled (or when no Instrumentation is
// configured at all), no-op providers are used and the overhead is zero.
//
// Meters and tracers are scoped per layer:
//
//	inst, _ := instrumentation.New(instrumentation.Config{
//		ServiceName: "my-agent",
//		Enabled:     true,
//	})
//	tracer := inst.Tracer("client")
//	meter := inst.Meter("storage")
//
// The Metrics holder exposes pre-built instruments for the authorization
// flow, DPoP proof generation, security gates, and storage operations.
package instrumentation
