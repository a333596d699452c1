// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for menuguard.
//
// Metrics cover every layer of the request pipeline:
//
// HTTP Layer:
//   - menuguard.http.requests.total: requests by method, endpoint and status
//   - menuguard.http.request.duration: request duration in milliseconds
//
// Orchestration:
//   - menuguard.menu.mutations: menu mutations by action and result
//   - menuguard.validation.failures: rejected menu payloads
//   - menuguard.signin.attempts: sign-in attempts by result
//
// Security:
//   - menuguard.ratelimit.checks / menuguard.ratelimit.exceeded: sliding-window decisions
//   - menuguard.throttle.rejected: requests rejected by the per-IP throttle
//   - menuguard.threats.detected: SQL injection and XSS signatures matched in input
//   - menuguard.csrf.issued / menuguard.csrf.verifications
//   - menuguard.audit.events / menuguard.audit.write_failures
//
// Storage:
//   - menuguard.storage.operations.total and menuguard.storage.operation.duration
//   - gauges for stored rate windows, audit events, menu items and sessions
//
// # Prometheus
//
// Metrics are exported through the OpenTelemetry Prometheus exporter into a
// dedicated registry:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// When Enabled is false every provider is a no-op and recording costs nothing.
package instrumentation
