package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for menuguard
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Orchestration Metrics
	MenuMutations      metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ThreatsDetected    metric.Int64Counter
	CSRFTokensIssued   metric.Int64Counter
	CSRFVerifications  metric.Int64Counter
	SignIns            metric.Int64Counter

	// Rate Limiting Metrics
	RateLimitChecks   metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
	ThrottleRejected  metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal   metric.Int64Counter
	AuditWriteFailures metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageRateWindows       metric.Int64ObservableGauge
	StorageAuditEvents       metric.Int64ObservableGauge
	StorageMenuItems         metric.Int64ObservableGauge
	StorageSessions          metric.Int64ObservableGauge
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "menuguard.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.MenuMutations, serverMeter, "menuguard.menu.mutations", "Number of menu mutations by action and result", "{mutation}"},
		{&m.ValidationFailures, serverMeter, "menuguard.validation.failures", "Number of rejected menu item payloads", "{failure}"},
		{&m.ThreatsDetected, securityMeter, "menuguard.threats.detected", "Number of injection signatures matched in input", "{threat}"},
		{&m.CSRFTokensIssued, securityMeter, "menuguard.csrf.issued", "Number of CSRF tokens issued", "{token}"},
		{&m.CSRFVerifications, securityMeter, "menuguard.csrf.verifications", "Number of CSRF token verifications by result", "{verification}"},
		{&m.SignIns, serverMeter, "menuguard.signin.attempts", "Number of sign-in attempts by result", "{attempt}"},
		{&m.RateLimitChecks, securityMeter, "menuguard.ratelimit.checks", "Number of sliding-window rate limit checks", "{check}"},
		{&m.RateLimitExceeded, securityMeter, "menuguard.ratelimit.exceeded", "Number of requests denied by a rate limit", "{request}"},
		{&m.ThrottleRejected, securityMeter, "menuguard.throttle.rejected", "Number of requests rejected by the per-IP throttle", "{request}"},
		{&m.AuditEventsTotal, securityMeter, "menuguard.audit.events", "Number of audit events recorded", "{event}"},
		{&m.AuditWriteFailures, securityMeter, "menuguard.audit.write_failures", "Number of audit events that could not be stored", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "menuguard.storage.operations.total", "Total number of storage operations", "{operation}"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = c.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"menuguard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"menuguard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []struct {
		target      *metric.Int64ObservableGauge
		name        string
		description string
	}{
		{&m.StorageRateWindows, "menuguard.storage.rate_windows", "Number of stored rate limit windows"},
		{&m.StorageAuditEvents, "menuguard.storage.audit_events", "Number of live audit events"},
		{&m.StorageMenuItems, "menuguard.storage.menu_items", "Number of menu items"},
		{&m.StorageSessions, "menuguard.storage.sessions", "Number of active sessions"},
	}
	for _, g := range gauges {
		*g.target, err = storageMeter.Int64ObservableGauge(
			g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordMenuMutation records a menu mutation attempt and its outcome
func (m *Metrics) RecordMenuMutation(ctx context.Context, action, result string) {
	m.MenuMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	))
}

// RecordValidationFailure records a rejected menu item payload
func (m *Metrics) RecordValidationFailure(ctx context.Context, errorCount int) {
	m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("error_count", errorCount),
	))
}

// RecordThreatDetected records a matched injection signature
func (m *Metrics) RecordThreatDetected(ctx context.Context, threatType string) {
	m.ThreatsDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", threatType),
	))
}

// RecordCSRFTokenIssued records a CSRF token issuance
func (m *Metrics) RecordCSRFTokenIssued(ctx context.Context) {
	m.CSRFTokensIssued.Add(ctx, 1)
}

// RecordCSRFVerification records the outcome of a CSRF token check
func (m *Metrics) RecordCSRFVerification(ctx context.Context, valid bool) {
	m.CSRFVerifications.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("valid", valid),
	))
}

// RecordSignIn records a sign-in attempt
func (m *Metrics) RecordSignIn(ctx context.Context, result string) {
	m.SignIns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordRateLimitCheck records a sliding-window check
func (m *Metrics) RecordRateLimitCheck(ctx context.Context, limitType string, allowed bool) {
	m.RateLimitChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limit_type", limitType),
		attribute.Bool("allowed", allowed),
	))
	if !allowed {
		m.RecordRateLimitExceeded(ctx, limitType)
	}
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limitType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limit_type", limitType),
	))
}

// RecordThrottleRejected records a request rejected by the per-IP throttle
func (m *Metrics) RecordThrottleRejected(ctx context.Context, endpoint string) {
	m.ThrottleRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, action string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordAuditWriteFailure records an audit event that could not be stored
func (m *Metrics) RecordAuditWriteFailure(ctx context.Context, action string) {
	m.AuditWriteFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
