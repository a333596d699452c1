package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put secrets (CSRF tokens, bearer tokens, the master
// passphrase, HMAC keys) in traces or metrics. Only record metadata such as
// action names, limit types and validation results.
const (
	// Request attributes
	AttrActorID   = "menuguard.actor_id"
	AttrAction    = "menuguard.action"
	AttrItemID    = "menuguard.item_id"
	AttrMasterKey = "menuguard.master_key" // Whether the master passphrase authorized the request
	AttrResult    = "menuguard.result"
	AttrErrorKind = "menuguard.error_kind"

	// Rate limiting attributes
	AttrLimitType  = "ratelimit.type"
	AttrAllowed    = "ratelimit.allowed"
	AttrRemaining  = "ratelimit.remaining"
	AttrRetryAfter = "ratelimit.retry_after"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrClientIP        = "security.client_ip"
	AttrAuditAction     = "security.audit.action"
	AttrThreatCount     = "security.threat_count"
	AttrValidationCount = "security.validation_error_count"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddRateLimitAttributes adds the outcome of a rate limit check to a span (nil-safe)
func AddRateLimitAttributes(span trace.Span, limitType string, allowed bool, remaining, retryAfter int) {
	SetSpanAttributes(span,
		attribute.String(AttrLimitType, limitType),
		attribute.Bool(AttrAllowed, allowed),
		attribute.Int(AttrRemaining, remaining),
		attribute.Int(AttrRetryAfter, retryAfter),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe)
//
// PRIVACY NOTE: Client IP addresses may be considered PII. Check
// Instrumentation.ShouldLogClientIPs() before calling this.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
