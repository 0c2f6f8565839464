package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the enrichment job ID
	FieldJobID = "job_id"

	// FieldItemID is the enrichment queue item ID
	FieldItemID = "item_id"

	// FieldRunID is the link health run ID
	FieldRunID = "run_id"

	// FieldResourceID is the catalog resource ID
	FieldResourceID = "resource_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldSize       = "size"
	FieldCount      = "count"
	FieldAttempt    = "attempt"
	FieldStatus     = "status"
)
