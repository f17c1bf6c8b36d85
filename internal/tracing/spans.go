package tracing

// Span attribute keys used by the state tracker and control plane.
// These define the semantic conventions for span attributes emitted
// by the detection pipeline.
const (
	// Task attributes
	AttrTaskID    = "task.id"
	AttrTaskAgent = "task.agent"

	// Transition attributes
	AttrFromState       = "transition.from"
	AttrToState         = "transition.to"
	AttrDetectionMethod = "transition.detection_method"
	AttrConfidence      = "transition.confidence"
	AttrDetectionSource = "transition.source"

	// Detection event attributes
	AttrEventKind = "event.kind"
	AttrEventID   = "event.id"

	// Control plane HTTP attributes
	AttrHTTPRoute  = "http.route"
	AttrHTTPMethod = "http.method"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// SpanKind constants for categorizing span types.
const (
	SpanKindTask       = "task"
	SpanKindTransition = "transition"
	SpanKindHTTP       = "http"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixTask       = "tallr.task."
	SpanPrefixTransition = "tallr.state_transition"
	SpanPrefixHTTP       = "tallr.api."
)

// Event names for span events.
const (
	EventDetectionAccepted = "detection.accepted"
	EventDetectionRejected = "detection.rejected"
	EventDebounceScheduled = "debounce.scheduled"
	EventDebounceCancelled = "debounce.cancelled"
	EventErrorOccurred     = "error.occurred"
)
