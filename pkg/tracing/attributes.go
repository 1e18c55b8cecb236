package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys used across the gateway.
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPHost       = "http.host"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPRequestID  = "http.request_id"

	AttrOSMMode       = "osm.query.mode"
	AttrOSMCategories = "osm.query.categories"
	AttrOSMBBox       = "osm.query.bbox"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// RequestAttributes describes an incoming HTTP request. The query string is
// deliberately absent; it can carry Bhuvan tokens.
func RequestAttributes(method, path, requestID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.String(AttrHTTPRequestID, requestID),
	}
}

// ErrorAttributes describes err for span annotation; nil yields nothing.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
