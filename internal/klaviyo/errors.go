package klaviyo

import "fmt"

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// ShapeError reports an aggregate-query response that does not match the expected
// structure. Payload carries the offending JSON as received.
type ShapeError struct {
	MetricID string
	Reason   string
	Payload  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected aggregate response shape for metric %s: %s: %s", e.MetricID, e.Reason, e.Payload)
}
