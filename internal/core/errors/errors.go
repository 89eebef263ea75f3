package errors

// Kind classifies why a sync run failed.
type Kind string

const (
	KindTransport Kind = "transport" // HTTP, status or decode failure talking to the metrics API
	KindShape     Kind = "shape"     // aggregate response did not have the expected structure
	KindWarehouse Kind = "warehouse" // a reconcile step failed
	KindCanceled  Kind = "canceled"
)

const (
	HttpSyncFailed = "sync_failed"
	HttpNoRunYet   = "no_run_yet"
)

// ErrorResponse is the JSON error body of the status endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
