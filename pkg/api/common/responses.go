package common

// ErrorResponse is the error body returned by every service endpoint.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic acknowledgement body.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ValidationErrorResponse is returned with HTTP 400 when input fails schema validation.
// Details maps a field name to a human-readable message.
type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	// MsgValidationFailed is the top-level message of every ValidationErrorResponse.
	MsgValidationFailed = "Validation failed"
	// MsgInternalError is returned for unexpected failures; details are only logged.
	MsgInternalError = "Internal server error"
)
