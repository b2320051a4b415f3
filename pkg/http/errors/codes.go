package errors

// Error codes for standardized error responses
const (
	// Authentication errors
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeForbidden              = "forbidden"
	ErrCodeInvalidToken           = "invalid_token"
	ErrCodeAuthenticationRequired = "authentication_required"

	// Validation errors
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeMissingField   = "missing_field"

	// Resource errors
	ErrCodeNotFound = "not_found"

	// Queue / reservation errors
	ErrCodeEnqueueFailed          = "enqueue_failed"
	ErrCodeDequeueFailed          = "dequeue_failed"
	ErrCodeNotQueued              = "not_queued"
	ErrCodeReservationNotFound    = "reservation_not_found"
	ErrCodeReservationConsumeFail = "reservation_consume_failed"

	// Match errors
	ErrCodeMatchNotFound       = "match_not_found"
	ErrCodeMatchCreationFailed = "match_creation_failed"
	ErrCodeNoProblemFound      = "no_problem_found"

	// Stats errors
	ErrCodeStatsFetchFailed = "stats_fetch_failed"

	// Rate limiting
	ErrCodeRateLimited = "rate_limited"

	// Server errors
	ErrCodeInternalError  = "internal_error"
	ErrCodeUpstreamError  = "upstream_error"
	ErrCodeNotImplemented = "not_implemented"
)
