package handlers

// Codes carried by ErrorResponse. Clients branch on these rather than on
// message text.
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)
