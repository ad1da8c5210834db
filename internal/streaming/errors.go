package streaming

import "net/http"

// RejectError describes why a stream request cannot be served. The message is
// safe to surface to clients; Status is the HTTP status the transports map it
// to.
type RejectError struct {
	Kind    string
	Message string
	Status  int
}

func (e *RejectError) Error() string {
	return e.Message
}

// StatusCode implements the transport error contract.
func (e *RejectError) StatusCode() int {
	return e.Status
}

var (
	// ErrUnknownStream rejects stream names outside the mapping table.
	ErrUnknownStream = &RejectError{Kind: "unknown-stream", Message: "Unknown stream type", Status: http.StatusNotFound}
	// ErrMissingTag rejects hashtag streams without a tag parameter.
	ErrMissingTag = &RejectError{Kind: "missing-required-param", Message: "Tag required", Status: http.StatusNotFound}
	// ErrMissingList rejects list streams without a list parameter.
	ErrMissingList = &RejectError{Kind: "missing-required-param", Message: "List required", Status: http.StatusNotFound}
	// ErrListNotAuthorized masks both "not yours" and "does not exist".
	ErrListNotAuthorized = &RejectError{Kind: "list-not-authorized", Message: "Not authorized to stream this list", Status: http.StatusNotFound}
	// ErrAuthenticationRequired rejects anonymous access to owned streams.
	ErrAuthenticationRequired = &RejectError{Kind: "missing-token", Message: "Missing access token", Status: http.StatusUnauthorized}
)
