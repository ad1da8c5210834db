package auth

import "net/http"

// Error is an authentication failure with the HTTP status the transports
// surface it as.
type Error struct {
	Kind    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

// StatusCode implements the transport error contract.
func (e *Error) StatusCode() int {
	return e.Status
}

var (
	ErrMissingToken      = &Error{Kind: "missing-token", Message: "Missing access token", Status: http.StatusUnauthorized}
	ErrInvalidToken      = &Error{Kind: "invalid-token", Message: "Invalid access token", Status: http.StatusUnauthorized}
	ErrInsufficientScope = &Error{Kind: "insufficient-scope", Message: "Access token does not cover required scopes", Status: http.StatusUnauthorized}
)
