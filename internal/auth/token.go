package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest extracts the bearer token from a streaming request. Order:
// Authorization header, access_token query parameter, then the
// Sec-WebSocket-Protocol header used by browser WebSocket clients that cannot
// set arbitrary headers.
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("Sec-WebSocket-Protocol"))
}
