package models

import (
	"strconv"
	"strings"
)

// OAuth scopes the gateway cares about. Tokens carry a space-separated scope
// string; only the read family matters for streaming.
const (
	ScopeRead              = "read"
	ScopeReadStatuses      = "read:statuses"
	ScopeReadNotifications = "read:notifications"
)

// Account is the viewer identity attached to a streaming request after token
// resolution. A nil *Account means the request is anonymous.
type Account struct {
	ID              int64
	ChosenLanguages []string
	Scopes          []string
	DeviceID        int64
}

// AccountID returns the decimal string form used inside channel names.
func (a *Account) AccountID() string {
	return strconv.FormatInt(a.ID, 10)
}

// HasDevice reports whether the token was issued to an end-to-end encryption
// capable device, which carries its own timeline channel.
func (a *Account) HasDevice() bool {
	return a.DeviceID != 0
}

// DeviceIDString returns the decimal string form of the device identifier.
func (a *Account) DeviceIDString() string {
	return strconv.FormatInt(a.DeviceID, 10)
}

// AllowsNotifications reports whether the granted scopes permit delivery of
// notification events.
func (a *Account) AllowsNotifications() bool {
	if a == nil {
		return false
	}
	return a.HasAnyScope(ScopeRead, ScopeReadNotifications)
}

// HasAnyScope reports whether the account was granted at least one of the
// wanted scopes.
func (a *Account) HasAnyScope(wanted ...string) bool {
	if a == nil {
		return false
	}
	for _, scope := range a.Scopes {
		for _, want := range wanted {
			if scope == want {
				return true
			}
		}
	}
	return false
}

// ParseScopes splits the space-separated scope column into its parts.
func ParseScopes(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
