package models

import (
	"reflect"
	"testing"
)

func TestParseScopes(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "single", input: "read", want: []string{"read"}},
		{name: "multiple", input: "read write follow", want: []string{"read", "write", "follow"}},
		{name: "extra whitespace", input: "  read:statuses   read ", want: []string{"read:statuses", "read"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseScopes(tc.input); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseScopes(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestAllowsNotifications(t *testing.T) {
	cases := []struct {
		name   string
		scopes []string
		want   bool
	}{
		{name: "read", scopes: []string{"read"}, want: true},
		{name: "read notifications", scopes: []string{"read:notifications"}, want: true},
		{name: "statuses only", scopes: []string{"read:statuses"}, want: false},
		{name: "none", scopes: nil, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			account := &Account{ID: 1, Scopes: tc.scopes}
			if got := account.AllowsNotifications(); got != tc.want {
				t.Fatalf("AllowsNotifications() = %v, want %v", got, tc.want)
			}
		})
	}

	var anonymous *Account
	if anonymous.AllowsNotifications() {
		t.Fatalf("nil account must not allow notifications")
	}
}

func TestAccountChannelIdentifiers(t *testing.T) {
	account := &Account{ID: 42, DeviceID: 9}
	if got := account.AccountID(); got != "42" {
		t.Fatalf("AccountID() = %q, want %q", got, "42")
	}
	if !account.HasDevice() {
		t.Fatalf("expected device to be present")
	}
	if got := account.DeviceIDString(); got != "9" {
		t.Fatalf("DeviceIDString() = %q, want %q", got, "9")
	}

	deviceless := &Account{ID: 42}
	if deviceless.HasDevice() {
		t.Fatalf("expected no device")
	}
}
