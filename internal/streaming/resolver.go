package streaming

import (
	"strings"

	"github.com/XueKirby/mastodon-streaming/internal/models"
)

// Destination is the result of resolving a logical stream name: the upstream
// channels to attach plus the per-subscription delivery options.
type Destination struct {
	StreamName       string
	Param            string
	Channels         []string
	NeedsFiltering   bool
	NotificationOnly bool
}

// Key is the stable identity of the channel set, used to deduplicate
// subscriptions inside a session.
func (d Destination) Key() string {
	return strings.Join(d.Channels, ";")
}

// publicStreams are the stream names anonymous viewers may attach to unless
// the instance requires authentication for everything.
var publicStreams = map[string]struct{}{
	"public":              {},
	"public:media":        {},
	"public:local":        {},
	"public:local:media":  {},
	"public:remote":       {},
	"public:remote:media": {},
	"hashtag":             {},
	"hashtag:local":       {},
}

// IsPublicStream reports whether the stream name may be served without a
// token.
func IsPublicStream(name string) bool {
	_, ok := publicStreams[name]
	return ok
}

// RequiredScopes returns the OAuth scopes that authorize the given stream
// name.
func RequiredScopes(name string) []string {
	if name == "user:notification" {
		return []string{models.ScopeRead, models.ScopeReadNotifications}
	}
	return []string{models.ScopeRead, models.ScopeReadStatuses}
}

// ResolveStream maps a logical stream name plus parameters onto upstream
// channels. Channel names are unprefixed; the bus owns namespacing. List
// ownership is checked by the caller before the subscription is attached.
func ResolveStream(account *models.Account, name, tag, list string) (Destination, error) {
	dest := Destination{StreamName: name}
	switch name {
	case "user":
		if account == nil {
			return Destination{}, ErrAuthenticationRequired
		}
		dest.Channels = []string{"timeline:" + account.AccountID()}
		if account.HasDevice() {
			dest.Channels = append(dest.Channels, "timeline:"+account.AccountID()+":"+account.DeviceIDString())
		}
	case "user:notification":
		if account == nil {
			return Destination{}, ErrAuthenticationRequired
		}
		dest.Channels = []string{"timeline:" + account.AccountID()}
		dest.NotificationOnly = true
	case "public":
		dest.Channels = []string{"timeline:public"}
		dest.NeedsFiltering = true
	case "public:media":
		dest.Channels = []string{"timeline:public:media"}
		dest.NeedsFiltering = true
	case "public:local":
		dest.Channels = []string{"timeline:public:local"}
		dest.NeedsFiltering = true
	case "public:local:media":
		dest.Channels = []string{"timeline:public:local:media"}
		dest.NeedsFiltering = true
	case "public:remote":
		dest.Channels = []string{"timeline:public:remote"}
		dest.NeedsFiltering = true
	case "public:remote:media":
		dest.Channels = []string{"timeline:public:remote:media"}
		dest.NeedsFiltering = true
	case "direct":
		if account == nil {
			return Destination{}, ErrAuthenticationRequired
		}
		dest.Channels = []string{"timeline:direct:" + account.AccountID()}
	case "hashtag":
		normalized := normalizeTag(tag)
		if normalized == "" {
			return Destination{}, ErrMissingTag
		}
		dest.Param = normalized
		dest.Channels = []string{"timeline:hashtag:" + normalized}
		dest.NeedsFiltering = true
	case "hashtag:local":
		normalized := normalizeTag(tag)
		if normalized == "" {
			return Destination{}, ErrMissingTag
		}
		dest.Param = normalized
		dest.Channels = []string{"timeline:hashtag:" + normalized + ":local"}
		dest.NeedsFiltering = true
	case "list":
		if account == nil {
			return Destination{}, ErrAuthenticationRequired
		}
		trimmed := strings.TrimSpace(list)
		if trimmed == "" {
			return Destination{}, ErrMissingList
		}
		dest.Param = trimmed
		dest.Channels = []string{"timeline:list:" + trimmed}
	default:
		return Destination{}, ErrUnknownStream
	}
	return dest, nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
