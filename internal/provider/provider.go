package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// Name uniquely identifies a notification backend.
type Name string

// Known provider names.
const (
	NamePushover Name = "pushover"
	NameTelegram Name = "telegram"
)

// AllNames returns all known provider names in display order.
func AllNames() []Name {
	return []Name{NamePushover, NameTelegram}
}

// ParseName normalizes user input into a provider name. It does not check
// that the provider is known.
func ParseName(s string) Name {
	return Name(strings.ToLower(strings.TrimSpace(s)))
}

// DisplayName returns a human-readable name for the provider.
func (n Name) DisplayName() string {
	switch n {
	case NamePushover:
		return "Pushover"
	case NameTelegram:
		return "Telegram"
	default:
		return string(n)
	}
}

// Known reports whether n names a built-in provider.
func (n Name) Known() bool {
	for _, k := range AllNames() {
		if n == k {
			return true
		}
	}
	return false
}

// Priority levels understood by providers with urgency semantics.
const (
	PriorityLowest    = -2
	PriorityLow       = -1
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2
)

// Message is the fully resolved notification handed to every adapter.
// Retry and Expire are zero when unset.
type Message struct {
	Text     string
	Priority int
	Retry    int
	Expire   int
}

// Credentials holds one provider's secrets keyed by field name
// (for example "app_token"). Values are never logged.
type Credentials map[string]string

// Require returns the values for keys, or an *ErrCredential naming every
// key that is missing or blank.
func (c Credentials) Require(name Name, keys ...string) ([]string, error) {
	values := make([]string, len(keys))
	var missing []string
	for i, k := range keys {
		v := strings.TrimSpace(c[k])
		if v == "" {
			missing = append(missing, k)
			continue
		}
		values[i] = v
	}
	if len(missing) > 0 {
		return nil, &ErrCredential{Provider: name, Missing: missing}
	}
	return values, nil
}

// CredentialSource resolves provider secrets at call time.
type CredentialSource interface {
	ForProvider(name Name) (Credentials, error)
}

// StaticCredentials is a CredentialSource backed by a fixed map, typically
// built from configuration at startup.
type StaticCredentials map[Name]Credentials

// ForProvider returns the credentials registered for name.
func (s StaticCredentials) ForProvider(name Name) (Credentials, error) {
	c, ok := s[name]
	if !ok || len(c) == 0 {
		return nil, &ErrCredential{Provider: name}
	}
	return c, nil
}

// Notifier is the interface every messaging backend adapter implements.
type Notifier interface {
	// Name returns the unique provider identifier.
	Name() Name

	// Validate checks provider-specific constraints on msg before any
	// network call is made.
	Validate(msg Message) error

	// Send delivers msg and returns the upstream response body verbatim.
	Send(ctx context.Context, creds Credentials, msg Message) (json.RawMessage, error)
}
