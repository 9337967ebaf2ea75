package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sydlexius/pushhook/internal/provider"
)

// ErrNotFound is returned when no webhook matches. Lookup returns it for an
// unknown id and for a wrong token alike.
var ErrNotFound = errors.New("webhook not found")

// Webhook is one registered trigger endpoint and its notification defaults.
type Webhook struct {
	ID        string          `json:"id"`
	Token     string          `json:"token"`
	Name      string          `json:"name"`
	Providers []provider.Name `json:"providers"`
	Priority  int             `json:"priority"`
	Message   string          `json:"message"`
	Retry     int             `json:"retry,omitempty"`
	Expire    int             `json:"expire,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
}

// TriggerPath returns the public path that fires this webhook.
func (w *Webhook) TriggerPath() string {
	return "/hook/" + w.ID + "/" + w.Token
}

// HasProvider reports whether the webhook fans out to name.
func (w *Webhook) HasProvider(name provider.Name) bool {
	for _, p := range w.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// ValidationError describes a webhook definition that cannot be stored.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (fields: %s)", e.Reason, strings.Join(e.Fields, ", "))
}

// normalize fills defaults and cleans the provider list in place. It is
// applied to both new definitions and records read from a store, so webhooks
// written before multi-provider support still fan out to Pushover.
func normalize(w *Webhook) {
	w.Name = strings.TrimSpace(w.Name)
	seen := make(map[provider.Name]bool, len(w.Providers))
	providers := make([]provider.Name, 0, len(w.Providers))
	for _, p := range w.Providers {
		name := provider.ParseName(string(p))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		providers = append(providers, name)
	}
	if len(providers) == 0 {
		providers = []provider.Name{provider.NamePushover}
	}
	w.Providers = providers
	if w.Priority != provider.PriorityEmergency {
		w.Retry = 0
		w.Expire = 0
	}
}

// validate checks a normalized definition.
func validate(w *Webhook) error {
	if w.Priority < provider.PriorityLowest || w.Priority > provider.PriorityEmergency {
		return &ValidationError{Fields: []string{"priority"}, Reason: "priority must be between -2 and 2"}
	}
	for _, p := range w.Providers {
		if !validProviderName(string(p)) {
			return &ValidationError{Fields: []string{"providers"}, Reason: fmt.Sprintf("invalid provider name %q", p)}
		}
		// "error" is the failure list key in trigger responses.
		if p == "error" {
			return &ValidationError{Fields: []string{"providers"}, Reason: `provider name "error" is reserved`}
		}
	}
	if w.Priority == provider.PriorityEmergency {
		var missing []string
		if w.Retry <= 0 {
			missing = append(missing, "retry")
		}
		if w.Expire <= 0 {
			missing = append(missing, "expire")
		}
		if len(missing) > 0 {
			return &ValidationError{Fields: missing, Reason: "priority=2 requires retry and expire"}
		}
	}
	return nil
}

func validProviderName(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return false
		}
	}
	return true
}
