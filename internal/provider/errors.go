package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCredential indicates the provider is not configured: its secrets are
// absent or blank.
type ErrCredential struct {
	Provider Name
	Missing  []string
}

func (e *ErrCredential) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Detail())
}

// Detail returns the failure without the provider prefix.
func (e *ErrCredential) Detail() string {
	if len(e.Missing) == 0 {
		return "credentials not configured"
	}
	return "missing credentials: " + strings.Join(e.Missing, ", ")
}

// ErrValidation indicates the message violates a provider-specific
// constraint. Fields names the offending parameters.
type ErrValidation struct {
	Provider Name
	Fields   []string
	Reason   string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Detail())
}

// Detail returns the failure without the provider prefix.
func (e *ErrValidation) Detail() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (fields: %s)", e.Reason, strings.Join(e.Fields, ", "))
}

// ErrTransport indicates the upstream call failed: network error, non-2xx
// status, or a response body that could not be understood.
type ErrTransport struct {
	Provider   Name
	StatusCode int      // 0 when no response was received
	Body       string   // raw upstream body, truncated
	Errors     []string // upstream error list, when the API returns one
	Cause      error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Detail())
}

// Detail returns the failure without the provider prefix.
func (e *ErrTransport) Detail() string {
	var parts []string
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status %d", e.StatusCode))
	}
	switch {
	case len(e.Errors) > 0:
		parts = append(parts, strings.Join(e.Errors, ", "))
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	case e.Body != "":
		parts = append(parts, e.Body)
	}
	if len(parts) == 0 {
		return "request failed"
	}
	return strings.Join(parts, ": ")
}

func (e *ErrTransport) Unwrap() error { return e.Cause }

// ErrUnknownProvider indicates no adapter is registered under the name.
type ErrUnknownProvider struct {
	Provider Name
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown provider %q", string(e.Provider))
}

// Detail returns the failure without the provider name.
func (e *ErrUnknownProvider) Detail() string { return "unknown provider" }

// Detail returns a provider failure without its "provider <name>:" prefix,
// for callers that already key the message by provider.
func Detail(err error) string {
	var d interface{ Detail() string }
	if errors.As(err, &d) {
		return d.Detail()
	}
	return err.Error()
}

// maxBodyInError bounds how much of an upstream body is kept for diagnostics.
const maxBodyInError = 512

// TruncateBody shortens an upstream response body for inclusion in errors.
func TruncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyInError {
		return s[:maxBodyInError] + "..."
	}
	return s
}
