package pushover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sydlexius/pushhook/internal/provider"
)

const defaultBaseURL = "https://api.pushover.net/1"

// Credential keys.
const (
	CredAppToken = "app_token"
	CredUserKey  = "user_key"
)

// Limits documented by the Pushover messages API.
const (
	maxMessageLen = 1024
	minRetry      = 30
	maxExpire     = 10800
	maxBodyBytes  = 1 << 20
)

// Adapter implements provider.Notifier for Pushover.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a Pushover adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Pushover adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		// Sends are bounded by the caller's context deadline.
		client:  &http.Client{},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "pushover")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.NamePushover }

// Validate enforces the Pushover message contract. Emergency priority (2)
// needs both retry and expire, within the API's bounds.
func (a *Adapter) Validate(msg provider.Message) error {
	if msg.Priority < provider.PriorityLowest || msg.Priority > provider.PriorityEmergency {
		return &provider.ErrValidation{
			Provider: provider.NamePushover,
			Fields:   []string{"priority"},
			Reason:   "priority must be between -2 and 2",
		}
	}
	if utf8.RuneCountInString(msg.Text) > maxMessageLen {
		return &provider.ErrValidation{
			Provider: provider.NamePushover,
			Fields:   []string{"message"},
			Reason:   fmt.Sprintf("message exceeds %d characters", maxMessageLen),
		}
	}
	if msg.Priority != provider.PriorityEmergency {
		return nil
	}

	var missing []string
	if msg.Retry <= 0 {
		missing = append(missing, "retry")
	}
	if msg.Expire <= 0 {
		missing = append(missing, "expire")
	}
	if len(missing) > 0 {
		return &provider.ErrValidation{
			Provider: provider.NamePushover,
			Fields:   missing,
			Reason:   "priority=2 requires retry and expire",
		}
	}
	if msg.Retry < minRetry {
		return &provider.ErrValidation{
			Provider: provider.NamePushover,
			Fields:   []string{"retry"},
			Reason:   fmt.Sprintf("retry must be at least %d seconds", minRetry),
		}
	}
	if msg.Expire > maxExpire {
		return &provider.ErrValidation{
			Provider: provider.NamePushover,
			Fields:   []string{"expire"},
			Reason:   fmt.Sprintf("expire must be at most %d seconds", maxExpire),
		}
	}
	return nil
}

// Send posts the message to the Pushover messages endpoint and returns the
// JSON response body verbatim.
func (a *Adapter) Send(ctx context.Context, creds provider.Credentials, msg provider.Message) (json.RawMessage, error) {
	secrets, err := creds.Require(provider.NamePushover, CredAppToken, CredUserKey)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(msg); err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx, provider.NamePushover); err != nil {
		return nil, &provider.ErrTransport{
			Provider: provider.NamePushover,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	form := buildForm(secrets[0], secrets[1], msg)
	status, body, err := a.post(ctx, form)
	if err != nil {
		return nil, &provider.ErrTransport{Provider: provider.NamePushover, Cause: err}
	}

	if status < 200 || status > 299 {
		return nil, parseError(status, body)
	}
	if !json.Valid(body) {
		return nil, &provider.ErrTransport{
			Provider:   provider.NamePushover,
			StatusCode: status,
			Body:       provider.TruncateBody(body),
			Cause:      fmt.Errorf("malformed response body"),
		}
	}

	a.logger.Debug("pushover message accepted", slog.Int("priority", msg.Priority))
	return json.RawMessage(body), nil
}

// buildForm assembles the form fields. retry and expire are only sent at
// emergency priority.
func buildForm(appToken, userKey string, msg provider.Message) url.Values {
	form := url.Values{
		"token":    {appToken},
		"user":     {userKey},
		"message":  {msg.Text},
		"priority": {strconv.Itoa(msg.Priority)},
	}
	if msg.Priority == provider.PriorityEmergency {
		form.Set("retry", strconv.Itoa(msg.Retry))
		form.Set("expire", strconv.Itoa(msg.Expire))
	}
	return form
}

func (a *Adapter) post(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// errorResponse is the error shape returned by the Pushover API.
type errorResponse struct {
	Status  int      `json:"status"`
	Errors  []string `json:"errors"`
	Request string   `json:"request"`
}

func parseError(status int, body []byte) error {
	te := &provider.ErrTransport{
		Provider:   provider.NamePushover,
		StatusCode: status,
		Body:       provider.TruncateBody(body),
	}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && len(er.Errors) > 0 {
		te.Errors = er.Errors
	}
	return te
}
