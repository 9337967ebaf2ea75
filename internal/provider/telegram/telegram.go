package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sydlexius/pushhook/internal/provider"
)

const defaultBaseURL = "https://api.telegram.org"

// Credential keys.
const (
	CredBotToken = "bot_token"
	CredChatID   = "chat_id"
)

const (
	maxTextLen   = 4096
	maxBodyBytes = 1 << 20
)

// Adapter implements provider.Notifier for the Telegram Bot API.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
}

// New creates a Telegram adapter with the default base URL.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL)
}

// NewWithBaseURL creates a Telegram adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		// Sends are bounded by the caller's context deadline.
		client:  &http.Client{},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "telegram")),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.Name { return provider.NameTelegram }

// Validate checks the text against sendMessage limits. Priority, retry and
// expire have no meaning for Telegram and are ignored.
func (a *Adapter) Validate(msg provider.Message) error {
	if strings.TrimSpace(msg.Text) == "" {
		return &provider.ErrValidation{
			Provider: provider.NameTelegram,
			Fields:   []string{"message"},
			Reason:   "message text is empty",
		}
	}
	if utf8.RuneCountInString(msg.Text) > maxTextLen {
		return &provider.ErrValidation{
			Provider: provider.NameTelegram,
			Fields:   []string{"message"},
			Reason:   fmt.Sprintf("message exceeds %d characters", maxTextLen),
		}
	}
	return nil
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts the text to sendMessage. Success is decided by the body's ok
// field, not the HTTP status.
func (a *Adapter) Send(ctx context.Context, creds provider.Credentials, msg provider.Message) (json.RawMessage, error) {
	secrets, err := creds.Require(provider.NameTelegram, CredBotToken, CredChatID)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(msg); err != nil {
		return nil, err
	}
	botToken, chatID := secrets[0], secrets[1]

	if err := a.limiter.Wait(ctx, provider.NameTelegram); err != nil {
		return nil, &provider.ErrTransport{
			Provider: provider.NameTelegram,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	form := url.Values{
		"chat_id": {chatID},
		"text":    {msg.Text},
	}
	status, body, err := a.post(ctx, botToken, form)
	if err != nil {
		return nil, &provider.ErrTransport{Provider: provider.NameTelegram, StatusCode: status, Cause: err}
	}

	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &provider.ErrTransport{
			Provider:   provider.NameTelegram,
			StatusCode: status,
			Body:       provider.TruncateBody(body),
			Cause:      fmt.Errorf("malformed response body: %w", err),
		}
	}
	if !env.OK {
		te := &provider.ErrTransport{
			Provider:   provider.NameTelegram,
			StatusCode: status,
			Body:       provider.TruncateBody(body),
		}
		if env.Description != "" {
			te.Errors = []string{env.Description}
		}
		return nil, te
	}

	a.logger.Debug("telegram message sent")
	return json.RawMessage(body), nil
}

func (a *Adapter) post(ctx context.Context, botToken string, form url.Values) (int, []byte, error) {
	endpoint := a.baseURL + "/bot" + botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, redact(fmt.Errorf("creating request: %w", err), botToken)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, redact(fmt.Errorf("sending request: %w", err), botToken)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// redact strips the bot token from errors. net/http embeds the request URL,
// and with it the token, in *url.Error.
func redact(err error, botToken string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, botToken, "<redacted>")
	}
	msg := strings.ReplaceAll(err.Error(), botToken, "<redacted>")
	if ue != nil {
		return &redactedError{msg: msg, cause: ue.Err}
	}
	return &redactedError{msg: msg, cause: errors.Unwrap(err)}
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }
