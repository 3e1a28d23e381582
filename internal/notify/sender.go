package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
	"github.com/graaaaa/valheim-watcher/internal/config"
	"github.com/graaaaa/valheim-watcher/internal/version"
)

// SendResult classifies a webhook response.
type SendResult int

const (
	SendOK        SendResult = iota // delivered
	SendRetryable                   // rate limited, 5xx or network failure
	SendFatal                       // webhook rejected; retrying cannot help
)

func (r SendResult) String() string {
	switch r {
	case SendOK:
		return "ok"
	case SendRetryable:
		return "retryable"
	case SendFatal:
		return "fatal"
	}
	return "SendResult(" + strconv.Itoa(int(r)) + ")"
}

// Sender posts one payload. The duration is the server requested delay
// before the next attempt, zero when none was given.
type Sender interface {
	Send(ctx context.Context, payload DiscordPayload) (SendResult, time.Duration)
}

const (
	defaultSendTimeout = 10 * time.Second
	// maxResponseBody bounds how much of a response is read.
	maxResponseBody = 64 << 10
)

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL config.Secret
	username   string
	client     *http.Client
	logger     *slog.Logger
}

// SenderOption configures a DiscordSender.
type SenderOption func(*DiscordSender)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *DiscordSender) { s.client = client }
}

// WithUsername sets the name the bot posts under.
func WithUsername(name string) SenderOption {
	return func(s *DiscordSender) { s.username = name }
}

// WithSenderLogger sets the logger.
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(s *DiscordSender) { s.logger = logger }
}

// NewDiscordSender returns a sender for webhookURL.
func NewDiscordSender(webhookURL config.Secret, opts ...SenderOption) *DiscordSender {
	s := &DiscordSender{
		webhookURL: webhookURL,
		username:   appinfo.AppName,
		client:     &http.Client{Timeout: defaultSendTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements Sender.
func (s *DiscordSender) Send(ctx context.Context, payload DiscordPayload) (SendResult, time.Duration) {
	if s.webhookURL.IsEmpty() {
		s.logger.Warn("Discord webhook URL not configured")
		return SendFatal, 0
	}
	if payload.Username == "" {
		payload.Username = s.username
	}

	req, err := s.newRequest(ctx, payload)
	if err != nil {
		s.logger.Error("build Discord request", "error", err)
		return SendFatal, 0
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Discord request failed", "error", err)
		return SendRetryable, 0
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	result := classify(resp.StatusCode)
	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		wait = parseRetryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			wait = rateLimitBodyDelay(body)
		}
	}

	attrs := []any{"status", resp.StatusCode, "result", result}
	switch result {
	case SendOK:
		s.logger.Debug("Discord notification sent", attrs...)
	case SendRetryable:
		s.logger.Warn("Discord send will be retried", append(attrs, "retry_after", wait)...)
	case SendFatal:
		// The URL is a Secret and logs as [REDACTED].
		s.logger.Error("Discord rejected the webhook", append(attrs, "webhook_url", s.webhookURL)...)
	}
	return result, wait
}

func (s *DiscordSender) newRequest(ctx context.Context, payload DiscordPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL.Value(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

// classify maps a webhook status code to a SendResult.
func classify(status int) SendResult {
	switch {
	case status >= 200 && status < 300:
		return SendOK
	case status == http.StatusTooManyRequests, status >= 500:
		return SendRetryable
	case status >= 400:
		return SendFatal
	default:
		return SendRetryable
	}
}

// parseRetryAfter reads a Retry-After header given in whole or fractional
// seconds, or as an HTTP date.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// rateLimitBodyDelay reads retry_after from a Discord 429 body.
func rateLimitBodyDelay(body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &rl); err != nil || rl.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(rl.RetryAfter * float64(time.Second))
}
