// Package notify delivers alert messages to the Dooray incoming
// webhook, with retries, global send pacing, and a circuit breaker
// around consecutive delivery failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"alertbridge/internal/events"
	"alertbridge/internal/logger"
	"alertbridge/internal/ratelimit"
	"alertbridge/internal/retry"
)

// ErrCircuitOpen is returned without touching the network while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit_open")

// attachmentTitle is the fixed label on the report-page link.
const attachmentTitle = "> 해당 특보 통보문 바로가기"

// Error kinds for delivery failures.
const (
	KindTimeout  = "timeout"
	KindConn     = "connection"
	KindRejected = "webhook_business_failure"
	KindUnknown  = "unknown_error"
)

// SendError is a classified delivery failure. Kind is one of the
// constants above or "http_<status>".
type SendError struct {
	Kind       string
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind, defaulting to unknown_error.
func KindOf(err error) string {
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_open"
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Kind
	}
	return KindUnknown
}

// Notifier is the delivery contract the orchestrator depends on.
type Notifier interface {
	Send(ctx context.Context, message, reportURL string) error
}

// Config is the webhook notifier configuration.
type Config struct {
	WebhookURL string
	BotName    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	CircuitEnabled      bool
	CircuitMaxFailures  uint32
	CircuitOpenDuration time.Duration
}

// DoorayNotifier posts messages to a Dooray incoming webhook. All
// sends pace through one shared rate limiter; the breaker wraps the
// whole retry sequence so only final failures count against it.
type DoorayNotifier struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// New builds the notifier. A nil-safe breaker is installed only when
// the circuit is enabled in the configuration.
func New(cfg Config, limiter *ratelimit.Limiter, log *logger.Logger) *DoorayNotifier {
	n := &DoorayNotifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		log:        log.WithModule("notifier"),
	}
	if cfg.CircuitEnabled {
		n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "dooray_webhook",
			MaxRequests: 1,
			Timeout:     cfg.CircuitOpenDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.CircuitMaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					n.log.EventWarn(events.NotificationCircuitOpened,
						"breaker", name,
						"open_duration_sec", cfg.CircuitOpenDuration.Seconds())
				case gobreaker.StateClosed:
					n.log.Event(events.NotificationCircuitClosed, "breaker", name)
				}
			},
		})
	}
	return n
}

// Send delivers one message, retrying transient failures. While the
// circuit is open it fails fast with ErrCircuitOpen.
func (n *DoorayNotifier) Send(ctx context.Context, message, reportURL string) error {
	if n.breaker == nil {
		return n.sendWithRetry(ctx, message, reportURL)
	}

	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.sendWithRetry(ctx, message, reportURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		n.log.EventWarn(events.NotificationCircuitBlocked, "breaker", "dooray_webhook")
		return ErrCircuitOpen
	}
	return err
}

func (n *DoorayNotifier) sendWithRetry(ctx context.Context, message, reportURL string) error {
	return retry.Do(ctx, n.cfg.MaxRetries, n.cfg.RetryDelay, func() error {
		if err := n.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return n.post(ctx, message, reportURL)
	}, func(attempt int, wait time.Duration, err error) {
		n.log.EventWarn(events.NotificationRetry,
			"attempt", attempt,
			"max_retries", n.cfg.MaxRetries,
			"error_code", KindOf(err),
			"error", logger.RedactError(err),
			"backoff_sec", wait.Seconds())
	})
}

func (n *DoorayNotifier) post(ctx context.Context, message, reportURL string) error {
	body, err := json.Marshal(buildPayload(n.cfg.BotName, message, reportURL))
	if err != nil {
		return retry.Permanent(&SendError{
			Kind:    KindUnknown,
			Message: "failed to encode payload",
			Err:     err,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(&SendError{
			Kind:    KindUnknown,
			Message: "failed to build request",
			Err:     err,
		})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sendErr := &SendError{
			Kind:       fmt.Sprintf("http_%d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook returned HTTP %d", resp.StatusCode),
		}
		// 4xx means the payload or configuration is wrong.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(sendErr)
		}
		return sendErr
	}

	// A 2xx body that parses with an explicit false success flag is a
	// business failure: the payload or the hook configuration is wrong,
	// so retries cannot heal it. An unparseable body on 2xx stays a
	// success so flaky response formats never trigger duplicate sends.
	if rejected(resp.Body) {
		return retry.Permanent(&SendError{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Message:    "webhook reported isSuccessful=false",
		})
	}
	return nil
}

func rejected(body io.Reader) bool {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return false
	}
	var resp struct {
		IsSuccessful *bool `json:"isSuccessful"`
		Header       struct {
			IsSuccessful *bool `json:"isSuccessful"`
		} `json:"header"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	if resp.IsSuccessful != nil && !*resp.IsSuccessful {
		return true
	}
	return resp.Header.IsSuccessful != nil && !*resp.Header.IsSuccessful
}

type payloadAttachment struct {
	Title     string `json:"title"`
	TitleLink string `json:"titleLink"`
	Color     string `json:"color"`
}

type payload struct {
	BotName     string              `json:"botName"`
	Text        string              `json:"text"`
	Attachments []payloadAttachment `json:"attachments,omitempty"`
}

func buildPayload(botName, message, reportURL string) payload {
	p := payload{BotName: botName, Text: message}
	if reportURL != "" {
		p.Attachments = []payloadAttachment{{
			Title:     attachmentTitle,
			TitleLink: reportURL,
			Color:     "blue",
		}}
	}
	return p
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &SendError{Kind: KindTimeout, Message: "webhook send timed out", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &SendError{Kind: KindConn, Message: "webhook send failed", Err: err}
	}
	return &SendError{Kind: KindUnknown, Message: "webhook send failed", Err: err}
}
