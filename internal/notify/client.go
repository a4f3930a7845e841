// Package notify отправляет уведомления о событиях лояльности во внешний webhook.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
)

// ErrNotConfigured возвращается, если адрес webhook не задан.
var ErrNotConfigured = errors.New("notify client not configured")

// RateLimitError возвращается, когда получатель просит повторить позже.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("notification rate limited, retry after %s", e.RetryAfter)
}

// Notification описывает тело уведомления.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	AccountID string         `json:"accountId,omitempty"`
	EntityID  string         `json:"entityId"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Client инкапсулирует HTTP-взаимодействие с получателем уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Option настраивает Client.
type Option func(*retryablehttp.Client)

// WithRetry задаёт количество повторов и минимальную паузу между ними.
func WithRetry(maxRetries int, waitMin time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = maxRetries
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = 2 * waitMin
	}
}

// NewClient создаёт клиент для отправки уведомлений по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	for _, opt := range opts {
		opt(rc)
	}

	return &Client{
		baseURL:    base,
		httpClient: rc,
	}
}

// Send отправляет уведомление. Сетевые сбои и ответы 5xx повторяются с экспоненциальной паузой.
func (c *Client) Send(ctx context.Context, n Notification) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notifications", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// Publish отправляет уведомление о событии ленты изменений.
func (c *Client) Publish(ctx context.Context, ev model.Event) error {
	return c.Send(ctx, Notification{
		ID:        ev.ID,
		Type:      ev.Type(),
		AccountID: ev.AccountID,
		EntityID:  ev.EntityID,
		Payload:   ev.Payload,
		At:        ev.CreatedAt,
	})
}

// Notifiable сообщает, нужно ли отправлять уведомление о событии.
func Notifiable(ev model.Event) bool {
	switch ev.Type() {
	case "promotion_assigned", "account_tier_changed", "topup_approved", "topup_rejected":
		return true
	default:
		return false
	}
}
