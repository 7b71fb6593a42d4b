// Package backend is the HTTP client of the persistence backend: history,
// send, moderation, delete and presence endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

// Config configures the backend client.
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HistoryLimit int           `mapstructure:"history_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// Client calls the backend over HTTP/JSON.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	historyLimit int
	cache        HistoryCache
	cacheTTL     time.Duration
	sf           singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHistoryCache caches the default history page.
func WithHistoryCache(cache HistoryCache) Option {
	return func(c *Client) { c.cache = cache }
}

// NewClient creates a backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		http:         &http.Client{Timeout: cfg.Timeout},
		historyLimit: cfg.HistoryLimit,
		cacheTTL:     cfg.CacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sessionPath(ch domain.Channel) string {
	return fmt.Sprintf("/api/v1/rooms/%s/sessions/%s", url.PathEscape(ch.RoomID), url.PathEscape(ch.SessionID))
}

// History returns up to limit recent messages in chronological order.
// Concurrent calls for the same channel share one request.
func (c *Client) History(ctx context.Context, ch domain.Channel, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = c.historyLimit
	}
	key := ch.String() + ":" + strconv.Itoa(limit)

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.fetchHistory(ctx, ch, limit)
	})
	if err != nil {
		return nil, err
	}

	page, ok := result.(*ChatHistoryResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}

	// Pages are newest first.
	msgs := make([]domain.Message, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msgs = append(msgs, page.Messages[i].ToDomain())
	}
	return msgs, nil
}

func (c *Client) fetchHistory(ctx context.Context, ch domain.Channel, limit int) (*ChatHistoryResponse, error) {
	cacheable := c.cache != nil && limit == c.historyLimit
	if cacheable {
		page, err := c.cache.Get(ctx, ch.String())
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("history cache get error")
		}
	}

	q := url.Values{}
	q.Set("direction", "backward")
	q.Set("limit", strconv.Itoa(limit))

	var page ChatHistoryResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(ch)+"/messages?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}

	if cacheable {
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.cache.Set(cacheCtx, ch.String(), &page, c.cacheTTL); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("history cache set error")
			}
		}()
	}
	return &page, nil
}

// SendMessage persists msg and returns the stored copy with its server id.
// It is never retried.
func (c *Client) SendMessage(ctx context.Context, ch domain.Channel, msg domain.Message) (domain.Message, error) {
	req := SendRequest{
		Channel: ch.String(),
		Message: FromDomain(ch, msg),
	}
	req.Message.MessageID = ""

	var stored ChatMessage
	if err := c.do(ctx, http.MethodPost, sessionPath(ch)+"/messages", req, &stored); err != nil {
		return domain.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	if stored.MessageID == "" {
		return domain.Message{}, fmt.Errorf("failed to send message: empty message id")
	}
	if stored.ClientRef == "" {
		stored.ClientRef = msg.ClientRef
	}
	c.invalidate(ctx, ch)
	return stored.ToDomain(), nil
}

// Moderate records a moderation action. The result is advisory.
func (c *Client) Moderate(ctx context.Context, ch domain.Channel, req ModerationRequest) error {
	req.Channel = ch.String()
	if err := c.do(ctx, http.MethodPost, sessionPath(ch)+"/moderation", req, nil); err != nil {
		return fmt.Errorf("failed to record moderation: %w", err)
	}
	return nil
}

// DeleteMessage deletes a persisted message.
func (c *Client) DeleteMessage(ctx context.Context, ch domain.Channel, messageID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(messageID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	c.invalidate(ctx, ch)
	return nil
}

// SetPresence marks who as present or absent in ch.
func (c *Client) SetPresence(ctx context.Context, ch domain.Channel, who domain.Identity, present bool) error {
	path := sessionPath(ch) + "/presence/" + url.PathEscape(who.UserID)
	var err error
	if present {
		err = c.do(ctx, http.MethodPut, path, PresenceRequest{Username: who.Username, Role: string(who.Role)}, nil)
	} else {
		err = c.do(ctx, http.MethodDelete, path, nil, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (c *Client) invalidate(ctx context.Context, ch domain.Channel) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, ch.String()); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("history cache invalidate error")
	}
}

// do sends body as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			if resp.StatusCode >= 300 {
				return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 || (len(data) > 0 && !envelope.Success) {
		msg := envelope.errorMessage()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}
