package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/wire"
)

const (
	maxErrorBody     = 2048
	defaultTimeout   = 10 * time.Second
	defaultPageLimit = 50
)

var ErrNoBaseURL = errors.New("chat api base url is not configured")

// APIError is a non-2xx response or an envelope with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}

	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the chat API.
func IsNotFound(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// Client talks to the chat REST API with a bearer credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SendMessage persists msg through POST /chat/messages.
func (c *Client) SendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	body := wire.MessageFromDomain(msg)
	var out wire.MessagePayload
	if err := c.do(ctx, http.MethodPost, "/chat/messages", nil, body, &out); err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	persisted := out.ToDomain()
	if persisted.ConversationID == "" {
		persisted.ConversationID = msg.ConversationID
	}

	return persisted, nil
}

// Messages loads one page of history, oldest first. Pages start at 1.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, error) {
	q := pageQuery(page, limit)
	var out []wire.MessagePayload
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(conversationID)+"/messages", q, nil, &out); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	return toMessages(out, conversationID), nil
}

type createConversationRequest struct {
	Participants []string          `json:"participants"`
	ChatType     string            `json:"chatType"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateConversation returns the backend's conversation for the participant
// set, which may be a pre-existing one.
func (c *Client) CreateConversation(ctx context.Context, participants []string, kind domain.ConversationKind, metadata map[string]string) (domain.Conversation, error) {
	body := createConversationRequest{
		Participants: domain.NormalizeParticipants(participants),
		ChatType:     string(kind),
		Metadata:     metadata,
	}
	var out wire.ConversationPayload
	if err := c.do(ctx, http.MethodPost, "/chat/create", nil, body, &out); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	conv := out.ToDomain()
	if len(conv.ParticipantIDs) == 0 {
		conv.ParticipantIDs = body.Participants
	}
	if conv.Kind == "" {
		conv.Kind = kind
	}

	return conv, nil
}

func (c *Client) UserConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var out []wire.ConversationPayload
	if err := c.do(ctx, http.MethodGet, "/chat/user/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	convs := make([]domain.Conversation, 0, len(out))
	for _, p := range out {
		convs = append(convs, p.ToDomain())
	}

	return convs, nil
}

func (c *Client) SearchMessages(ctx context.Context, conversationID, query string, page, limit int) ([]domain.Message, error) {
	q := pageQuery(page, limit)
	q.Set("q", query)
	var out []wire.MessagePayload
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(conversationID)+"/search", q, nil, &out); err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	return toMessages(out, conversationID), nil
}

func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := "/chat/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("chat api request failed", "method", method, "path", path, "error", err)

		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.logger.Debug("chat api request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	env := envelope[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) && out == nil {
			return nil
		}

		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}

	return nil
}

// errorMessage prefers the envelope message when the body is one.
func errorMessage(raw []byte) string {
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}

	return strings.TrimSpace(string(raw))
}

func pageQuery(page, limit int) url.Values {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	return q
}

func toMessages(in []wire.MessagePayload, conversationID string) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, p := range in {
		m := p.ToDomain()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		out = append(out, m)
	}

	return out
}
