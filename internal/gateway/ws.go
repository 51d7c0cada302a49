package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the frame pushed to the agent gateway for each stored
// incoming WhatsApp event.
type Message struct {
	Type           string `json:"type"`
	Channel        string `json:"channel"`
	SessionKey     string `json:"session_key,omitempty"`
	InboxID        int64  `json:"inbox_id"`
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id"`
	From           string `json:"from"`
	Name           string `json:"name,omitempty"`
	SourceID       string `json:"source_id"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// Client manages a WebSocket connection to the agent gateway. The
// connection is opened lazily and re-dialed once when a write fails.
type Client struct {
	url    string
	token  string
	dialer websocket.Dialer
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(log *slog.Logger, url, token string) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:    url,
		token:  token,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: log.With(slog.String("component", "gateway")),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.logger.Info("connected to gateway", slog.String("url", c.url))
	return nil
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	err = c.write(ctx, data)
	if err == nil {
		return nil
	}
	c.logger.Warn("gateway write failed, reconnecting", slog.Any("error", err))

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	if err := c.write(ctx, data); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
