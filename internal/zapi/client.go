package zapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the public Z-API endpoint.
const DefaultBaseURL = "https://api.z-api.io"

// Client calls the Z-API REST API for one instance.
type Client struct {
	BaseURL     string
	InstanceID  string
	Token       string
	ClientToken string
	HTTP        *resty.Client
}

// NewClient creates a Z-API client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, instanceID, token, clientToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		InstanceID:  instanceID,
		Token:       token,
		ClientToken: clientToken,
		HTTP:        resty.New().SetTimeout(30 * time.Second),
	}
}

func (c *Client) instancePath() string {
	return fmt.Sprintf("%s/instances/%s/token/%s", c.BaseURL, c.InstanceID, c.Token)
}

type readMessageRequest struct {
	Phone     string `json:"phone"`
	MessageID string `json:"messageId"`
}

// ReadMessage marks a received message as read on the phone.
func (c *Client) ReadMessage(ctx context.Context, phone, messageID string) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Client-Token", c.ClientToken).
		SetBody(readMessageRequest{Phone: phone, MessageID: messageID}).
		Post(c.instancePath() + "/read-message")
	if err != nil {
		return fmt.Errorf("read-message request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("z-api error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}
