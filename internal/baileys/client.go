package baileys

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
)

// Client talks to a Baileys API server for one connected phone number.
type Client struct {
	BaseURL     string
	APIKey      string
	PhoneNumber string
	HTTP        *resty.Client
}

// NewClient creates a Baileys API client. phoneNumber may carry a leading "+".
func NewClient(baseURL, apiKey, phoneNumber string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		PhoneNumber: strings.TrimPrefix(phoneNumber, "+"),
		HTTP:        resty.New().SetTimeout(30 * time.Second),
	}
}

// Headers are the API headers every request (including media downloads) needs.
func (c *Client) Headers() map[string]string {
	return map[string]string{"x-api-key": c.APIKey}
}

// MediaURL is the download URL for the media of a message.
func (c *Client) MediaURL(messageID string) string {
	return fmt.Sprintf("%s/connections/%s/messages/%s/media", c.BaseURL, url.PathEscape(c.PhoneNumber), url.PathEscape(messageID))
}

// ProfilePictureURL asks the server for a contact's profile picture URL.
// An empty string with a nil error means the contact has none.
func (c *Client) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	endpoint := fmt.Sprintf("%s/connections/%s/profile-picture-url", c.BaseURL, url.PathEscape(c.PhoneNumber))
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeaders(c.Headers()).
		SetQueryParam("jid", jid).
		Get(endpoint)
	if err != nil {
		return "", fmt.Errorf("profile picture request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("baileys API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	body, err := payload.Parse(resp.Body())
	if err != nil {
		return "", fmt.Errorf("parse profile picture response: %w", err)
	}
	return body.String("data", "profilePictureUrl"), nil
}
