// Package discord handles the Discord OAuth login flow: building the
// authorization URL, exchanging the callback code, and fetching the
// authenticated user's profile.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/alliancemanager/apiserver/config"
)

const defaultUserURL = "https://discord.com/api/users/@me"

// Endpoint is Discord's OAuth2 endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/api/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// ErrNotConfigured is returned when the Discord credentials are absent.
var ErrNotConfigured = errors.New("discord oauth is not configured")

// UserInfo is the subset of the Discord profile the app needs.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Client wraps the provider-side half of the OAuth flow.
type Client struct {
	config  *oauth2.Config
	userURL string
}

func NewClient(cfg config.DiscordConfig) *Client {
	c := &Client{userURL: defaultUserURL}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		c.config = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify", "email"},
		}
	}
	return c
}

// NewClientWithEndpoints constructs a Client against alternative endpoint
// URLs. Used in tests.
func NewClientWithEndpoints(cfg config.DiscordConfig, endpoint oauth2.Endpoint, userURL string) *Client {
	c := NewClient(cfg)
	if c.config != nil {
		c.config.Endpoint = endpoint
	}
	c.userURL = userURL
	return c
}

// Configured reports whether OAuth credentials are present.
func (c *Client) Configured() bool {
	return c.config != nil
}

// AuthURL returns the authorization redirect URL carrying the given state.
func (c *Client) AuthURL(state string) (string, error) {
	if c.config == nil {
		return "", ErrNotConfigured
	}
	return c.config.AuthCodeURL(state), nil
}

// Exchange trades the callback code for an access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if c.config == nil {
		return nil, ErrNotConfigured
	}
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

// FetchUser retrieves the authenticated user's profile.
func (c *Client) FetchUser(ctx context.Context, tok *oauth2.Token) (UserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	resp, err := client.Get(c.userURL)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to fetch discord user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("discord api returned status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("failed to decode discord user response: %w", err)
	}
	if info.ID == "" {
		return UserInfo{}, errors.New("discord user response missing id")
	}
	return info, nil
}
