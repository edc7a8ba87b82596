package authapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/config"
	"github.com/chinmina/channel-auth-bridge/internal/token"
	"github.com/rs/zerolog/log"
)

const (
	devicePath   = "/api/auth/device"
	acceptHeader = "application/vnd.urbanairship+json; version=3;"

	// responses larger than this are not token responses
	maxResponseBytes = 64 << 10
)

// Client requests channel auth tokens from the device auth API. It implements
// token.Source.
type Client struct {
	httpClient *http.Client
	endpoint   *url.URL
	appKey     string
	appSecret  string
	timeout    time.Duration
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for API calls. Defaults to
// http.DefaultClient.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a client for the configured API.
func New(cfg config.APIConfig, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth API URL: %w", err)
	}

	if !base.IsAbs() || (base.Scheme != "https" && base.Scheme != "http") {
		return nil, fmt.Errorf("auth API URL must be an absolute http(s) URL: %s", cfg.URL)
	}

	c := &Client{
		httpClient: http.DefaultClient,
		endpoint:   base.JoinPath(devicePath),
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		timeout:    time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type tokenResponse struct {
	Token string `json:"token"`
	// validity in milliseconds
	ExpiresIn int64 `json:"expires_in"`
}

// Fetch requests a new token for the channel. An API response that does not
// issue a token is reported as an unsuccessful result rather than an error.
func (c *Client) Fetch(ctx context.Context, identifier string) (token.FetchResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		return token.FetchResult{}, fmt.Errorf("could not create auth token request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("X-UA-Appkey", c.appKey)
	req.Header.Set("X-UA-Channel-ID", identifier)
	req.Header.Set("Authorization", "Bearer "+c.signature(identifier))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return token.FetchResult{}, fmt.Errorf("auth token request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Ctx(ctx).Debug().
			Int("status", resp.StatusCode).
			Str("channel", identifier).
			Msg("auth token request unsuccessful")

		return token.FetchResult{StatusCode: resp.StatusCode}, nil
	}

	var body tokenResponse
	err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)
	if err != nil {
		return token.FetchResult{}, fmt.Errorf("could not decode auth token response: %w", err)
	}

	if strings.TrimSpace(body.Token) == "" {
		return token.FetchResult{StatusCode: resp.StatusCode}, nil
	}

	return token.FetchResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Token:      body.Token,
		// whole seconds only
		TTL: time.Duration(body.ExpiresIn/1000) * time.Second,
	}, nil
}

// signature is the bearer credential for the channel: the hex HMAC-SHA256 of
// "<app key>:<channel>" keyed with the app secret.
func (c *Client) signature(identifier string) string {
	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write([]byte(c.appKey + ":" + identifier))
	return hex.EncodeToString(mac.Sum(nil))
}

// drainAndClose consumes the remainder of the body so the connection can be
// reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, maxResponseBytes)
	_ = body.Close()
}
