// Package servicetoken builds the HTTP client used for outbound calls to the
// control surface and the report job service. When a token endpoint is
// configured, requests carry an OAuth2 client-credentials bearer token.
package servicetoken

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/pipeconsole/internal/platform/env"
)

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

func ConfigFromEnv() (Config, error) {
	tokenURL, err := env.URL("SERVICE_TOKEN_URL", "")
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("SERVICE_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		TokenURL:     tokenURL,
		ClientID:     env.String("SERVICE_CLIENT_ID", ""),
		ClientSecret: env.String("SERVICE_CLIENT_SECRET", ""),
		Scopes:       env.List("SERVICE_TOKEN_SCOPES", nil),
		Timeout:      timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether outbound calls are authenticated.
func (c Config) Enabled() bool { return strings.TrimSpace(c.TokenURL) != "" }

func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("SERVICE_HTTP_TIMEOUT must be positive")
	}
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("SERVICE_CLIENT_ID is required when SERVICE_TOKEN_URL is set")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("SERVICE_CLIENT_SECRET is required when SERVICE_TOKEN_URL is set")
	}
	return nil
}

// NewHTTPClient returns a client with the configured timeout. Tokens are
// fetched lazily and cached until expiry. base is used for token requests and,
// if nil, defaults to a plain client.
func NewHTTPClient(ctx context.Context, cfg Config, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if !cfg.Enabled() {
		return &http.Client{Transport: base.Transport, Timeout: cfg.Timeout}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return client
}
