package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

const (
	// DefaultTokenURL is the OpenSky Keycloak token endpoint.
	DefaultTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// DefaultMargin is how long before expiry a token stops being reused.
	DefaultMargin = 15 * time.Second

	// DefaultTimeout bounds a single token request.
	DefaultTimeout = 8 * time.Second

	provider = "opensky-auth"
)

// ErrNoCredentials is returned by Fetch when OAuth client credentials are
// not configured.
var ErrNoCredentials = errors.New("opensky oauth credentials not configured")

var tokenFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flightgw_token_fetches_total",
	Help: "OpenSky token requests by result",
}, []string{"result"})

// Config holds primary-provider credentials. OAuth wins over Basic when
// both are set.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	TokenURL     string
	Timeout      time.Duration
	Margin       time.Duration
}

// Mode derives the authentication mode from the configured credentials.
func (c Config) Mode() Mode {
	switch {
	case c.ClientID != "" && c.ClientSecret != "":
		return ModeOAuth
	case c.Username != "" && c.Password != "":
		return ModeBasic
	default:
		return ModeNone
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Manager hands out OpenSky bearer tokens.
type Manager struct {
	cfg        Config
	store      Store
	httpClient *http.Client
	group      singleflight.Group
	now        func() time.Time
	logger     zerolog.Logger
}

// NewManager creates a Manager. A nil store gets a MemoryStore.
func NewManager(cfg Config, store Store, httpClient *http.Client, logger zerolog.Logger) *Manager {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock replaces the time source (for testing).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Mode returns the configured authentication mode.
func (m *Manager) Mode() Mode {
	return m.cfg.Mode()
}

// Token returns a usable bearer token or "" when none can be obtained.
// It never returns an error; failures are logged.
func (m *Manager) Token(ctx context.Context) string {
	tok, err := m.Fetch(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("OpenSky token unavailable")
		return ""
	}
	return tok
}

// Fetch returns the cached token when still valid, otherwise requests a
// new one. Concurrent callers share a single in-flight request.
func (m *Manager) Fetch(ctx context.Context) (string, error) {
	if m.Mode() != ModeOAuth {
		return "", ErrNoCredentials
	}

	if tok, ok := m.store.Get(); ok && tok.Valid(m.now(), m.cfg.Margin) {
		tokenFetchesTotal.WithLabelValues("cached").Inc()
		return tok.AccessToken, nil
	}

	// The shared request must not die with the first caller's context.
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan("token", func() (interface{}, error) {
		return m.request(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Clear drops the cached token, typically after a 401 from the provider.
func (m *Manager) Clear() {
	m.store.Clear()
	m.logger.Debug().Msg("OpenSky token cleared")
}

// Apply sets the Authorization header for the configured mode. In OAuth
// mode a missing token is reported as an error and the request is left
// without credentials.
func (m *Manager) Apply(ctx context.Context, req *http.Request) error {
	switch m.Mode() {
	case ModeOAuth:
		tok := m.Token(ctx)
		if tok == "" {
			return fmt.Errorf("apply auth: %w", errTokenUnavailable)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	case ModeBasic:
		req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	}
	return nil
}

var errTokenUnavailable = errors.New("opensky token unavailable")

func (m *Manager) request(ctx context.Context) (string, error) {
	// Another caller may have refreshed while we queued.
	if tok, ok := m.store.Get(); ok && tok.Valid(m.now(), m.cfg.Margin) {
		return tok.AccessToken, nil
	}

	ctx, cancel := upstream.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := upstream.Do(m.httpClient, req, provider)
	if err != nil {
		tokenFetchesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		tokenFetchesTotal.WithLabelValues("error").Inc()
		return "", upstream.StatusError(provider, resp)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		tokenFetchesTotal.WithLabelValues("error").Inc()
		return "", upstream.MalformedError(provider, resp.StatusCode, err)
	}

	if body.AccessToken == "" {
		tokenFetchesTotal.WithLabelValues("error").Inc()
		return "", upstream.MalformedError(provider, resp.StatusCode, errors.New("missing access_token"))
	}

	// Only cache what we can age out.
	if body.ExpiresIn > 0 {
		m.store.Set(Token{
			AccessToken: body.AccessToken,
			ExpiresAt:   m.now().Add(time.Duration(body.ExpiresIn) * time.Second),
		})
	}

	tokenFetchesTotal.WithLabelValues("fetched").Inc()
	m.logger.Info().Int64("expires_in", body.ExpiresIn).Msg("OpenSky token refreshed")

	return body.AccessToken, nil
}
