package xauth

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

	"github.com/tbourn/agentboard/internal/config"
)

// Provider endpoints (X OAuth 2.0).
const (
	authorizeEndpoint = "https://twitter.com/i/oauth2/authorize"
	tokenEndpoint     = "https://api.twitter.com/2/oauth2/token"
	userInfoEndpoint  = "https://api.twitter.com/2/users/me"
)

// ErrExchangeFailed is returned when the provider rejects the token exchange
// or the identity lookup.
var ErrExchangeFailed = errors.New("identity exchange failed")

// Exchanger turns an authorization code plus its PKCE verifier into the
// external account identifier. Swapped for a fake in tests.
type Exchanger interface {
	Exchange(ctx context.Context, code, verifier string) (accountID string, err error)
}

// AuthorizeURL builds the provider authorize URL for a claim attempt.
func AuthorizeURL(cfg config.ClaimConfig, state, challenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("scope", "users.read tweet.read")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	return authorizeEndpoint + "?" + q.Encode()
}

// HTTPExchanger performs the real two-request exchange: code for token, then
// token for account identity. Both requests share one deadline so a slow
// provider cannot pin a request handler.
type HTTPExchanger struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
	Client       *http.Client
}

// NewHTTPExchanger builds an exchanger from the claim configuration.
func NewHTTPExchanger(cfg config.ClaimConfig) *HTTPExchanger {
	return &HTTPExchanger{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Timeout:      cfg.ExchangeTimeout,
		Client:       &http.Client{},
	}
}

// Exchange implements Exchanger.
func (e *HTTPExchanger) Exchange(ctx context.Context, code, verifier string) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	token, err := e.exchangeCode(ctx, code, verifier)
	if err != nil {
		return "", err
	}
	return e.fetchAccountID(ctx, token)
}

func (e *HTTPExchanger) exchangeCode(ctx context.Context, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", e.RedirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.ClientID, e.ClientSecret)

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: token endpoint status %d: %s", ErrExchangeFailed, resp.StatusCode, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", ErrExchangeFailed)
	}
	return out.AccessToken, nil
}

func (e *HTTPExchanger) fetchAccountID(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: user endpoint status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Data.ID == "" {
		return "", fmt.Errorf("%w: malformed user response", ErrExchangeFailed)
	}
	return out.Data.ID, nil
}
