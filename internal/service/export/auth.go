package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

const (
	tokenFile = "onenote_token.json"
	stateTTL  = 10 * time.Minute
)

var (
	ErrNotConfigured = errors.New("onenote: oauth client is not configured")
	ErrInvalidState  = errors.New("onenote: unknown or expired oauth state")
)

var scopes = []string{"offline_access", "Notes.Create", "Notes.ReadWrite", "Notes.ReadWrite.All"}

// AuthStatus 描述当前授权状态。
type AuthStatus struct {
	Configured    bool      `json:"configured"`
	Authenticated bool      `json:"authenticated"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

// Auth runs the authorization-code flow and keeps the token on disk.
type Auth struct {
	oauth     *oauth2.Config
	enabled   bool
	graphURL  string
	tokenPath string
	configDir string
	now       func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

func NewAuth(cfg config.ExportConfig, l *layout.Layout) *Auth {
	return &Auth{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(cfg.Tenant),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		enabled:   cfg.Enabled(),
		graphURL:  strings.TrimRight(cfg.GraphBaseURL, "/"),
		tokenPath: l.ConfigPath(tokenFile),
		configDir: l.ConfigDir(),
		now:       time.Now,
		states:    make(map[string]time.Time),
	}
}

// LoginURL returns the Microsoft consent URL with a fresh single-use state.
func (a *Auth) LoginURL() (string, error) {
	if !a.enabled {
		return "", ErrNotConfigured
	}

	state := uuid.NewString()
	now := a.now()

	a.mu.Lock()
	for s, expiry := range a.states {
		if now.After(expiry) {
			delete(a.states, s)
		}
	}
	a.states[state] = now.Add(stateTTL)
	a.mu.Unlock()

	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "select_account")), nil
}

// Callback validates the state, exchanges the code and stores the token.
func (a *Auth) Callback(ctx context.Context, state, code string) error {
	if !a.enabled {
		return ErrNotConfigured
	}

	a.mu.Lock()
	expiry, ok := a.states[state]
	delete(a.states, state)
	a.mu.Unlock()
	if !ok || a.now().After(expiry) {
		return ErrInvalidState
	}
	if code == "" {
		return fmt.Errorf("%w: missing authorization code", ErrNotAuthenticated)
	}

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		log.Printf("[export] code exchange failed: %v", err)
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if err := a.saveToken(token); err != nil {
		return err
	}
	log.Printf("[export] signed in, token valid until %s", token.Expiry.Format(time.RFC3339))
	return nil
}

// Client returns an HTTP client that refreshes and re-persists the token.
func (a *Auth) Client(ctx context.Context) (*http.Client, error) {
	token, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrNotAuthenticated
	}
	if token.RefreshToken == "" && !token.Expiry.IsZero() && a.now().After(token.Expiry) {
		return nil, ErrNotAuthenticated
	}

	source := &persistingTokenSource{
		base: oauth2.ReuseTokenSource(token, a.oauth.TokenSource(ctx, token)),
		last: token.AccessToken,
		save: a.saveToken,
	}
	return oauth2.NewClient(ctx, source), nil
}

// Logout revokes the sign-in sessions when possible; the local token is
// removed either way.
func (a *Auth) Logout(ctx context.Context) error {
	if client, err := a.Client(ctx); err == nil && a.graphURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.graphURL+"/me/revokeSignInSessions", nil)
		if err == nil {
			resp, err := client.Do(req)
			if err != nil {
				log.Printf("[export] revoke failed: %v", err)
			} else {
				resp.Body.Close()
				if resp.StatusCode >= 300 {
					log.Printf("[export] revoke returned %d", resp.StatusCode)
				}
			}
		}
	}

	if err := os.Remove(a.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	log.Printf("[export] signed out")
	return nil
}

func (a *Auth) Status() AuthStatus {
	status := AuthStatus{Configured: a.enabled}
	token, err := a.loadToken()
	if err != nil || token == nil {
		return status
	}
	status.Authenticated = token.RefreshToken != "" || token.Expiry.IsZero() || a.now().Before(token.Expiry)
	status.Expiry = token.Expiry
	return status
}

func (a *Auth) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := sonic.Unmarshal(data, &token); err != nil {
		log.Printf("[export] ignoring unreadable token file: %v", err)
		return nil, nil
	}
	return &token, nil
}

func (a *Auth) saveToken(token *oauth2.Token) error {
	data, err := sonic.Marshal(token)
	if err != nil {
		return err
	}
	if err := layout.EnsureDir(a.configDir); err != nil {
		return err
	}
	if err := os.WriteFile(a.tokenPath, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// persistingTokenSource writes every newly issued token back to disk.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := s.save(token); err != nil {
			log.Printf("[export] refreshed token not persisted: %v", err)
		}
		s.last = token.AccessToken
	}
	return token, nil
}
