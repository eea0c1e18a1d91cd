package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// TokenStore persists the Trakt token between processes. LoadToken returns
// nil, nil when no token has been saved.
type TokenStore interface {
	LoadToken(ctx context.Context) (*oauth2.Token, error)
	SaveToken(ctx context.Context, tok *oauth2.Token) error
}

// AuthState is the state of the token state machine.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticated   AuthState = "authenticated"
	StateRefreshing      AuthState = "refreshing"
)

// expiryDelta treats tokens this close to expiry as expired.
const expiryDelta = time.Minute

// Authenticator owns the Trakt token. Transitions:
//
//	Unauthenticated --SetToken/Load--> Authenticated
//	Authenticated --expired or 401--> Refreshing
//	Refreshing --ok--> Authenticated
//	Refreshing --rejected--> Unauthenticated
type Authenticator struct {
	oauth      *oauth2.Config
	store      TokenStore
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	refreshMu sync.Mutex // serializes refreshes

	mu     sync.RWMutex
	state  AuthState
	token  *oauth2.Token
	loaded bool
}

// NewAuthenticator creates an Authenticator refreshing against baseURL.
func NewAuthenticator(clientID, clientSecret, baseURL string, store TokenStore, httpClient *http.Client, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Endpoint: oauth2.Endpoint{
				AuthURL:   baseURL + "/oauth/authorize",
				TokenURL:  baseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		state:      StateUnauthenticated,
	}
}

// State returns the current state.
func (a *Authenticator) State() AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Token returns a copy of the current token, or nil.
func (a *Authenticator) Token() *oauth2.Token {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == nil {
		return nil
	}
	tok := *a.token
	return &tok
}

// Load reads the token from the store once.
func (a *Authenticator) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadLocked(ctx)
}

func (a *Authenticator) loadLocked(ctx context.Context) error {
	if a.loaded || a.store == nil {
		a.loaded = true
		return nil
	}
	tok, err := a.store.LoadToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trakt token: %w", err)
	}
	a.loaded = true
	if tok != nil && tok.AccessToken != "" {
		a.token = tok
		a.state = StateAuthenticated
	}
	return nil
}

// adoptStoredLocked picks up a token another process saved since this one
// last read the store. Caller holds a.mu.
func (a *Authenticator) adoptStoredLocked(ctx context.Context) {
	if a.store == nil {
		return
	}
	tok, err := a.store.LoadToken(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to reload Trakt token, using cached token")
		return
	}
	if tok == nil || tok.AccessToken == "" {
		return
	}
	if a.token == nil || a.token.AccessToken != tok.AccessToken || a.token.RefreshToken != tok.RefreshToken {
		a.logger.Debug().Msg("Adopted Trakt token saved by another process")
		a.token = tok
		a.state = StateAuthenticated
	}
}

// SetToken installs a token obtained from the device flow and persists it.
func (a *Authenticator) SetToken(ctx context.Context, tok *oauth2.Token) error {
	if a.store != nil {
		if err := a.store.SaveToken(ctx, tok); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.token = tok
	a.state = StateAuthenticated
	a.loaded = true
	a.mu.Unlock()
	return nil
}

// AccessToken returns a usable access token, refreshing first when the
// stored one has expired.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if err := a.loadLocked(ctx); err != nil {
		a.mu.Unlock()
		return "", err
	}
	tok := a.token
	a.mu.Unlock()

	if tok == nil {
		return "", fmt.Errorf("%w: not authorized, run device authorization first", ErrAuth)
	}
	if !a.expired(tok) {
		return tok.AccessToken, nil
	}

	refreshed, err := a.refresh(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Invalidate handles a 401 for an access token: it refreshes unless another
// caller already replaced that token.
func (a *Authenticator) Invalidate(ctx context.Context, rejected string) (string, error) {
	tok, err := a.refresh(ctx, rejected)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// RefreshIfExpiring refreshes the token when it expires within window.
// It reports whether a refresh happened.
func (a *Authenticator) RefreshIfExpiring(ctx context.Context, window time.Duration) (bool, error) {
	a.mu.Lock()
	if err := a.loadLocked(ctx); err != nil {
		a.mu.Unlock()
		return false, err
	}
	a.adoptStoredLocked(ctx)
	tok := a.token
	a.mu.Unlock()
	if tok == nil || tok.Expiry.IsZero() || tok.Expiry.After(a.now().Add(window)) {
		return false, nil
	}
	if _, err := a.refresh(ctx, tok.AccessToken); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Authenticator) expired(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !tok.Expiry.After(a.now().Add(expiryDelta))
}

func (a *Authenticator) refresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	a.mu.Lock()
	a.adoptStoredLocked(ctx)
	cur := a.token
	if cur != nil && cur.AccessToken != stale && !a.expired(cur) {
		// Someone refreshed while we waited.
		a.mu.Unlock()
		return cur, nil
	}
	if cur == nil || cur.RefreshToken == "" {
		a.state = StateUnauthenticated
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: no refresh token", ErrAuth)
	}
	a.state = StateRefreshing
	refreshToken := cur.RefreshToken
	a.mu.Unlock()

	a.logger.Debug().Msg("Refreshing Trakt access token")

	octx := ctx
	if a.httpClient != nil {
		octx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	// An empty access token forces the token source to hit the endpoint.
	tok, err := a.oauth.TokenSource(octx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		a.mu.Lock()
		defer a.mu.Unlock()
		if errors.As(err, &retrieve) {
			a.state = StateUnauthenticated
			status := ""
			if retrieve.Response != nil {
				status = retrieve.Response.Status
			}
			a.logger.Warn().Str("status", status).Msg("Trakt rejected token refresh")
			return nil, fmt.Errorf("%w: token refresh rejected: %s", ErrAuth, status)
		}
		a.state = StateAuthenticated
		return nil, fmt.Errorf("%w: token refresh: %w", ErrNetwork, err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if a.store != nil {
		if err := a.store.SaveToken(ctx, tok); err != nil {
			a.logger.Error().Err(err).Msg("Failed to persist refreshed Trakt token")
		}
	}

	a.mu.Lock()
	a.token = tok
	a.state = StateAuthenticated
	a.mu.Unlock()

	a.logger.Info().Time("expires", tok.Expiry).Msg("Trakt access token refreshed")
	return tok, nil
}
