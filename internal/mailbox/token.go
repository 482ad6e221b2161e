package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/crypto"
	"inbox-sync-go/internal/model"
)

const (
	// tokens expiring within this window are refreshed before use
	refreshBuffer   = 5 * time.Minute
	refreshAttempts = 3
	refreshBackoff  = 100 * time.Millisecond
)

// Scopes requested when a mailbox is connected
var Scopes = []string{gmail.GmailReadonlyScope, gmail.GmailSendScope}

// OAuthConfig builds the OAuth client shared by every mailbox
func OAuthConfig(cfg config.GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenStore persists refreshed, encrypted tokens
type TokenStore interface {
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenService hands out valid access tokens for stored connections
type TokenService struct {
	oauth  *oauth2.Config
	cipher *crypto.Cipher
	store  TokenStore
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// NewTokenService creates a token service
func NewTokenService(oauth *oauth2.Config, cipher *crypto.Cipher, store TokenStore) *TokenService {
	return &TokenService{
		oauth:  oauth,
		cipher: cipher,
		store:  store,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// AccessToken returns a usable plaintext access token for conn, refreshing
// and persisting it when it is about to expire.
func (s *TokenService) AccessToken(ctx context.Context, conn *model.MailboxConnection) (string, error) {
	if conn.ExpiresAt.After(s.now().Add(refreshBuffer)) {
		token, err := s.cipher.Decrypt(conn.AccessToken)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt access token: %w", err)
		}
		return token, nil
	}

	refreshToken, err := s.cipher.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token, err := s.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	if err := s.persist(ctx, conn, token); err != nil {
		return "", err
	}

	logrus.WithField("workspace_id", conn.WorkspaceID).Info("Refreshed mailbox access token")
	return token.AccessToken, nil
}

func (s *TokenService) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 0; attempt < refreshAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, refreshBackoff*time.Duration(1<<(attempt-1))); err != nil {
				return nil, err
			}
		}

		src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		token, err := src.Token()
		if err == nil {
			return token, nil
		}

		if isInvalidGrant(err) {
			return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
		}

		lastErr = err
		logrus.Warnf("Failed to refresh token (attempt %d/%d): %v", attempt+1, refreshAttempts, err)
	}

	return nil, fmt.Errorf("failed to refresh token after %d attempts: %w", refreshAttempts, lastErr)
}

func (s *TokenService) persist(ctx context.Context, conn *model.MailboxConnection, token *oauth2.Token) error {
	access, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refresh := ""
	if token.RefreshToken != "" {
		if refresh, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = s.now().Add(time.Hour)
	}

	if err := s.store.UpdateTokens(ctx, conn.ID, access, refresh, expiry); err != nil {
		return err
	}

	conn.AccessToken = access
	if refresh != "" {
		conn.RefreshToken = refresh
	}
	conn.ExpiresAt = expiry
	return nil
}

// EncryptToken encrypts a freshly exchanged token for storage
func (s *TokenService) EncryptToken(token *oauth2.Token) (access, refresh string, err error) {
	if access, err = s.cipher.Encrypt(token.AccessToken); err != nil {
		return "", "", err
	}
	if refresh, err = s.cipher.Encrypt(token.RefreshToken); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return strings.Contains(string(re.Body), "invalid_grant")
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GmailDialer opens Gmail clients for stored connections. Each connection
// keeps its own circuit breaker across cycles.
type GmailDialer struct {
	tokens *TokenService
	opts   []option.ClientOption

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewGmailDialer creates a dialer. opts are appended to every Gmail service.
func NewGmailDialer(tokens *TokenService, opts ...option.ClientOption) *GmailDialer {
	return &GmailDialer{
		tokens:   tokens,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Dial returns a client authorized with conn's current access token
func (d *GmailDialer) Dial(ctx context.Context, conn *model.MailboxConnection) (Client, error) {
	return d.DialGmail(ctx, conn)
}

// DialGmail is Dial returning the concrete client
func (d *GmailDialer) DialGmail(ctx context.Context, conn *model.MailboxConnection) (*GmailClient, error) {
	accessToken, err := d.tokens.AccessToken(ctx, conn)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return nil, classifyError("dial", err)
		}
		return nil, err
	}

	return d.clientFor(ctx, conn.ID, accessToken)
}

// ClientForToken returns a client for a plaintext access token, used before
// a connection row exists.
func (d *GmailDialer) ClientForToken(ctx context.Context, accessToken string) (*GmailClient, error) {
	return d.clientFor(ctx, "", accessToken)
}

func (d *GmailDialer) clientFor(ctx context.Context, key, accessToken string) (*GmailClient, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, d.opts...)
	return NewGmailClient(ctx, d.breaker(key), opts...)
}

func (d *GmailDialer) breaker(key string) *gobreaker.CircuitBreaker {
	if key == "" {
		return NewBreaker("gmail-api")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[key]
	if !ok {
		cb = NewBreaker("gmail-" + key)
		d.breakers[key] = cb
	}
	return cb
}
