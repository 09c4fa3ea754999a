package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// expirySkew is how long before expiry a cached token stops being handed out.
const expirySkew = 30 * time.Second

var ErrUsernameMismatch = errors.New("session belongs to a different user")

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager owns the password-grant session: it logs in on demand, caches the
// access token until shortly before expiry and persists it across restarts.
type Manager struct {
	decl       Declaration
	creds      Credentials
	blobStore  BlobStore
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	loginMu sync.Mutex

	mu    sync.Mutex
	token *oauth2.Token
}

func NewManager(decl Declaration, credentialsPath string, blobStore BlobStore, opts ...Option) (*Manager, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("credentials path is required")
	}
	creds, err := LoadCredentials(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return NewManagerFromCredentials(decl, creds, blobStore, opts...)
}

// NewManagerFromCredentials creates a session manager from inline credentials.
func NewManagerFromCredentials(decl Declaration, creds Credentials, blobStore BlobStore, opts ...Option) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.Flow == "" {
		decl.Flow = FlowPassword
	}
	if decl.Flow != FlowPassword {
		return nil, fmt.Errorf("unsupported flow %q", decl.Flow)
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.ClientID == "" && creds.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if decl.StatePath != "" && !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	if blobStore == nil {
		blobStore = NopStore{}
	}

	m := &Manager{
		decl:       decl,
		creds:      creds,
		blobStore:  blobStore,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("provider", decl.Provider))

	state, err := m.loadInitialState(context.Background())
	if err != nil {
		return nil, err
	}
	if state != nil {
		m.token = state.Token()
		m.observeToken(m.token)
	}
	return m, nil
}

// Declaration returns the session contract.
func (m *Manager) Declaration() Declaration {
	return m.decl
}

// Username identifies the account this session logs in as.
func (m *Manager) Username() string {
	return m.creds.Username
}

func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

// StartWithInterval renews the token ahead of expiry until ctx is done.
func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < expirySkew {
		threshold = expirySkew
	}
	m.renewIfNeeded(ctx, threshold)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.renewIfNeeded(ctx, threshold)
			}
		}
	}()
}

// Token returns a valid access token, logging in when none is cached.
// Concurrent callers share one login.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := m.cached(expirySkew); tok != nil {
		return tok, nil
	}

	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if tok := m.cached(expirySkew); tok != nil {
		return tok, nil
	}
	return m.login(ctx)
}

// Login performs a fresh password grant regardless of the cached token.
func (m *Manager) Login(ctx context.Context) (*oauth2.Token, error) {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()
	return m.login(ctx)
}

// Invalidate drops the cached token so the next call logs in again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	had := m.token != nil
	m.token = nil
	m.mu.Unlock()

	if had {
		invalidations.WithLabelValues(m.decl.Provider).Inc()
	}
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
}

func (m *Manager) cached(skew time.Duration) *oauth2.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil || m.token.AccessToken == "" {
		return nil
	}
	if !m.token.Expiry.IsZero() && !m.now().Add(skew).Before(m.token.Expiry) {
		return nil
	}
	tok := *m.token
	return &tok
}

func (m *Manager) renewIfNeeded(ctx context.Context, threshold time.Duration) {
	if m.cached(threshold) != nil {
		return
	}
	if !m.loginMu.TryLock() {
		return
	}
	defer m.loginMu.Unlock()

	if _, err := m.login(ctx); err != nil {
		m.logger.Warn("session renewal failed", zap.Error(err))
	}
}

// login must be called with loginMu held.
func (m *Manager) login(ctx context.Context) (*oauth2.Token, error) {
	tok, err := m.passwordGrant(ctx)
	if err != nil {
		loginFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return nil, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	loginSuccess.WithLabelValues(m.decl.Provider).Inc()
	m.observeToken(tok)
	m.logger.Info("session established", zap.Time("expiry", tok.Expiry))

	state := State{
		SchemaVersion: SchemaVersion,
		Username:      m.creds.Username,
		AccessToken:   tok.AccessToken,
		TokenType:     tok.TokenType,
		Expiry:        tok.Expiry,
		Scope:         m.decl.Scope,
	}
	if m.decl.StatePath != "" {
		if err := WriteState(m.decl.StatePath, state); err != nil {
			m.logger.Warn("persist session state", zap.Error(err))
		}
	}
	m.persistBlob(ctx, state)

	out := *tok
	return &out, nil
}

func (m *Manager) observeToken(tok *oauth2.Token) {
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	if !tok.Expiry.IsZero() {
		tokenExpiry.WithLabelValues(m.decl.Provider).Set(float64(tok.Expiry.Unix()))
	}
}

// loadInitialState returns a reusable persisted session, or nil when a fresh
// login is needed. A usable local file wins over the blob mirror.
func (m *Manager) loadInitialState(ctx context.Context) (*State, error) {
	if m.decl.StatePath != "" {
		local, err := LoadState(m.decl.StatePath)
		switch {
		case err == nil:
			if err := checkStateFile(m.decl.StatePath); err != nil {
				return nil, err
			}
			if local.Username != m.creds.Username {
				m.logger.Info("ignoring local session", zap.Error(ErrUsernameMismatch))
				break
			}
			if state := m.usable(local); state != nil {
				return state, nil
			}
			m.logger.Debug("local session expired", zap.Time("expiry", local.Expiry))
		case !errors.Is(err, ErrStateNotFound):
			m.logger.Warn("ignoring unreadable local session", zap.Error(err))
		}
	}

	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
			m.logger.Warn("load session blob", zap.Error(err))
		}
		return nil, nil
	}
	remote, err := DecodeState(data)
	if err != nil {
		m.logger.Warn("ignoring invalid session blob", zap.Error(err))
		return nil, nil
	}
	if remote.Username != m.creds.Username {
		m.logger.Info("ignoring session blob", zap.Error(ErrUsernameMismatch))
		return nil, nil
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	state := m.usable(remote)
	if state == nil {
		return nil, nil
	}
	if m.decl.StatePath != "" {
		if err := WriteState(m.decl.StatePath, remote); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (m *Manager) usable(state State) *State {
	if !state.Expiry.IsZero() && !m.now().Add(expirySkew).Before(state.Expiry) {
		return nil
	}
	return &state
}

func (m *Manager) persistBlob(ctx context.Context, state State) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err == nil {
		err = m.blobStore.Save(ctx, m.decl.Provider, data)
	}
	if err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		m.logger.Warn("persist session blob", zap.Error(err))
		return
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
