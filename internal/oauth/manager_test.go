package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Load(_ context.Context, provider string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[provider]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

func (s *memStore) Save(_ context.Context, provider string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[provider] = data
	return nil
}

type tokenServer struct {
	*httptest.Server
	logins atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.logins.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("audience") != "https://api.example.com/" {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("password") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Wrong email or password."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-` + r.PostForm.Get("username") + `","token_type":"Bearer","expires_in":86400}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testDecl(t *testing.T, url string) Declaration {
	t.Helper()
	return Declaration{
		Provider:  "joule",
		Flow:      FlowPassword,
		TokenURL:  url,
		Audience:  "https://api.example.com/",
		Scope:     "openid email profile",
		ClientID:  "client",
		StatePath: filepath.Join(t.TempDir(), "session.json"),
	}
}

func testCreds() Credentials {
	return Credentials{Username: "user@example.com", Password: "secret"}
}

func TestTokenLogsInOnceForConcurrentCallers(t *testing.T) {
	ts := newTokenServer(t)
	m, err := NewManagerFromCredentials(testDecl(t, ts.URL), testCreds(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-user@example.com", tok.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ts.logins.Load())
}

func TestLoginPersistsStateAndRestarts(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	store := &memStore{}

	m, err := NewManagerFromCredentials(decl, testCreds(), store)
	require.NoError(t, err)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, tok.Expiry.After(time.Now().Add(23*time.Hour)))

	info, err := os.Stat(decl.StatePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	state, err := LoadState(decl.StatePath)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", state.Username)
	assert.NotContains(t, string(store.data["joule"]), "secret")

	restarted, err := NewManagerFromCredentials(decl, testCreds(), store)
	require.NoError(t, err)
	_, err = restarted.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.logins.Load())
}

func TestBlobRestoresMissingLocalState(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	store := &memStore{}

	m, err := NewManagerFromCredentials(decl, testCreds(), store)
	require.NoError(t, err)
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(decl.StatePath))

	restored, err := NewManagerFromCredentials(decl, testCreds(), store)
	require.NoError(t, err)
	_, err = restored.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.logins.Load())
	assert.FileExists(t, decl.StatePath)
}

func TestStateForOtherUserIsIgnored(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	require.NoError(t, WriteState(decl.StatePath, State{
		Username:    "someone@example.com",
		AccessToken: "stale",
		Expiry:      time.Now().Add(time.Hour),
	}))

	m, err := NewManagerFromCredentials(decl, testCreds(), nil)
	require.NoError(t, err)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-user@example.com", tok.AccessToken)
	assert.Equal(t, int32(1), ts.logins.Load())
}

func TestExpiredStateTriggersLogin(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	require.NoError(t, WriteState(decl.StatePath, State{
		Username:    "user@example.com",
		AccessToken: "old",
		Expiry:      time.Now().Add(10 * time.Second),
	}))

	m, err := NewManagerFromCredentials(decl, testCreds(), nil)
	require.NoError(t, err)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-user@example.com", tok.AccessToken)
}

func TestExpiredLocalStateFallsBackToBlob(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	require.NoError(t, WriteState(decl.StatePath, State{
		Username:    "user@example.com",
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	mirror := &memStore{}
	mirrored := filepath.Join(t.TempDir(), "mirrored.json")
	require.NoError(t, WriteState(mirrored, State{
		Username:    "user@example.com",
		AccessToken: "from-blob",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))
	data, err := os.ReadFile(mirrored)
	require.NoError(t, err)
	require.NoError(t, mirror.Save(context.Background(), "joule", data))

	m, err := NewManagerFromCredentials(decl, testCreds(), mirror)
	require.NoError(t, err)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-blob", tok.AccessToken)
	assert.Equal(t, int32(0), ts.logins.Load())

	local, err := LoadState(decl.StatePath)
	require.NoError(t, err)
	assert.Equal(t, "from-blob", local.AccessToken)
}

func TestInvalidateForcesLogin(t *testing.T) {
	ts := newTokenServer(t)
	m, err := NewManagerFromCredentials(testDecl(t, ts.URL), testCreds(), nil)
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ts.logins.Load())
}

func TestWrongPasswordIsInvalidCredentials(t *testing.T) {
	ts := newTokenServer(t)
	creds := testCreds()
	creds.Password = "wrong"
	m, err := NewManagerFromCredentials(testDecl(t, ts.URL), creds, nil)
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	var retrieveErr *oauth2.RetrieveError
	require.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
}

func TestInsecureStateFileIsRejected(t *testing.T) {
	ts := newTokenServer(t)
	decl := testDecl(t, ts.URL)
	require.NoError(t, WriteState(decl.StatePath, State{
		Username:    "user@example.com",
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	}))
	require.NoError(t, os.Chmod(decl.StatePath, 0o644))

	_, err := NewManagerFromCredentials(decl, testCreds(), nil)
	assert.Error(t, err)
}

func TestNewManagerValidation(t *testing.T) {
	decl := testDecl(t, "http://127.0.0.1:1")

	bad := decl
	bad.Provider = ""
	_, err := NewManagerFromCredentials(bad, testCreds(), nil)
	assert.Error(t, err)

	bad = decl
	bad.Flow = "auth_code"
	_, err = NewManagerFromCredentials(bad, testCreds(), nil)
	assert.Error(t, err)

	bad = decl
	bad.StatePath = "relative.json"
	_, err = NewManagerFromCredentials(bad, testCreds(), nil)
	assert.Error(t, err)

	_, err = NewManagerFromCredentials(decl, Credentials{Username: "u"}, nil)
	assert.Error(t, err)
}

func TestCredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	data, err := EncodeCredentials(testCreds())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, creds.SchemaVersion)
	assert.Equal(t, "user@example.com", creds.Username)

	_, err = DecodeCredentials([]byte(`{"schema_version":2,"username":"u","password":"p"}`))
	assert.Error(t, err)
}

func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, DefaultRefreshInterval, RefreshInterval(nil))
	assert.Equal(t, time.Duration(0), RefreshInterval(&config.OAuthConfig{RefreshDisabled: true}))
	assert.Equal(t, time.Minute, RefreshInterval(&config.OAuthConfig{RefreshIntervalSeconds: 60}))
}
