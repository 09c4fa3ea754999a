package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("session state not found")

// State is the persisted session. It never contains the password.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	Username      string    `json:"username"`
	AccessToken   string    `json:"access_token"`
	TokenType     string    `json:"token_type,omitempty"`
	Expiry        time.Time `json:"expiry"`
	Scope         string    `json:"scope,omitempty"`
}

// Credentials holds the account login seeded from a secret file.
type Credentials struct {
	SchemaVersion int    `json:"schema_version,omitempty"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	return DecodeCredentials(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func DecodeCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.Username == "" {
		return fmt.Errorf("state missing username")
	}
	if s.AccessToken == "" {
		return fmt.Errorf("state missing access_token")
	}
	return nil
}

// Token converts the persisted session into an oauth2 token.
func (s State) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		Expiry:      s.Expiry,
	}
}

func (c Credentials) Validate() error {
	if c.SchemaVersion != 0 && c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported credentials schema_version: %d", c.SchemaVersion)
	}
	if c.Username == "" {
		return fmt.Errorf("credentials missing username")
	}
	if c.Password == "" {
		return fmt.Errorf("credentials missing password")
	}
	return nil
}

// EncodeCredentials renders credentials in the on-disk format.
func EncodeCredentials(c Credentials) ([]byte, error) {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return data, nil
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	return nil
}
