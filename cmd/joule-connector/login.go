package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/supergoudvis116/joule-connector/internal/agenix"
	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/oauth"
	"github.com/supergoudvis116/joule-connector/plugins/joule"
)

// Login outcomes reported to the operator.
const (
	loginOK                = "ok"
	loginTimeout           = "timeout"
	loginConnectionFailed  = "connection_failed"
	loginInvalidAuth       = "invalid_auth"
	loginAlreadyConfigured = "already_configured"
	loginUnknown           = "unknown"
)

const defaultAgenixSecret = "joule-connector-joule"

type loginOutput struct {
	Username        string `json:"username,omitempty"`
	Result          string `json:"result"`
	Error           string `json:"error,omitempty"`
	StatePath       string `json:"state_path,omitempty"`
	AgenixPersisted bool   `json:"agenix_persisted,omitempty"`
	AgenixPath      string `json:"agenix_path,omitempty"`
}

func loginCmd(args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := flags.String("config", config.Path(), "Path to config.pbtxt")
	credentialsFile := flags.String("credentials-file", "", "Override credentials file path")
	username := flags.String("username", "", "Account email; prompts for the password unless --password-file is set")
	passwordFile := flags.String("password-file", "", "Read the password from a file")
	statePath := flags.String("state-path", "", "Override persisted session path")
	replace := flags.Bool("replace", false, "Replace a session stored for a different account")
	timeout := flags.Duration("timeout", 30*time.Second, "Timeout for the login request")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	persistAgenix := flags.Bool("persist-agenix", false, "Persist the credentials file via agenix")
	agenixRepo := flags.String("agenix-repo", defaultAgenixRepo(), "Path to nix-secrets repo")
	agenixSecret := flags.String("agenix-secret", defaultAgenixSecret, "Agenix secret name")
	agenixRecipients := flags.String("agenix-recipients", "", "Space-separated recipient override")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("login", err)
	}
	if cfg.Joule == nil {
		fatal("login", fmt.Errorf("config has no joule block"))
	}
	jc := *cfg.Joule
	if *credentialsFile != "" {
		jc.CredentialsFile = *credentialsFile
	}
	if *statePath != "" {
		jc.StatePath = *statePath
	}

	creds, err := loadLoginCredentials(jc.CredentialsFile, *username, *passwordFile)
	if err != nil {
		fatal("login", err)
	}
	jouleCfg, err := joule.ConfigFromProto(&jc)
	if err != nil {
		fatal("login", err)
	}

	output := loginOutput{Username: creds.Username, StatePath: jouleCfg.StatePath}
	if existing := storedUsername(jouleCfg.StatePath); existing != "" && existing != creds.Username {
		if !*replace {
			output.Result = loginAlreadyConfigured
			output.Error = fmt.Sprintf("session at %s belongs to %s; pass --replace to switch accounts", jouleCfg.StatePath, existing)
			emitLoginOutput(output, *jsonOut)
			os.Exit(1)
		}
		if err := os.Remove(jouleCfg.StatePath); err != nil {
			fatal("login", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := validateLogin(ctx, jouleCfg, creds); err != nil {
		output.Result = classifyLogin(err)
		output.Error = err.Error()
		emitLoginOutput(output, *jsonOut)
		os.Exit(1)
	}
	output.Result = loginOK

	if *persistAgenix {
		payload, err := oauth.EncodeCredentials(creds)
		if err != nil {
			fatal("login", err)
		}
		writer := agenix.Writer{
			RepoPath:   *agenixRepo,
			SecretName: *agenixSecret,
			Recipients: agenix.ParseRecipients(*agenixRecipients),
		}
		path, err := writer.Write(ctx, payload)
		if err != nil {
			fatal("login", err)
		}
		output.AgenixPersisted = true
		output.AgenixPath = path
	}

	emitLoginOutput(output, *jsonOut)
}

// validateLogin performs one password-grant login, storing the session at
// the configured state path on success.
func validateLogin(ctx context.Context, cfg joule.Config, creds oauth.Credentials) error {
	session, err := oauth.NewManagerFromCredentials(cfg.Declaration(), creds, nil)
	if err != nil {
		return err
	}
	client, err := joule.NewClient(cfg, session)
	if err != nil {
		return err
	}
	return client.Login(ctx)
}

// classifyLogin maps a login failure onto the operator-facing error classes.
func classifyLogin(err error) string {
	switch {
	case err == nil:
		return loginOK
	case errors.Is(err, joule.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return loginTimeout
	case errors.Is(err, joule.ErrConnection):
		return loginConnectionFailed
	case errors.Is(err, joule.ErrAuth), errors.Is(err, oauth.ErrInvalidCredentials):
		return loginInvalidAuth
	default:
		return loginUnknown
	}
}

func loadLoginCredentials(path, username, passwordFile string) (oauth.Credentials, error) {
	if username == "" {
		if path == "" {
			return oauth.Credentials{}, fmt.Errorf("credentials file or --username is required")
		}
		return oauth.LoadCredentials(path)
	}

	var password string
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return oauth.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(string(data))
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return oauth.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	creds := oauth.Credentials{SchemaVersion: oauth.SchemaVersion, Username: username, Password: password}
	if err := creds.Validate(); err != nil {
		return oauth.Credentials{}, err
	}
	return creds, nil
}

func storedUsername(path string) string {
	if path == "" {
		return ""
	}
	state, err := oauth.LoadState(path)
	if err != nil {
		return ""
	}
	return state.Username
}

func emitLoginOutput(output loginOutput, jsonOut bool) {
	if jsonOut {
		payload, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fatal("login", err)
		}
		fmt.Fprintln(os.Stdout, string(payload))
		return
	}

	if output.Result != loginOK {
		fmt.Fprintf(os.Stderr, "login failed (%s): %s\n", output.Result, output.Error)
		return
	}
	fmt.Printf("Logged in as %s\n", output.Username)
	if output.StatePath != "" {
		fmt.Printf("Session file: %s\n", output.StatePath)
	}
	if output.AgenixPersisted {
		fmt.Printf("Agenix secret: %s\n", output.AgenixPath)
	}
}

func defaultAgenixRepo() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	repo := filepath.Join(home, "code", "nix", "nix-secrets")
	info, err := os.Stat(repo)
	if err != nil || !info.IsDir() {
		return ""
	}
	return repo
}
