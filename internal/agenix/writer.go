package agenix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// RecipientPrefix names the secrets whose recipients new entries inherit.
const RecipientPrefix = "joule-connector-"

// Writer encrypts secrets into a nix-secrets repo with agenix.
type Writer struct {
	RepoPath   string
	RulesPath  string
	SecretName string
	Recipients []string
	Exec       string
	SkipUpdate bool
}

// SecretPath is the .age file the writer targets.
func (w Writer) SecretPath() (string, error) {
	if w.RepoPath == "" {
		return "", fmt.Errorf("agenix repo path is required")
	}
	if w.SecretName == "" {
		return "", fmt.Errorf("agenix secret name is required")
	}
	return filepath.Join(w.RepoPath, secretFile(w.SecretName)), nil
}

func (w Writer) rulesPath() string {
	if w.RulesPath != "" {
		return w.RulesPath
	}
	return filepath.Join(w.RepoPath, "secrets.nix")
}

// Write encrypts plaintext into the secret file, registering the secret in
// secrets.nix first unless SkipUpdate is set.
func (w Writer) Write(ctx context.Context, plaintext []byte) (string, error) {
	secretPath, err := w.SecretPath()
	if err != nil {
		return "", err
	}
	rules := w.rulesPath()

	if !w.SkipUpdate {
		recipients := w.Recipients
		if len(recipients) == 0 {
			recipients, err = DefaultRecipients(rules)
			if err != nil {
				return "", err
			}
		}
		if err := EnsureSecretEntry(rules, secretFile(w.SecretName), recipients); err != nil {
			return "", err
		}
	}

	execName := w.Exec
	if execName == "" {
		execName = "agenix"
	}
	cmd := exec.CommandContext(ctx, execName, "-e", secretPath)
	cmd.Env = append(os.Environ(),
		"RULES="+rules,
		"EDITOR=cp /dev/stdin",
	)
	cmd.Stdin = bytes.NewReader(plaintext)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("agenix: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return secretPath, nil
}

// EnsureSecretEntry adds `"<name>".publicKeys = [ ... ];` to secrets.nix
// unless the secret is already listed.
func EnsureSecretEntry(rulesPath, secretName string, recipients []string) error {
	info, err := os.Stat(rulesPath)
	if err != nil {
		return fmt.Errorf("stat secrets.nix: %w", err)
	}
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("read secrets.nix: %w", err)
	}
	existing := regexp.MustCompile(regexp.QuoteMeta(`"`+secretName+`"`) + `\s*\.publicKeys`)
	if existing.Match(content) {
		return nil
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients available for %s", secretName)
	}

	idx := strings.LastIndex(string(content), "\n}")
	if idx == -1 {
		return fmt.Errorf("secrets.nix missing closing brace")
	}
	entry := fmt.Sprintf("  %q.publicKeys = [ %s ];\n", secretName, strings.Join(recipients, " "))
	updated := string(content[:idx]) + "\n" + entry + string(content[idx:])

	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o600
	}
	return os.WriteFile(rulesPath, []byte(updated), mode)
}

var recipientsPattern = regexp.MustCompile(`"` + regexp.QuoteMeta(RecipientPrefix) + `[^"]+\.age"\s*\.publicKeys\s*=\s*\[([^\]]+)\]`)

// DefaultRecipients reuses the recipient list of an existing
// joule-connector secret.
func DefaultRecipients(rulesPath string) ([]string, error) {
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read secrets.nix: %w", err)
	}
	match := recipientsPattern.FindSubmatch(content)
	if len(match) < 2 {
		return nil, fmt.Errorf("no %s* recipients found in secrets.nix", RecipientPrefix)
	}
	fields := strings.Fields(string(match[1]))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty recipient list in secrets.nix")
	}
	return fields, nil
}

// ParseRecipients splits a space separated recipient override.
func ParseRecipients(raw string) []string {
	return strings.Fields(raw)
}

func secretFile(name string) string {
	if strings.HasSuffix(name, ".age") {
		return name
	}
	return name + ".age"
}
