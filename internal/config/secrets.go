package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
)

const (
	defaultUsername = "admin"
	// passwordLength is the length of crypto/rand.Text output.
	passwordLength = 26

	passwordFileName = "generated_password.txt"
	redacted         = "[REDACTED]"
)

// Environment variables for secrets. They are applied in memory only and
// never written back to the secrets file.
const (
	EnvBasicAuthUsername = "VALHEIM_WATCHER_BASIC_AUTH_USERNAME"
	EnvBasicAuthPassword = "VALHEIM_WATCHER_BASIC_AUTH_PASSWORD"
)

// SecretsLoadStatus tells the caller whether the secrets file may be rewritten.
type SecretsLoadStatus int

const (
	SecretsLoaded   SecretsLoadStatus = iota // read and valid
	SecretsMissing                           // no file yet; safe to create
	SecretsFallback                          // unreadable or invalid; do not overwrite
)

// Secret is a string that prints as [REDACTED] under every fmt verb.
type Secret string

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the plain text.
func (s Secret) Value() string { return string(s) }

// IsEmpty reports whether no secret is set.
func (s Secret) IsEmpty() bool { return s == "" }

// Secrets is the content of the secrets file. Marshalling it exposes the
// values; log individual fields instead.
type Secrets struct {
	SchemaVersion     int    `json:"schema_version" yaml:"schema_version"`
	DiscordWebhookURL Secret `json:"discord_webhook_url" yaml:"discord_webhook_url"`
	BasicAuthUsername string `json:"basic_auth_username" yaml:"basic_auth_username"`
	BasicAuthPassword Secret `json:"basic_auth_password" yaml:"basic_auth_password"`
}

func emptySecrets() Secrets {
	return Secrets{SchemaVersion: CurrentSchemaVersion}
}

// LoadSecrets reads the secrets file in the data directory.
func LoadSecrets() (Secrets, SecretsLoadStatus, error) {
	path, err := SecretsPath()
	if err != nil {
		return emptySecrets(), SecretsFallback, err
	}
	return LoadSecretsFrom(path)
}

// LoadSecretsFrom reads secrets from path, JSON or YAML by extension.
// On any error the returned Secrets are empty and the status is
// SecretsFallback.
func LoadSecretsFrom(path string) (Secrets, SecretsLoadStatus, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return emptySecrets(), SecretsMissing, nil
	case err != nil:
		return fallbackSecrets(fmt.Errorf("read secrets: %w", err))
	}

	var sec Secrets
	if err := decode(path, data, &sec); err != nil {
		return fallbackSecrets(fmt.Errorf("decode secrets: %w", err))
	}
	if sec.SchemaVersion != CurrentSchemaVersion {
		return fallbackSecrets(fmt.Errorf("secrets schema version %d, want %d", sec.SchemaVersion, CurrentSchemaVersion))
	}
	return sec, SecretsLoaded, nil
}

func fallbackSecrets(err error) (Secrets, SecretsLoadStatus, error) {
	log.Printf("Warning: %v; continuing without stored secrets", err)
	return emptySecrets(), SecretsFallback, err
}

// ApplySecretEnvOverrides returns sec with any secrets set in the environment.
func ApplySecretEnvOverrides(sec Secrets) Secrets {
	if v := strings.TrimSpace(os.Getenv(EnvDiscordWebhookURL)); v != "" {
		sec.DiscordWebhookURL = Secret(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvBasicAuthUsername)); v != "" {
		sec.BasicAuthUsername = v
	}
	if v := os.Getenv(EnvBasicAuthPassword); v != "" {
		sec.BasicAuthPassword = Secret(v)
	}
	return sec
}

// SaveSecrets writes sec to the data directory.
func SaveSecrets(sec Secrets) error {
	path, err := SecretsPath()
	if err != nil {
		return err
	}
	return SaveSecretsTo(sec, path)
}

// SaveSecretsTo atomically replaces the secrets file at path.
func SaveSecretsTo(sec Secrets, path string) error {
	sec.SchemaVersion = CurrentSchemaVersion
	data, err := encode(path, sec)
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	return writeFileAtomic(path, data)
}

// EnsureLanAuth fills in missing basic auth credentials when LAN mode is on.
// A generated password is returned once so it can be shown to the operator.
func EnsureLanAuth(s *Secrets, lanEnabled bool) (updated bool, generatedPassword string, err error) {
	if !lanEnabled {
		return false, "", nil
	}
	if s.BasicAuthUsername == "" {
		s.BasicAuthUsername = defaultUsername
		updated = true
	}
	if s.BasicAuthPassword.IsEmpty() {
		generatedPassword = rand.Text()
		s.BasicAuthPassword = Secret(generatedPassword)
		updated = true
	}
	return updated, generatedPassword, nil
}

// WritePasswordFile stores freshly generated credentials, readable by the
// owner only, and returns the file path.
func WritePasswordFile(username, password string) (string, error) {
	dir, err := EnsureDataDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, passwordFileName)

	var b strings.Builder
	fmt.Fprintf(&b, "%s API credentials\n\n", appinfo.AppName)
	fmt.Fprintf(&b, "Username: %s\nPassword: %s\n\n", username, password)
	b.WriteString("Delete this file once the credentials are saved elsewhere.\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write password file: %w", err)
	}
	return path, nil
}
