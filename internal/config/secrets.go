package config

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultUsername = "admin"

// ErrSecretsReadOnly is returned by SecretsStore writes when secrets.json
// exists but could not be read. The file is left alone so it can be repaired.
var ErrSecretsReadOnly = errors.New("secrets file has errors; not overwriting")

// SecretsLoadStatus indicates how secrets were loaded.
type SecretsLoadStatus int

const (
	// SecretsLoaded means secrets were successfully loaded from file.
	SecretsLoaded SecretsLoadStatus = iota
	// SecretsMissing means the secrets file doesn't exist (safe to create).
	SecretsMissing
	// SecretsFallback means there was an error reading/parsing (unsafe to overwrite).
	SecretsFallback
)

// Secret masks its value when printed or logged. Use Value for the raw
// string, e.g. in an Authorization header.
type Secret string

func (s Secret) String() string   { return "[REDACTED]" }
func (s Secret) GoString() string { return "[REDACTED]" }

// Value returns the actual secret value.
func (s Secret) Value() string { return string(s) }

// IsEmpty returns true if the secret is empty.
func (s Secret) IsEmpty() bool { return s == "" }

// Secrets is the content of secrets.json: the upload credentials accepted by
// the last AUTH_SUCCESS and the LAN basic auth pair.
// json.Marshal exposes Secret values; do not log the struct as JSON.
type Secrets struct {
	SchemaVersion     int    `json:"schema_version"`
	WalletAddress     string `json:"wallet_address"`
	UploadToken       Secret `json:"upload_token"`
	BasicAuthUsername string `json:"basic_auth_username"`
	BasicAuthPassword Secret `json:"basic_auth_password"`
}

// Authorized reports whether a stored session can authorize uploads at startup.
func (s Secrets) Authorized() bool {
	return s.WalletAddress != "" && !s.UploadToken.IsEmpty()
}

// DefaultSecrets returns empty secrets at the current schema version.
func DefaultSecrets() Secrets {
	return Secrets{SchemaVersion: CurrentSchemaVersion}
}

// LoadSecretsFrom reads secrets from path. The status says whether the file
// may be overwritten.
func LoadSecretsFrom(path string) (Secrets, SecretsLoadStatus, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSecrets(), SecretsMissing, nil
	}
	if err != nil {
		log.Printf("Warning: failed to read secrets file: %v, using defaults", err)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("read secrets: %w", err)
	}

	sec := DefaultSecrets()
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&sec); err != nil {
		log.Printf("Warning: secrets file is corrupt: %v, using defaults", err)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("decode secrets: %w", err)
	}
	if sec.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: secrets schema version mismatch (got %d, expected %d), using defaults",
			sec.SchemaVersion, CurrentSchemaVersion)
		return DefaultSecrets(), SecretsFallback, fmt.Errorf("schema mismatch: got %d", sec.SchemaVersion)
	}

	sec.WalletAddress = strings.TrimSpace(sec.WalletAddress)
	if sec.WalletAddress == "" {
		// a token without its wallet cannot authorize anything
		sec.UploadToken = ""
	}
	return sec, SecretsLoaded, nil
}

// SaveSecretsTo writes secrets to path atomically with owner-only permissions.
func SaveSecretsTo(sec Secrets, path string) error {
	sec.SchemaVersion = CurrentSchemaVersion
	return writeJSONAtomic(path, sec, 0600)
}

// SecretsStore serializes reads and writes of one secrets file. A store opened
// from a file that failed to load keeps working in memory but refuses to
// persist.
type SecretsStore struct {
	path string

	mu     sync.Mutex
	status SecretsLoadStatus
	sec    Secrets
}

// OpenSecrets loads path into a store. The store is usable even when err is
// non-nil; Status then reports SecretsFallback.
func OpenSecrets(path string) (*SecretsStore, error) {
	sec, status, err := LoadSecretsFrom(path)
	return &SecretsStore{path: path, status: status, sec: sec}, err
}

// Status returns how the file was loaded.
func (s *SecretsStore) Status() SecretsLoadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Get returns a copy of the current secrets.
func (s *SecretsStore) Get() Secrets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sec
}

// SaveAuth records the upload credentials from AUTH_SUCCESS. An empty address
// and token clear them, as AUTH_REQUIRED does.
func (s *SecretsStore) SaveAuth(address string, token Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sec.WalletAddress = strings.TrimSpace(address)
	s.sec.UploadToken = token
	return s.persistLocked()
}

// EnsureLanAuth fills in basic auth credentials when LAN mode is on and
// returns the generated password, if any, for one-time display. The
// credentials are usable even when persisting fails.
func (s *SecretsStore) EnsureLanAuth(lanEnabled bool) (generatedPassword string, err error) {
	if !lanEnabled {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := false
	if s.sec.BasicAuthUsername == "" {
		s.sec.BasicAuthUsername = defaultUsername
		updated = true
	}
	if s.sec.BasicAuthPassword.IsEmpty() {
		generatedPassword = rand.Text()
		s.sec.BasicAuthPassword = Secret(generatedPassword)
		updated = true
	}
	if !updated {
		return "", nil
	}
	return generatedPassword, s.persistLocked()
}

func (s *SecretsStore) persistLocked() error {
	if s.status == SecretsFallback {
		return ErrSecretsReadOnly
	}
	if err := SaveSecretsTo(s.sec, s.path); err != nil {
		return fmt.Errorf("save secrets: %w", err)
	}
	s.status = SecretsLoaded
	return nil
}

// WritePasswordFile writes generated LAN credentials next to secrets.json so
// they can be read once and deleted. Returns the file path.
func WritePasswordFile(username, password string) (string, error) {
	dataDir, err := EnsureDataDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dataDir, "generated_password.txt")
	content := fmt.Sprintf("Username: %s\nPassword: %s\n\nDelete this file after saving the credentials.\n", username, password)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("write password file: %w", err)
	}
	return path, nil
}
