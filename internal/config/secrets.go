package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// secretKeyFile is the machine/user-scoped key file name, stored
// alongside the user-app-data config files rather than in the
// workspace, so a checked-in workspace settings file never carries
// plaintext-decryptable secrets on another machine.
const secretKeyFile = "secret.key"

// LoadOrCreateKey reads the AES-256 key at <dir>/secret.key, generating
// and persisting a new random one (mode 0600) on first use. No pack
// example wires a dedicated secrets-encryption library for
// local-at-rest secret storage, so this one concern uses the standard
// library directly; see DESIGN.md.
func LoadOrCreateKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, secretKeyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(string(data))
		if decErr != nil || len(key) != 32 {
			return nil, fmt.Errorf("config: secret key at %s is corrupt", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read secret key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("config: generate secret key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("config: write secret key: %w", err)
	}
	return key, nil
}

// EncryptString encrypts plaintext with AES-256-GCM under key, returning
// a base64 string safe to embed in a YAML/JSON config value.
func EncryptString(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: build gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("config: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(key []byte, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("config: decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("config: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("config: build gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("config: ciphertext too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("config: decrypt: %w", err)
	}
	return string(plaintext), nil
}
