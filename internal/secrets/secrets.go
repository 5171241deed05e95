// Package secrets is AES-GCM + PBKDF2 encryption at rest for provider API
// keys. rigsd stores one Box per configured provider so operators never put
// plaintext credentials into the YAML config file or the database.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// ErrInvalidCiphertext is returned by Open when the encoded payload is too
// short to contain a salt and nonce, or GCM authentication fails (wrong
// passphrase or tampered data).
var ErrInvalidCiphertext = errors.New("secrets: invalid or tampered ciphertext")

// Box encrypts and decrypts secrets under a single passphrase. The
// passphrase itself is never persisted; it must be supplied at process
// startup (flag, env var, or an external secrets manager) every time.
type Box struct {
	passphrase []byte
}

// NewBox constructs a Box from a passphrase. Zero-length passphrases are
// rejected — an empty Box would silently encrypt under an all-zero key.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secrets: passphrase must not be empty")
	}
	return &Box{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext, returning a base64-encoded payload of
// salt||nonce||ciphertext, safe to store as a single string column or
// config value.
func (b *Box) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("secrets: generate salt: %w", err)
	}
	key := pbkdf2.Key(b.passphrase, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, saltSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a payload produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secrets: decode base64: %w", err)
	}
	if len(data) < saltSize {
		return "", ErrInvalidCiphertext
	}
	salt := data[:saltSize]
	data = data[saltSize:]

	key := pbkdf2.Key(b.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: new gcm: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
