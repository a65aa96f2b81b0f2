package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"wadispatch/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor protects contact phone numbers at rest. Encryption is opt-in via
// WADISPATCH_ENABLE_ENCRYPTION; with it disabled every method passes values
// through unchanged so the rest of the database code never branches.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	secret := os.Getenv("WADISPATCH_ENCRYPTION_SECRET")
	if len(secret) < 16 {
		return nil, fmt.Errorf("WADISPATCH_ENCRYPTION_SECRET must be at least 16 characters when encryption is enabled")
	}

	key := pbkdf2.Key([]byte(secret), []byte("wadispatch-phone-at-rest"), constants.PBKDF2Iterations, constants.EncryptionKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func isEncryptionEnabled() bool {
	return os.Getenv("WADISPATCH_ENABLE_ENCRYPTION") == "true"
}

// EncryptIfEnabled encrypts with a random nonce prepended to the ciphertext.
func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) DecryptIfEnabled(stored string) (string, error) {
	if stored == "" || e.gcm == nil {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		// Rows written before encryption was enabled are stored in the clear.
		return stored, nil
	}
	if len(raw) < constants.NonceSize {
		return stored, nil
	}

	plaintext, err := e.gcm.Open(nil, raw[:constants.NonceSize], raw[constants.NonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}
	return string(plaintext), nil
}

// LookupHash returns a deterministic digest for indexed lookups on values
// whose stored form is non-deterministic ciphertext.
func (e *encryptor) LookupHash(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("wadispatch-lookup:" + plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}
