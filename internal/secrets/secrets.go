package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/DagiiM/webops-sub005/internal/entity"
)

// Box seals and opens deployment secrets (webhook secrets, env values) with
// a single process-wide key.
type Box struct {
	key []byte
}

// NewBox derives a 32-byte AES key from the configured secret. An empty
// secret is a configuration error, not a silent passthrough.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret key not configured", entity.ErrInvalid)
	}
	sum := sha256.Sum256([]byte(secret))
	return &Box{key: sum[:]}, nil
}

// EncryptString encrypts plaintext using AES-GCM, nonce prepended.
func (b *Box) EncryptString(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// DecryptToString decrypts AES-GCM data back to plaintext.
func (b *Box) DecryptToString(payload []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", io.ErrUnexpectedEOF
	}
	plain, err := gcm.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
