// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedCiphertext is returned when stored content cannot be opened.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// MessageCipher encrypts chat message content at rest with AES-GCM.
// The session id is bound as additional data, so content copied to another
// session's rows fails to open. A nil *MessageCipher is a valid no-op cipher.
type MessageCipher struct {
	gcm cipher.AEAD
}

// NewMessageCipher returns nil (encryption disabled) for an empty key.
// Otherwise key must be 16, 24, or 32 bytes (AES-128/192/256).
func NewMessageCipher(key string) (*MessageCipher, error) {
	if key == "" {
		return nil, nil
	}
	k := []byte(key)
	if n := len(k); n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &MessageCipher{gcm: gcm}, nil
}

func (c *MessageCipher) Enabled() bool { return c != nil }

// Seal returns base64(nonce || ciphertext). With encryption disabled it returns
// plaintext unchanged.
func (c *MessageCipher) Seal(sessionID, plaintext string) (string, error) {
	if c == nil {
		return plaintext, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(sessionID))
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal for the same session id.
func (c *MessageCipher) Open(sessionID, sealed string) (string, error) {
	if c == nil {
		return sealed, nil
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrMalformedCiphertext
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], []byte(sessionID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return string(pt), nil
}
