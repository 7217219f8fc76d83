package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Codec seals and opens opaque byte blobs. Stores apply it to pairing
// credentials before they leave the process.
type Codec interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// PlainCodec passes blobs through unchanged (dev/test mode).
type PlainCodec struct{}

func (PlainCodec) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (PlainCodec) Open(sealed []byte) ([]byte, error)    { return sealed, nil }

// GCMCodec encrypts with AES-GCM using a key supplied as hex.
type GCMCodec struct {
	gcm cipher.AEAD
}

func NewGCMCodec(hexKey string) (*GCMCodec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &GCMCodec{gcm: gcm}, nil
}

func (c *GCMCodec) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to nonce, yielding nonce || ciphertext || tag.
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *GCMCodec) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed blob too short")
	}

	nonce, cipherBytes := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
