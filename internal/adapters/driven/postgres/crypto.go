package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/conduit-core/internal/core/ports/driven"
)

const (
	// blobVersion is the version byte prefixed to every encrypted blob,
	// allowing future format changes without re-encrypting stored rows.
	blobVersion = 0x01

	// nonceSize is the AES-GCM nonce size (12 bytes is standard)
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported secret blob version")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("failed to decrypt secret blob")
)

// Ensure Cipher implements the port.
var _ driven.SecretCipher = (*Cipher)(nil)

// Cipher seals credential material with AES-256-GCM.
// The blob format is: version(1) || nonce(12) || ciphertext(N)
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a cipher with the given 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Encrypt JSON-marshals the value and seals it into a blob.
func (c *Cipher) Encrypt(value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := c.gcm.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 1+nonceSize+len(ciphertext))
	blob[0] = blobVersion
	copy(blob[1:1+nonceSize], nonce)
	copy(blob[1+nonceSize:], ciphertext)

	return blob, nil
}

// Decrypt opens a blob and unmarshals the plaintext into value.
// value should be a pointer to the target type.
func (c *Cipher) Decrypt(blob []byte, value any) error {
	minSize := 1 + nonceSize + c.gcm.Overhead()
	if len(blob) < minSize {
		return ErrInvalidBlobSize
	}

	if blob[0] != blobVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	nonce := blob[1 : 1+nonceSize]
	ciphertext := blob[1+nonceSize:]

	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, value); err != nil {
		return fmt.Errorf("unmarshal decrypted value: %w", err)
	}

	return nil
}
