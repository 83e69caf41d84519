package postgres

import (
	"testing"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

func TestCipherRoundTrip(t *testing.T) {
	key := []byte("01234567890123456789012345678901")

	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	original := domain.Credentials{
		AccessToken:  "gho_abc123",
		RefreshToken: "ghr_xyz789",
		TokenType:    "Bearer",
		Expiry:       &expiry,
		AccountID:    "8412",
	}

	blob, err := c.Encrypt(original)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(blob) < 1+nonceSize {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}
	if blob[0] != blobVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], blobVersion)
	}

	var decrypted domain.Credentials
	if err := c.Decrypt(blob, &decrypted); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted.AccessToken != original.AccessToken {
		t.Errorf("AccessToken: got %q, want %q", decrypted.AccessToken, original.AccessToken)
	}
	if decrypted.RefreshToken != original.RefreshToken {
		t.Errorf("RefreshToken: got %q, want %q", decrypted.RefreshToken, original.RefreshToken)
	}
	if decrypted.Expiry == nil || !decrypted.Expiry.Equal(expiry) {
		t.Errorf("Expiry: got %v, want %v", decrypted.Expiry, expiry)
	}
}

func TestCipherInvalidKeySize(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
	}{
		{"too short", 16},
		{"too long", 64},
		{"empty", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keySize)
			_, err := NewCipher(key)
			if err == nil {
				t.Error("expected error for invalid key size")
			}
		})
	}
}

func TestCipherDecryptInvalidBlob(t *testing.T) {
	key := []byte("01234567890123456789012345678901")
	c, _ := NewCipher(key)

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", []byte{}},
		{"too short", []byte{0x01, 0x02}},
		{"wrong version", append([]byte{0x99}, make([]byte, 100)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result string
			if err := c.Decrypt(tt.blob, &result); err == nil {
				t.Error("expected error for invalid blob")
			}
		})
	}
}

func TestCipherWrongKey(t *testing.T) {
	c1, _ := NewCipher([]byte("01234567890123456789012345678901"))
	c2, _ := NewCipher([]byte("10987654321098765432109876543210"))

	blob, err := c1.Encrypt("secret data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var result string
	if err := c2.Decrypt(blob, &result); err == nil {
		t.Error("expected error when decrypting with wrong key")
	}
}

func TestCipherUniqueNonce(t *testing.T) {
	c, _ := NewCipher([]byte("01234567890123456789012345678901"))

	nonces := make(map[string]bool)
	for i := 0; i < 10; i++ {
		blob, err := c.Encrypt("same value")
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		nonce := string(blob[1 : 1+nonceSize])
		if nonces[nonce] {
			t.Errorf("duplicate nonce at iteration %d", i)
		}
		nonces[nonce] = true
	}
}
