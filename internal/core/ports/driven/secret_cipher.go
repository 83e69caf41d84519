package driven

// SecretCipher encrypts credential material at rest with authenticated
// encryption. Values are JSON-marshaled before sealing.
type SecretCipher interface {
	// Encrypt seals a value into an opaque blob.
	Encrypt(value any) ([]byte, error)

	// Decrypt opens a blob into the given pointer target.
	Decrypt(blob []byte, value any) error
}
