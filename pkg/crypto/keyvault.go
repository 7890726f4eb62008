package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidVaultKey    = errors.New("encryption key must be 32 bytes (64 hex chars)")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// KeyVault seals private key material with AES-256-GCM. Sealed values are
// hex(nonce || ciphertext).
type KeyVault struct {
	key []byte
}

// NewKeyVault creates a vault from a 32-byte hex key
func NewKeyVault(keyHex string) (*KeyVault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidVaultKey
	}
	return &KeyVault{key: key}, nil
}

func (v *KeyVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext
func (v *KeyVault) Seal(plaintext []byte) (string, error) {
	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", err
	}

	return hex.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open decrypts a value produced by Seal
func (v *KeyVault) Open(sealedHex string) ([]byte, error) {
	ciphertext, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, err
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
