package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/wisbric/tacops/internal/errs"
)

// Encrypt seals plaintext with AES-256-GCM, returning ciphertext prefixed
// with a fresh 128-bit nonce.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Any failure (wrong key,
// truncated input, tampered bytes) is reported as errs.Internal with a
// "corrupt" message per §4.1's Corrupt failure mode.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errs.New(errs.Internal, "corrupt ciphertext: too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "corrupt ciphertext", err)
	}
	return plaintext, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	if len(v.aesKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(v.aesKey))
	}

	block, err := aes.NewCipher(v.aesKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM mode: %w", err)
	}
	return gcm, nil
}

// GenerateKey returns 32 cryptographically random bytes, suitable as an
// auto-generated encryption key when the config cache has none.
func GenerateKey() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
