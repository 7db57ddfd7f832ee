package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

// sealedCipher writes nonce || AES-GCM(plaintext). Any modified byte fails Open.
type sealedCipher struct {
	aead cipher.AEAD
}

func newSealedCipher(block cipher.Block) (*sealedCipher, error) {
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, encryptFailed(err)
	}
	return &sealedCipher{aead: aead}, nil
}

func (c *sealedCipher) Encrypt(plaintext string) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, encryptFailed(errors.New("cipher is not initialized"))
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, encryptFailed(err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *sealedCipher) Decrypt(ciphertext []byte) (string, error) {
	if c == nil || c.aead == nil {
		return "", decryptFailed(errors.New("cipher is not initialized"))
	}
	if len(ciphertext) == 0 {
		return "", decryptFailed(errEmptyCiphertext)
	}

	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize+c.aead.Overhead() {
		return "", decryptFailed(errors.New("ciphertext too short"))
	}

	plaintext, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return "", decryptFailed(err)
	}
	return string(plaintext), nil
}
