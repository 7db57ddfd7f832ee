package crypto

import (
	"bytes"
	"crypto/cipher"
	"errors"
)

var (
	errEmptyCiphertext = errors.New("ciphertext is empty")
	errBlockSize       = errors.New("ciphertext is not a multiple of the block size")
	errPadding         = errors.New("invalid padding")
)

// compatCipher is AES-256 in electronic-codebook mode with PKCS#7 padding.
// Equal plaintexts always encrypt to equal ciphertexts.
type compatCipher struct {
	block cipher.Block
}

func (c *compatCipher) Encrypt(plaintext string) ([]byte, error) {
	if c == nil || c.block == nil {
		return nil, encryptFailed(errors.New("cipher is not initialized"))
	}

	size := c.block.BlockSize()
	padded := pkcs7Pad([]byte(plaintext), size)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += size {
		c.block.Encrypt(out[i:i+size], padded[i:i+size])
	}
	return out, nil
}

func (c *compatCipher) Decrypt(ciphertext []byte) (string, error) {
	if c == nil || c.block == nil {
		return "", decryptFailed(errors.New("cipher is not initialized"))
	}
	if len(ciphertext) == 0 {
		return "", decryptFailed(errEmptyCiphertext)
	}

	size := c.block.BlockSize()
	if len(ciphertext)%size != 0 {
		return "", decryptFailed(errBlockSize)
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += size {
		c.block.Decrypt(out[i:i+size], ciphertext[i:i+size])
	}

	plaintext, err := pkcs7Unpad(out, size)
	if err != nil {
		return "", decryptFailed(err)
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errPadding
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errPadding
		}
	}
	return data[:len(data)-padding], nil
}
