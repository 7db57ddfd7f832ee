package crypto

import (
	"crypto/aes"
	"encoding/base64"
	"fmt"

	oerrors "github.com/porthorian/statelessauth/pkg/errors"
)

// SecretKeyLength is the exact key size in bytes (AES-256).
const SecretKeyLength = 32

type CipherMode string

const (
	// CipherModeCompat produces deterministic ciphertext that interoperates
	// with cookies written by existing deployments.
	CipherModeCompat CipherMode = "compat"
	// CipherModeSealed uses AES-GCM with a random nonce per message.
	CipherModeSealed CipherMode = "sealed"
)

type SecretKey []byte

// NewSecretKey validates raw key material taken from configuration.
func NewSecretKey(material string) (SecretKey, error) {
	if material == "" {
		return nil, oerrors.Configuration("security.encryption.secret-key is required")
	}
	if len(material) != SecretKeyLength {
		return nil, oerrors.Configuration(fmt.Sprintf(
			"security.encryption.secret-key must be exactly %d bytes (256 bits), got %d",
			SecretKeyLength,
			len(material),
		))
	}
	return SecretKey(material), nil
}

// NewCipher builds the cipher for mode. An empty mode selects CipherModeCompat.
func NewCipher(key SecretKey, mode CipherMode) (Cipher, error) {
	if len(key) != SecretKeyLength {
		return nil, oerrors.Configuration(fmt.Sprintf("cipher key must be exactly %d bytes", SecretKeyLength))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeConfiguration, "failed to initialize aes cipher", err)
	}

	switch mode {
	case "", CipherModeCompat:
		return &compatCipher{block: block}, nil
	case CipherModeSealed:
		return newSealedCipher(block)
	default:
		return nil, oerrors.Configuration(fmt.Sprintf("unsupported security.encryption.cipher-mode %q", mode))
	}
}

// EncryptToString encrypts plaintext and encodes the result with standard
// base64, the representation used for cookie values.
func EncryptToString(c Cipher, plaintext string) (string, error) {
	if c == nil {
		return "", oerrors.New(oerrors.CodeCryptoOperation, oerrors.MessageEncryptFailed)
	}

	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func DecryptString(c Cipher, encoded string) (string, error) {
	if c == nil {
		return "", oerrors.New(oerrors.CodeCryptoOperation, oerrors.MessageDecryptFailed)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", oerrors.Wrap(oerrors.CodeCryptoOperation, oerrors.MessageDecryptFailed, err)
	}
	return c.Decrypt(ciphertext)
}

func encryptFailed(err error) error {
	return oerrors.Wrap(oerrors.CodeCryptoOperation, oerrors.MessageEncryptFailed, err)
}

func decryptFailed(err error) error {
	return oerrors.Wrap(oerrors.CodeCryptoOperation, oerrors.MessageDecryptFailed, err)
}
