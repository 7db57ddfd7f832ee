package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

var ErrNilClusterStore = errors.New("cluster cache: store is nil")

// Encrypted stores entries in a ClusterStore as cipher-protected JSON under
// the SHA-256 of the token, so neither tokens nor claims are kept in clear.
type Encrypted struct {
	store  ClusterStore
	cipher ocrypto.Cipher
}

var _ TokenCache = (*Encrypted)(nil)

func NewEncrypted(store ClusterStore, cipher ocrypto.Cipher) (*Encrypted, error) {
	if store == nil {
		return nil, ErrNilClusterStore
	}
	if cipher == nil {
		return nil, errors.New("cluster cache: cipher is nil")
	}
	return &Encrypted{store: store, cipher: cipher}, nil
}

// Fingerprint is the storage key for a raw token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (e *Encrypted) SetToken(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if key == "" {
		return errors.New("cluster cache: key is required")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cluster cache: encode entry: %w", err)
	}

	value, err := e.cipher.Encrypt(string(payload))
	if err != nil {
		return err
	}
	return e.store.PutValue(ctx, Fingerprint(key), value, ttl)
}

func (e *Encrypted) GetToken(ctx context.Context, key string) (Entry, bool, error) {
	value, ok, err := e.store.GetValue(ctx, Fingerprint(key))
	if err != nil || !ok {
		return Entry{}, false, err
	}

	payload, err := e.cipher.Decrypt(value)
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cluster cache: decode entry: %w", err)
	}
	return entry, true, nil
}

func (e *Encrypted) DeleteToken(ctx context.Context, key string) error {
	return e.store.DeleteValue(ctx, Fingerprint(key))
}
