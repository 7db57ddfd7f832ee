// Package directory resolves authorities and classic credentials for a subject.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/porthorian/statelessauth/pkg/authz"
	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
)

var (
	ErrUnknownUser        = errors.New("directory: unknown user")
	ErrInvalidCredentials = errors.New("directory: invalid credentials")
)

type Directory interface {
	Authorities(ctx context.Context, subject string) ([]string, error)
}

type CredentialVerifier interface {
	// VerifyCredentials returns the authorities of username when secret matches.
	VerifyCredentials(ctx context.Context, username string, secret string) ([]string, error)
}

type User struct {
	Name        string
	SecretHash  string
	Authorities []string
}

// Static is an in-memory directory, useful for tests and small deployments.
type Static struct {
	mu     sync.RWMutex
	users  map[string]User
	hasher ocrypto.Hasher
}

var _ Directory = (*Static)(nil)
var _ CredentialVerifier = (*Static)(nil)

func NewStatic(hasher ocrypto.Hasher, users ...User) *Static {
	if hasher == nil {
		hasher = ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options())
	}

	s := &Static{
		users:  map[string]User{},
		hasher: hasher,
	}
	for _, user := range users {
		s.Put(user)
	}
	return s
}

func (s *Static) Put(user User) {
	authorities := make([]string, 0, len(user.Authorities))
	for _, authority := range user.Authorities {
		if normalized := authz.NormalizeAuthority(authority); normalized != "" {
			authorities = append(authorities, normalized)
		}
	}
	user.Authorities = authorities

	s.mu.Lock()
	s.users[strings.ToLower(user.Name)] = user
	s.mu.Unlock()
}

func (s *Static) lookup(name string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.ToLower(name)]
	return user, ok
}

func (s *Static) Authorities(ctx context.Context, subject string) ([]string, error) {
	user, ok := s.lookup(subject)
	if !ok {
		return nil, ErrUnknownUser
	}
	return append([]string(nil), user.Authorities...), nil
}

func (s *Static) VerifyCredentials(ctx context.Context, username string, secret string) ([]string, error) {
	user, ok := s.lookup(username)
	if !ok || user.SecretHash == "" {
		return nil, ErrInvalidCredentials
	}

	matches, err := s.hasher.Verify(secret, user.SecretHash)
	if err != nil || !matches {
		return nil, ErrInvalidCredentials
	}
	return append([]string(nil), user.Authorities...), nil
}
