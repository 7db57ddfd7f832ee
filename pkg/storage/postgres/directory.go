package postgres

import (
	"context"
	"errors"

	ocrypto "github.com/porthorian/statelessauth/pkg/crypto"
	"github.com/porthorian/statelessauth/pkg/directory"
	oerrors "github.com/porthorian/statelessauth/pkg/errors"
	"github.com/porthorian/statelessauth/pkg/storage"
)

// Directory serves authorities and classic credentials from the users tables.
type Directory struct {
	users  storage.UserStore
	hasher ocrypto.Hasher
}

var _ directory.Directory = (*Directory)(nil)
var _ directory.CredentialVerifier = (*Directory)(nil)

func NewDirectory(users storage.UserStore, hasher ocrypto.Hasher) *Directory {
	if hasher == nil {
		hasher = ocrypto.NewPBKDF2Hasher(ocrypto.DefaultPBKDF2Options())
	}
	return &Directory{users: users, hasher: hasher}
}

func (d *Directory) Authorities(ctx context.Context, subject string) ([]string, error) {
	user, err := d.users.GetUser(ctx, subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, directory.ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return user.Authorities, nil
}

func (d *Directory) VerifyCredentials(ctx context.Context, username string, secret string) ([]string, error) {
	user, err := d.users.GetUser(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, directory.ErrInvalidCredentials
	}
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to load user", err)
	}
	if user.SecretHash == "" {
		return nil, directory.ErrInvalidCredentials
	}

	matches, err := d.hasher.Verify(secret, user.SecretHash)
	if err != nil || !matches {
		return nil, directory.ErrInvalidCredentials
	}
	return user.Authorities, nil
}
