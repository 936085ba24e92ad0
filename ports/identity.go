package ports

import (
	"context"
	"time"

	"github.com/layer-3/campusauth/core"
)

// IdentityStore owns account records. Password hashes never cross this boundary:
// verification and re-hashing happen inside the store.
type IdentityStore interface {
	// FindByIdentifier matches email or username case-insensitively.
	// Returns core.ErrNotFound when nothing matches.
	FindByIdentifier(ctx context.Context, identifier string) (core.Identity, error)

	// FindByID returns core.ErrNotFound for unknown IDs
	FindByID(ctx context.Context, id string) (core.Identity, error)

	// VerifyPassword returns the identity when password matches,
	// core.ErrInvalidCredentials otherwise (including unknown identifiers).
	VerifyPassword(ctx context.Context, identifier, password string) (core.Identity, error)

	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// SetPassword re-hashes and stores password
	SetPassword(ctx context.Context, id, password string) error

	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error

	// ConsumeResetToken sets newPassword on the identity holding an unexpired
	// tokenHash and clears the token. Returns core.ErrInvalidOrExpiredToken otherwise.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPassword string) (core.Identity, error)

	// SetActive enables or disables sign-in for an identity
	SetActive(ctx context.Context, id string, active bool) error

	ListByRole(ctx context.Context, role core.Role) ([]core.Identity, error)
	CountByRole(ctx context.Context, role core.Role) (int, error)

	// Create registers in. When roleLimit > 0 and the store already holds
	// roleLimit identities of in.Role it returns core.ErrAdminLimitReached and
	// leaves the store unchanged. Duplicates yield core.ErrIdentityExists.
	Create(ctx context.Context, in core.NewIdentity, roleLimit int) (core.Identity, error)

	// Ping reports whether the backing storage is reachable
	Ping(ctx context.Context) error

	Close() error
}

// PasswordHasher produces and checks one-way password hashes
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}
