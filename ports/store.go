package ports

import (
	"context"
	"time"

	"github.com/layer-3/campusauth/core"
)

// OtpLedger holds at most one pending code per identity
type OtpLedger interface {
	// Put stores rec, replacing any pending code for the same identity
	Put(ctx context.Context, rec core.OtpRecord) error
	// Consume checks code against the pending record in one atomic step.
	// A match deletes the record and returns nil, so a code is accepted at most
	// once. A mismatch counts an attempt, burns the record once maxAttempts is
	// reached and returns core.ErrOtpMismatch. Nothing pending gives
	// core.ErrOtpNotFound; an expired record is deleted and reported as
	// core.ErrOtpExpired. maxAttempts <= 0 never burns.
	Consume(ctx context.Context, identityID, code string, now time.Time, maxAttempts int) error
	Delete(ctx context.Context, identityID string) error
}

// SessionRegistry maps session IDs to their owners
type SessionRegistry interface {
	Put(ctx context.Context, s core.Session) error
	// Get returns core.ErrInvalidSession for unknown IDs. An expired session is
	// deleted and reported as core.ErrSessionExpired.
	Get(ctx context.Context, sessionID string, now time.Time) (core.Session, error)
	// Delete reports whether a session was removed
	Delete(ctx context.Context, sessionID string) (bool, error)
}

// Sweeper is implemented by backends that cannot expire records on their own
type Sweeper interface {
	// Sweep removes records that expired before cutoff and returns how many were removed
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}
