package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
)

// MemoryOtpLedger is an in-memory implementation of the OtpLedger interface.
// Expired records stay until read or swept so they can be reported as expired.
type MemoryOtpLedger struct {
	records map[string]core.OtpRecord
	mu      sync.Mutex
}

var (
	_ ports.OtpLedger = (*MemoryOtpLedger)(nil)
	_ ports.Sweeper   = (*MemoryOtpLedger)(nil)
)

// NewMemoryOtpLedger creates a new in-memory OTP ledger
func NewMemoryOtpLedger() *MemoryOtpLedger {
	return &MemoryOtpLedger{
		records: make(map[string]core.OtpRecord),
	}
}

// Put stores rec, replacing any pending code for the identity
func (l *MemoryOtpLedger) Put(ctx context.Context, rec core.OtpRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[rec.IdentityID] = rec
	return nil
}

// Consume settles one verification attempt under the ledger lock
func (l *MemoryOtpLedger) Consume(ctx context.Context, identityID, code string, now time.Time, maxAttempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.records[identityID]
	if !exists {
		return core.ErrOtpNotFound
	}

	next, err := settle(rec, code, now, maxAttempts)
	if next == nil {
		delete(l.records, identityID)
	} else {
		l.records[identityID] = *next
	}
	return err
}

// Delete removes the pending record; missing records are ignored
func (l *MemoryOtpLedger) Delete(ctx context.Context, identityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.records, identityID)
	return nil
}

// Sweep drops records that expired before cutoff
func (l *MemoryOtpLedger) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(l.records, id)
			removed++
		}
	}
	return removed, nil
}

// MemorySessionRegistry is an in-memory implementation of the SessionRegistry interface
type MemorySessionRegistry struct {
	sessions map[string]core.Session
	mu       sync.RWMutex
}

var (
	_ ports.SessionRegistry = (*MemorySessionRegistry)(nil)
	_ ports.Sweeper         = (*MemorySessionRegistry)(nil)
)

// NewMemorySessionRegistry creates a new in-memory session registry
func NewMemorySessionRegistry() *MemorySessionRegistry {
	return &MemorySessionRegistry{
		sessions: make(map[string]core.Session),
	}
}

// Put stores s under its ID
func (r *MemorySessionRegistry) Put(ctx context.Context, s core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	return nil
}

// Get returns the session, deleting it when expired
func (r *MemorySessionRegistry) Get(ctx context.Context, sessionID string, now time.Time) (core.Session, error) {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()

	if !exists {
		return core.Session{}, core.ErrInvalidSession
	}

	if s.Expired(now) {
		r.mu.Lock()
		// Only delete if nobody replaced it in between
		if current, ok := r.sessions[sessionID]; ok && current.ExpiresAt.Equal(s.ExpiresAt) {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		return core.Session{}, core.ErrSessionExpired
	}

	return s, nil
}

// Delete removes the session and reports whether it existed
func (r *MemorySessionRegistry) Delete(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; !exists {
		return false, nil
	}
	delete(r.sessions, sessionID)
	return true, nil
}

// Sweep drops sessions that expired before cutoff
func (r *MemorySessionRegistry) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}
