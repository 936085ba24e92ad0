package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
)

const fileName = "identities.json"

type fileState struct {
	Identities map[string]record `json:"identities"`
}

// FileStore keeps every identity in a single JSON document that is rewritten
// atomically on each mutation
type FileStore struct {
	mu     sync.RWMutex
	path   string
	state  fileState
	hasher ports.PasswordHasher
	decoy  *decoy
	now    func() time.Time
}

var _ ports.IdentityStore = (*FileStore)(nil)

// NewFileStore opens or creates identities.json under dataDir
func NewFileStore(dataDir string, hasher ports.PasswordHasher) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &FileStore{
		path:   filepath.Join(dataDir, fileName),
		state:  fileState{Identities: map[string]record{}},
		hasher: hasher,
		decoy:  &decoy{hasher: hasher},
		now:    time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read identities: %w", err)
	}

	var loaded fileState
	if err := json.Unmarshal(b, &loaded); err != nil {
		return fmt.Errorf("failed to decode identities: %w", err)
	}
	if loaded.Identities == nil {
		loaded.Identities = map[string]record{}
	}
	s.state = loaded
	return nil
}

// saveLocked writes to a temp file and renames it over the document
func (s *FileStore) saveLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identities: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), fileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write identities: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync identities: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close identities: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace identities: %w", err)
	}
	return nil
}

// updateLocked applies fn to a copy of the record and persists it. The
// in-memory state is left untouched when saving fails.
func (s *FileStore) updateLocked(id string, fn func(*record) error) (record, error) {
	prev, ok := s.state.Identities[id]
	if !ok {
		return record{}, core.ErrNotFound
	}

	next := prev
	if err := fn(&next); err != nil {
		return record{}, err
	}
	next.UpdatedAt = s.now().UTC()

	s.state.Identities[id] = next
	if err := s.saveLocked(); err != nil {
		s.state.Identities[id] = prev
		return record{}, err
	}
	return next, nil
}

func (s *FileStore) findLocked(identifier string) (record, bool) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return record{}, false
	}
	for _, r := range s.state.Identities {
		if r.matches(identifier) {
			return r, true
		}
	}
	return record{}, false
}

// FindByIdentifier matches email or username
func (s *FileStore) FindByIdentifier(ctx context.Context, identifier string) (core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.findLocked(identifier)
	if !ok {
		return core.Identity{}, core.ErrNotFound
	}
	return r.public(), nil
}

// FindByID returns the identity with the given ID
func (s *FileStore) FindByID(ctx context.Context, id string) (core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.Identities[id]
	if !ok {
		return core.Identity{}, core.ErrNotFound
	}
	return r.public(), nil
}

// VerifyPassword checks password against the stored hash
func (s *FileStore) VerifyPassword(ctx context.Context, identifier, password string) (core.Identity, error) {
	s.mu.RLock()
	r, ok := s.findLocked(identifier)
	s.mu.RUnlock()

	if !ok {
		s.decoy.verify(password)
		return core.Identity{}, core.ErrInvalidCredentials
	}

	match, err := s.hasher.Verify(password, r.PasswordHash)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return core.Identity{}, core.ErrInvalidCredentials
	}
	return r.public(), nil
}

func (s *FileStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(r *record) error {
		at := at.UTC()
		r.LastLoginAt = &at
		return nil
	})
	return err
}

// SetPassword re-hashes password and stores it
func (s *FileStore) SetPassword(ctx context.Context, id, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.updateLocked(id, func(r *record) error {
		r.PasswordHash = hash
		return nil
	})
	return err
}

func (s *FileStore) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(r *record) error {
		exp := expiresAt.UTC()
		r.ResetTokenHash = tokenHash
		r.ResetExpiresAt = &exp
		return nil
	})
	return err
}

func (s *FileStore) ClearResetToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(r *record) error {
		r.ResetTokenHash = ""
		r.ResetExpiresAt = nil
		return nil
	})
	return err
}

// ConsumeResetToken swaps in newPassword for the holder of tokenHash
func (s *FileStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPassword string) (core.Identity, error) {
	if tokenHash == "" {
		return core.Identity{}, core.ErrInvalidOrExpiredToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var holder string
	for id, r := range s.state.Identities {
		if r.ResetTokenHash == tokenHash && r.ResetExpiresAt != nil && r.ResetExpiresAt.After(now) {
			holder = id
			break
		}
	}
	if holder == "" {
		return core.Identity{}, core.ErrInvalidOrExpiredToken
	}

	updated, err := s.updateLocked(holder, func(r *record) error {
		r.PasswordHash = hash
		r.ResetTokenHash = ""
		r.ResetExpiresAt = nil
		return nil
	})
	if err != nil {
		return core.Identity{}, err
	}
	return updated.public(), nil
}

func (s *FileStore) ListByRole(ctx context.Context, role core.Role) ([]core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.Identity{}
	for _, r := range s.state.Identities {
		if r.Role == role {
			out = append(out, r.public())
		}
	}
	sortIdentities(out)
	return out, nil
}

func (s *FileStore) CountByRole(ctx context.Context, role core.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countLocked(role), nil
}

func (s *FileStore) countLocked(role core.Role) int {
	n := 0
	for _, r := range s.state.Identities {
		if r.Role == role {
			n++
		}
	}
	return n
}

// Create registers a new identity. The mutex is held across the count, the
// insert and the save so the role limit cannot be overshot.
func (s *FileStore) Create(ctx context.Context, in core.NewIdentity, roleLimit int) (core.Identity, error) {
	in, err := normalizeNew(in)
	if err != nil {
		return core.Identity{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.state.Identities {
		if r.matches(in.Email) || (in.Username != "" && r.matches(in.Username)) {
			return core.Identity{}, core.ErrIdentityExists
		}
	}
	if roleLimit > 0 && s.countLocked(in.Role) >= roleLimit {
		return core.Identity{}, core.ErrAdminLimitReached
	}

	now := s.now().UTC()
	r := record{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         in.Role,
		Permissions:  in.Permissions,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.state.Identities[r.ID] = r
	if err := s.saveLocked(); err != nil {
		delete(s.state.Identities, r.ID)
		return core.Identity{}, err
	}
	return r.public(), nil
}

// SetActive enables or disables an identity
func (s *FileStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateLocked(id, func(r *record) error {
		r.Active = active
		return nil
	})
	return err
}

// Ping checks that the data directory is still present and writable
func (s *FileStore) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("data dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dir)
	}

	tmp, err := os.CreateTemp(dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

func (s *FileStore) Close() error { return nil }
