package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
	_ "modernc.org/sqlite"
)

const identityColumns = `id, email, username, name, password_hash, role, permissions, active,
	last_login_at, reset_token_hash, reset_expires_at, created_at, updated_at`

// SQLiteStore keeps identities in a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	hasher ports.PasswordHasher
	decoy  *decoy
	now    func() time.Time
}

var _ ports.IdentityStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn. Callers apply migrations before use.
func NewSQLiteStore(dsn string, hasher ports.PasswordHasher) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers, which keeps capped creation atomic
	// and lets ":memory:" databases survive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		hasher: hasher,
		decoy:  &decoy{hasher: hasher},
		now:    time.Now,
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction, rolling back on error
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // safe after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var (
		r                       record
		username, resetHash     sql.NullString
		perms                   string
		active                  bool
		lastLogin, resetExpires sql.NullInt64
		createdAt, updatedAt    int64
	)

	err := row.Scan(&r.ID, &r.Email, &username, &r.Name, &r.PasswordHash, &r.Role, &perms, &active,
		&lastLogin, &resetHash, &resetExpires, &createdAt, &updatedAt)
	if err != nil {
		return record{}, mapNotFound(err)
	}

	r.Username = username.String
	if r.Permissions, err = decodePermissions(perms); err != nil {
		return record{}, err
	}
	r.Active = active
	r.LastLoginAt = mapNullTime(lastLogin)
	r.ResetTokenHash = resetHash.String
	r.ResetExpiresAt = mapNullTime(resetExpires)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return r, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func mapNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Permissions are stored as a JSON array so entries may contain spaces
func encodePermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("failed to encode permissions: %w", err)
	}
	return string(b), nil
}

func decodePermissions(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(s), &perms); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return dedupe(perms), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) findByIdentifier(ctx context.Context, identifier string) (record, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return record{}, core.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ? OR username = ? LIMIT 1`,
		identifier, identifier)
	return scanRecord(row)
}

// FindByIdentifier matches email or username
func (s *SQLiteStore) FindByIdentifier(ctx context.Context, identifier string) (core.Identity, error) {
	r, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return core.Identity{}, err
	}
	return r.public(), nil
}

// FindByID returns the identity with the given ID
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (core.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		return core.Identity{}, err
	}
	return r.public(), nil
}

// VerifyPassword checks password against the stored hash
func (s *SQLiteStore) VerifyPassword(ctx context.Context, identifier, password string) (core.Identity, error) {
	r, err := s.findByIdentifier(ctx, identifier)
	if errors.Is(err, core.ErrNotFound) {
		s.decoy.verify(password)
		return core.Identity{}, core.ErrInvalidCredentials
	}
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to load identity: %w", err)
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

// exec runs a single-row update and maps zero affected rows to core.ErrNotFound
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx,
		`UPDATE identities SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		at.UnixNano(), s.now().UnixNano(), id)
}

// SetPassword re-hashes password and stores it
func (s *SQLiteStore) SetPassword(ctx context.Context, id, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.exec(ctx,
		`UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, s.now().UnixNano(), id)
}

func (s *SQLiteStore) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.exec(ctx,
		`UPDATE identities SET reset_token_hash = ?, reset_expires_at = ?, updated_at = ? WHERE id = ?`,
		tokenHash, expiresAt.UnixNano(), s.now().UnixNano(), id)
}

func (s *SQLiteStore) ClearResetToken(ctx context.Context, id string) error {
	return s.exec(ctx,
		`UPDATE identities SET reset_token_hash = NULL, reset_expires_at = NULL, updated_at = ? WHERE id = ?`,
		s.now().UnixNano(), id)
}

// ConsumeResetToken swaps in newPassword for the holder of tokenHash
func (s *SQLiteStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, newPassword string) (core.Identity, error) {
	if tokenHash == "" {
		return core.Identity{}, core.ErrInvalidOrExpiredToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	var updated record
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+identityColumns+` FROM identities WHERE reset_token_hash = ? AND reset_expires_at > ?`,
			tokenHash, now.UnixNano())
		r, err := scanRecord(row)
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrInvalidOrExpiredToken
		}
		if err != nil {
			return fmt.Errorf("failed to load reset token: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE identities
			 SET password_hash = ?, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = ?
			 WHERE id = ?`,
			hash, s.now().UnixNano(), r.ID)
		if err != nil {
			return fmt.Errorf("failed to reset password: %w", err)
		}

		updated = r
		return nil
	})
	if err != nil {
		return core.Identity{}, err
	}
	return updated.public(), nil
}

func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx,
		`UPDATE identities SET active = ?, updated_at = ? WHERE id = ?`,
		active, s.now().UnixNano(), id)
}

func (s *SQLiteStore) ListByRole(ctx context.Context, role core.Role) ([]core.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE role = ? ORDER BY created_at, email`, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	out := []core.Identity{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, r.public())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountByRole(ctx context.Context, role core.Role) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE role = ?`, string(role)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return n, nil
}

// Create registers a new identity. Count and insert share one transaction.
func (s *SQLiteStore) Create(ctx context.Context, in core.NewIdentity, roleLimit int) (core.Identity, error) {
	in, err := normalizeNew(in)
	if err != nil {
		return core.Identity{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to hash password: %w", err)
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

	perms, err := encodePermissions(r.Permissions)
	if err != nil {
		return core.Identity{}, err
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		var taken int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM identities
			 WHERE email IN (?, ?) OR (username IS NOT NULL AND username IN (?, ?))`,
			r.Email, r.Username, r.Email, r.Username).Scan(&taken)
		if err != nil {
			return fmt.Errorf("failed to check identity: %w", err)
		}
		if taken > 0 {
			return core.ErrIdentityExists
		}

		if roleLimit > 0 {
			var n int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE role = ?`, string(r.Role)).Scan(&n)
			if err != nil {
				return fmt.Errorf("failed to count identities: %w", err)
			}
			if n >= roleLimit {
				return core.ErrAdminLimitReached
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)`,
			r.ID, r.Email, mapStringNull(r.Username), r.Name, r.PasswordHash, string(r.Role),
			perms, r.Active, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
		if isUniqueViolation(err) {
			return core.ErrIdentityExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Identity{}, err
	}
	return r.public(), nil
}
