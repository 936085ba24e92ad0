package identity

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/campusauth/adapters/hasher"
	"github.com/layer-3/campusauth/adapters/identity/migrations"
	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
	"github.com/stretchr/testify/require"
)

func testHasher() ports.PasswordHasher {
	return hasher.NewArgon2(hasher.Params{Memory: 8 * 1024, Time: 1, Threads: 1})
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", testHasher())
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newFile(t *testing.T) *FileStore {
	t.Helper()

	s, err := NewFileStore(t.TempDir(), testHasher())
	require.NoError(t, err)
	return s
}

// forEachStore runs fn against every backend
func forEachStore(t *testing.T, fn func(t *testing.T, s ports.IdentityStore)) {
	t.Run("file", func(t *testing.T) {
		t.Parallel()
		fn(t, newFile(t))
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		fn(t, newSQLite(t))
	})
}

func admin(email string) core.NewIdentity {
	return core.NewIdentity{
		Email:    email,
		Name:     "Admin",
		Password: "s3cret-pass",
		Role:     core.RoleAdmin,
	}
}

func TestCreateAndFind(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		created, err := s.Create(ctx, core.NewIdentity{
			Email:       "  Head@School.EDU ",
			Username:    "Principal",
			Name:        "Head",
			Password:    "s3cret-pass",
			Role:        core.RoleAdmin,
			Permissions: []string{"courses", "gallery", "courses"},
		}, 0)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		require.Equal(t, "head@school.edu", created.Email)
		require.Equal(t, "principal", created.Username)
		require.Equal(t, []string{"courses", "gallery"}, created.Permissions)
		require.True(t, created.Active)

		for _, identifier := range []string{"head@school.edu", "HEAD@school.edu", " principal ", "PRINCIPAL"} {
			got, err := s.FindByIdentifier(ctx, identifier)
			require.NoError(t, err, identifier)
			require.Equal(t, created.ID, got.ID)
		}

		got, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, created.Email, got.Email)

		_, err = s.FindByIdentifier(ctx, "nobody@school.edu")
		require.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.FindByIdentifier(ctx, "   ")
		require.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.FindByID(ctx, "missing")
		require.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestPermissionsKeepInnerSpaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		in := admin("staff@school.edu")
		in.Permissions = []string{"manage courses", "gallery", `edit "news"`}
		created, err := s.Create(ctx, in, 0)
		require.NoError(t, err)
		require.Equal(t, in.Permissions, created.Permissions)

		found, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, in.Permissions, found.Permissions)

		admins, err := s.ListByRole(ctx, core.RoleAdmin)
		require.NoError(t, err)
		require.Len(t, admins, 1)
		require.Equal(t, in.Permissions, admins[0].Permissions)

		bare, err := s.Create(ctx, admin("bare@school.edu"), 0)
		require.NoError(t, err)
		found, err = s.FindByID(ctx, bare.ID)
		require.NoError(t, err)
		require.Equal(t, []string{}, found.Permissions)
	})
}

func TestCreateRejectsDuplicatesAndInvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		_, err := s.Create(ctx, core.NewIdentity{Email: "a@school.edu", Username: "alpha", Password: "s3cret-pass"}, 0)
		require.NoError(t, err)

		_, err = s.Create(ctx, core.NewIdentity{Email: "A@SCHOOL.EDU", Password: "s3cret-pass"}, 0)
		require.ErrorIs(t, err, core.ErrIdentityExists)

		_, err = s.Create(ctx, core.NewIdentity{Email: "b@school.edu", Username: "Alpha", Password: "s3cret-pass"}, 0)
		require.ErrorIs(t, err, core.ErrIdentityExists)

		for _, in := range []core.NewIdentity{
			{Email: "", Password: "s3cret-pass"},
			{Email: "not-an-email", Password: "s3cret-pass"},
			{Email: "c@school.edu", Password: ""},
			{Email: "c@school.edu", Password: "s3cret-pass", Role: "root"},
			{Email: "c@school.edu", Username: "x@y", Password: "s3cret-pass"},
		} {
			_, err := s.Create(ctx, in, 0)
			require.ErrorIs(t, err, core.ErrValidationFailed, "%+v", in)
		}

		n, err := s.CountByRole(ctx, core.RoleUser)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestCreateEnforcesRoleLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.Create(ctx, admin(fmt.Sprintf("admin%d@school.edu", i)), 3)
			require.NoError(t, err)
		}

		_, err := s.Create(ctx, admin("admin3@school.edu"), 3)
		require.ErrorIs(t, err, core.ErrAdminLimitReached)

		// The limit is per role
		_, err = s.Create(ctx, core.NewIdentity{Email: "user@school.edu", Password: "s3cret-pass"}, 3)
		require.NoError(t, err)

		admins, err := s.ListByRole(ctx, core.RoleAdmin)
		require.NoError(t, err)
		require.Len(t, admins, 3)
	})
}

func TestCreateRoleLimitUnderConcurrency(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			limited int
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Create(ctx, admin(fmt.Sprintf("racer%d@school.edu", i)), 10)
				mu.Lock()
				defer mu.Unlock()
				switch err {
				case nil:
					created++
				case core.ErrAdminLimitReached:
					limited++
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, 10, created)
		require.Equal(t, 2, limited)

		n, err := s.CountByRole(ctx, core.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, 10, n)
	})
}

func TestVerifyPassword(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		created, err := s.Create(ctx, admin("head@school.edu"), 0)
		require.NoError(t, err)

		got, err := s.VerifyPassword(ctx, "Head@School.edu", "s3cret-pass")
		require.NoError(t, err)
		require.Equal(t, created.ID, got.ID)

		_, err = s.VerifyPassword(ctx, "head@school.edu", "wrong-pass")
		require.ErrorIs(t, err, core.ErrInvalidCredentials)

		_, err = s.VerifyPassword(ctx, "ghost@school.edu", "s3cret-pass")
		require.ErrorIs(t, err, core.ErrInvalidCredentials)

		require.NoError(t, s.SetPassword(ctx, created.ID, "brand-new-pass"))
		_, err = s.VerifyPassword(ctx, "head@school.edu", "s3cret-pass")
		require.ErrorIs(t, err, core.ErrInvalidCredentials)
		_, err = s.VerifyPassword(ctx, "head@school.edu", "brand-new-pass")
		require.NoError(t, err)

		require.ErrorIs(t, s.SetPassword(ctx, "missing", "brand-new-pass"), core.ErrNotFound)
	})
}

func TestResetTokenLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()
		now := time.Now()

		created, err := s.Create(ctx, admin("head@school.edu"), 0)
		require.NoError(t, err)

		require.NoError(t, s.SetResetToken(ctx, created.ID, "fingerprint-1", now.Add(10*time.Minute)))

		_, err = s.ConsumeResetToken(ctx, "fingerprint-2", now, "brand-new-pass")
		require.ErrorIs(t, err, core.ErrInvalidOrExpiredToken)

		_, err = s.ConsumeResetToken(ctx, "fingerprint-1", now.Add(11*time.Minute), "brand-new-pass")
		require.ErrorIs(t, err, core.ErrInvalidOrExpiredToken)

		got, err := s.ConsumeResetToken(ctx, "fingerprint-1", now, "brand-new-pass")
		require.NoError(t, err)
		require.Equal(t, created.ID, got.ID)

		_, err = s.VerifyPassword(ctx, "head@school.edu", "brand-new-pass")
		require.NoError(t, err)

		// Single use
		_, err = s.ConsumeResetToken(ctx, "fingerprint-1", now, "another-pass")
		require.ErrorIs(t, err, core.ErrInvalidOrExpiredToken)

		require.NoError(t, s.SetResetToken(ctx, created.ID, "fingerprint-3", now.Add(10*time.Minute)))
		require.NoError(t, s.ClearResetToken(ctx, created.ID))
		_, err = s.ConsumeResetToken(ctx, "fingerprint-3", now, "another-pass")
		require.ErrorIs(t, err, core.ErrInvalidOrExpiredToken)

		_, err = s.ConsumeResetToken(ctx, "", now, "another-pass")
		require.ErrorIs(t, err, core.ErrInvalidOrExpiredToken)
	})
}

func TestLastLoginAndActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()
		at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

		created, err := s.Create(ctx, admin("head@school.edu"), 0)
		require.NoError(t, err)
		require.Nil(t, created.LastLoginAt)

		require.NoError(t, s.UpdateLastLogin(ctx, created.ID, at))
		got, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastLoginAt)
		require.True(t, at.Equal(*got.LastLoginAt))

		require.NoError(t, s.SetActive(ctx, created.ID, false))
		got, err = s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.False(t, got.Active)

		require.ErrorIs(t, s.UpdateLastLogin(ctx, "missing", at), core.ErrNotFound)
	})
}

func TestListByRoleOrdersByCreation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s ports.IdentityStore) {
		ctx := context.Background()

		for _, email := range []string{"zeta@school.edu", "alpha@school.edu", "mid@school.edu"} {
			_, err := s.Create(ctx, admin(email), 0)
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}
		_, err := s.Create(ctx, core.NewIdentity{Email: "student@school.edu", Password: "s3cret-pass"}, 0)
		require.NoError(t, err)

		admins, err := s.ListByRole(ctx, core.RoleAdmin)
		require.NoError(t, err)
		require.Len(t, admins, 3)
		require.Equal(t, "zeta@school.edu", admins[0].Email)
		require.Equal(t, "mid@school.edu", admins[2].Email)
		for _, a := range admins {
			require.NotNil(t, a.Permissions)
		}

		users, err := s.ListByRole(ctx, core.RoleUser)
		require.NoError(t, err)
		require.Len(t, users, 1)
	})
}

func TestFileStoreSurvivesReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, testHasher())
	require.NoError(t, err)

	created, err := s.Create(ctx, admin("head@school.edu"), 0)
	require.NoError(t, err)
	require.NoError(t, s.SetResetToken(ctx, created.ID, "fingerprint", time.Now().Add(time.Hour)))

	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.Contains(t, string(raw), "head@school.edu")
	require.NotContains(t, string(raw), "s3cret-pass")

	reopened, err := NewFileStore(dir, testHasher())
	require.NoError(t, err)

	got, err := reopened.VerifyPassword(ctx, "head@school.edu", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = reopened.ConsumeResetToken(ctx, "fingerprint", time.Now(), "brand-new-pass")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0o600))

	_, err := NewFileStore(dir, testHasher())
	require.Error(t, err)
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLitePermissionsMigrationConvertsLegacyRows(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	created, err := s.Create(ctx, admin("legacy@school.edu"), 0)
	require.NoError(t, err)
	bare, err := s.Create(ctx, admin("bare@school.edu"), 0)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE identities SET permissions = ? WHERE id = ?`, "courses  gallery", created.ID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE identities SET permissions = '' WHERE id = ?`, bare.ID)
	require.NoError(t, err)

	script, err := fs.ReadFile(migrations.Migrations, "000002_permissions_json.up.sql")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, string(script))
	require.NoError(t, err)

	found, err := s.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"courses", "gallery"}, found.Permissions)

	found, err = s.FindByID(ctx, bare.ID)
	require.NoError(t, err)
	require.Equal(t, []string{}, found.Permissions)
}
