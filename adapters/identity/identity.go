// Package identity holds the account stores. Both backends keep password and
// reset-token hashes to themselves and hand out core.Identity projections only.
package identity

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
)

// record is the stored form of an identity
type record struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Username       string     `json:"username,omitempty"`
	Name           string     `json:"name,omitempty"`
	PasswordHash   string     `json:"passwordHash"`
	Role           core.Role  `json:"role"`
	Permissions    []string   `json:"permissions,omitempty"`
	Active         bool       `json:"active"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	ResetTokenHash string     `json:"resetTokenHash,omitempty"`
	ResetExpiresAt *time.Time `json:"resetExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (r record) public() core.Identity {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return core.Identity{
		ID:          r.ID,
		Email:       r.Email,
		Username:    r.Username,
		Name:        r.Name,
		Role:        r.Role,
		Permissions: perms,
		Active:      r.Active,
		LastLoginAt: r.LastLoginAt,
		CreatedAt:   r.CreatedAt,
	}
}

func (r record) matches(identifier string) bool {
	return r.Email == identifier || (r.Username != "" && r.Username == identifier)
}

// NormalizeIdentifier trims and lower-cases an email or username
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// normalizeNew validates in and returns it with canonical identifiers
func normalizeNew(in core.NewIdentity) (core.NewIdentity, error) {
	in.Email = NormalizeIdentifier(in.Email)
	in.Username = NormalizeIdentifier(in.Username)
	in.Name = strings.TrimSpace(in.Name)

	if in.Email == "" {
		return in, fmt.Errorf("%w: email is required", core.ErrValidationFailed)
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return in, fmt.Errorf("%w: email is malformed", core.ErrValidationFailed)
	}
	if strings.Contains(in.Username, "@") || strings.ContainsAny(in.Username, " \t") {
		return in, fmt.Errorf("%w: username must not contain '@' or spaces", core.ErrValidationFailed)
	}
	if in.Password == "" {
		return in, fmt.Errorf("%w: password is required", core.ErrValidationFailed)
	}
	if in.Role == "" {
		in.Role = core.RoleUser
	}
	if !in.Role.Valid() {
		return in, fmt.Errorf("%w: unknown role %q", core.ErrValidationFailed, in.Role)
	}
	in.Permissions = dedupe(in.Permissions)
	return in, nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sortIdentities(ids []core.Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].CreatedAt.Equal(ids[j].CreatedAt) {
			return ids[i].Email < ids[j].Email
		}
		return ids[i].CreatedAt.Before(ids[j].CreatedAt)
	})
}

// decoy burns one hash verification for unknown identifiers so response
// timing does not reveal which accounts exist
type decoy struct {
	hasher ports.PasswordHasher
	once   sync.Once
	hash   string
}

func (d *decoy) verify(password string) {
	d.once.Do(func() {
		d.hash, _ = d.hasher.Hash("decoy-password-never-matches")
	})
	if d.hash != "" {
		_, _ = d.hasher.Verify(password, d.hash)
	}
}
