package core

import "time"

// Role is the authorization class of an identity
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RequiresSecondFactor reports whether a password match must be confirmed with an emailed code
func (r Role) RequiresSecondFactor() bool {
	return r == RoleAdmin
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Identity is the public projection of an account. It never carries credentials.
type Identity struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username,omitempty"`
	Name        string     `json:"name,omitempty"`
	Role        Role       `json:"role"`
	Permissions []string   `json:"permissions"`
	Active      bool       `json:"active"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewIdentity carries the fields needed to register an account
type NewIdentity struct {
	Email       string
	Username    string
	Name        string
	Password    string
	Role        Role
	Permissions []string
}

// OtpRecord is a pending one-time code for a single identity
type OtpRecord struct {
	IdentityID string    `json:"identityId"`
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Attempts   int       `json:"attempts"`
}

// Expired reports whether the record is past its expiry at now
func (r OtpRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Session represents an authenticated user session
type Session struct {
	ID         string    `json:"id"`         // Registry key derived from the bearer token
	IdentityID string    `json:"identityId"` // Owner of the session
	Identifier string    `json:"identifier"` // Canonical email of the owner
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// OtpChallenge is returned by a login that needs a second factor
type OtpChallenge struct {
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expiresAt"`
	// DevCode is only populated outside production when delivery failed
	DevCode string `json:"devOtp,omitempty"`
}

// IssuedSession is a freshly minted bearer token together with its owner
type IssuedSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Identity  Identity  `json:"user"`
}

// LoginResult holds exactly one of Challenge or Session
type LoginResult struct {
	Challenge *OtpChallenge
	Session   *IssuedSession
}

// Message is an out-of-band notification
type Message struct {
	To      string
	Subject string
	Body    string
}
