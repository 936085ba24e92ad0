package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/internal/cryptox"
	"github.com/layer-3/campusauth/ports"
	"go.uber.org/zap"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// Options tunes the auth flow
type Options struct {
	OtpTTL     time.Duration
	ResetTTL   time.Duration
	SessionTTL time.Duration

	// MaxOtpAttempts burns a pending code after this many mismatches. 0 disables the limit.
	MaxOtpAttempts int
	MaxAdmins      int

	// Production suppresses the dev fallback that returns an undelivered code
	Production bool
	// StrictResetDelivery surfaces notifier failures from ForgotPassword
	StrictResetDelivery bool
	// ResetURL is prefixed to the raw reset token in emails
	ResetURL string

	Clock func() time.Time
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		OtpTTL:         10 * time.Minute,
		ResetTTL:       10 * time.Minute,
		SessionTTL:     24 * time.Hour,
		MaxOtpAttempts: 5,
		MaxAdmins:      10,
		Production:     true,
		Clock:          time.Now,
	}
}

// AuthService handles authentication business logic
type AuthService struct {
	identities ports.IdentityStore
	otps       ports.OtpLedger
	sessions   ports.SessionRegistry
	tokenizer  ports.Tokenizer
	notifier   ports.Notifier
	eventPub   ports.EventPublisher
	logger     *zap.Logger

	opts Options
}

// NewAuthService creates a new authentication service. eventPub may be nil.
func NewAuthService(
	identities ports.IdentityStore,
	otps ports.OtpLedger,
	sessions ports.SessionRegistry,
	tokenizer ports.Tokenizer,
	notifier ports.Notifier,
	eventPub ports.EventPublisher,
	logger *zap.Logger,
	opts Options,
) *AuthService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		identities: identities,
		otps:       otps,
		sessions:   sessions,
		tokenizer:  tokenizer,
		notifier:   notifier,
		eventPub:   eventPub,
		logger:     logger.Named("auth"),
		opts:       opts,
	}
}

func (s *AuthService) now() time.Time {
	return s.opts.Clock()
}

// Login checks the password. Identities that need a second factor get an
// emailed code and a challenge; everyone else gets a session straight away.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (core.LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return core.LoginResult{}, fmt.Errorf("%w: identifier and password are required", core.ErrValidationFailed)
	}

	identity, err := s.identities.VerifyPassword(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			return core.LoginResult{}, err
		}
		return core.LoginResult{}, fmt.Errorf("failed to verify password: %w", err)
	}

	if !identity.Active {
		return core.LoginResult{}, core.ErrAccountDisabled
	}

	if identity.Role.RequiresSecondFactor() {
		challenge, err := s.issueOtp(ctx, identity)
		if err != nil {
			return core.LoginResult{}, err
		}
		return core.LoginResult{Challenge: challenge}, nil
	}

	issued, err := s.startSession(ctx, identity)
	if err != nil {
		return core.LoginResult{}, err
	}
	return core.LoginResult{Session: issued}, nil
}

func (s *AuthService) issueOtp(ctx context.Context, identity core.Identity) (*core.OtpChallenge, error) {
	code, err := cryptox.GenerateCode(cryptox.OtpDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp: %w", err)
	}

	now := s.now()
	rec := core.OtpRecord{
		IdentityID: identity.ID,
		Code:       code,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.opts.OtpTTL),
	}
	if err := s.otps.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store otp: %w", err)
	}

	challenge := &core.OtpChallenge{
		Identifier: identity.Email,
		ExpiresAt:  rec.ExpiresAt,
	}

	err = s.notifier.Deliver(ctx, core.Message{
		To:      identity.Email,
		Subject: "Your login code",
		Body: fmt.Sprintf("Your one-time login code is %s.\nIt expires in %d minutes.",
			code, int(s.opts.OtpTTL.Minutes())),
	})
	if err != nil {
		s.logger.Warn("otp delivery failed",
			zap.String("identity_id", identity.ID),
			zap.Bool("production", s.opts.Production),
			zap.Error(err),
		)
		if s.opts.Production {
			if delErr := s.otps.Delete(ctx, identity.ID); delErr != nil {
				s.logger.Error("failed to discard undelivered otp", zap.String("identity_id", identity.ID), zap.Error(delErr))
			}
			return nil, core.ErrDeliveryFailed
		}
		challenge.DevCode = code
	}

	s.publish(ctx, ports.AuthEvent{
		Type:       ports.EventOtpIssued,
		IdentityID: identity.ID,
		Identifier: identity.Email,
	})

	return challenge, nil
}

// VerifyOtp exchanges a pending code for a session
func (s *AuthService) VerifyOtp(ctx context.Context, identifier, code string) (*core.IssuedSession, error) {
	identifier = strings.TrimSpace(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" || code == "" {
		return nil, fmt.Errorf("%w: identifier and otp are required", core.ErrValidationFailed)
	}

	identity, err := s.identities.FindByIdentifier(ctx, identifier)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrOtpNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	// Only the caller whose Consume removed the record gets a session
	err = s.otps.Consume(ctx, identity.ID, code, s.now(), s.opts.MaxOtpAttempts)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrOtpMismatch):
		s.logger.Debug("otp mismatch", zap.String("identity_id", identity.ID))
		return nil, err
	case errors.Is(err, core.ErrOtpNotFound), errors.Is(err, core.ErrOtpExpired):
		return nil, err
	default:
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}

	if !identity.Active {
		return nil, core.ErrAccountDisabled
	}

	return s.startSession(ctx, identity)
}

func (s *AuthService) startSession(ctx context.Context, identity core.Identity) (*core.IssuedSession, error) {
	now := s.now()
	if err := s.identities.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	loginAt := now.UTC()
	identity.LastLoginAt = &loginAt

	session := &core.Session{
		IdentityID: identity.ID,
		Identifier: identity.Email,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.opts.SessionTTL),
	}

	token, err := s.tokenizer.Issue(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	if err := s.sessions.Put(ctx, *session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.publish(ctx, ports.AuthEvent{
		Type:       ports.EventLoginSucceeded,
		IdentityID: identity.ID,
		Identifier: identity.Email,
		SessionID:  session.ID,
	})

	return &core.IssuedSession{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Identity:  identity,
	}, nil
}

// CheckSession resolves a bearer token to the identity that owns it
func (s *AuthService) CheckSession(ctx context.Context, token string) (core.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Identity{}, core.ErrUnauthenticated
	}

	sessionID, err := s.tokenizer.SessionID(token)
	if err != nil {
		return core.Identity{}, err
	}

	session, err := s.sessions.Get(ctx, sessionID, s.now())
	if err != nil {
		if errors.Is(err, core.ErrInvalidSession) || errors.Is(err, core.ErrSessionExpired) {
			return core.Identity{}, err
		}
		return core.Identity{}, fmt.Errorf("failed to load session: %w", err)
	}

	identity, err := s.identities.FindByID(ctx, session.IdentityID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return core.Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}
	if err != nil || !identity.Active {
		if _, delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			s.logger.Error("failed to drop orphaned session", zap.Error(delErr))
		}
		return core.Identity{}, core.ErrInvalidSession
	}

	return identity, nil
}

// Logout drops the session behind token. It never fails.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	sessionID, err := s.tokenizer.SessionID(token)
	if err != nil {
		return nil
	}

	// Fetched only to attribute the event
	session, _ := s.sessions.Get(ctx, sessionID, s.now())

	removed, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		s.logger.Error("failed to delete session", zap.Error(err))
		return nil
	}

	if removed {
		s.publish(ctx, ports.AuthEvent{
			Type:       ports.EventLogout,
			IdentityID: session.IdentityID,
			Identifier: session.Identifier,
			SessionID:  sessionID,
		})
	}
	return nil
}

// ForgotPassword emails a reset link to the identity behind identifier, if any.
// The result does not depend on whether the identity exists.
func (s *AuthService) ForgotPassword(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", core.ErrValidationFailed)
	}

	identity, err := s.identities.FindByIdentifier(ctx, identifier)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.Debug("password reset requested for unknown identifier")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if !identity.Active {
		s.logger.Debug("password reset requested for disabled identity", zap.String("identity_id", identity.ID))
		return nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	expiresAt := s.now().Add(s.opts.ResetTTL)
	if err := s.identities.SetResetToken(ctx, identity.ID, cryptox.FingerprintToken(token), expiresAt); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	err = s.notifier.Deliver(ctx, core.Message{
		To:      identity.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Use the link below to choose a new password. It expires in %d minutes.\n\n%s%s",
			int(s.opts.ResetTTL.Minutes()), s.opts.ResetURL, token),
	})
	if err != nil {
		s.logger.Warn("reset delivery failed", zap.String("identity_id", identity.ID), zap.Error(err))
		if clearErr := s.identities.ClearResetToken(ctx, identity.ID); clearErr != nil {
			s.logger.Error("failed to clear undelivered reset token", zap.String("identity_id", identity.ID), zap.Error(clearErr))
		}
		if s.opts.StrictResetDelivery {
			return core.ErrDeliveryFailed
		}
	}

	return nil
}

// ResetPassword sets a new password using a token from ForgotPassword
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return core.ErrInvalidOrExpiredToken
	}

	identity, err := s.identities.ConsumeResetToken(ctx, cryptox.FingerprintToken(token), s.now(), newPassword)
	if err != nil {
		if errors.Is(err, core.ErrInvalidOrExpiredToken) {
			return err
		}
		return fmt.Errorf("failed to reset password: %w", err)
	}

	s.publish(ctx, ports.AuthEvent{
		Type:       ports.EventPasswordReset,
		IdentityID: identity.ID,
		Identifier: identity.Email,
	})
	return nil
}

// ChangePassword replaces the password of an authenticated identity
func (s *AuthService) ChangePassword(ctx context.Context, identifier, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return fmt.Errorf("%w: current password is required", core.ErrValidationFailed)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	identity, err := s.identities.VerifyPassword(ctx, identifier, currentPassword)
	if errors.Is(err, core.ErrInvalidCredentials) {
		return core.ErrIncorrectCurrentPassword
	}
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}

	if err := s.identities.SetPassword(ctx, identity.ID, newPassword); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}

	s.publish(ctx, ports.AuthEvent{
		Type:       ports.EventPasswordChange,
		IdentityID: identity.ID,
		Identifier: identity.Email,
	})
	return nil
}

// ListAdmins returns every administrator, oldest first
func (s *AuthService) ListAdmins(ctx context.Context) ([]core.Identity, error) {
	admins, err := s.identities.ListByRole(ctx, core.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return admins, nil
}

// HasAdmins reports whether at least one administrator exists
func (s *AuthService) HasAdmins(ctx context.Context) (bool, error) {
	n, err := s.identities.CountByRole(ctx, core.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to count admins: %w", err)
	}
	return n > 0, nil
}

// NewAdmin carries the fields accepted by AddAdmin
type NewAdmin struct {
	Email       string
	Username    string
	Name        string
	Password    string
	Permissions []string
}

// AddAdmin registers an administrator, refusing once MaxAdmins exist
func (s *AuthService) AddAdmin(ctx context.Context, in NewAdmin) (core.Identity, error) {
	if err := validatePassword(in.Password); err != nil {
		return core.Identity{}, err
	}

	created, err := s.identities.Create(ctx, core.NewIdentity{
		Email:       in.Email,
		Username:    in.Username,
		Name:        in.Name,
		Password:    in.Password,
		Role:        core.RoleAdmin,
		Permissions: in.Permissions,
	}, s.opts.MaxAdmins)
	if err != nil {
		return core.Identity{}, err
	}

	s.logger.Info("admin created", zap.String("identity_id", created.ID), zap.String("email", created.Email))
	s.publish(ctx, ports.AuthEvent{
		Type:       ports.EventAdminCreated,
		IdentityID: created.ID,
		Identifier: created.Email,
	})
	return created, nil
}

// SetIdentityActive enables or disables sign-in for the identity id on behalf
// of actor. Sessions of a disabled identity stop resolving on their next check.
func (s *AuthService) SetIdentityActive(ctx context.Context, actor core.Identity, id string, active bool) (core.Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Identity{}, fmt.Errorf("%w: identity id is required", core.ErrValidationFailed)
	}
	if !active && id == actor.ID {
		return core.Identity{}, fmt.Errorf("%w: you cannot disable your own account", core.ErrValidationFailed)
	}

	if err := s.identities.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Identity{}, err
		}
		return core.Identity{}, fmt.Errorf("failed to update identity: %w", err)
	}

	updated, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to load identity: %w", err)
	}

	eventType := ports.EventIdentityEnabled
	if !active {
		eventType = ports.EventIdentityDisabled
	}
	s.logger.Info("identity status changed",
		zap.String("identity_id", updated.ID),
		zap.Bool("active", active),
		zap.String("by", actor.ID),
	)
	s.publish(ctx, ports.AuthEvent{
		Type:       eventType,
		IdentityID: updated.ID,
		Identifier: updated.Email,
	})
	return updated, nil
}

// Ready reports whether the identity store can serve requests
func (s *AuthService) Ready(ctx context.Context) error {
	if err := s.identities.Ping(ctx); err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	return nil
}

// EnsureAdmin creates the bootstrap administrator when no identity uses email
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	if password == "" {
		return false, fmt.Errorf("%w: bootstrap admin password is required", core.ErrValidationFailed)
	}

	if _, err := s.identities.FindByIdentifier(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, fmt.Errorf("bootstrap lookup: %w", err)
	}

	if _, err := s.AddAdmin(ctx, NewAdmin{Email: email, Name: "Admin", Password: password}); err != nil {
		if errors.Is(err, core.ErrIdentityExists) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap create admin: %w", err)
	}
	return true, nil
}

func (s *AuthService) publish(ctx context.Context, event ports.AuthEvent) {
	if s.eventPub == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.eventPub.Publish(ctx, event); err != nil {
		// The state change already happened; losing the event is not fatal
		s.logger.Warn("failed to publish auth event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d characters", core.ErrValidationFailed, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}
