// Package account implements the credential flows: registration, login,
// token refresh and revocation, email verification and password recovery.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/tenant"
	"github.com/hms/hms/internal/domain/user"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/notification"
)

// ResetTokenTTL bounds how long a password-reset token stays valid.
const ResetTokenTTL = time.Hour

// Tenants resolves and loads tenants for the credential flows.
type Tenants interface {
	Resolve(ctx context.Context, ref string) (*tenant.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
}

// UserCreator is the user-management entry point registration goes through.
type UserCreator interface {
	Create(ctx context.Context, tenantID uuid.UUID, in user.CreateInput) (*user.User, error)
}

// Session is returned by Register and Login.
type Session struct {
	User         *user.User     `json:"user"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
	Tenant       *tenant.Tenant `json:"tenant"`
}

type RegisterInput struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Phone     *string `json:"phone"`
	Role      string  `json:"role"`
}

type Service struct {
	users    user.Repository
	creator  UserCreator
	tenants  Tenants
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenIssuer
	revoker  auth.RefreshRevoker
	notifier notification.Dispatcher
	clock    clock.Clock
	logger   zerolog.Logger
}

type Config struct {
	Users    user.Repository
	Creator  UserCreator
	Tenants  Tenants
	Hasher   *auth.PasswordHasher
	Tokens   *auth.TokenIssuer
	Revoker  auth.RefreshRevoker
	Notifier notification.Dispatcher
	Clock    clock.Clock
	Logger   zerolog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Service{
		users:    cfg.Users,
		creator:  cfg.Creator,
		tenants:  cfg.Tenants,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		revoker:  cfg.Revoker,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("component", "account").Logger(),
	}
}

func (s *Service) notify(ctx context.Context, u *user.User, kind notification.Kind, data map[string]string) {
	if s.notifier == nil {
		return
	}
	data["first_name"] = u.FirstName
	s.notifier.Dispatch(ctx, u.Email, kind, data)
}

func (s *Service) session(u *user.User, t *tenant.Tenant) (*Session, error) {
	pair, err := s.tokens.IssuePair(u.Identity())
	if err != nil {
		return nil, err
	}
	return &Session{
		User:         u,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		Tenant:       t,
	}, nil
}

// Register self-registers a PATIENT in the referenced tenant. The account
// starts PENDING_VERIFICATION; the returned tokens only work once verified.
func (s *Service) Register(ctx context.Context, tenantRef string, in RegisterInput) (*Session, error) {
	t, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		return nil, err
	}
	if in.Role != "" {
		if role, err := auth.ParseRole(in.Role); err != nil || role != auth.RolePatient {
			return nil, apperr.New(apperr.KindForbidden, "self-registration is limited to patients")
		}
	}

	mustChange := false
	u, err := s.creator.Create(ctx, t.ID, user.CreateInput{
		Email:              in.Email,
		Password:           in.Password,
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Phone:              in.Phone,
		Role:               string(auth.RolePatient),
		MustChangePassword: &mustChange,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("tenant_id", t.ID.String()).Msg("user registered")
	return s.session(u, t)
}

// Login authenticates by email within the referenced tenant. The password
// is checked before the account status, and a dummy comparison runs for
// unknown emails so both paths cost the same.
func (s *Service) Login(ctx context.Context, tenantRef, email, password string) (*Session, error) {
	t, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, t.ID, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			s.hasher.CompareDummy(password)
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Compare(u.PasswordHash, password) {
		s.logger.Warn().Str("user_id", u.ID.String()).Msg("login failed: bad password")
		return nil, apperr.ErrInvalidCredentials
	}
	if u.Status != user.StatusActive {
		return nil, apperr.ErrAccountNotActive
	}

	now := s.clock.Now()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now
	return s.session(u, t)
}

// Refresh issues a new access token. The refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRefreshToken, "invalid refresh token", err)
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.ErrInvalidRefreshToken
	}

	u, err := s.userFromClaims(ctx, claims)
	if err != nil || u.Status != user.StatusActive {
		return nil, apperr.ErrInvalidRefreshToken
	}
	if claims.Stamp != u.CredentialStamp() {
		return nil, apperr.ErrInvalidRefreshToken
	}

	access, err := s.tokens.IssueAccess(u.Identity())
	if err != nil {
		return nil, err
	}
	return &auth.TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL() / time.Second),
	}, nil
}

func (s *Service) userFromClaims(ctx context.Context, claims *auth.Claims) (*user.User, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.ErrUserNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.TenantID.String() != claims.TenantID {
		return nil, apperr.ErrUserNotFound
	}
	return u, nil
}

// Logout revokes one refresh token until it would have expired.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidRefreshToken, "invalid refresh token", err)
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time)
}

// ForgotPassword emails a reset token. Unknown tenants and emails return
// nil without side effects.
func (s *Service) ForgotPassword(ctx context.Context, tenantRef, email string) error {
	t, err := s.tenants.Resolve(ctx, tenantRef)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindTenantNotFound || k == apperr.KindTenantInactive {
			return nil
		}
		return err
	}
	u, err := s.users.GetByEmail(ctx, t.ID, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil
		}
		return err
	}

	token := uuid.NewString()
	digest := user.HashToken(token)
	expires := s.clock.Now().Add(ResetTokenTTL)
	u.PasswordResetToken = &digest
	u.PasswordResetExpires = &expires
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	s.notify(ctx, u, notification.KindPasswordReset, map[string]string{"token": token})
	return nil
}

// ResetPassword consumes a reset token. Refresh tokens signed before the
// reset carry the old credential stamp and stop working.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if strings.TrimSpace(token) == "" {
		return apperr.ErrInvalidOrExpiredToken
	}
	u, err := s.users.GetByResetToken(ctx, user.HashToken(token))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return apperr.ErrInvalidOrExpiredToken
		}
		return err
	}
	now := s.clock.Now()
	if u.PasswordResetExpires == nil || !now.Before(*u.PasswordResetExpires) {
		return apperr.ErrInvalidOrExpiredToken
	}

	if err := s.setPassword(ctx, u, newPassword); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("password reset")
	return nil
}

func (s *Service) setPassword(ctx context.Context, u *user.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	u.MustChangePassword = false
	return s.users.Update(ctx, u)
}

// VerifyEmail consumes a verification token. A pending account becomes
// ACTIVE; suspended or deactivated accounts stay as they are.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*user.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.ErrInvalidOrExpiredToken
	}
	u, err := s.users.GetByVerificationToken(ctx, user.HashToken(token))
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil, apperr.ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	now := s.clock.Now()
	u.IsEmailVerified = true
	u.EmailVerifiedAt = &now
	u.EmailVerificationToken = nil
	if u.Status == user.StatusPendingVerification {
		u.Status = user.StatusActive
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	data := map[string]string{}
	if t, err := s.tenants.Get(ctx, u.TenantID); err == nil {
		data["tenant_name"] = t.Name
	}
	s.notify(ctx, u, notification.KindWelcome, data)
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if err := auth.ValidatePassword(next); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(u.PasswordHash, current) {
		return apperr.ErrInvalidCurrentPassword
	}
	return s.setPassword(ctx, u, next)
}

// Profile is the current user together with its tenant.
type Profile struct {
	User   *user.User     `json:"user"`
	Tenant *tenant.Tenant `json:"tenant"`
}

// Me returns the user and tenant behind the current principal.
func (s *Service) Me(ctx context.Context, p *auth.Principal) (*Profile, error) {
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, apperr.ErrUserNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.tenants.Get(ctx, u.TenantID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: u, Tenant: t}, nil
}
