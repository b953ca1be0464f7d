package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/notification"
)

// Quota is the part of the subscription ledger user writes depend on.
type Quota interface {
	EnsureCapacity(ctx context.Context, tenantID uuid.UUID, r subscription.ResourceType, usage int) error
	RecordUsage(ctx context.Context, tenantID uuid.UUID, patch subscription.UsagePatch) (*subscription.Subscription, error)
}

type Service struct {
	repo     Repository
	hasher   *auth.PasswordHasher
	quota    Quota
	notifier notification.Dispatcher
	clock    clock.Clock
	logger   zerolog.Logger
}

func NewService(repo Repository, hasher *auth.PasswordHasher, quota Quota, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		repo:   repo,
		hasher: hasher,
		quota:  quota,
		clock:  clk,
		logger: logger.With().Str("component", "user").Logger(),
	}
}

// SetNotifier enables the verification email sent on Create.
func (s *Service) SetNotifier(d notification.Dispatcher) {
	s.notifier = d
}

func (s *Service) notify(ctx context.Context, u *User, kind notification.Kind, data map[string]string) {
	if s.notifier == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["first_name"] = u.FirstName
	s.notifier.Dispatch(ctx, u.Email, kind, data)
}

// guard rejects the request principal acting on roles it may not manage.
// Calls without a principal come from internal flows such as self
// registration and tenant provisioning, which pick the role themselves.
func guard(ctx context.Context, roles ...auth.Role) error {
	p := auth.PrincipalFromContext(ctx)
	if p == nil {
		return nil
	}
	for _, r := range roles {
		if !auth.CanManage(p.Role, r) {
			return apperr.New(apperr.KindForbidden, fmt.Sprintf("%s cannot manage %s users", p.Role, r))
		}
	}
	return nil
}

// Create registers a user in tenantID with status PENDING_VERIFICATION and
// emails the verification token. The tenant's users quota is checked first.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in CreateInput) (*User, error) {
	role, err := in.Validate()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if err := guard(ctx, role); err != nil {
		return nil, err
	}

	count, err := s.repo.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.quota.EnsureCapacity(ctx, tenantID, subscription.ResourceUsers, count); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	perms := in.Permissions
	if perms == nil {
		perms = auth.DefaultPermissions(role)
	}

	mustChange := true
	if in.MustChangePassword != nil {
		mustChange = *in.MustChangePassword
	}

	token := uuid.NewString()
	digest := HashToken(token)
	u := &User{
		TenantID:               tenantID,
		Email:                  NormalizeEmail(in.Email),
		PasswordHash:           hash,
		FirstName:              strings.TrimSpace(in.FirstName),
		LastName:               strings.TrimSpace(in.LastName),
		Phone:                  in.Phone,
		Role:                   role,
		Permissions:            perms,
		Status:                 StatusPendingVerification,
		EmailVerificationToken: &digest,
		MustChangePassword:     mustChange,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.syncUsage(ctx, tenantID, count+1)
	s.notify(ctx, u, notification.KindEmailVerification, map[string]string{"token": token})
	s.logger.Info().Str("user_id", u.ID.String()).Str("tenant_id", tenantID.String()).
		Str("role", string(role)).Msg("user created")
	return u, nil
}

// ProvisionAdmin creates an already-verified HOSPITAL_ADMIN for a freshly
// provisioned tenant.
func (s *Service) ProvisionAdmin(ctx context.Context, tenantID uuid.UUID, email, password, firstName, lastName string) error {
	in := CreateInput{
		Email: email, Password: password, FirstName: firstName, LastName: lastName,
		Role: string(auth.RoleHospitalAdmin),
	}
	if _, err := in.Validate(); err != nil {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	u := &User{
		TenantID:        tenantID,
		Email:           NormalizeEmail(email),
		PasswordHash:    hash,
		FirstName:       strings.TrimSpace(firstName),
		LastName:        strings.TrimSpace(lastName),
		Role:            auth.RoleHospitalAdmin,
		Permissions:     auth.DefaultPermissions(auth.RoleHospitalAdmin),
		Status:          StatusActive,
		IsEmailVerified: true,
		EmailVerifiedAt: &now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return err
	}
	s.resync(ctx, tenantID)
	return nil
}

// syncUsage mirrors the user count into the tenant's subscription. Failures
// are logged; a tenant without a subscription is not an error here.
func (s *Service) syncUsage(ctx context.Context, tenantID uuid.UUID, count int) {
	_, err := s.quota.RecordUsage(ctx, tenantID, subscription.PatchFor(subscription.ResourceUsers, count))
	if err != nil && !errors.Is(err, apperr.ErrNoActiveSubscription) {
		s.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("record users usage")
	}
}

func (s *Service) resync(ctx context.Context, tenantID uuid.UUID) {
	count, err := s.repo.CountByTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("count users")
		return
	}
	s.syncUsage(ctx, tenantID, count)
}

// Get returns the user only when it belongs to tenantID.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.TenantID != tenantID {
		return nil, apperr.ErrUserNotFound
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, tenantID, f, limit, offset)
}

// Update applies admin edits. A role change reseeds permissions and a new
// password clears the must-change flag.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, in UpdateInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return s.manage(ctx, tenantID, id, func(u *User) error {
		p := ProfileInput{FirstName: in.FirstName, LastName: in.LastName, Phone: in.Phone, Avatar: in.Avatar}
		p.apply(u)
		if in.Role != nil {
			role, _ := auth.ParseRole(*in.Role)
			if err := guard(ctx, role); err != nil {
				return err
			}
			if role != u.Role {
				u.Role = role
				u.Permissions = auth.DefaultPermissions(role)
			}
		}
		if in.Password != nil {
			hash, err := s.hasher.Hash(*in.Password)
			if err != nil {
				return err
			}
			u.PasswordHash = hash
			u.MustChangePassword = false
		}
		return nil
	})
}

// manage is modify for admin actions: the principal must outrank the
// target user's current role.
func (s *Service) manage(ctx context.Context, tenantID, id uuid.UUID, fn func(u *User) error) (*User, error) {
	return s.modify(ctx, tenantID, id, func(u *User) error {
		if err := guard(ctx, u.Role); err != nil {
			return err
		}
		return fn(u)
	})
}

func (s *Service) modify(ctx context.Context, tenantID, id uuid.UUID, fn func(u *User) error) (*User, error) {
	u, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Activate marks the user ACTIVE and verified.
func (s *Service) Activate(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	return s.manage(ctx, tenantID, id, func(u *User) error {
		s.markVerified(u)
		return nil
	})
}

func (s *Service) markVerified(u *User) {
	now := s.clock.Now()
	u.Status = StatusActive
	u.IsEmailVerified = true
	u.EmailVerifiedAt = &now
	u.EmailVerificationToken = nil
}

func (s *Service) Deactivate(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	return s.setStatus(ctx, tenantID, id, StatusInactive)
}

func (s *Service) Suspend(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	return s.setStatus(ctx, tenantID, id, StatusSuspended)
}

func (s *Service) setStatus(ctx context.Context, tenantID, id uuid.UUID, status Status) (*User, error) {
	u, err := s.manage(ctx, tenantID, id, func(u *User) error {
		u.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", id.String()).Str("status", string(status)).Msg("user status changed")
	return u, nil
}

// ChangeRole sets the role and reseeds permissions from its defaults. The
// principal must outrank both the current and the new role.
func (s *Service) ChangeRole(ctx context.Context, tenantID, id uuid.UUID, role string) (*User, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	if err := guard(ctx, r); err != nil {
		return nil, err
	}
	return s.manage(ctx, tenantID, id, func(u *User) error {
		u.Role = r
		u.Permissions = auth.DefaultPermissions(r)
		return nil
	})
}

func (s *Service) UpdatePermissions(ctx context.Context, tenantID, id uuid.UUID, perms []string) (*User, error) {
	if perms == nil {
		return nil, apperr.New(apperr.KindValidation, "permissions are required")
	}
	cleaned := make([]string, 0, len(perms))
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return s.manage(ctx, tenantID, id, func(u *User) error {
		u.Permissions = cleaned
		return nil
	})
}

func (s *Service) ForcePasswordChange(ctx context.Context, tenantID, id uuid.UUID) (*User, error) {
	return s.manage(ctx, tenantID, id, func(u *User) error {
		u.MustChangePassword = true
		return nil
	})
}

// UpdateProfile lets a user edit their own allow-listed fields.
func (s *Service) UpdateProfile(ctx context.Context, tenantID, id uuid.UUID, in ProfileInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return s.modify(ctx, tenantID, id, func(u *User) error {
		in.apply(u)
		return nil
	})
}

// Delete soft-deletes the user and frees its seat in the users quota.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	u, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := guard(ctx, u.Role); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.resync(ctx, tenantID)
	return nil
}

func (s *Service) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.repo.CountByTenant(ctx, tenantID)
}

// CountUsage implements subscription.UsageCounter for the users quota.
func (s *Service) CountUsage(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.repo.CountByTenant(ctx, tenantID)
}

// RoleCounts reports the tenant's non-deleted users per role.
func (s *Service) RoleCounts(ctx context.Context, tenantID uuid.UUID) (map[auth.Role]int, error) {
	return s.repo.CountByRole(ctx, tenantID)
}

// LoadPrincipal implements auth.PrincipalLoader. The user must still exist,
// be ACTIVE, and belong to the tenant named in the token.
func (s *Service) LoadPrincipal(ctx context.Context, claims *auth.Claims) (*auth.Principal, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusActive {
		return nil, apperr.ErrAccountNotActive
	}
	if u.TenantID.String() != claims.TenantID {
		return nil, apperr.ErrUserNotFound
	}
	return &auth.Principal{
		UserID:      u.ID.String(),
		TenantID:    u.TenantID.String(),
		Email:       u.Email,
		Role:        u.Role,
		Permissions: append([]string(nil), u.Permissions...),
	}, nil
}
