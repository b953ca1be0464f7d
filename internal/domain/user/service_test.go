package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/notification"
)

// -- Mocks --

type mockUserRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{store: make(map[uuid.UUID]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	return &c
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.DeletedAt == nil && existing.TenantID == u.TenantID && strings.EqualFold(existing.Email, u.Email) {
			return apperr.ErrDuplicateUser
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.store[u.ID] = cloneUser(u)
	return nil
}

func (m *mockUserRepo) find(match func(u *User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.store {
		if u.DeletedAt == nil && match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, apperr.ErrUserNotFound
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id })
}

func (m *mockUserRepo) GetByEmail(_ context.Context, tenantID uuid.UUID, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.TenantID == tenantID && strings.EqualFold(u.Email, email) })
}

func (m *mockUserRepo) GetByVerificationToken(_ context.Context, hash string) (*User, error) {
	return m.find(func(u *User) bool { return u.EmailVerificationToken != nil && *u.EmailVerificationToken == hash })
}

func (m *mockUserRepo) GetByResetToken(_ context.Context, hash string) (*User, error) {
	return m.find(func(u *User) bool { return u.PasswordResetToken != nil && *u.PasswordResetToken == hash })
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.store[u.ID]; !ok || existing.DeletedAt != nil {
		return apperr.ErrUserNotFound
	}
	m.store[u.ID] = cloneUser(u)
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.store[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *mockUserRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok || u.DeletedAt != nil {
		return apperr.ErrUserNotFound
	}
	u.DeletedAt = &at
	u.Status = StatusInactive
	return nil
}

func (m *mockUserRepo) List(_ context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.store {
		if u.DeletedAt != nil || u.TenantID != tenantID {
			continue
		}
		if !f.IncludeInactive && u.Status == StatusInactive {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(u.FirstName+" "+u.LastName+" "+u.Email), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, cloneUser(u))
	}
	return out, len(out), nil
}

func (m *mockUserRepo) CountByTenant(_ context.Context, tenantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.store {
		if u.DeletedAt == nil && u.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (m *mockUserRepo) CountByRole(_ context.Context, tenantID uuid.UUID) (map[auth.Role]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[auth.Role]int)
	for _, u := range m.store {
		if u.DeletedAt == nil && u.TenantID == tenantID {
			out[u.Role]++
		}
	}
	return out, nil
}

// stubQuota allows up to max users and records every usage write.
type stubQuota struct {
	max      int
	noActive bool
	recorded []int
}

func (q *stubQuota) EnsureCapacity(_ context.Context, _ uuid.UUID, r subscription.ResourceType, usage int) error {
	if q.max != subscription.Unlimited && usage >= q.max {
		return apperr.Newf(apperr.KindQuotaExceeded, "%s limit reached for the current plan", r)
	}
	return nil
}

func (q *stubQuota) RecordUsage(_ context.Context, _ uuid.UUID, patch subscription.UsagePatch) (*subscription.Subscription, error) {
	if q.noActive {
		return nil, apperr.ErrNoActiveSubscription
	}
	if patch.Users != nil {
		q.recorded = append(q.recorded, *patch.Users)
	}
	return &subscription.Subscription{}, nil
}

type sentMessage struct {
	recipient string
	kind      notification.Kind
	data      map[string]string
}

type stubDispatcher struct {
	sent []sentMessage
}

func (d *stubDispatcher) Dispatch(_ context.Context, recipient string, kind notification.Kind, data map[string]string) {
	d.sent = append(d.sent, sentMessage{recipient, kind, data})
}

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mockUserRepo, *stubQuota, *stubDispatcher) {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	clk := clock.NewMock()
	clk.Set(testNow)
	repo := newMockUserRepo()
	quota := &stubQuota{max: 5}
	notifier := &stubDispatcher{}
	svc := NewService(repo, hasher, quota, clk, zerolog.Nop())
	svc.SetNotifier(notifier)
	return svc, repo, quota, notifier
}

func validInput(email string) CreateInput {
	return CreateInput{
		Email:     email,
		Password:  "Password123!",
		FirstName: "Asha",
		LastName:  "Rao",
		Role:      "doctor",
	}
}

// -- Tests --

func TestCreate_SeedsDefaults(t *testing.T) {
	svc, repo, quota, notifier := newTestService(t)
	tid := uuid.New()

	u, err := svc.Create(context.Background(), tid, validInput("  Asha@Example.COM "))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Email != "asha@example.com" {
		t.Errorf("expected normalized email, got %q", u.Email)
	}
	if u.Role != auth.RoleDoctor || u.Status != StatusPendingVerification || !u.MustChangePassword {
		t.Errorf("unexpected defaults: role=%s status=%s mustChange=%v", u.Role, u.Status, u.MustChangePassword)
	}
	if len(u.Permissions) != len(auth.DefaultPermissions(auth.RoleDoctor)) {
		t.Errorf("expected doctor default permissions, got %v", u.Permissions)
	}
	if u.PasswordHash == "" || u.PasswordHash == "Password123!" {
		t.Error("expected password to be hashed")
	}
	if len(quota.recorded) != 1 || quota.recorded[0] != 1 {
		t.Errorf("expected users usage 1 recorded, got %v", quota.recorded)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one verification email, got %d", len(notifier.sent))
	}
	msg := notifier.sent[0]
	if msg.kind != notification.KindEmailVerification || msg.recipient != u.Email {
		t.Errorf("unexpected message %+v", msg)
	}
	stored, _ := repo.GetByID(context.Background(), u.ID)
	if stored.EmailVerificationToken == nil || *stored.EmailVerificationToken != HashToken(msg.data["token"]) {
		t.Error("expected only the token digest to be stored")
	}
}

func TestCreate_PermissionsAreIndependentCopies(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	tid := uuid.New()

	a, _ := svc.Create(context.Background(), tid, validInput("a@example.com"))
	b, _ := svc.Create(context.Background(), tid, validInput("b@example.com"))
	a.Permissions[0] = "tampered"
	if b.Permissions[0] == "tampered" || auth.DefaultPermissions(auth.RoleDoctor)[0] == "tampered" {
		t.Error("permission slices must not be shared")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	cases := map[string]func(in *CreateInput){
		"bad email":    func(in *CreateInput) { in.Email = "not-an-email" },
		"short pass":   func(in *CreateInput) { in.Password = "short" },
		"no first":     func(in *CreateInput) { in.FirstName = " " },
		"unknown role": func(in *CreateInput) { in.Role = "JANITOR" },
		"short phone":  func(in *CreateInput) { p := "123"; in.Phone = &p },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput("v@example.com")
			mutate(&in)
			_, err := svc.Create(context.Background(), uuid.New(), in)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreate_Duplicate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	tid := uuid.New()
	if _, err := svc.Create(context.Background(), tid, validInput("dup@example.com")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := svc.Create(context.Background(), tid, validInput("DUP@example.com"))
	if !errors.Is(err, apperr.ErrDuplicateUser) {
		t.Errorf("expected ErrDuplicateUser, got %v", err)
	}

	// Same email in another tenant is fine.
	if _, err := svc.Create(context.Background(), uuid.New(), validInput("dup@example.com")); err != nil {
		t.Errorf("expected other tenant to accept email: %v", err)
	}
}

func TestCreate_QuotaExceeded(t *testing.T) {
	svc, _, quota, _ := newTestService(t)
	quota.max = 2
	tid := uuid.New()
	for i := 0; i < 2; i++ {
		if _, err := svc.Create(context.Background(), tid, validInput(string(rune('a'+i))+"@example.com")); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	_, err := svc.Create(context.Background(), tid, validInput("c@example.com"))
	if apperr.KindOf(err) != apperr.KindQuotaExceeded {
		t.Errorf("expected quota error, got %v", err)
	}
}

func TestCreate_NoSubscriptionStillRecordsNothing(t *testing.T) {
	svc, _, quota, _ := newTestService(t)
	quota.noActive = true
	if _, err := svc.Create(context.Background(), uuid.New(), validInput("n@example.com")); err != nil {
		t.Fatalf("expected missing subscription to be ignored after create, got %v", err)
	}
}

func TestProvisionAdmin(t *testing.T) {
	svc, repo, quota, notifier := newTestService(t)
	tid := uuid.New()

	if err := svc.ProvisionAdmin(context.Background(), tid, "Admin@General.org", "Password123!", "Head", "Admin"); err != nil {
		t.Fatalf("ProvisionAdmin: %v", err)
	}
	u, err := repo.GetByEmail(context.Background(), tid, "admin@general.org")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u.Role != auth.RoleHospitalAdmin || u.Status != StatusActive || !u.IsEmailVerified {
		t.Errorf("unexpected admin %+v", u)
	}
	if len(notifier.sent) != 0 {
		t.Error("provisioned admins are not sent a verification email")
	}
	if len(quota.recorded) != 1 || quota.recorded[0] != 1 {
		t.Errorf("expected usage 1, got %v", quota.recorded)
	}
}

func TestGet_OtherTenantIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	u, _ := svc.Create(context.Background(), uuid.New(), validInput("x@example.com"))

	_, err := svc.Get(context.Background(), uuid.New(), u.ID)
	if !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	u, _ := svc.Create(ctx, tid, validInput("s@example.com"))

	activated, err := svc.Activate(ctx, tid, u.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated.Status != StatusActive || !activated.IsEmailVerified || activated.EmailVerificationToken != nil {
		t.Errorf("unexpected activated user %+v", activated)
	}
	if activated.EmailVerifiedAt == nil || !activated.EmailVerifiedAt.Equal(testNow) {
		t.Errorf("expected verified at %v, got %v", testNow, activated.EmailVerifiedAt)
	}

	suspended, _ := svc.Suspend(ctx, tid, u.ID)
	if suspended.Status != StatusSuspended {
		t.Errorf("expected SUSPENDED, got %s", suspended.Status)
	}
	deactivated, _ := svc.Deactivate(ctx, tid, u.ID)
	if deactivated.Status != StatusInactive {
		t.Errorf("expected INACTIVE, got %s", deactivated.Status)
	}
}

func TestChangeRole_ReseedsPermissions(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	u, _ := svc.Create(ctx, tid, validInput("r@example.com"))
	if _, err := svc.UpdatePermissions(ctx, tid, u.ID, []string{"custom"}); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}

	changed, err := svc.ChangeRole(ctx, tid, u.ID, "NURSE")
	if err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	if changed.Role != auth.RoleNurse || auth.HasPermission(changed.Permissions, "custom") {
		t.Errorf("expected nurse defaults, got %s %v", changed.Role, changed.Permissions)
	}
	if !auth.HasPermission(changed.Permissions, auth.PermManageVitals) {
		t.Error("expected manage_vitals for nurse")
	}

	if _, err := svc.ChangeRole(ctx, tid, u.ID, "ROOT"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpdate_PasswordClearsMustChange(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	u, _ := svc.Create(ctx, tid, validInput("p@example.com"))

	pw := "NewPassword456!"
	name := "Meera"
	updated, err := svc.Update(ctx, tid, u.ID, UpdateInput{Password: &pw, FirstName: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.MustChangePassword || updated.FirstName != "Meera" {
		t.Errorf("unexpected update result %+v", updated)
	}
	if !svc.hasher.Compare(updated.PasswordHash, pw) {
		t.Error("expected new password to match")
	}

	forced, _ := svc.ForcePasswordChange(ctx, tid, u.ID)
	if !forced.MustChangePassword {
		t.Error("expected must_change_password after force")
	}
}

func TestUpdateProfile_AllowList(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	u, _ := svc.Create(ctx, tid, validInput("me@example.com"))

	avatar := "https://cdn.example.com/a.png"
	updated, err := svc.UpdateProfile(ctx, tid, u.ID, ProfileInput{
		Avatar:      &avatar,
		Preferences: map[string]interface{}{"theme": "dark"},
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Avatar == nil || *updated.Avatar != avatar || updated.Preferences["theme"] != "dark" {
		t.Errorf("unexpected profile %+v", updated)
	}
	if updated.Role != auth.RoleDoctor {
		t.Error("profile update must not touch role")
	}
}

func TestDelete_FreesSeat(t *testing.T) {
	svc, _, quota, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	a, _ := svc.Create(ctx, tid, validInput("a@example.com"))
	_, _ = svc.Create(ctx, tid, validInput("b@example.com"))

	if err := svc.Delete(ctx, tid, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := quota.recorded[len(quota.recorded)-1]; got != 1 {
		t.Errorf("expected users usage 1 after delete, got %d", got)
	}
	if _, err := svc.Get(ctx, tid, a.ID); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("expected deleted user to be gone, got %v", err)
	}
	if err := svc.Delete(ctx, tid, a.ID); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("expected second delete to fail, got %v", err)
	}
	if n, _ := svc.CountByTenant(ctx, tid); n != 1 {
		t.Errorf("expected 1 user left, got %d", n)
	}
}

func TestLoadPrincipal(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	tid := uuid.New()
	u, _ := svc.Create(ctx, tid, validInput("l@example.com"))

	claims := &auth.Claims{TenantID: tid.String()}
	claims.Subject = u.ID.String()

	if _, err := svc.LoadPrincipal(ctx, claims); !errors.Is(err, apperr.ErrAccountNotActive) {
		t.Errorf("expected pending user to be rejected, got %v", err)
	}

	_, _ = svc.Activate(ctx, tid, u.ID)
	p, err := svc.LoadPrincipal(ctx, claims)
	if err != nil {
		t.Fatalf("LoadPrincipal: %v", err)
	}
	if p.Role != auth.RoleDoctor || p.TenantID != tid.String() || p.Email != "l@example.com" {
		t.Errorf("unexpected principal %+v", p)
	}

	// Permission edits show up on the next load.
	_, _ = svc.UpdatePermissions(ctx, tid, u.ID, []string{auth.PermViewReports})
	p, _ = svc.LoadPrincipal(ctx, claims)
	if len(p.Permissions) != 1 || p.Permissions[0] != auth.PermViewReports {
		t.Errorf("expected fresh permissions, got %v", p.Permissions)
	}

	claims.TenantID = uuid.NewString()
	if _, err := svc.LoadPrincipal(ctx, claims); err == nil {
		t.Error("expected tenant mismatch to be rejected")
	}
}
