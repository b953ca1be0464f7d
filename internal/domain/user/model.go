package user

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
)

type Status string

const (
	StatusActive              Status = "ACTIVE"
	StatusInactive            Status = "INACTIVE"
	StatusSuspended           Status = "SUSPENDED"
	StatusPendingVerification Status = "PENDING_VERIFICATION"
)

// User is a tenant member. Secret columns never serialize.
type User struct {
	ID                     uuid.UUID              `json:"id"`
	TenantID               uuid.UUID              `json:"tenant_id"`
	Email                  string                 `json:"email"`
	PasswordHash           string                 `json:"-"`
	FirstName              string                 `json:"first_name"`
	LastName               string                 `json:"last_name"`
	Phone                  *string                `json:"phone,omitempty"`
	Avatar                 *string                `json:"avatar,omitempty"`
	Role                   auth.Role              `json:"role"`
	Permissions            []string               `json:"permissions"`
	Status                 Status                 `json:"status"`
	LastLoginAt            *time.Time             `json:"last_login_at,omitempty"`
	IsEmailVerified        bool                   `json:"is_email_verified"`
	EmailVerifiedAt        *time.Time             `json:"email_verified_at,omitempty"`
	PasswordResetToken     *string                `json:"-"`
	PasswordResetExpires   *time.Time             `json:"-"`
	EmailVerificationToken *string                `json:"-"`
	MustChangePassword     bool                   `json:"must_change_password"`
	Profile                map[string]interface{} `json:"profile"`
	Preferences            map[string]interface{} `json:"preferences"`
	DeletedAt              *time.Time             `json:"-"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Identity is the token subject for u.
func (u *User) Identity() auth.Identity {
	return auth.Identity{
		UserID:   u.ID.String(),
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.TenantID.String(),
		Stamp:    u.CredentialStamp(),
	}
}

// CredentialStamp is a short digest of the password hash. bcrypt salts every
// hash, so each password change yields a new stamp.
func (u *User) CredentialStamp() string {
	return HashToken(u.PasswordHash)[:16]
}

// HashToken is the stored form of a verification or reset token. Only the
// digest is persisted; the plain token travels in the email.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, " <>") {
		return fmt.Errorf("email must be a valid email address")
	}
	return nil
}

func validateName(field, v string) error {
	n := len(strings.TrimSpace(v))
	if n < 1 || n > 50 {
		return fmt.Errorf("%s must be between 1 and 50 characters", field)
	}
	return nil
}

func validatePhone(phone *string) error {
	if phone != nil && *phone != "" && len(strings.TrimSpace(*phone)) < 10 {
		return fmt.Errorf("phone must be at least 10 characters")
	}
	return nil
}

type CreateInput struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Phone       *string  `json:"phone"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	// Defaults to true for accounts created on someone's behalf.
	MustChangePassword *bool `json:"must_change_password"`
}

// Validate checks the input and returns the parsed role.
func (in *CreateInput) Validate() (auth.Role, error) {
	if err := validateEmail(in.Email); err != nil {
		return "", err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return "", err
	}
	if err := validateName("first_name", in.FirstName); err != nil {
		return "", err
	}
	if err := validateName("last_name", in.LastName); err != nil {
		return "", err
	}
	if err := validatePhone(in.Phone); err != nil {
		return "", err
	}
	return auth.ParseRole(in.Role)
}

// UpdateInput carries admin edits; nil fields are unchanged.
type UpdateInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Avatar    *string `json:"avatar"`
	Role      *string `json:"role"`
	Password  *string `json:"password"`
}

func (in *UpdateInput) Validate() error {
	if in.FirstName != nil {
		if err := validateName("first_name", *in.FirstName); err != nil {
			return err
		}
	}
	if in.LastName != nil {
		if err := validateName("last_name", *in.LastName); err != nil {
			return err
		}
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return err
		}
	}
	if in.Role != nil {
		if _, err := auth.ParseRole(*in.Role); err != nil {
			return err
		}
	}
	return validatePhone(in.Phone)
}

// ProfileInput is the allow-list of fields users may edit on themselves.
type ProfileInput struct {
	FirstName   *string                `json:"first_name"`
	LastName    *string                `json:"last_name"`
	Phone       *string                `json:"phone"`
	Avatar      *string                `json:"avatar"`
	Profile     map[string]interface{} `json:"profile"`
	Preferences map[string]interface{} `json:"preferences"`
}

func (in *ProfileInput) Validate() error {
	u := UpdateInput{FirstName: in.FirstName, LastName: in.LastName, Phone: in.Phone}
	return u.Validate()
}

func (in *ProfileInput) apply(u *User) {
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		u.Phone = in.Phone
	}
	if in.Avatar != nil {
		u.Avatar = in.Avatar
	}
	if in.Profile != nil {
		u.Profile = in.Profile
	}
	if in.Preferences != nil {
		u.Preferences = in.Preferences
	}
}

// ListFilter narrows List. Zero values match everything active.
type ListFilter struct {
	Role            auth.Role
	Query           string
	IncludeInactive bool
}
