package patient

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is a registry entry scoped to one tenant.
type Patient struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	MRN       string     `json:"mrn"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Gender    *string    `json:"gender,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

var genders = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

// Input is the create and update payload. On update nil fields are kept.
type Input struct {
	MRN       *string `json:"mrn"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	BirthDate *string `json:"birth_date"`
	Gender    *string `json:"gender"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
}

const birthDateLayout = "2006-01-02"

func (in *Input) validate(creating bool) error {
	if creating && (in.FirstName == nil || in.LastName == nil) {
		return fmt.Errorf("first_name and last_name are required")
	}
	for field, v := range map[string]*string{"first_name": in.FirstName, "last_name": in.LastName} {
		if v != nil && (strings.TrimSpace(*v) == "" || len(*v) > 128) {
			return fmt.Errorf("%s must be between 1 and 128 characters", field)
		}
	}
	if in.MRN != nil && (strings.TrimSpace(*in.MRN) == "" || len(*in.MRN) > 64) {
		return fmt.Errorf("mrn must be between 1 and 64 characters")
	}
	if in.BirthDate != nil {
		if _, err := time.Parse(birthDateLayout, *in.BirthDate); err != nil {
			return fmt.Errorf("birth_date must be YYYY-MM-DD")
		}
	}
	if in.Gender != nil && !genders[strings.ToLower(*in.Gender)] {
		return fmt.Errorf("gender must be one of male, female, other, unknown")
	}
	if in.Email != nil && *in.Email != "" {
		if _, err := mail.ParseAddress(*in.Email); err != nil {
			return fmt.Errorf("email must be a valid email address")
		}
	}
	return nil
}

func (in *Input) apply(p *Patient) {
	if in.MRN != nil {
		p.MRN = strings.TrimSpace(*in.MRN)
	}
	if in.FirstName != nil {
		p.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		p.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.BirthDate != nil {
		d, _ := time.Parse(birthDateLayout, *in.BirthDate)
		p.BirthDate = &d
	}
	if in.Gender != nil {
		g := strings.ToLower(*in.Gender)
		p.Gender = &g
	}
	if in.Phone != nil {
		p.Phone = in.Phone
	}
	if in.Email != nil {
		p.Email = in.Email
	}
}

// newMRN generates a medical record number for patients registered
// without one.
func newMRN() string {
	return "MRN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
