package tenant

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID          uuid.UUID  `json:"id"`
	Identifier  string     `json:"identifier"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Website     *string    `json:"website,omitempty"`
	Address     *string    `json:"address,omitempty"`
	City        *string    `json:"city,omitempty"`
	State       *string    `json:"state,omitempty"`
	Country     *string    `json:"country,omitempty"`
	PostalCode  *string    `json:"postal_code,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsOnTrial   bool       `json:"is_on_trial"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AdminInput optionally provisions the tenant's first HOSPITAL_ADMIN.
type AdminInput struct {
	Email     string `json:"admin_email"`
	Password  string `json:"admin_password"`
	FirstName string `json:"admin_first_name"`
	LastName  string `json:"admin_last_name"`
}

func (a AdminInput) requested() bool {
	return a.Email != "" || a.Password != ""
}

type CreateInput struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Country     *string `json:"country"`
	PostalCode  *string `json:"postal_code"`
	Plan        string  `json:"plan"`
	AdminInput
}

func validateName(name string) error {
	n := len(strings.TrimSpace(name))
	if n < 2 || n > 100 {
		return fmt.Errorf("name must be between 2 and 100 characters")
	}
	return nil
}

func validateEmail(field, email string) error {
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, " <>") {
		return fmt.Errorf("%s must be a valid email address", field)
	}
	return nil
}

func validatePhone(phone string) error {
	if len(strings.TrimSpace(phone)) < 10 {
		return fmt.Errorf("phone must be at least 10 characters")
	}
	return nil
}

func (in *CreateInput) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateEmail("email", in.Email); err != nil {
		return err
	}
	if err := validatePhone(in.Phone); err != nil {
		return err
	}
	if in.Description != nil && len(*in.Description) > 500 {
		return fmt.Errorf("description must be at most 500 characters")
	}
	if in.requested() {
		if err := validateEmail("admin_email", in.AdminInput.Email); err != nil {
			return err
		}
		if in.Password == "" {
			return fmt.Errorf("admin_password is required with admin_email")
		}
	}
	return nil
}

// UpdateInput holds the mutable tenant fields; nil means unchanged.
type UpdateInput struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Country     *string `json:"country"`
	PostalCode  *string `json:"postal_code"`
}

func (in *UpdateInput) Validate() error {
	if in.Name != nil {
		if err := validateName(*in.Name); err != nil {
			return err
		}
	}
	if in.Email != nil {
		if err := validateEmail("email", *in.Email); err != nil {
			return err
		}
	}
	if in.Phone != nil {
		if err := validatePhone(*in.Phone); err != nil {
			return err
		}
	}
	if in.Description != nil && len(*in.Description) > 500 {
		return fmt.Errorf("description must be at most 500 characters")
	}
	return nil
}

func (in *UpdateInput) apply(t *Tenant) {
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		t.Email = *in.Email
	}
	if in.Phone != nil {
		t.Phone = *in.Phone
	}
	set := func(dst **string, src *string) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	set(&t.Description, in.Description)
	set(&t.Website, in.Website)
	set(&t.Address, in.Address)
	set(&t.City, in.City)
	set(&t.State, in.State)
	set(&t.Country, in.Country)
	set(&t.PostalCode, in.PostalCode)
}
