package subscription

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Plan string

const (
	PlanStarter      Plan = "STARTER"
	PlanProfessional Plan = "PROFESSIONAL"
	PlanEnterprise   Plan = "ENTERPRISE"
)

// ParsePlan converts s to a Plan, rejecting unknown tiers.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[p]; !ok {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

type Module string

const (
	ModuleOPD               Module = "OPD_MANAGEMENT"
	ModuleBilling           Module = "BILLING"
	ModuleAppointments      Module = "APPOINTMENTS"
	ModuleDoctorDashboard   Module = "DOCTOR_DASHBOARD"
	ModuleEMR               Module = "EMR_EHR"
	ModulePharmacy          Module = "PHARMACY"
	ModuleLaboratory        Module = "LABORATORY"
	ModuleIPD               Module = "IPD_MANAGEMENT"
	ModuleTelemedicine      Module = "TELEMEDICINE"
	ModuleIntegrations      Module = "INTEGRATIONS"
	ModuleAdvancedAnalytics Module = "ADVANCED_ANALYTICS"
	ModuleMultiBranch       Module = "MULTI_BRANCH"
	ModuleCorporateBilling  Module = "CORPORATE_BILLING"
)

// Unlimited is the quota sentinel that always passes.
const Unlimited = -1

// Features is the entitlement snapshot stored on a subscription.
type Features struct {
	MaxUsers     int             `json:"maxUsers"`
	MaxPatients  int             `json:"maxPatients"`
	Appointments int             `json:"appointments"`
	StorageGB    int             `json:"storage"`
	Support      string          `json:"support"`
	Price        decimal.Decimal `json:"price"`
	Modules      []Module        `json:"modules"`
}

func (f Features) clone() Features {
	out := f
	out.Modules = append([]Module(nil), f.Modules...)
	return out
}

// Quota returns the limit for r from the snapshot.
func (f Features) Quota(r ResourceType) (int, bool) {
	switch r {
	case ResourceUsers:
		return f.MaxUsers, true
	case ResourcePatients:
		return f.MaxPatients, true
	case ResourceAppointments:
		return f.Appointments, true
	case ResourceStorage:
		return f.StorageGB, true
	}
	return 0, false
}

// UsageStats are the current per-resource counters.
type UsageStats struct {
	Users        int `json:"users"`
	Patients     int `json:"patients"`
	Appointments int `json:"appointments"`
	Storage      int `json:"storage"`
}

// UsagePatch carries a partial update of UsageStats; nil fields are kept.
type UsagePatch struct {
	Users        *int `json:"users,omitempty"`
	Patients     *int `json:"patients,omitempty"`
	Appointments *int `json:"appointments,omitempty"`
	Storage      *int `json:"storage,omitempty"`
}

// PatchFor builds a patch setting a single resource counter.
func PatchFor(r ResourceType, value int) UsagePatch {
	var p UsagePatch
	switch r {
	case ResourceUsers:
		p.Users = &value
	case ResourcePatients:
		p.Patients = &value
	case ResourceAppointments:
		p.Appointments = &value
	case ResourceStorage:
		p.Storage = &value
	}
	return p
}

func (p UsagePatch) validate() error {
	for name, v := range map[string]*int{
		"users": p.Users, "patients": p.Patients, "appointments": p.Appointments, "storage": p.Storage,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s usage must not be negative", name)
		}
	}
	return nil
}

func (u UsageStats) apply(p UsagePatch) UsageStats {
	if p.Users != nil {
		u.Users = *p.Users
	}
	if p.Patients != nil {
		u.Patients = *p.Patients
	}
	if p.Appointments != nil {
		u.Appointments = *p.Appointments
	}
	if p.Storage != nil {
		u.Storage = *p.Storage
	}
	return u
}

type Subscription struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Plan          Plan            `json:"plan"`
	Status        Status          `json:"status"`
	Features      Features        `json:"features"`
	Price         decimal.Decimal `json:"price"`
	BillingCycle  int             `json:"billing_cycle"`
	IsAutoRenew   bool            `json:"is_auto_renew"`
	StartedAt     time.Time       `json:"started_at"`
	EndsAt        time.Time       `json:"ends_at"`
	NextBillingAt *time.Time      `json:"next_billing_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	UsageStats    UsageStats      `json:"usage_stats"`
	IsOverLimit   bool            `json:"is_over_limit"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// recomputeOverLimit only considers users and patients; appointment and
// storage quotas are enforced at check time but never flag the subscription.
func (s *Subscription) recomputeOverLimit() {
	f := s.Features
	over := f.MaxUsers != Unlimited && s.UsageStats.Users > f.MaxUsers
	if f.MaxPatients != Unlimited && s.UsageStats.Patients > f.MaxPatients {
		over = true
	}
	s.IsOverLimit = over
}

// HasModule reports whether the snapshot enables m.
func (s *Subscription) HasModule(m Module) bool {
	for _, have := range s.Features.Modules {
		if have == m {
			return true
		}
	}
	return false
}

// Allows reports whether usage is below the snapshot quota for r.
func (s *Subscription) Allows(r ResourceType, usage int) bool {
	limit, ok := s.Features.Quota(r)
	if !ok {
		return false
	}
	return limit == Unlimited || usage < limit
}

// HistoryEntry is one append-only snapshot written alongside every change.
type HistoryEntry struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Version        int64      `json:"version"`
	Plan           Plan       `json:"plan"`
	Status         Status     `json:"status"`
	Features       Features   `json:"features"`
	UsageStats     UsageStats `json:"usage_stats"`
	IsOverLimit    bool       `json:"is_over_limit"`
	Reason         string     `json:"reason"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

// Change reasons recorded in history.
const (
	ReasonCreated    = "created"
	ReasonPlanChange = "plan_changed"
	ReasonCancelled  = "cancelled"
	ReasonUsage      = "usage_recorded"
	ReasonExpired    = "expired"
	ReasonRenewed    = "renewed"
)
