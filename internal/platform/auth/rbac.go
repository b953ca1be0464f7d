package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is one of the nine fixed user categories.
type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleHospitalAdmin Role = "HOSPITAL_ADMIN"
	RoleDoctor        Role = "DOCTOR"
	RoleNurse         Role = "NURSE"
	RolePharmacist    Role = "PHARMACIST"
	RoleLabTechnician Role = "LAB_TECHNICIAN"
	RoleReceptionist  Role = "RECEPTIONIST"
	RoleBillingStaff  Role = "BILLING_STAFF"
	RolePatient       Role = "PATIENT"
)

// Permission strings seeded into user records.
const (
	PermManageTenants          = "manage_tenants"
	PermManageUsers            = "manage_users"
	PermManageSubscriptions    = "manage_subscriptions"
	PermViewAnalytics          = "view_analytics"
	PermSystemSettings         = "system_settings"
	PermManageAppointments     = "manage_appointments"
	PermViewReports            = "view_reports"
	PermManageBilling          = "manage_billing"
	PermManagePharmacy         = "manage_pharmacy"
	PermManageLaboratory       = "manage_laboratory"
	PermViewPatients           = "view_patients"
	PermManageMedicalRecords   = "manage_medical_records"
	PermCreatePrescriptions    = "create_prescriptions"
	PermViewLabResults         = "view_lab_results"
	PermManageVitals           = "manage_vitals"
	PermAdministerMedications  = "administer_medications"
	PermUpdateMedicalRecords   = "update_medical_records"
	PermManagePatientRegistry  = "manage_patient_registration"
	PermViewPatientInfo        = "view_patient_info"
	PermManageBillingBasic     = "manage_billing_basic"
	PermManageInventory        = "manage_inventory"
	PermFulfillPrescriptions   = "fulfill_prescriptions"
	PermManageSales            = "manage_sales"
	PermViewPatientMedications = "view_patient_medications"
	PermManageLabTests         = "manage_lab_tests"
	PermEnterResults           = "enter_results"
	PermManageSamples          = "manage_samples"
	PermViewPatientTests       = "view_patient_tests"
	PermManageInvoices         = "manage_invoices"
	PermProcessPayments        = "process_payments"
	PermManageInsuranceClaims  = "manage_insurance_claims"
	PermViewOwnRecords         = "view_own_records"
	PermViewPrescriptions      = "view_prescriptions"
	PermMakePayments           = "make_payments"
)

var roleRanks = map[Role]int{
	RoleSuperAdmin:    9,
	RoleHospitalAdmin: 8,
	RoleDoctor:        7,
	RoleNurse:         6,
	RolePharmacist:    5,
	RoleLabTechnician: 5,
	RoleReceptionist:  4,
	RoleBillingStaff:  4,
	RolePatient:       1,
}

// defaultPermissions is never handed out directly; callers get copies.
var defaultPermissions = map[Role][]string{
	RoleSuperAdmin: {
		PermManageTenants, PermManageUsers, PermManageSubscriptions, PermViewAnalytics, PermSystemSettings,
	},
	RoleHospitalAdmin: {
		PermManageUsers, PermManageAppointments, PermViewReports, PermManageBilling, PermManagePharmacy, PermManageLaboratory,
	},
	RoleDoctor: {
		PermViewPatients, PermManageMedicalRecords, PermCreatePrescriptions, PermManageAppointments, PermViewLabResults,
	},
	RoleNurse: {
		PermViewPatients, PermManageVitals, PermAdministerMedications, PermUpdateMedicalRecords,
	},
	RoleReceptionist: {
		PermManageAppointments, PermManagePatientRegistry, PermViewPatientInfo, PermManageBillingBasic,
	},
	RolePharmacist: {
		PermManageInventory, PermFulfillPrescriptions, PermManageSales, PermViewPatientMedications,
	},
	RoleLabTechnician: {
		PermManageLabTests, PermEnterResults, PermManageSamples, PermViewPatientTests,
	},
	RoleBillingStaff: {
		PermManageInvoices, PermProcessPayments, PermManageInsuranceClaims, PermViewReports,
	},
	RolePatient: {
		PermViewOwnRecords, PermManageAppointments, PermViewPrescriptions, PermMakePayments,
	},
}

// Roles returns every known role, highest rank first.
func Roles() []Role {
	return []Role{
		RoleSuperAdmin, RoleHospitalAdmin, RoleDoctor, RoleNurse, RolePharmacist,
		RoleLabTechnician, RoleReceptionist, RoleBillingStaff, RolePatient,
	}
}

// Valid reports whether r is one of the nine known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// ParseRole converts s to a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Rank returns the hierarchy rank of r (9 is highest), or 0 for unknown roles.
func Rank(r Role) int {
	return roleRanks[r]
}

// AtLeast reports whether r ranks at or above min. Request guards use
// Authorize; this is for callers that need a threshold check.
func AtLeast(r, min Role) bool {
	return r.Valid() && Rank(r) >= Rank(min)
}

// CanManage reports whether actor may create, edit or assign a user of role
// target. SUPER_ADMIN manages everyone; other roles only manage strictly
// lower ranks, so nobody can mint or take over a peer or superior.
func CanManage(actor, target Role) bool {
	if actor == RoleSuperAdmin {
		return true
	}
	return actor.Valid() && Rank(target) < Rank(actor)
}

// DefaultPermissions returns a fresh copy of the default permission list for
// r. Mutating the result never affects the table or other users.
func DefaultPermissions(r Role) []string {
	src := defaultPermissions[r]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Authorize reports whether role is a member of required. An empty
// required list allows any role.
func Authorize(role Role, required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether p is in perms.
func HasPermission(perms []string, p string) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}

func roleNames(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}

// RequireRole returns middleware that admits the request only when the
// loaded principal's role is one of roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !Authorize(p.Role, roles...) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required role: %s", roleNames(roles)))
			}
			return next(c)
		}
	}
}

// RequireSameTenant admits SUPER_ADMIN for any tenant and every other role
// only when the path parameter param names the principal's own tenant.
func RequireSameTenant(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if p.Role != RoleSuperAdmin && p.TenantID != c.Param(param) {
				return echo.NewHTTPError(http.StatusForbidden, "access to another tenant is not allowed")
			}
			return next(c)
		}
	}
}

// RequirePermission returns middleware that admits the request only when the
// principal's permission list contains perm.
func RequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !HasPermission(p.Permissions, perm) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("required permission: %s", perm))
			}
			return next(c)
		}
	}
}
