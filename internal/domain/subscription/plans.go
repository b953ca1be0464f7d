package subscription

import "github.com/shopspring/decimal"

var starterModules = []Module{ModuleOPD, ModuleBilling, ModuleAppointments, ModuleDoctorDashboard}

var professionalModules = append(append([]Module(nil), starterModules...),
	ModuleEMR, ModulePharmacy, ModuleLaboratory, ModuleIPD, ModuleTelemedicine)

var enterpriseModules = append(append([]Module(nil), professionalModules...),
	ModuleIntegrations, ModuleAdvancedAnalytics, ModuleMultiBranch, ModuleCorporateBilling)

// catalog is read-only after init; PlanFeatures hands out clones.
var catalog = map[Plan]Features{
	PlanStarter: {
		MaxUsers:     5,
		MaxPatients:  100,
		Appointments: 100,
		StorageGB:    5,
		Support:      "email",
		Price:        decimal.NewFromInt(99),
		Modules:      starterModules,
	},
	PlanProfessional: {
		MaxUsers:     25,
		MaxPatients:  1000,
		Appointments: 1000,
		StorageGB:    50,
		Support:      "email_phone",
		Price:        decimal.NewFromInt(499),
		Modules:      professionalModules,
	},
	PlanEnterprise: {
		MaxUsers:     Unlimited,
		MaxPatients:  Unlimited,
		Appointments: Unlimited,
		StorageGB:    500,
		Support:      "24x7_dedicated",
		Price:        decimal.NewFromInt(1999),
		Modules:      enterpriseModules,
	},
}

// PlanFeatures returns a private copy of the entitlement table for p.
func PlanFeatures(p Plan) (Features, bool) {
	f, ok := catalog[p]
	if !ok {
		return Features{}, false
	}
	return f.clone(), true
}

// Plans lists the catalog tiers from cheapest to most expensive.
func Plans() []Plan {
	return []Plan{PlanStarter, PlanProfessional, PlanEnterprise}
}
