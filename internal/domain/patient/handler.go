package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

// Entitlements gates the registry on the tenant's plan.
type Entitlements interface {
	subscription.LimitChecker
	subscription.ModuleChecker
}

type Handler struct {
	svc  *Service
	plan Entitlements
}

func NewHandler(svc *Service, plan Entitlements) *Handler {
	return &Handler{svc: svc, plan: plan}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	var mw []echo.MiddlewareFunc
	if h.plan != nil {
		mw = append(mw, subscription.RequireModule(h.plan, subscription.ModuleOPD))
	}

	// Read endpoints: clinical and front-desk staff
	read := api.Group("/patients", append([]echo.MiddlewareFunc{auth.RequireRole(
		auth.RoleSuperAdmin, auth.RoleHospitalAdmin, auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist,
	)}, mw...)...)
	read.GET("", h.ListPatients)
	read.GET("/:id", h.GetPatient)

	// Write endpoints: admins and registration desk
	write := api.Group("/patients", append([]echo.MiddlewareFunc{auth.RequireRole(
		auth.RoleSuperAdmin, auth.RoleHospitalAdmin, auth.RoleReceptionist,
	)}, mw...)...)
	var createMW []echo.MiddlewareFunc
	if h.plan != nil {
		createMW = append(createMW, subscription.RequireCapacity(h.plan, subscription.ResourcePatients, h.svc))
	}
	write.POST("", h.CreatePatient, createMW...)
	write.PUT("/:id", h.UpdatePatient)
	write.DELETE("/:id", h.DeactivatePatient)
	write.POST("/:id/deactivate", h.DeactivatePatient)
}

func scope(c echo.Context, withID bool) (uuid.UUID, uuid.UUID, error) {
	tid, ok := db.TenantIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.ErrTenantNotFound
	}
	if !withID {
		return tid, uuid.Nil, nil
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return tid, id, nil
}

func (h *Handler) CreatePatient(c echo.Context) error {
	tid, _, err := scope(c, false)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), tid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	tid, _, err := scope(c, false)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.List(c.Request().Context(), tid, c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	tid, id, err := scope(c, true)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), tid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	tid, id, err := scope(c, true)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), tid, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeactivatePatient(c echo.Context) error {
	tid, id, err := scope(c, true)
	if err != nil {
		return err
	}
	p, err := h.svc.Deactivate(c.Request().Context(), tid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
