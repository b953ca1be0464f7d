package tenant

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Platform operator endpoints
	superGroup := api.Group("/tenants",
		auth.RequireRole(auth.RoleSuperAdmin),
		auth.RequirePermission(auth.PermManageTenants),
	)
	superGroup.POST("", h.CreateTenant)
	superGroup.GET("", h.ListTenants)
	superGroup.POST("/:id/activate", h.ActivateTenant)
	superGroup.PUT("/:id/activate", h.ActivateTenant)
	superGroup.POST("/:id/deactivate", h.DeactivateTenant)
	superGroup.PUT("/:id/deactivate", h.DeactivateTenant)

	// Hospital admins manage their own tenant
	ownGroup := api.Group("/tenants/:id",
		auth.RequireRole(auth.RoleSuperAdmin, auth.RoleHospitalAdmin),
		auth.RequireSameTenant("id"),
	)
	ownGroup.GET("", h.GetTenant)
	ownGroup.PUT("", h.UpdateTenant)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateTenant(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListTenants(c echo.Context) error {
	p := pagination.FromContext(c)
	tenants, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if tenants == nil {
		tenants = []*Tenant{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(tenants, total, p))
}

func (h *Handler) GetTenant(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTenant(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ActivateTenant(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Activate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateTenant(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}
