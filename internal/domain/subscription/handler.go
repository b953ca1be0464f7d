package subscription

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the per-tenant subscription endpoints. Hospital
// admins only reach their own tenant.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/tenants/:id",
		auth.RequireRole(auth.RoleSuperAdmin, auth.RoleHospitalAdmin),
		auth.RequireSameTenant("id"),
	)
	g.GET("/subscription", h.GetSubscription)
	g.PUT("/subscription", h.UpdateSubscription)
	g.DELETE("/subscription", h.CancelSubscription)
	g.GET("/subscription/check", h.CheckLimit)
	g.GET("/subscription/history", h.History)
	g.GET("/limits", h.CheckLimit)

	g.POST("/subscription/usage", h.RecordUsage,
		auth.RequireRole(auth.RoleSuperAdmin),
		auth.RequirePermission(auth.PermManageSubscriptions),
	)
}

type updatePlanRequest struct {
	Plan string `json:"plan"`
}

type checkLimitResponse struct {
	IsWithinLimit bool         `json:"isWithinLimit"`
	UsageType     ResourceType `json:"usageType"`
	CurrentUsage  int          `json:"currentUsage"`
}

func tenantParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	return id, nil
}

func (h *Handler) GetSubscription(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.GetActive(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) UpdateSubscription(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req updatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	plan, err := ParsePlan(req.Plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.svc.UpdateSubscription(c.Request().Context(), tenantID, plan)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) CancelSubscription(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.CancelSubscription(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

// CheckLimit accepts resource/usage or the older type/current parameter names.
func (h *Handler) CheckLimit(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}

	rawType := c.QueryParam("resource")
	if rawType == "" {
		rawType = c.QueryParam("type")
	}
	resource, err := ParseResourceType(rawType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rawUsage := c.QueryParam("usage")
	if rawUsage == "" {
		rawUsage = c.QueryParam("current")
	}
	usage, err := strconv.Atoi(rawUsage)
	if err != nil || usage < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "usage must be a non-negative integer")
	}

	ok, err := h.svc.CheckLimit(c.Request().Context(), tenantID, resource, usage)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, checkLimitResponse{IsWithinLimit: ok, UsageType: resource, CurrentUsage: usage})
}

func (h *Handler) RecordUsage(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	var patch UsagePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sub, err := h.svc.RecordUsage(c.Request().Context(), tenantID, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) History(c echo.Context) error {
	tenantID, err := tenantParam(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.svc.History(c.Request().Context(), tenantID, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*HistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
