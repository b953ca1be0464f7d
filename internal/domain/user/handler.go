package user

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

type Handler struct {
	svc    *Service
	limits subscription.LimitChecker
}

// NewHandler wires the user routes. When limits is non-nil, user creation is
// gated on the tenant's users quota before the body is read.
func NewHandler(svc *Service, limits subscription.LimitChecker) *Handler {
	return &Handler{svc: svc, limits: limits}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Self-service, any authenticated role
	api.GET("/users/me/profile", h.GetProfile)
	api.PUT("/users/me/profile", h.UpdateProfile)

	admin := api.Group("/users",
		auth.RequireRole(auth.RoleSuperAdmin, auth.RoleHospitalAdmin),
		auth.RequirePermission(auth.PermManageUsers),
	)
	var createMW []echo.MiddlewareFunc
	if h.limits != nil {
		createMW = append(createMW, subscription.RequireCapacity(h.limits, subscription.ResourceUsers, h.svc))
	}
	admin.POST("", h.CreateUser, createMW...)
	admin.GET("", h.ListUsers)
	admin.GET("/search", h.SearchUsers)
	admin.GET("/role/:role", h.ListByRole)
	admin.GET("/stats/counts", h.Counts)
	admin.GET("/:id", h.GetUser)
	admin.PUT("/:id", h.UpdateUser)
	admin.DELETE("/:id", h.DeleteUser)
	admin.PUT("/:id/activate", h.ActivateUser)
	admin.PUT("/:id/deactivate", h.DeactivateUser)
	admin.PUT("/:id/suspend", h.SuspendUser)
	admin.PUT("/:id/role", h.ChangeRole)
	admin.PUT("/:id/force-password-change", h.ForcePasswordChange)
	admin.PUT("/:id/permissions", h.UpdatePermissions, auth.RequireRole(auth.RoleSuperAdmin))
}

func tenantID(c echo.Context) (uuid.UUID, error) {
	id, ok := db.TenantIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, apperr.ErrTenantNotFound
	}
	return id, nil
}

// scope returns the resolved tenant and the :id path parameter.
func scope(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	tid, err := tenantID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return tid, id, nil
}

func self(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	uid, err := uuid.Parse(p.UserID)
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	tid, err := uuid.Parse(p.TenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return tid, uid, nil
}

func (h *Handler) CreateUser(c echo.Context) error {
	tid, err := tenantID(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Create(c.Request().Context(), tid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) list(c echo.Context, f ListFilter) error {
	tid, err := tenantID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	users, total, err := h.svc.List(c.Request().Context(), tid, f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if users == nil {
		users = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p))
}

func (h *Handler) ListUsers(c echo.Context) error {
	f := ListFilter{Query: c.QueryParam("q"), IncludeInactive: c.QueryParam("include_inactive") == "true"}
	if r := c.QueryParam("role"); r != "" {
		role, err := auth.ParseRole(r)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Role = role
	}
	return h.list(c, f)
}

func (h *Handler) SearchUsers(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	return h.list(c, ListFilter{Query: q})
}

func (h *Handler) ListByRole(c echo.Context) error {
	role, err := auth.ParseRole(c.Param("role"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.list(c, ListFilter{Role: role})
}

func (h *Handler) Counts(c echo.Context) error {
	tid, err := tenantID(c)
	if err != nil {
		return err
	}
	byRole, err := h.svc.RoleCounts(c.Request().Context(), tid)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range byRole {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"total": total, "by_role": byRole})
}

func (h *Handler) GetUser(c echo.Context) error {
	tid, id, err := scope(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), tid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	tid, id, err := scope(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Update(c.Request().Context(), tid, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	tid, id, err := scope(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), tid, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type userAction func(ctx echo.Context, tid, id uuid.UUID) (*User, error)

func (h *Handler) act(c echo.Context, fn userAction) error {
	tid, id, err := scope(c)
	if err != nil {
		return err
	}
	u, err := fn(c, tid, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ActivateUser(c echo.Context) error {
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.Activate(c.Request().Context(), tid, id)
	})
}

func (h *Handler) DeactivateUser(c echo.Context) error {
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.Deactivate(c.Request().Context(), tid, id)
	})
}

func (h *Handler) SuspendUser(c echo.Context) error {
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.Suspend(c.Request().Context(), tid, id)
	})
}

func (h *Handler) ForcePasswordChange(c echo.Context) error {
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.ForcePasswordChange(c.Request().Context(), tid, id)
	})
}

func (h *Handler) ChangeRole(c echo.Context) error {
	var body struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.ChangeRole(c.Request().Context(), tid, id, body.Role)
	})
}

func (h *Handler) UpdatePermissions(c echo.Context) error {
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return h.act(c, func(c echo.Context, tid, id uuid.UUID) (*User, error) {
		return h.svc.UpdatePermissions(c.Request().Context(), tid, id, body.Permissions)
	})
}

func (h *Handler) GetProfile(c echo.Context) error {
	tid, uid, err := self(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), tid, uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	tid, uid, err := self(c)
	if err != nil {
		return err
	}
	var in ProfileInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), tid, uid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
