package account

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/tenant"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /auth. Everything but change-password and me is
// listed in auth.IsPublicPath and reached without a bearer token.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/reset-password", h.ResetPassword)
	g.POST("/verify-email", h.VerifyEmail)

	g.POST("/change-password", h.ChangePassword)
	g.GET("/me", h.Me)
}

// tenantRef prefers the X-Tenant-ID header over a tenant_id in the body.
func tenantRef(c echo.Context, fromBody string) string {
	if ref := c.Request().Header.Get(tenant.HeaderTenantID); ref != "" {
		return ref
	}
	if fromBody != "" {
		return fromBody
	}
	return c.QueryParam("tenant_id")
}

func badBody() error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

type registerRequest struct {
	RegisterInput
	TenantID string `json:"tenant_id"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	s, err := h.svc.Register(c.Request().Context(), tenantRef(c, req.TenantID), req.RegisterInput)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, s)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	s, err := h.svc.Login(c.Request().Context(), tenantRef(c, req.TenantID), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	pair, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if err := h.svc.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type forgotRequest struct {
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
}

// ForgotPassword answers the same way whether or not the account exists.
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req forgotRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), tenantRef(c, req.TenantID), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password has been reset"})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}
	u, err := h.svc.VerifyEmail(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	uid, err := uuid.Parse(p.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if err := h.svc.ChangePassword(c.Request().Context(), uid, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *Handler) Me(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	profile, err := h.svc.Me(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}
