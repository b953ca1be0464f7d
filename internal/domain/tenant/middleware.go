package tenant

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

// HeaderTenantID carries the tenant identifier on requests.
const HeaderTenantID = "X-Tenant-ID"

type ctxKey struct{}

// Resolver maps an external tenant reference to an active tenant.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*Tenant, error)
}

func WithTenant(ctx context.Context, t *Tenant) context.Context {
	ctx = context.WithValue(ctx, ctxKey{}, t)
	return db.WithTenantID(ctx, t.ID)
}

// FromContext returns the tenant resolved for the current request.
func FromContext(ctx context.Context) *Tenant {
	t, _ := ctx.Value(ctxKey{}).(*Tenant)
	return t
}

func extractRef(c echo.Context) string {
	if ref := c.Request().Header.Get(HeaderTenantID); ref != "" {
		return ref
	}
	if ref, ok := c.Get(auth.JWTTenantKey).(string); ok && ref != "" {
		return ref
	}
	return c.QueryParam("tenant_id")
}

// Middleware resolves the request's tenant from the X-Tenant-ID header, the
// access token's tenant claim or ?tenant_id=, in that order. Unknown and
// inactive tenants are rejected alike. An authenticated principal outside
// SUPER_ADMIN may only act within its own tenant.
func Middleware(r Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			t, err := r.Resolve(ctx, extractRef(c))
			if err != nil {
				return err
			}

			if p := auth.PrincipalFromContext(ctx); p != nil && p.Role != auth.RoleSuperAdmin && p.TenantID != t.ID.String() {
				return apperr.New(apperr.KindForbidden, "access to another tenant is not allowed")
			}

			c.SetRequest(c.Request().WithContext(WithTenant(ctx, t)))
			return next(c)
		}
	}
}
