package subscription

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// LimitChecker is the part of the ledger the entitlement guard needs.
type LimitChecker interface {
	CheckLimit(ctx context.Context, tenantID uuid.UUID, r ResourceType, usage int) (bool, error)
}

// ModuleChecker reports module entitlement.
type ModuleChecker interface {
	HasModule(ctx context.Context, tenantID uuid.UUID, m Module) (bool, error)
}

// UsageCounter returns a tenant's current usage of one resource.
type UsageCounter interface {
	CountUsage(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// UsageCounterFunc adapts a function to UsageCounter.
type UsageCounterFunc func(ctx context.Context, tenantID uuid.UUID) (int, error)

func (f UsageCounterFunc) CountUsage(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return f(ctx, tenantID)
}

// RequireCapacity rejects the request with 402 when the resolved tenant has
// no room left for one more r. It must run after the tenant middleware.
func RequireCapacity(checker LimitChecker, r ResourceType, counter UsageCounter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			tenantID, ok := db.TenantIDFromContext(ctx)
			if !ok {
				return apperr.ErrTenantNotFound
			}

			usage, err := counter.CountUsage(ctx, tenantID)
			if err != nil {
				return err
			}
			allowed, err := checker.CheckLimit(ctx, tenantID, r, usage)
			if err != nil {
				return err
			}
			if !allowed {
				return apperr.Newf(apperr.KindQuotaExceeded, "%s limit reached for the current plan", r)
			}
			return next(c)
		}
	}
}

// RequireModule rejects the request with 403 unless the resolved tenant's
// plan includes m.
func RequireModule(checker ModuleChecker, m Module) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			tenantID, ok := db.TenantIDFromContext(ctx)
			if !ok {
				return apperr.ErrTenantNotFound
			}

			enabled, err := checker.HasModule(ctx, tenantID, m)
			if err != nil {
				return err
			}
			if !enabled {
				return apperr.Newf(apperr.KindForbidden, "module %s is not included in the current plan", m)
			}
			return next(c)
		}
	}
}
