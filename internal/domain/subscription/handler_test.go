package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, uuid.UUID) {
	t.Helper()
	svc, _, _ := newTestService()
	tenantID := uuid.New()
	mustCreate(t, svc, tenantID, PlanStarter)
	return NewHandler(svc), echo.New(), tenantID
}

func tenantContext(e *echo.Echo, method, target, body string, tenantID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(tenantID.String())
	return c, rec
}

func TestHandler_GetSubscription(t *testing.T) {
	h, e, tenantID := newTestHandler(t)
	c, rec := tenantContext(e, http.MethodGet, "/", "", tenantID)
	if err := h.GetSubscription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sub Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Plan != PlanStarter || sub.Features.MaxUsers != 5 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_UpdateSubscription(t *testing.T) {
	h, e, tenantID := newTestHandler(t)
	c, rec := tenantContext(e, http.MethodPut, "/", `{"plan":"enterprise"}`, tenantID)
	if err := h.UpdateSubscription(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"plan":"ENTERPRISE"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_UpdateSubscription_UnknownPlan(t *testing.T) {
	h, e, tenantID := newTestHandler(t)
	c, _ := tenantContext(e, http.MethodPut, "/", `{"plan":"GOLD"}`, tenantID)
	err := h.UpdateSubscription(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CancelSubscription_Twice(t *testing.T) {
	h, e, tenantID := newTestHandler(t)
	c, _ := tenantContext(e, http.MethodDelete, "/", "", tenantID)
	if err := h.CancelSubscription(c); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	c, _ = tenantContext(e, http.MethodDelete, "/", "", tenantID)
	if err := h.CancelSubscription(c); !errors.Is(err, apperr.ErrNoActiveSubscription) {
		t.Errorf("expected NoActiveSubscription, got %v", err)
	}
}

func TestHandler_CheckLimit(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWithin bool
	}{
		{"below quota", "?resource=users&usage=4", http.StatusOK, true},
		{"at quota", "?resource=users&usage=5", http.StatusOK, false},
		{"legacy names", "?type=patients&current=10", http.StatusOK, true},
		{"unknown resource", "?resource=beds&usage=1", http.StatusBadRequest, false},
		{"missing usage", "?resource=users", http.StatusBadRequest, false},
		{"negative usage", "?resource=users&usage=-1", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e, tenantID := newTestHandler(t)
			c, rec := tenantContext(e, http.MethodGet, "/"+tt.query, "", tenantID)
			err := h.CheckLimit(c)
			if tt.wantStatus != http.StatusOK {
				var he *echo.HTTPError
				if !errors.As(err, &he) || he.Code != tt.wantStatus {
					t.Fatalf("expected %d, got %v", tt.wantStatus, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var body checkLimitResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.IsWithinLimit != tt.wantWithin {
				t.Errorf("isWithinLimit = %v, want %v", body.IsWithinLimit, tt.wantWithin)
			}
		})
	}
}

func TestHandler_RecordUsage(t *testing.T) {
	h, e, tenantID := newTestHandler(t)
	c, rec := tenantContext(e, http.MethodPost, "/", `{"users":6}`, tenantID)
	if err := h.RecordUsage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sub Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatal(err)
	}
	if sub.UsageStats.Users != 6 || !sub.IsOverLimit {
		t.Errorf("unexpected subscription: %+v", sub)
	}
}

func TestHandler_RecordUsage_RequiresPermission(t *testing.T) {
	h, _, tenantID := newTestHandler(t)
	target := "/api/v1/tenants/" + tenantID.String() + "/subscription/usage"

	route := func(p *auth.Principal) *echo.Echo {
		e := echo.New()
		api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
				return next(c)
			}
		})
		h.RegisterRoutes(api)
		return e
	}
	post := func(e *echo.Echo) int {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{"patients":3}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	granted := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleSuperAdmin,
		Permissions: auth.DefaultPermissions(auth.RoleSuperAdmin)}
	if code := post(route(granted)); code != http.StatusOK {
		t.Errorf("expected 200 with manage_subscriptions, got %d", code)
	}

	revoked := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleSuperAdmin,
		Permissions: []string{auth.PermManageTenants}}
	if code := post(route(revoked)); code != http.StatusForbidden {
		t.Errorf("expected 403 once manage_subscriptions is revoked, got %d", code)
	}
}

func TestHandler_InvalidTenantID(t *testing.T) {
	h, e, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	var he *echo.HTTPError
	if err := h.GetSubscription(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

// -- Guard --

func runGuard(mw echo.MiddlewareFunc, ctx context.Context) (bool, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())
	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	return called, err
}

func TestRequireCapacity(t *testing.T) {
	svc, _, _ := newTestService()
	tenantID := uuid.New()
	mustCreate(t, svc, tenantID, PlanStarter)
	ctx := db.WithTenantID(context.Background(), tenantID)

	count := 4
	counter := UsageCounterFunc(func(context.Context, uuid.UUID) (int, error) { return count, nil })
	guard := RequireCapacity(svc, ResourceUsers, counter)

	called, err := runGuard(guard, ctx)
	if err != nil || !called {
		t.Fatalf("expected pass with 4 of 5 users, got called=%v err=%v", called, err)
	}

	count = 5
	called, err = runGuard(guard, ctx)
	if called {
		t.Error("handler ran despite full quota")
	}
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Errorf("expected QuotaExceeded, got %v", err)
	}
	if status, _ := apperr.Render(err); status != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", status)
	}
}

func TestRequireCapacity_NoTenant(t *testing.T) {
	svc, _, _ := newTestService()
	counter := UsageCounterFunc(func(context.Context, uuid.UUID) (int, error) { return 0, nil })
	called, err := runGuard(RequireCapacity(svc, ResourcePatients, counter), context.Background())
	if called || !errors.Is(err, apperr.ErrTenantNotFound) {
		t.Errorf("expected tenant rejection, got called=%v err=%v", called, err)
	}
}

func TestRequireCapacity_CounterError(t *testing.T) {
	svc, _, _ := newTestService()
	tenantID := uuid.New()
	mustCreate(t, svc, tenantID, PlanStarter)
	boom := errors.New("count failed")
	counter := UsageCounterFunc(func(context.Context, uuid.UUID) (int, error) { return 0, boom })

	called, err := runGuard(RequireCapacity(svc, ResourcePatients, counter), db.WithTenantID(context.Background(), tenantID))
	if called || !errors.Is(err, boom) {
		t.Errorf("expected counter error, got called=%v err=%v", called, err)
	}
}

func TestRequireModule(t *testing.T) {
	svc, _, _ := newTestService()
	tenantID := uuid.New()
	mustCreate(t, svc, tenantID, PlanStarter)
	ctx := db.WithTenantID(context.Background(), tenantID)

	if called, err := runGuard(RequireModule(svc, ModuleBilling), ctx); !called || err != nil {
		t.Errorf("BILLING should be enabled on STARTER: called=%v err=%v", called, err)
	}
	called, err := runGuard(RequireModule(svc, ModulePharmacy), ctx)
	if called || apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("PHARMACY should be denied on STARTER: called=%v err=%v", called, err)
	}
}
