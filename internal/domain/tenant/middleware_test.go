package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

func runMiddleware(t *testing.T, svc *Service, prepare func(c echo.Context)) (*Tenant, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if prepare != nil {
		prepare(c)
	}

	var resolved *Tenant
	err := Middleware(svc)(func(c echo.Context) error {
		ctx := c.Request().Context()
		resolved = FromContext(ctx)
		id, ok := db.TenantIDFromContext(ctx)
		if !ok || id != resolved.ID {
			t.Errorf("db tenant id = %v/%v, want %v", id, ok, resolved.ID)
		}
		return nil
	})(c)
	return resolved, err
}

func withPrincipal(c echo.Context, p *auth.Principal) {
	c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
}

func TestMiddleware_Header(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	got, err := runMiddleware(t, svc, func(c echo.Context) {
		c.Request().Header.Set(HeaderTenantID, created.Identifier)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("resolved %v, want %v", got, created.ID)
	}
}

func TestMiddleware_FallsBackToTokenClaim(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	got, err := runMiddleware(t, svc, func(c echo.Context) {
		c.Set(auth.JWTTenantKey, created.ID.String())
	})
	if err != nil || got.ID != created.ID {
		t.Errorf("resolved %v, %v", got, err)
	}
}

func TestMiddleware_QueryParam(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	got, err := runMiddleware(t, svc, func(c echo.Context) {
		c.QueryParams().Set("tenant_id", created.Identifier)
	})
	if err != nil || got.ID != created.ID {
		t.Errorf("resolved %v, %v", got, err)
	}
}

func TestMiddleware_NotFoundAndInactiveLookAlike(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deactivate(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}

	_, errInactive := runMiddleware(t, svc, func(c echo.Context) {
		c.Request().Header.Set(HeaderTenantID, created.Identifier)
	})
	_, errMissing := runMiddleware(t, svc, func(c echo.Context) {
		c.Request().Header.Set(HeaderTenantID, "ghost-000000")
	})
	_, errAbsent := runMiddleware(t, svc, nil)

	s1, b1 := apperr.Render(errInactive)
	s2, b2 := apperr.Render(errMissing)
	s3, b3 := apperr.Render(errAbsent)
	if s1 != http.StatusBadRequest || s1 != s2 || s2 != s3 {
		t.Errorf("statuses = %d/%d/%d, want all 400", s1, s2, s3)
	}
	if b1 != b2 || b2 != b3 {
		t.Errorf("bodies differ: %+v / %+v / %+v", b1, b2, b3)
	}
}

func TestMiddleware_CrossTenantPrincipal(t *testing.T) {
	svc, _, _ := newTestService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	_, err = runMiddleware(t, svc, func(c echo.Context) {
		c.Request().Header.Set(HeaderTenantID, created.Identifier)
		withPrincipal(c, &auth.Principal{UserID: "u1", TenantID: "another-tenant", Role: auth.RoleDoctor})
	})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}

	got, err := runMiddleware(t, svc, func(c echo.Context) {
		c.Request().Header.Set(HeaderTenantID, created.Identifier)
		withPrincipal(c, &auth.Principal{UserID: "root", TenantID: "platform", Role: auth.RoleSuperAdmin})
	})
	if err != nil || got.ID != created.ID {
		t.Errorf("super admin should cross tenants: %v, %v", got, err)
	}
}

func TestHandler_CreateAndGet(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	body := `{"name":"Lakeside Hospital","email":"ops@lakeside.example","phone":"+15550001111","plan":"PROFESSIONAL"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateTenant(e.NewContext(req, rec)); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	list, _, _ := svc.List(context.Background(), 10, 0)
	if len(list) != 1 {
		t.Fatalf("expected one tenant, got %d", len(list))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(list[0].ID.String())
	if err := h.GetTenant(c); err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetTenant_InvalidID(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bogus")
	var he *echo.HTTPError
	if err := h.GetTenant(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
