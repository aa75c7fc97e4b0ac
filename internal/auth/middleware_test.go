package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kasira-dev/fees-engine/internal/common"
)

func TestRequireAdminAllowsValidToken(t *testing.T) {
	svc := newTestService(t, Config{AccessTokenTTL: time.Minute})
	token, _, err := svc.IssueAdminToken("ops-cli")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var actor string
	handler := Middleware{Service: svc}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ = common.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/recalc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if actor != "ops-cli" {
		t.Fatalf("unexpected actor: %q", actor)
	}
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	svc := newTestService(t, Config{AccessTokenTTL: time.Minute})
	handler := Middleware{Service: svc}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/recalc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireAdminRejectsGarbageToken(t *testing.T) {
	svc := newTestService(t, Config{AccessTokenTTL: time.Minute})
	handler := Middleware{Service: svc}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/recalc", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireAdminRejectsMissingRole(t *testing.T) {
	svc := newTestService(t, Config{AccessTokenTTL: time.Minute})
	fixed := time.Now()
	svc.WithNow(func() time.Time { return fixed })

	built, err := jwt.NewBuilder().
		Subject("ops-cli").
		Issuer(svc.issuer).
		Audience([]string{svc.audience}).
		IssuedAt(fixed).
		Expiration(fixed.Add(svc.accessTTL)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, svc.secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	handler := Middleware{Service: svc}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/recalc", nil)
	req.Header.Set("Authorization", "Bearer "+string(signed))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
