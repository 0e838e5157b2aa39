package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("tenant-1", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q, want tenant-1", claims.TenantID)
	}

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Error("ValidateToken() with wrong secret succeeded")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	claims := &Claims{
		TenantID: "tenant-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))

	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Error("ValidateToken() accepted an expired token")
	}
}

func TestValidateToken_MissingTenant(t *testing.T) {
	token, _ := GenerateToken("", "secret", time.Hour)

	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Error("ValidateToken() accepted a token without tenant_id")
	}
}

func TestMiddleware_Authenticate(t *testing.T) {
	m := NewMiddleware("secret")
	valid, _ := GenerateToken("tenant-1", "secret", time.Hour)

	var gotTenant string
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetTenantFromContext(r.Context())
		if ok {
			gotTenant = claims.TenantID
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/evals/ingest", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if gotTenant != "tenant-1" {
		t.Errorf("tenant in context = %q, want tenant-1", gotTenant)
	}
}

func TestRequireAdminKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	guarded := RequireAdminKey("admin-key")(ok)
	for key, want := range map[string]int{"": http.StatusUnauthorized, "wrong": http.StatusUnauthorized, "admin-key": http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
		req.Header.Set("X-Admin-Key", key)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("key %q: status = %d, want %d", key, rec.Code, want)
		}
	}

	open := RequireAdminKey("")(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("open status = %d, want 200", rec.Code)
	}
}
