package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parcelmap/server/internal/config"
)

func testConfig(expiry time.Duration) *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "test_jwt_secret_key_32_bytes_long!!",
			JWTIssuer:     "parcelmap",
			JWTExpiration: expiry,
		},
	}
}

func TestJWTService_Generate(t *testing.T) {
	service := NewJWTService(testConfig(15 * time.Minute))

	token, err := service.Generate("u-123", RoleFarmer, []string{"12", "13"})
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if token == "" {
		t.Fatal("Generate() returned empty token")
	}

	claims, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	if claims.UserID != "u-123" {
		t.Errorf("Expected UserID u-123, got %s", claims.UserID)
	}
	if claims.Role != RoleFarmer {
		t.Errorf("Expected Role farmer, got %s", claims.Role)
	}
	if claims.Issuer != "parcelmap" {
		t.Errorf("Expected Issuer parcelmap, got %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("Expected a token id")
	}
	if !claims.CanAccessFarm("13") || claims.CanAccessFarm("99") {
		t.Errorf("Unexpected farm access for %v", claims.FarmIDs)
	}
	if claims.CanValidateImports() {
		t.Error("Farmers must not validate imports")
	}
}

func TestJWTService_Validate_InvalidToken(t *testing.T) {
	service := NewJWTService(testConfig(15 * time.Minute))

	if _, err := service.Validate("invalid.token.here"); err == nil {
		t.Error("Validate() should fail for invalid token")
	}
}

func TestJWTService_Validate_Expired(t *testing.T) {
	service := NewJWTService(testConfig(-time.Minute))

	token, err := service.Generate("u-1", RoleFarmer, nil)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if _, err := service.Validate(token); err == nil {
		t.Error("Validate() should fail for an expired token")
	}
}

func TestJWTService_Validate_WrongIssuer(t *testing.T) {
	cfg := testConfig(time.Minute)
	other := testConfig(time.Minute)
	other.Auth.JWTIssuer = "someone-else"

	token, err := NewJWTService(other).Generate("u-1", RoleAdmin, nil)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if _, err := NewJWTService(cfg).Validate(token); err == nil {
		t.Error("Validate() should fail for a foreign issuer")
	}
}

func TestJWTService_Validate_RejectsNoneAlgorithm(t *testing.T) {
	service := NewJWTService(testConfig(time.Minute))
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "parcelmap",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if _, err := service.Validate(token); err == nil {
		t.Error("Validate() should reject unsigned tokens")
	}
}

func TestClaims_Admin(t *testing.T) {
	claims := &Claims{Role: RoleAdmin}
	if !claims.CanAccessFarm("anything") || !claims.CanValidateImports() {
		t.Error("Admins should reach every farm and validate imports")
	}
}

func TestMiddleware(t *testing.T) {
	service := NewJWTService(testConfig(time.Minute))
	token, err := service.Generate("u-9", RoleValidator, nil)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	var seen *Claims
	var seenToken string
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetClaims(r)
		seenToken, _ = GetToken(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
	}{
		{"bearer header", "/api/x", "Bearer " + token, http.StatusNoContent},
		{"query token", "/ws?token=" + token, "", http.StatusNoContent},
		{"missing", "/api/x", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/x", "Basic abc", http.StatusUnauthorized},
		{"garbage", "/api/x", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, seenToken = nil, ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusNoContent {
				if seen == nil || seen.UserID != "u-9" {
					t.Errorf("Expected claims in context, got %+v", seen)
				}
				if seenToken != token {
					t.Error("Expected raw token in context")
				}
			} else if rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected JSON error, got %s", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	SecurityHeadersMiddleware(false)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected nosniff header")
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent outside production")
	}

	rr = httptest.NewRecorder()
	SecurityHeadersMiddleware(true)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("Expected HSTS in production")
	}
}
