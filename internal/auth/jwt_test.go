package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClaims() Claims {
	return Claims{
		AgentID:    "agent-1",
		EmployeeID: "EMP_ALICE",
		Hostname:   "h1",
		Username:   "alice",
		MacAddress: "m1",
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, err := issuer.Issue(testClaims())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AgentID != "agent-1" || claims.EmployeeID != "EMP_ALICE" || claims.MacAddress != "m1" {
		t.Errorf("unexpected claims %+v", claims)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != DefaultTokenTTL {
		t.Errorf("expected ttl %v, got %v", DefaultTokenTTL, ttl)
	}
}

func TestVerifyRejects(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	other, _ := NewIssuer("other-secret")

	foreign, _ := other.Issue(testClaims())

	expiredIssuer, _ := NewIssuer("secret")
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * DefaultTokenTTL) }
	expired, _ := expiredIssuer.Issue(testClaims())

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims())
	unsigned, _ := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"unsigned", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractBearer(tt.header)
		if tt.wantErr {
			if !errors.Is(err, ErrMissingToken) {
				t.Errorf("%q: expected ErrMissingToken, got %v", tt.header, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %q, %v", tt.header, got, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	token, _ := issuer.Issue(testClaims())

	var seen *Claims
	handler := Middleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/agents/commands", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusOK && (seen == nil || seen.AgentID != "agent-1") {
				t.Errorf("claims not propagated: %+v", seen)
			}
		})
	}
}

func TestRegistrationToken(t *testing.T) {
	token, prefix, hash, err := GenerateRegistrationToken()
	if err != nil {
		t.Fatalf("GenerateRegistrationToken: %v", err)
	}
	if len(prefix) != RegistrationTokenLookupLen || token[:RegistrationTokenLookupLen] != prefix {
		t.Errorf("prefix %q does not match token %q", prefix, token)
	}
	if !ValidateTokenHash(token, hash) {
		t.Error("token should match its hash")
	}
	if ValidateTokenHash(token+"x", hash) {
		t.Error("altered token should not match")
	}
}
