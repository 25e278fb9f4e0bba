package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	admindomain "github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/profile"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/internal/logging"
)

type fakeResolver struct {
	session admindomain.ImpersonationSession
	err     error
	calls   int
}

func (f *fakeResolver) ResolveImpersonation(ctx context.Context, adminID, sessionID string) (admindomain.ImpersonationSession, error) {
	f.calls++
	if f.err != nil {
		return admindomain.ImpersonationSession{}, f.err
	}
	if f.session.AdminID != adminID || f.session.ID != sessionID {
		return admindomain.ImpersonationSession{}, svcerrors.Forbidden("impersonation session not found")
	}
	return f.session, nil
}

func signToken(t *testing.T, key *rsa.PrivateKey, subject, role string) string {
	t.Helper()
	claims := &Claims{
		Email: subject + "@school.test",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newAuthFixture(t *testing.T) (*AuthMiddleware, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m := NewAuthMiddleware(&key.PublicKey, logging.NewLogger("auth-test"),
		[]string{"/healthz"}, []string{"/play/"})
	return m, key
}

// capture records the identity the middleware left on the context.
func capture(userID, role, actorID *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*userID = logging.GetUserID(r.Context())
		*role = logging.GetRole(r.Context())
		*actorID = logging.GetActorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthRejectsBadTokens(t *testing.T) {
	m, key := newAuthFixture(t)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, key, "teacher-1", profile.RoleTeacher), http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	m, key := newAuthFixture(t)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	claims := &Claims{
		Role: profile.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "teacher-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestAuthSkipPaths(t *testing.T) {
	m, _ := newAuthFixture(t)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, path := range []string{"/healthz", "/play/games/ABCDEF"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected pass-through, got %d", path, rec.Code)
		}
	}
}

func TestAuthSetsIdentity(t *testing.T) {
	m, key := newAuthFixture(t)
	var userID, role, actorID string
	handler := m.Handler(capture(&userID, &role, &actorID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "teacher-1", profile.RoleTeacher))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if userID != "teacher-1" || role != profile.RoleTeacher {
		t.Fatalf("unexpected identity %s/%s", userID, role)
	}
	if actorID != "" {
		t.Fatalf("actor set without impersonation: %q", actorID)
	}
}

func TestImpersonationHeader(t *testing.T) {
	m, key := newAuthFixture(t)
	resolver := &fakeResolver{session: admindomain.ImpersonationSession{
		ID:           "sess-1",
		AdminID:      "admin-1",
		TargetUserID: "teacher-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	m.AttachImpersonation(resolver)

	var userID, role, actorID string
	handler := m.Handler(capture(&userID, &role, &actorID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "admin-1", profile.RoleAdmin))
	req.Header.Set(ImpersonationHeader, "sess-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if userID != "teacher-1" {
		t.Fatalf("request not re-scoped, user %q", userID)
	}
	if role != profile.RoleTeacher {
		t.Fatalf("impersonated role %q", role)
	}
	if actorID != "admin-1" {
		t.Fatalf("actor not preserved: %q", actorID)
	}
	if resolver.calls != 1 {
		t.Fatalf("resolver called %d times", resolver.calls)
	}
}

func TestImpersonationRequiresAdmin(t *testing.T) {
	m, key := newAuthFixture(t)
	resolver := &fakeResolver{}
	m.AttachImpersonation(resolver)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "teacher-1", profile.RoleTeacher))
	req.Header.Set(ImpersonationHeader, "sess-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if resolver.calls != 0 {
		t.Fatal("resolver consulted for a non-admin")
	}
}

func TestImpersonationRejectedSession(t *testing.T) {
	m, key := newAuthFixture(t)
	m.AttachImpersonation(&fakeResolver{err: svcerrors.Forbidden("impersonation session has ended")})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/banks", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "admin-1", profile.RoleAdmin))
	req.Header.Set(ImpersonationHeader, "sess-gone")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestDevModeIdentityHeaders(t *testing.T) {
	m := NewAuthMiddleware(nil, logging.NewLogger("auth-test"), nil, nil)
	var userID, role, actorID string
	handler := m.Handler(capture(&userID, &role, &actorID))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("X-Dev-User", "dev-7")
	req.Header.Set("X-Dev-Role", profile.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if userID != "dev-7" || role != profile.RoleAdmin {
		t.Fatalf("unexpected dev identity %s/%s", userID, role)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(profile.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req = req.WithContext(context.WithValue(req.Context(), logging.RoleKey, profile.RoleTeacher))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req = req.WithContext(context.WithValue(req.Context(), logging.RoleKey, profile.RoleAdmin))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
