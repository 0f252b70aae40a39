package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeToken, Tokens: []Token{
		{Name: "ops", Secret: "ops-secret", Permissions: []string{PermAll}},
		{Name: "onboarding", Secret: "onboard-secret", Permissions: []string{PermAgentsWrite}},
	}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidatesConfig(t *testing.T) {
	if svc, err := NewService(Config{}); err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty config should disable auth: %v", err)
	}
	if _, err := NewService(Config{Mode: ModeToken}); err == nil {
		t.Fatal("expected error for token mode without tokens")
	}
	if _, err := NewService(Config{Mode: ModeToken, Tokens: []Token{{Name: "x"}}}); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatal("expected error for jwt mode without secret")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTokenService(t)
	ctx := context.Background()

	cases := []struct {
		header  string
		subject string
		err     error
	}{
		{header: "Bearer ops-secret", subject: "ops"},
		{header: "bearer  onboard-secret ", subject: "onboarding"},
		{header: "", err: ErrMissingToken},
		{header: "Basic b3BzOnNlY3JldA==", err: ErrMissingToken},
		{header: "Bearer nope", err: ErrInvalidToken},
	}
	for _, tc := range cases {
		subject, err := svc.AuthenticateRequest(ctx, tc.header)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%q: expected %v, got %v", tc.header, tc.err, err)
			}
			continue
		}
		if err != nil || subject.Name != tc.subject {
			t.Fatalf("%q: unexpected result %+v, %v", tc.header, subject, err)
		}
	}
}

func TestSubjectAuthorize(t *testing.T) {
	limited := newSubject("onboarding", []string{"Agents:Write"})
	if err := limited.Authorize(PermAgentsWrite); err != nil {
		t.Fatalf("permission lookup should be case-insensitive: %v", err)
	}
	if err := limited.Authorize(PermTasksCancel); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := newSubject("ops", []string{PermAll}).Authorize(PermTasksCancel, PermAgentsWrite); err != nil {
		t.Fatalf("wildcard should grant everything: %v", err)
	}
	var missing *Subject
	if err := missing.Authorize(); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("nil subject should be rejected, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTokenService(t)
	var seen string
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: []string{PermTasksCancel}, AuditEvent: "task.cancel"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = SubjectFromContext(r.Context()).Name
			w.WriteHeader(http.StatusAccepted)
		}))

	cases := []struct {
		header string
		status int
		code   string
	}{
		{header: "", status: http.StatusUnauthorized, code: string(CodeUnauthenticated)},
		{header: "Bearer onboard-secret", status: http.StatusForbidden, code: string(CodePermissionDenied)},
		{header: "Bearer ops-secret", status: http.StatusAccepted},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/cancel", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%q: expected %d, got %d", tc.header, tc.status, rec.Code)
		}
		if tc.code == "" {
			continue
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code != tc.code {
			t.Fatalf("%q: unexpected body %s", tc.header, rec.Body.String())
		}
	}
	if seen != "ops" {
		t.Fatalf("subject not propagated, got %q", seen)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeDisabled})
	called := false
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: []string{PermAgentsWrite}})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil))
	if !called {
		t.Fatal("disabled auth should not block requests")
	}
}

func TestJWTMode(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "signing-key", Issuer: "stayrelay", Audience: "admin-api"}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	token, err := svc.IssueToken("onboarding-bot", []string{PermAgentsWrite}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "onboarding-bot" || !subject.HasPermission(PermAgentsWrite) || subject.HasPermission(PermTasksCancel) {
		t.Fatalf("unexpected subject: %+v", subject)
	}

	expired, err := svc.IssueToken("onboarding-bot", []string{PermAll}, -time.Hour)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer "+expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	other, _ := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "another-key", Issuer: "stayrelay", Audience: "admin-api"}})
	forged, _ := other.IssueToken("mallory", []string{PermAll}, time.Minute)
	if _, err := svc.AuthenticateRequest(ctx, "Bearer "+forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token with wrong key accepted: %v", err)
	}

	static := newTokenService(t)
	if _, err := static.IssueToken("x", nil, time.Minute); err == nil {
		t.Fatal("token mode should not issue tokens")
	}
}
