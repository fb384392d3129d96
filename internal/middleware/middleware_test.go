package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const testSecret = "test-secret"

func echoUser(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUserID(r.Context())))
}

func TestAuthAcceptsHeaderAndQueryToken(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	h := Auth(testSecret)(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("header token: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("query token: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthRejects(t *testing.T) {
	wrongKey, _ := IssueToken("other-secret", "alice", nil, time.Minute)
	expired, _ := IssueToken(testSecret, "alice", nil, -time.Minute)
	noSubject, _ := IssueToken(testSecret, "", nil, time.Minute)
	h := Auth(testSecret)(http.HandlerFunc(echoUser))

	for name, header := range map[string]string{
		"missing":    "",
		"malformed":  "Token abc",
		"wrong key":  "Bearer " + wrongKey,
		"expired":    "Bearer " + expired,
		"no subject": "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	admin, _ := IssueToken(testSecret, "ops", []string{AdminScope}, time.Minute)
	user, _ := IssueToken(testSecret, "alice", nil, time.Minute)
	h := Auth(testSecret)(RequireScope(AdminScope)(http.HandlerFunc(echoUser)))

	for token, want := range map[string]int{admin: http.StatusOK, user: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("expected %d, got %d", want, rec.Code)
		}
	}
}

func TestSharedSecret(t *testing.T) {
	h := SharedSecret("pbx-secret")(http.HandlerFunc(echoUser))
	for header, want := range map[string]int{
		"Bearer pbx-secret": http.StatusOK,
		"Bearer nope":       http.StatusUnauthorized,
		"":                  http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%q: expected %d, got %d", header, want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	SharedSecret("")(http.HandlerFunc(echoUser)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("empty secret must reject, got %d", rec.Code)
	}
}

func TestLoggingKeepsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.Global())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		if _, ok := w.(http.Flusher); !ok {
			t.Errorf("wrapped writer lost http.Flusher")
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "corr-1" || rec.Header().Get("X-Correlation-ID") != "corr-1" {
		t.Fatalf("correlation id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Correlation-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestParseWorkspaceID(t *testing.T) {
	if id, err := ParseWorkspaceID("7"); err != nil || id != 7 {
		t.Fatalf("ParseWorkspaceID(7) = %d, %v", id, err)
	}
	for _, raw := range []string{"", "0", "-3", "seven"} {
		if _, err := ParseWorkspaceID(raw); err == nil {
			t.Fatalf("ParseWorkspaceID(%q) should fail", raw)
		}
	}
}

func TestValidateThreadID(t *testing.T) {
	for id, ok := range map[string]bool{
		"0190f3a2-7c1e-7000-8000-000000000000":   true,
		"+14155550111-+14155550122-+14155550188": true,
		"not-an-id":                              false,
	} {
		if err := ValidateThreadID(id); (err == nil) != ok {
			t.Fatalf("ValidateThreadID(%q) = %v", id, err)
		}
	}
}
