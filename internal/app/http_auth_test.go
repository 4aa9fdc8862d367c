package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"estately/api/internal/authpw"
	"estately/api/internal/store"
)

func newJSONRequest(method, path, token, body string) *http.Request {
	if body == "" {
		body = "{}"
	}
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

// doJSON sends a request through the full handler chain and decodes an
// object response body.
func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := serve(server, newJSONRequest(method, path, token, body))

	payload := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func errorCode(payload map[string]any) string {
	code, _ := payload["code"].(string)
	return code
}

func TestSignUpCreatesBuyerByDefault(t *testing.T) {
	fs := newFakeStore()
	var created store.User
	fs.createUserFn = func(_ context.Context, user store.User) (store.User, error) {
		created = user
		user.ID = 42
		return user, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"  New@Example.com ","password":"correct-horse","display_name":"Nia"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["user_id"] != float64(42) || payload["role"] != store.RoleBuyer {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if created.Email != "new@example.com" {
		t.Fatalf("expected normalised email, got %q", created.Email)
	}
	if created.PasswordHash == "" || created.PasswordHash == "correct-horse" {
		t.Fatalf("expected hashed password, got %q", created.PasswordHash)
	}
}

func TestSignUpValidation(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"bad email", `{"email":"nope","password":"correct-horse","display_name":"N"}`, http.StatusBadRequest},
		{"short password", `{"email":"a@b.co","password":"short","display_name":"N"}`, http.StatusBadRequest},
		{"admin role", `{"email":"a@b.co","password":"correct-horse","display_name":"N","role":"admin"}`, http.StatusBadRequest},
		{"malformed", `{"email":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewHTTPServer(newTestService(newFakeStore()), "*")
			rr, _ := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	fs := newFakeStore()
	fs.createUserFn = func(context.Context, store.User) (store.User, error) {
		return store.User{}, store.ErrDuplicate
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"seller@example.com","password":"correct-horse","display_name":"Sam","role":"seller"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignInReturnsSessionContract(t *testing.T) {
	hash, err := authpw.HashPassword("correct-horse", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := newFakeStore()
	seller := testSeller
	seller.PasswordHash = hash
	fs.users[seller.ID] = seller
	server := NewHTTPServer(newTestService(fs), "*")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"seller@example.com","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := payload["access_token"].(string)
	refresh, _ := payload["refresh_token"].(string)
	if token == "" || refresh == "" {
		t.Fatalf("expected access and refresh tokens, got %v", payload)
	}
	if payload["display_name"] != seller.DisplayName || payload["role"] != store.RoleSeller {
		t.Fatalf("unexpected session payload: %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/session", token, "")
	if rr.Code != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"seller@example.com","password":"wrong-horse"}`)
	if rr.Code != http.StatusUnauthorized || errorCode(payload) != "UNAUTHORIZED" {
		t.Fatalf("expected 401 for bad password, got %d %v", rr.Code, payload)
	}
}

func TestSessionWithoutTokenIsAnonymous(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")
	rr, payload := doJSON(t, server, http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK || payload["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %d %v", rr.Code, payload)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")
	for _, path := range []string{"/api/properties", "/api/offers/seller", "/api/notifications", "/api/profile"} {
		rr, payload := doJSON(t, server, http.MethodGet, path, "", "")
		if rr.Code != http.StatusUnauthorized || errorCode(payload) != "UNAUTHORIZED" {
			t.Fatalf("%s: expected 401, got %d %v", path, rr.Code, payload)
		}
		rr, _ = doJSON(t, server, http.MethodGet, path, "not-a-jwt", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 for garbage token, got %d", path, rr.Code)
		}
	}
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")
	rr, _ := doJSON(t, server, http.MethodPost, "/api/session/refresh", "", `{"refresh_token":"unknown"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	var revokedJTI string
	var revokedRefresh string
	fs.revokeAccessTokenFn = func(_ context.Context, jti string, exp time.Time) error {
		if exp.IsZero() {
			return errors.New("missing expiry")
		}
		revokedJTI = jti
		return nil
	}
	fs.revokeRefreshSessionFn = func(_ context.Context, hash string) error {
		revokedRefresh = hash
		return nil
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := tokenFor(t, svc, testBuyer)

	rr, _ := doJSON(t, server, http.MethodPost, "/api/session/logout", token, `{"refresh_token":"r-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if revokedJTI == "" {
		t.Fatal("expected access token jti to be revoked")
	}
	if revokedRefresh == "" {
		t.Fatal("expected refresh session to be revoked")
	}
}

func TestChangePassword(t *testing.T) {
	hash, err := authpw.HashPassword("correct-horse", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := newFakeStore()
	buyer := testBuyer
	buyer.PasswordHash = hash
	fs.users[buyer.ID] = buyer
	var updated bool
	fs.updateUserPasswordFn = func(_ context.Context, userID int64, newHash string) error {
		updated = userID == buyer.ID && newHash != hash
		return nil
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	token := tokenFor(t, svc, buyer)

	rr, _ := doJSON(t, server, http.MethodPut, "/api/profile/password", token,
		`{"current_password":"wrong-horse","new_password":"battery-staple"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodPut, "/api/profile/password", token,
		`{"current_password":"correct-horse","new_password":"battery-staple"}`)
	if rr.Code != http.StatusOK || !updated {
		t.Fatalf("expected password change, got %d updated=%v", rr.Code, updated)
	}
}
