package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"till/cmd/identity"
	"till/cmd/internal/auth/federation"
	"till/cmd/internal/auth/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.Secret = "handler-test-secret"

	tokens, err := session.NewHS256Manager(sessCfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := session.NewService(sessCfg, log,
		identity.NewMemoryStore(),
		session.NewMemoryRevocationStore(),
		tokens,
		federation.InsecureVerifier{},
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := Config{
		RefreshCookieName: "till_refresh_token",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteLaxMode,
		MaxBodyBytes:      1 << 20,
		RefreshInBody:     true,
		ExposeResetToken:  true,
	}

	h, err := NewHandler(log, cfg, svc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any, mutate ...func(*http.Request)) *http.Response {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "till_refresh_token" && c.Value != "" {
			return c
		}
	}
	return nil
}

type sessionBody struct {
	User struct {
		ID       string  `json:"id"`
		Email    string  `json:"email"`
		Name     *string `json:"name"`
		Provider string  `json:"provider"`
	} `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func TestRegisterLoginAndMe(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
		"name":     "Pat",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	if refreshCookie(t, resp) == nil {
		t.Fatalf("register must set the refresh cookie")
	}
	reg := decodeBody[sessionBody](t, resp)
	if reg.User.Email != "p@example.com" || reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatalf("unexpected register body: %+v", reg)
	}

	resp = postJSON(t, srv, "/auth/login", map[string]any{
		"email":    "P@Example.COM",
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	login := decodeBody[sessionBody](t, resp)
	if login.User.ID != reg.User.ID {
		t.Fatalf("login user ID %q != registered %q", login.User.ID, reg.User.ID)
	}

	// Me with the fresh access token.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	meResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", meResp.StatusCode)
	}
	me := decodeBody[struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}](t, meResp)
	if me.User.ID != reg.User.ID {
		t.Fatalf("me returned a different user")
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/auth/register", map[string]any{"email": "p@example.com"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("missing password: status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email: status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginFailureIsUniform401(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	}).Body.Close()

	for _, body := range []map[string]any{
		{"email": "nobody@example.com", "password": "hunter2"},
		{"email": "p@example.com", "password": "wrong"},
	} {
		resp := postJSON(t, srv, "/auth/login", body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %v: status = %d, want 401", body, resp.StatusCode)
		}
		errBody := decodeBody[errorResponse](t, resp)
		if errBody.Error.Code != "unauthorized" {
			t.Fatalf("error code = %q, want uniform %q", errBody.Error.Code, "unauthorized")
		}
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	})
	firstCookie := refreshCookie(t, resp)
	if firstCookie == nil {
		t.Fatalf("no refresh cookie on register")
	}
	resp.Body.Close()

	withCookie := func(c *http.Cookie) func(*http.Request) {
		return func(r *http.Request) { r.AddCookie(c) }
	}

	resp = postJSON(t, srv, "/auth/refresh", map[string]any{}, withCookie(firstCookie))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	rotatedCookie := refreshCookie(t, resp)
	if rotatedCookie == nil {
		t.Fatalf("refresh must set a rotated cookie")
	}
	if rotatedCookie.Value == firstCookie.Value {
		t.Fatalf("refresh must rotate the cookie value")
	}
	rotated := decodeBody[refreshResponse](t, resp)
	if rotated.AccessToken == "" {
		t.Fatalf("refresh must return a new access token")
	}

	// Replaying the consumed cookie fails.
	resp = postJSON(t, srv, "/auth/refresh", map[string]any{}, withCookie(firstCookie))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// The rotated cookie still works.
	resp = postJSON(t, srv, "/auth/refresh", map[string]any{}, withCookie(rotatedCookie))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotated refresh status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Refresh without a cookie is an auth failure, not a validation error.
	resp = postJSON(t, srv, "/auth/refresh", map[string]any{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cookieless refresh status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogoutRevokesAndClears(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	})
	cookie := refreshCookie(t, resp)
	reg := decodeBody[sessionBody](t, resp)

	logoutResp := postJSON(t, srv, "/auth/logout", map[string]any{}, func(r *http.Request) {
		r.AddCookie(cookie)
		r.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	})
	if logoutResp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", logoutResp.StatusCode)
	}
	for _, c := range logoutResp.Cookies() {
		if c.Name == "till_refresh_token" && c.MaxAge != -1 {
			t.Fatalf("logout must expire the refresh cookie")
		}
	}
	out := decodeBody[logoutResponse](t, logoutResp)
	if !out.Success {
		t.Fatalf("logout success = false")
	}

	// The revoked access token no longer works.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	meResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	if meResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", meResp.StatusCode)
	}
	meResp.Body.Close()

	// The revoked refresh cookie no longer works.
	resp = postJSON(t, srv, "/auth/refresh", map[string]any{}, func(r *http.Request) { r.AddCookie(cookie) })
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Logout is idempotent, even with no tokens at all.
	again := postJSON(t, srv, "/auth/logout", map[string]any{})
	if again.StatusCode != http.StatusOK {
		t.Fatalf("second logout status = %d", again.StatusCode)
	}
	again.Body.Close()
}

func TestGoogleLogin(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/auth/google", map[string]any{
		"token": `{"email":"p@example.com","name":"Pat","sub":"google-123"}`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("google status = %d", resp.StatusCode)
	}
	first := decodeBody[sessionBody](t, resp)
	if first.User.Provider != "federated" {
		t.Fatalf("provider = %q, want federated", first.User.Provider)
	}

	// Same subject resolves the same account.
	resp = postJSON(t, srv, "/auth/google", map[string]any{
		"token": `{"email":"p@example.com","sub":"google-123"}`,
	})
	second := decodeBody[sessionBody](t, resp)
	if second.User.ID != first.User.ID {
		t.Fatalf("federated login created a duplicate account")
	}

	// Garbage claims are a 400, not a uniform 401.
	resp = postJSON(t, srv, "/auth/google", map[string]any{"token": "not-json"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad claim status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	}).Body.Close()

	known := postJSON(t, srv, "/auth/forgot-password", map[string]any{"email": "p@example.com"})
	unknown := postJSON(t, srv, "/auth/forgot-password", map[string]any{"email": "nobody@example.com"})

	if known.StatusCode != http.StatusOK || unknown.StatusCode != http.StatusOK {
		t.Fatalf("statuses = %d / %d, want 200 / 200", known.StatusCode, unknown.StatusCode)
	}

	knownBody := decodeBody[messageResponse](t, known)
	unknownBody := decodeBody[messageResponse](t, unknown)
	if knownBody.Message != unknownBody.Message {
		t.Fatalf("messages differ: %q vs %q", knownBody.Message, unknownBody.Message)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/auth/register", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	}).Body.Close()

	forgot := decodeBody[messageResponse](t, postJSON(t, srv, "/auth/forgot-password",
		map[string]any{"email": "p@example.com"}))
	if forgot.ResetToken == "" {
		t.Fatalf("expected reset token in dev mode")
	}

	resp := postJSON(t, srv, "/auth/reset-password", map[string]any{
		"token":        forgot.ResetToken,
		"password": "new-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Old password is dead, new password works.
	resp = postJSON(t, srv, "/auth/login", map[string]any{
		"email":    "p@example.com",
		"password": "hunter2",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password login = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv, "/auth/login", map[string]any{
		"email":    "p@example.com",
		"password": "new-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new password login = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Tickets are single use.
	resp = postJSON(t, srv, "/auth/reset-password", map[string]any{
		"token":        forgot.ResetToken,
		"password": "another",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reused ticket status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/auth/login")
	if err != nil {
		t.Fatalf("GET /auth/login: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET login status = %d, want 405", resp.StatusCode)
	}
	resp.Body.Close()

	postResp := postJSON(t, srv, "/auth/me", map[string]any{})
	if postResp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST me status = %d, want 405", postResp.StatusCode)
	}
	postResp.Body.Close()
}
