package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"till/cmd/internal/auth/federation"
	"till/cmd/internal/auth/session"
	"till/cmd/internal/metrics"
)

// Handler wires the HTTP auth endpoints to the session service.
//
// Transport conventions:
//   - The refresh token travels in an HttpOnly cookie. Refresh reads it
//     from the cookie only, never from the body or headers.
//   - The access token travels as an Authorization bearer token.
//   - Authentication failures are uniform 401s that do not reveal
//     whether the email, password, or token was the failing part.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	audit    *AuditLog
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditLog attaches an audit sink.
func WithAuditLog(audit *AuditLog) HandlerOption {
	return func(h *Handler) {
		if h != nil && audit != nil {
			h.audit = audit
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if h.audit == nil {
		h.audit = NewAuditLog(log, nil, "till")
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/google", h.handleGoogle)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/me", h.handleMe)
	mux.HandleFunc("/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("/auth/reset-password", h.handleResetPassword)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "register"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.fail(w, r, op, "", http.StatusUnprocessableEntity, "missing_fields", "email and password are required")
		return
	}

	sess, err := h.sessions.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}
	h.writeSession(w, r, op, sess)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "login"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.fail(w, r, op, "", http.StatusUnprocessableEntity, "missing_fields", "email and password are required")
		return
	}

	sess, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}
	h.writeSession(w, r, op, sess)
}

func (h *Handler) handleGoogle(w http.ResponseWriter, r *http.Request) {
	const op = "google"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req federatedRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.fail(w, r, op, "", http.StatusUnprocessableEntity, "missing_fields", "token is required")
		return
	}

	sess, err := h.sessions.FederatedLogin(r.Context(), req.Token)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}
	h.writeSession(w, r, op, sess)
}

// handleRefresh rotates the refresh token from the HttpOnly cookie. The
// cookie is the only accepted transport here, so a page that can run
// script but cannot read the cookie cannot replay refresh tokens.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "refresh"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refresh, ok := h.refreshTokenFromCookie(r)
	if !ok {
		h.fail(w, r, op, "", http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sess, err := h.sessions.Refresh(r.Context(), refresh)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}

	h.setRefreshCookie(w, sess.RefreshToken, sess.RefreshExp)
	h.audit.Record(r.Context(), op, sess.User.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "ok")
	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: sess.AccessToken})
}

// handleLogout revokes whichever tokens the caller presented and clears
// the refresh cookie. It always succeeds for a well-formed request.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	access, _ := bearerToken(r)
	refresh, _ := h.refreshTokenFromCookie(r)

	if err := h.sessions.Logout(r.Context(), access, refresh); err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}

	h.clearRefreshCookie(w)
	h.audit.Record(r.Context(), op, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "ok")
	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	const op = "me"
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	access, ok := bearerToken(r)
	if !ok {
		h.fail(w, r, op, "", http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	u, err := h.sessions.Me(r.Context(), access)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}

	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// handleForgotPassword responds identically whether or not the account
// exists, so the endpoint cannot be used to probe for registered emails.
func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	const op = "forgot_password"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.fail(w, r, op, "", http.StatusUnprocessableEntity, "missing_fields", "email is required")
		return
	}

	token, found, err := h.sessions.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}

	resp := messageResponse{Message: "if the account exists, a reset link has been sent"}
	if found && h.cfg.ExposeResetToken {
		resp.ResetToken = token
	}

	h.audit.Record(r.Context(), op, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "ok")
	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	const op = "reset_password"
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" || req.Password == "" {
		h.fail(w, r, op, "", http.StatusUnprocessableEntity, "missing_fields", "token and password are required")
		return
	}

	if err := h.sessions.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeAuthError(w, r, op, err)
		return
	}

	h.audit.Record(r.Context(), op, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "ok")
	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

// ---- shared response plumbing ----

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, op string, sess session.Session) {
	h.setRefreshCookie(w, sess.RefreshToken, sess.RefreshExp)

	resp := sessionResponse{
		User:        toUserResponse(sess.User),
		AccessToken: sess.AccessToken,
	}
	if h.cfg.RefreshInBody {
		resp.RefreshToken = sess.RefreshToken
	}

	h.audit.Record(r.Context(), op, sess.User.ID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "ok")
	metrics.AuthRequests.WithLabelValues(op, "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op, userID string, status int, code, msg string) {
	outcome := "invalid"
	if status == http.StatusUnauthorized {
		outcome = "denied"
	}
	h.audit.Record(r.Context(), op, userID, clientIP(r, h.cfg.TrustProxy), r.UserAgent(), outcome)
	metrics.AuthRequests.WithLabelValues(op, outcome).Inc()
	writeError(w, status, code, msg)
}

// writeAuthError maps service errors to transport responses. All token
// and credential failures collapse into one uniform 401 payload.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, session.ErrEmailTaken):
		h.fail(w, r, op, "", http.StatusConflict, "email_taken", "an account with this email already exists")

	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrNoRefreshToken),
		errors.Is(err, session.ErrMalformedToken),
		errors.Is(err, session.ErrBadSignature),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrWrongTokenType),
		errors.Is(err, session.ErrRevoked),
		errors.Is(err, session.ErrUserNotFound):
		h.fail(w, r, op, "", http.StatusUnauthorized, "unauthorized", "authentication failed")

	case errors.Is(err, federation.ErrMalformedClaim):
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_claim", "identity claim could not be verified")

	case errors.Is(err, session.ErrTicketInvalid):
		h.fail(w, r, op, "", http.StatusBadRequest, "invalid_ticket", "reset ticket is invalid or already used")

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.log.Warn("auth.store_timeout", "op", op, "err", err)
		h.audit.Record(r.Context(), op, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "error")
		metrics.AuthRequests.WithLabelValues(op, "error").Inc()
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry")

	default:
		h.log.Error("auth.internal_error", "op", op, "err", err)
		h.audit.Record(r.Context(), op, "", clientIP(r, h.cfg.TrustProxy), r.UserAgent(), "error")
		metrics.AuthRequests.WithLabelValues(op, "error").Inc()
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
