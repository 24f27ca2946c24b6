package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"qrfood/order-service/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("admin login is not configured")
)

type authContextKey struct{}

// Authenticator checks the shared admin password and issues sessions.
type Authenticator struct {
	passwordHash []byte
	sessions     store.SessionStore
	ttl          time.Duration
	now          func() time.Time
}

func NewAuthenticator(passwordHash string, sessions store.SessionStore, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Authenticator{
		passwordHash: []byte(strings.TrimSpace(passwordHash)),
		sessions:     sessions,
		ttl:          ttl,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (a *Authenticator) Login(ctx context.Context, password string) (store.Session, error) {
	if len(a.passwordHash) == 0 {
		return store.Session{}, ErrLoginDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return store.Session{}, ErrInvalidCredentials
	}
	return a.sessions.CreateSession(ctx, RoleAdmin, a.now().Add(a.ttl))
}

type loginRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case errors.Is(err, ErrLoginDisabled):
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "login_disabled", "admin login is not configured")
		default:
			writeServiceError(w, r, err)
		}
		return
	}
	logrus.WithField("request_id", requestIDFromRequest(r)).Info("admin session created")
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: session.SessionID,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if err := h.auth.sessions.DeleteSession(r.Context(), session.SessionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

func AuthMiddleware(sessions store.SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(store.Session)
	return session, ok
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	if session.Role != RoleAdmin {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin access required")
		return false
	}
	return true
}

// AdminOnly guards every /api/admin route with requireAdmin.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/admin/") && !requireAdmin(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/auth/login", "/api/orders/queue":
		return r.Method == http.MethodPost
	case "/api/queue/display":
		return r.Method == http.MethodGet
	case "/api/queue/reset-counter":
		return false
	}
	if strings.HasPrefix(r.URL.Path, "/realtime/") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/queue/") {
		return r.Method == http.MethodGet
	}
	return false
}
