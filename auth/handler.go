package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/suas/interop/httpx"
	"github.com/suas/interop/rbac"
)

// Handler exposes the session lifecycle endpoints. Login itself happens
// outside this service; tokens are minted by operators.
type Handler struct {
	sessions *SessionManager
	enforcer *rbac.Enforcer
}

// NewHandler constructs an auth handler.
func NewHandler(sessions *SessionManager, enforcer *rbac.Enforcer) *Handler {
	return &Handler{sessions: sessions, enforcer: enforcer}
}

// Routes exposes the auth endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(h.enforcer.Authorize(rbac.PermissionViewSession)).Get("/session", h.sessionInfo)
	r.Post("/logout", h.logout)
	return r
}

type sessionResponse struct {
	AccountID int64       `json:"account_id"`
	Username  string      `json:"username"`
	Roles     []rbac.Role `json:"roles"`
}

func (h *Handler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	claims := FromContext(r.Context())
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		AccountID: claims.AccountID,
		Username:  claims.Username,
		Roles:     claims.Roles,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
