package missions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/suas/interop/httpx"
	"github.com/suas/interop/rbac"
)

// Handler exposes mission read and mutation endpoints.
type Handler struct {
	store    Store
	resolver *Resolver
	enforcer *rbac.Enforcer
	notifier Notifier
	logger   *slog.Logger
}

// NewHandler creates a missions handler. A nil notifier disables change
// announcements.
func NewHandler(store Store, resolver *Resolver, enforcer *rbac.Enforcer, notifier Notifier, logger *slog.Logger) *Handler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		resolver: resolver,
		enforcer: enforcer,
		notifier: notifier,
		logger:   logger,
	}
}

// Routes configures the HTTP routes for mission resources.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	view := r.With(h.enforcer.Authorize(rbac.PermissionViewMissions))
	manage := r.With(h.enforcer.Authorize(rbac.PermissionManageMissions))

	view.Get("/", h.listMissions)
	view.Get("/current", h.currentMission)
	view.Get("/{missionID}", h.getMission)

	manage.Post("/", h.createMission)
	manage.Post("/waypoints", h.setWaypoints)
	manage.Post("/{missionID}/activate", h.activateMission)
	return r
}

func (h *Handler) listMissions(w http.ResponseWriter, r *http.Request) {
	ms, err := h.store.ListMissions(r.Context())
	if err != nil {
		h.logger.Error("list missions", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "failed to list missions")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, ProjectAll(ms, h.enforcer.Privileged(r)))
}

func (h *Handler) getMission(w http.ResponseWriter, r *http.Request) {
	missionID, err := missionIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.store.GetMission(r.Context(), missionID)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, errMissionNotFound(missionID))
		return
	}
	if err != nil {
		h.logger.Error("get mission", slog.Int64("mission", missionID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "failed to load mission")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, Project(m, h.enforcer.Privileged(r)))
}

func (h *Handler) currentMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.resolver.ResolveMission(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, Project(m, h.enforcer.Privileged(r)))
}

type createPayload struct {
	Name    string    `json:"name"`
	HomePos *GeoPoint `json:"home_pos"`
	Notes   string    `json:"notes"`
}

func (h *Handler) createMission(w http.ResponseWriter, r *http.Request) {
	var p createPayload
	if err := httpx.DecodeJSON(r, &p); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		httpx.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.HomePos == nil {
		httpx.Error(w, http.StatusBadRequest, "home_pos is required")
		return
	}
	if !validGeoPoint(*p.HomePos) {
		httpx.Error(w, http.StatusBadRequest, "home_pos must be a valid latitude and longitude")
		return
	}

	m, err := h.store.CreateMission(r.Context(), NewMission{
		Name:    name,
		HomePos: *p.HomePos,
		Notes:   strings.TrimSpace(p.Notes),
	})
	if err != nil {
		h.logger.Error("create mission", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "failed to create mission")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, Project(m, true))
}

func (h *Handler) activateMission(w http.ResponseWriter, r *http.Request) {
	missionID, err := missionIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.store.SetActive(r.Context(), missionID)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, errMissionNotFound(missionID))
		return
	}
	if err != nil {
		h.logger.Error("activate mission", slog.Int64("mission", missionID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "failed to activate mission")
		return
	}

	h.changed(r.Context(), m.ID)
	httpx.WriteJSON(w, http.StatusOK, Project(m, true))
}

func (h *Handler) setWaypoints(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(w, r)
	if err != nil {
		h.writeError(w, errMalformed(msgBodyNotJSON))
		return
	}

	req, violations, err := ParseWaypointsRequest(body)
	if err != nil {
		h.writeError(w, errMalformed(msgBodyNotJSON))
		return
	}
	if len(violations) > 0 {
		h.logger.Debug("rejected waypoints payload", slog.Any("violations", violations))
		h.writeError(w, errMalformed(msgBadFields))
		return
	}

	// The target must be fully resolved before any rows are written.
	var target Mission
	if req.PK == 0 {
		target, err = h.resolver.ActiveMission(r.Context())
	} else {
		target, err = h.store.GetMission(r.Context(), req.PK)
		if errors.Is(err, ErrNotFound) {
			err = errMissionNotFound(req.PK)
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	updated, err := h.store.ReplaceWaypoints(r.Context(), target.ID, req.Positions)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, errMissionNotFound(target.ID))
		return
	}
	if err != nil {
		h.logger.Error("replace waypoints", slog.Int64("mission", target.ID), slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "failed to replace waypoints")
		return
	}

	h.logger.Info("mission waypoints replaced",
		slog.Int64("mission", updated.ID),
		slog.Int("waypoints", len(updated.Waypoints)))
	h.changed(r.Context(), updated.ID)
	httpx.Text(w, http.StatusOK, msgWaypointsChanged)
}

// changed drops the local active mission snapshot and tells other instances
// to do the same.
func (h *Handler) changed(ctx context.Context, missionID int64) {
	h.resolver.InvalidateActive()
	if err := h.notifier.MissionChanged(ctx, missionID); err != nil {
		h.logger.Warn("announce mission change", slog.Int64("mission", missionID), slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		httpx.Error(w, reqErr.Status, reqErr.Message)
		return
	}
	h.logger.Error("mission request failed", slog.Any("error", err))
	httpx.Error(w, http.StatusInternalServerError, "internal server error")
}

// missionIDParam reads the {missionID} path segment. Only decimal ids name a
// mission; anything else is reported as not found.
func missionIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "missionID"), 10, 64)
	if err != nil {
		return 0, errNoSuchMission()
	}
	return id, nil
}

func validGeoPoint(p GeoPoint) bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}
