package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"streamgate/internal/config"
	"streamgate/internal/journal"
	"streamgate/internal/orchestrator"
)

// Handler serves the control API on top of the orchestrator core.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Journal      journal.Recorder
	Logger       *slog.Logger
}

// NewHandler wires the handler with its collaborators. Journal may be nil
// when no journal is configured.
func NewHandler(orc *orchestrator.Orchestrator, journalRecorder journal.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Orchestrator: orc, Journal: journalRecorder, Logger: logger}
}

type applicationResponse struct {
	ID      uint32            `json:"id"`
	Name    string            `json:"name"`
	Options map[string]string `json:"options,omitempty"`
}

func applicationToResponse(app orchestrator.Application) applicationResponse {
	return applicationResponse{
		ID:      uint32(app.ID()),
		Name:    app.Name(),
		Options: app.Config().Options,
	}
}

// Health reports control-plane liveness and, when configured, journal
// reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	status := map[string]string{"status": "ok"}
	if h.Journal != nil {
		if err := h.Journal.Ping(r.Context()); err != nil {
			h.Logger.Warn("journal ping failed", "error", err)
			status["journal"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["journal"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

// Applications lists live applications or creates a new one.
func (h *Handler) Applications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		apps := h.Orchestrator.Applications()
		out := make([]applicationResponse, 0, len(apps))
		for _, app := range apps {
			out = append(out, applicationToResponse(app))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload orchestrator.ApplicationConfig
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(payload.Name) == "" {
			writeError(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		switch result := h.Orchestrator.CreateApplication(payload); result {
		case orchestrator.ResultSucceeded:
			app := h.Orchestrator.GetApplication(payload.Name)
			writeJSON(w, http.StatusCreated, applicationToResponse(app))
		case orchestrator.ResultExists:
			writeError(w, http.StatusConflict, fmt.Errorf("application %q already exists", payload.Name))
		default:
			writeError(w, http.StatusBadGateway, fmt.Errorf("application %q was not created", payload.Name))
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// ApplicationByID fetches or deletes a single application addressed by id.
func (h *Handler) ApplicationByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/applications/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, http.StatusNotFound, errors.New("application not found"))
		return
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid application id %q", raw))
		return
	}
	id := orchestrator.ApplicationID(parsed)

	switch r.Method {
	case http.MethodGet:
		app := h.Orchestrator.GetApplicationByID(id)
		if !app.IsValid() {
			writeError(w, http.StatusNotFound, fmt.Errorf("application %d not found", id))
			return
		}
		writeJSON(w, http.StatusOK, applicationToResponse(app))
	case http.MethodDelete:
		switch result := h.Orchestrator.DeleteApplication(id); result {
		case orchestrator.ResultSucceeded:
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		case orchestrator.ResultNotExists:
			writeError(w, http.StatusNotFound, fmt.Errorf("application %d not found", id))
		default:
			// The record is gone but one or more modules failed its
			// teardown; surface that without pretending it failed
			// outright.
			writeJSON(w, http.StatusMultiStatus, map[string]string{"status": "deleted_with_errors"})
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

type pullRequest struct {
	Application string `json:"application"`
	Stream      string `json:"stream"`
}

// PullStream triggers the on-demand pull workflow for an application/stream
// location.
func (h *Handler) PullStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload pullRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Application) == "" || strings.TrimSpace(payload.Stream) == "" {
		writeError(w, http.StatusBadRequest, errors.New("application and stream are required"))
		return
	}

	if err := h.Orchestrator.RequestPullStream(payload.Application, payload.Stream); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoOriginForLocation):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, orchestrator.ErrUnsupportedScheme):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, orchestrator.ErrNoProviderForScheme):
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pulled"})
}

type moduleResponse struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
}

// Modules lists the registered modules in registration order.
func (h *Handler) Modules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	infos := h.Orchestrator.ModuleSnapshot()
	out := make([]moduleResponse, 0, len(infos))
	for _, info := range infos {
		entry := moduleResponse{Type: info.Type.String()}
		if info.Type == orchestrator.ModuleTypeProvider {
			entry.Kind = info.Kind.String()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// Origins returns the active origin map or replaces it wholesale.
func (h *Handler) Origins(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Orchestrator.Origins())
	case http.MethodPut:
		var rules []orchestrator.OriginRule
		if err := decodeJSON(r, &rules); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := (config.Config{Origins: rules}).Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.Orchestrator.SetOrigins(rules)
		h.Logger.Info("origin map replaced", "rules", len(rules))
		writeJSON(w, http.StatusOK, map[string]int{"rules": len(rules)})
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// JournalEntries returns recent journal entries, newest first.
func (h *Handler) JournalEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, errors.New("journal is not configured"))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	entries, err := h.Journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
