// Package handlers contains HTTP request handlers for the SafeRoam API.
// Handlers parse requests, call the lifecycle service, and return JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/saferoam/incident-server/internal/middleware"
	"github.com/saferoam/incident-server/internal/models"
	"github.com/saferoam/incident-server/internal/services"
	"github.com/saferoam/incident-server/internal/store"
	"go.uber.org/zap"
)

// defaultActor is used for operator mutations when the token carries no name.
const defaultActor = "Operations Team"

// IncidentHandler handles incident-related HTTP endpoints.
type IncidentHandler struct {
	lifecycle *services.Lifecycle
	logger    *zap.SugaredLogger
}

// NewIncidentHandler creates a new incident handler.
func NewIncidentHandler(lc *services.Lifecycle, logger *zap.SugaredLogger) *IncidentHandler {
	return &IncidentHandler{lifecycle: lc, logger: logger}
}

// Submit handles POST /api/v1/incidents.
// Accepts either a JSON draft or a multipart form with a "payload" JSON
// field plus "files" evidence parts. Evidence failures are per-file: a bad
// file is reported but does not reject the submission.
func (h *IncidentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var draft models.IncidentDraft
	var uploads []services.Upload

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(services.MaxEvidenceFileSize * 2); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("payload")), &draft); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid payload field")
			return
		}
		var err error
		uploads, err = readUploads(r.MultipartForm)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unreadable evidence file")
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	files, hashErrs := services.BuildEvidenceFiles(uploads)
	rejected := make([]string, 0, len(hashErrs))
	for _, he := range hashErrs {
		h.logger.Warnw("Evidence file rejected", "name", he.Name, "error", he.Err)
		rejected = append(rejected, he.Error())
	}

	inc, err := h.lifecycle.Create(r.Context(), &draft, files)
	if err != nil {
		h.writeServiceError(w, err, http.StatusBadRequest, "Failed to create incident")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"incident":       inc,
		"rejected_files": rejected,
	})
}

// List handles GET /api/v1/incidents.
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.lifecycle.List(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to list incidents", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	respondJSON(w, http.StatusOK, incidents)
}

// Get handles GET /api/v1/incidents/{id}.
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, http.StatusBadRequest, "Failed to fetch incident")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Stats handles GET /api/v1/incidents/stats.
func (h *IncidentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lifecycle.Stats(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to compute stats", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Acknowledge handles POST /api/v1/incidents/{id}/acknowledge.
func (h *IncidentHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context(), defaultActor)
	inc, err := h.lifecycle.Acknowledge(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, err, http.StatusConflict, "Failed to acknowledge incident")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Resolve handles POST /api/v1/incidents/{id}/resolve.
func (h *IncidentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context(), defaultActor)
	inc, err := h.lifecycle.Resolve(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, err, http.StatusConflict, "Failed to resolve incident")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Anchor handles POST /api/v1/incidents/{id}/anchor.
// The response includes the mock explorer link for the transaction.
func (h *IncidentHandler) Anchor(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context(), defaultActor)
	inc, explorer, err := h.lifecycle.BeginAnchor(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, err, http.StatusConflict, "Failed to anchor evidence")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"incident":     inc,
		"explorer_url": explorer,
	})
}

// Verify handles POST /api/v1/incidents/{id}/verify.
func (h *IncidentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context(), defaultActor)
	inc, err := h.lifecycle.VerifyIntegrity(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, err, http.StatusConflict, "Failed to verify integrity")
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Call handles POST /api/v1/incidents/{id}/call, the mock PSTN dial-out.
func (h *IncidentHandler) Call(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service string `json:"service"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	actor := middleware.Actor(r.Context(), defaultActor)
	inc, contact, err := h.lifecycle.EmergencyCall(r.Context(), chi.URLParam(r, "id"), req.Service, actor)
	if err != nil {
		h.writeServiceError(w, err, http.StatusBadRequest, "Failed to place call")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"incident": inc,
		"contact":  contact,
		"mock":     true,
	})
}

// AppendAudit handles POST /api/v1/incidents/{id}/audit.
func (h *IncidentHandler) AppendAudit(w http.ResponseWriter, r *http.Request) {
	var req models.AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	actor := middleware.Actor(r.Context(), defaultActor)
	inc, err := h.lifecycle.AppendAudit(r.Context(), chi.URLParam(r, "id"), req.Action, actor, req.Details)
	if err != nil {
		h.writeServiceError(w, err, http.StatusBadRequest, "Failed to append audit entry")
		return
	}
	respondJSON(w, http.StatusCreated, inc)
}

// AuditLog handles GET /api/v1/incidents/{id}/audit.
func (h *IncidentHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	inc, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, http.StatusBadRequest, "Failed to fetch audit log")
		return
	}
	respondJSON(w, http.StatusOK, inc.AuditLog)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// validationStatus distinguishes bad input (400) from rejected transitions (409).
func (h *IncidentHandler) writeServiceError(w http.ResponseWriter, err error, validationStatus int, fallback string) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondError(w, validationStatus, vErr.Reason)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Incident not found")
	default:
		h.logger.Errorw(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// readUploads drains the multipart "files" parts into memory, preserving
// the order in which the user attached them.
func readUploads(form *multipart.Form) ([]services.Upload, error) {
	if form == nil {
		return nil, nil
	}
	var uploads []services.Upload
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, services.MaxEvidenceFileSize+1))
		f.Close()
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, services.Upload{
			Name: fh.Filename,
			Type: fh.Header.Get("Content-Type"),
			Data: data,
		})
	}
	return uploads, nil
}

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
