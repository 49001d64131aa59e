package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tapestry/internal/exporter"
	"github.com/starford/tapestry/internal/tapestryservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc Service
}

// NewHandler creates a new Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// ListTapestries handles GET /api/tapestries.
//
//	@Summary		List tapestries with optional pagination and owner filter
//	@Tags			tapestries
//	@Produce		json
//	@Param			owner	query		string	false	"Owner ID"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	TapestryListResponse
//	@Security		BearerAuth
//	@Router			/tapestries [get]
func (h *Handler) ListTapestries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListTapestries(r.Context(), q.Get("owner"), limit, offset)
	if err != nil {
		writeError(w, "list tapestries", err)
		return
	}
	writeJSON(w, http.StatusOK, TapestryListResponse{Tapestries: items, Total: total})
}

// GetTapestry handles GET /api/tapestries/{id}.
//
//	@Summary		Get a tapestry with all of its entities
//	@Tags			tapestries
//	@Produce		json
//	@Param			id	path		string	true	"Tapestry ID"
//	@Success		200	{object}	models.Graph
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tapestries/{id} [get]
func (h *Handler) GetTapestry(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetGraph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get tapestry", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// CreateTapestry handles POST /api/tapestries.
//
//	@Summary		Create a tapestry from a current-schema manifest
//	@Tags			tapestries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateTapestryRequest	true	"Tapestry to create"
//	@Success		201		{object}	CreateTapestryResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tapestries [post]
func (h *Handler) CreateTapestry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateTapestryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id is required"))
		return
	}
	id, err := h.svc.CreateTapestry(r.Context(), req.OwnerID, req.Manifest)
	if err != nil {
		writeError(w, "create tapestry", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateTapestryResponse{ID: id})
}

// DeleteTapestry handles DELETE /api/tapestries/{id}.
//
//	@Summary		Delete a tapestry and its hosted assets
//	@Tags			tapestries
//	@Param			id	path	string	true	"Tapestry ID"
//	@Success		204	"Tapestry deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tapestries/{id} [delete]
func (h *Handler) DeleteTapestry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTapestry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete tapestry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportTapestry handles GET /api/tapestries/{id}/export.
//
//	@Summary		Download a tapestry as an archive
//	@Tags			tapestries
//	@Produce		application/zip
//	@Param			id	path	string	true	"Tapestry ID"
//	@Success		200	{file}	binary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tapestries/{id}/export [get]
func (h *Handler) ExportTapestry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	started := false
	err := h.svc.Export(r.Context(), id, nil, func(res exporter.Result, body io.Reader) error {
		started = true
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": archiveName(res.Title),
		}))
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(w, body)
		return err
	})
	if err == nil {
		return
	}
	if started {
		// Headers are gone; the client sees a truncated body.
		slog.Error("export stream failed", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	writeError(w, "export tapestry", err)
}

// archiveName derives a download file name from a tapestry title.
func archiveName(title string) string {
	name := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "tapestry"
	}
	return name + ".zip"
}

// ForkTapestry handles POST /api/tapestries/{id}/fork.
//
//	@Summary		Fork a tapestry through an export and an import job
//	@Tags			tapestries
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Tapestry ID"
//	@Param			body	body		ForkRequest	false	"Fork parameters"
//	@Success		202		{object}	models.Job
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tapestries/{id}/fork [post]
func (h *Handler) ForkTapestry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ForkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	job, err := h.svc.Fork(r.Context(), chi.URLParam(r, "id"), tapestryservice.ForkParams{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, "fork tapestry", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/jobs/{id}.
//
//	@Summary		Poll an import job
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	models.Job
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Migrate handles POST /api/migrate.
//
//	@Summary		Upgrade a root.json document of any version to the current schema
//	@Tags			schema
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	MigrateResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/migrate [post]
func (h *Handler) Migrate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	res, err := h.svc.Migrate(raw)
	if err != nil {
		writeError(w, "migrate", err)
		return
	}
	writeJSON(w, http.StatusOK, MigrateResponse{From: res.From, Upgrades: res.Upgrades, Manifest: res.Manifest})
}
