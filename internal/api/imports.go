package api

import (
	"net/http"

	"github.com/starford/tapestry/internal/importer"
	"github.com/starford/tapestry/internal/models"
)

const maxUploadBytes = 512 << 20 // 512 MB

// ImportHandler accepts archive uploads.
type ImportHandler struct {
	svc Service
}

// NewImportHandler creates an upload handler.
func NewImportHandler(svc Service) *ImportHandler {
	return &ImportHandler{svc: svc}
}

// Upload handles POST /api/imports (multipart/form-data, field "file").
// Optional fields owner_id, title and description become job parameters.
//
//	@Summary		Upload an archive and enqueue its import
//	@Tags			jobs
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		202	{object}	models.Job
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports [post]
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	// Parts beyond 32 MB are spooled to disk by the multipart reader.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	owner := r.FormValue("owner_id")
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner_id is required"))
		return
	}

	job, err := h.svc.Import(r.Context(), file, importer.Params{
		Type:        models.JobImport,
		OwnerID:     owner,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		writeError(w, "import upload", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}
