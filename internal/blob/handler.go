package blob

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tapestry/internal/apperr"
)

// Handler serves signed GET and PUT requests for the FS backend. Mount it
// under the prefix passed to NewFS as baseURL.
func (f *FS) Handler(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/*", f.serveGet(logger))
	r.Put("/*", f.servePut(logger))
	return r
}

func (f *FS) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	q := r.URL.Query()
	if err := f.Verify(r.Method, key, q.Get("expires"), q.Get("sig")); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return key, true
}

func (f *FS) serveGet(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := f.authorize(w, r)
		if !ok {
			return
		}
		rc, obj, err := f.Get(r.Context(), key)
		if err != nil {
			writeBlobError(w, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		if _, err := io.Copy(w, rc); err != nil {
			logger.Warn("blob: serve failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

func (f *FS) servePut(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := f.authorize(w, r)
		if !ok {
			return
		}
		obj, err := f.Put(r.Context(), key, r.Body, r.Header.Get("Content-Type"))
		if err != nil {
			logger.Warn("blob: upload failed", slog.String("key", key), slog.String("error", err.Error()))
			writeBlobError(w, err)
			return
		}
		w.Header().Set("ETag", strconv.Quote(obj.ETag))
		w.WriteHeader(http.StatusCreated)
	}
}

func writeBlobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrInvalidInput):
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
