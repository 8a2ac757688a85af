package handlers

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"canvaspreview/internal/storage"
)

// Object serves GET /objects/{bucket}/* behind a signed URL.
func (a *App) Object(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	q := r.URL.Query()

	if err := a.Verifier.Verify(bucket, key, q.Get("expires"), q.Get("sig")); err != nil {
		message := "invalid signature"
		if errors.Is(err, storage.ErrSignatureExpired) {
			message = "link expired"
		}
		a.error(w, r, http.StatusForbidden, "forbidden", message)
		return
	}

	data, err := a.Objects.Get(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "object not found")
			return
		}
		a.Logger.Error().Err(err).Str("bucket", bucket).Str("path", key).Msg("object read failed")
		a.error(w, r, http.StatusInternalServerError, "unknown", "object read failed")
		return
	}

	ctype := http.DetectContentType(data)
	switch path.Ext(key) {
	case ".png":
		ctype = "image/png"
	case ".webp":
		ctype = "image/webp"
	case ".jpg", ".jpeg":
		ctype = "image/jpeg"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
