package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"narrator/internal/artifact"
	logx "narrator/pkg/logx"
)

const mediaCacheControl = "public, max-age=31536000"

// serveMedia streams an artifact. Only content-addressed keys are served,
// so responses are cacheable forever.
func (a *api) serveMedia(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	if _, _, ok := artifact.ParseHashedPath(key); !ok {
		http.NotFound(w, r)
		return
	}
	obj, err := a.deps.Media.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		a.log.Warn("media read failed", logx.String("key", key), logx.Err(err))
		http.Error(w, "storage unavailable", http.StatusBadGateway)
		return
	}
	ct := obj.ContentType
	if ct == "" {
		ct = artifact.ContentTypeMP3
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", mediaCacheControl)
	http.ServeContent(w, r, path.Base(key), obj.ModTime, bytes.NewReader(obj.Data))
}
