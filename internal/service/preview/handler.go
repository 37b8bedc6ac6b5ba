package preview

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oshokin/crx-builder/internal/domain/extension"
	"github.com/oshokin/crx-builder/internal/logger"
)

const (
	// PackageContentType is the media type browsers expect for packages.
	PackageContentType = "application/x-chrome-extension"
	// UpdateContentType is served for update manifests.
	UpdateContentType = "application/xml"
)

// NewHandler returns a router serving files below root.
func NewHandler(root string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	files := http.FileServer(http.Dir(root))

	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		name := path.Clean("/" + chi.URLParam(req, "*"))

		if hidden(name) {
			http.NotFound(w, req)
			return
		}

		switch {
		case strings.HasSuffix(name, extension.PackageExtension):
			w.Header().Set("Content-Type", PackageContentType)
		case path.Base(name) == extension.UpdateFilename:
			w.Header().Set("Content-Type", UpdateContentType)
		}

		files.ServeHTTP(w, req)
	})

	return r
}

// hidden reports whether name must not be served.
func hidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}

	base := path.Base(name)

	return base == extension.KeyFilename || strings.HasSuffix(base, ".pem")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, req)

		logger.DebugKV(req.Context(), "Served request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
