package artifactstore

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server exposes FileStore's Get over HTTP so an ArtifactRef.URI can be
// resolved by tooling outside the process (e.g. a report renderer
// fetching a screenshot by URI). This is a narrow interface, not the
// marketing/API surface spec.md §1 excludes from the core.
type Server struct {
	store *FileStore
	mux   *chi.Mux
}

// NewServer builds the debug server's router.
func NewServer(store *FileStore) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	s := &Server{store: store, mux: r}
	r.Get("/artifacts/*", s.handleGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	uri := s.store.uriPrefix + strings.TrimPrefix(rel, "/")

	data, err := s.store.Get(r.Context(), uri)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(rel))
	_, _ = w.Write(data)
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(path, ".html"):
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
