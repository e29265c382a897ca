package media

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

// HTTPServer streams stored media for the gridfs driver.
type HTTPServer struct {
	store  Store
	router *mux.Router
}

func NewHTTPServer(store Store) *HTTPServer {
	s := &HTTPServer{store: store, router: mux.NewRouter()}
	s.Register(s.router)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	return s
}

// Register mounts the media route on an existing router.
func (s *HTTPServer) Register(r *mux.Router) {
	r.HandleFunc("/media/{fileId}", s.serveFile).Methods(http.MethodGet, http.MethodHead)
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) serveFile(w http.ResponseWriter, r *http.Request) {
	fileID := common.PathVar(r, "fileId")

	body, info, err := s.store.Open(r.Context(), fileID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType(info))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, body); err != nil {
		common.Log.WithError(err).WithField("file_id", fileID).Warn("streaming media aborted")
	}
}

func contentType(info *FileInfo) string {
	if info.ContentType != "" {
		return info.ContentType
	}
	if ct, ok := common.MIMEFromFileName(info.FileName); ok {
		return ct
	}
	return "application/octet-stream"
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "media"})
}
