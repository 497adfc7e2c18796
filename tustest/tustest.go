// Package tustest provides a minimal in-process tus v1.0.0 server for
// exercising the client. Uploads live in memory and are gone when the
// server is.
package tustest

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	tusVersion        = "1.0.0"
	offsetContentType = "application/offset+octet-stream"
)

type upload struct {
	id       string
	size     int64
	metadata string
	data     []byte
}

// Server implements enough of the tus core protocol plus the creation
// extension to upload, query and resume against it. It also counts requests
// per HTTP method so tests can assert how many HEADs and PATCHes a client
// operation issued.
type Server struct {
	router *mux.Router

	mu      sync.Mutex
	uploads map[string]*upload
	counts  map[string]int
}

func NewServer() *Server {
	s := &Server{
		uploads: make(map[string]*upload),
		counts:  make(map[string]int),
	}
	r := mux.NewRouter()
	r.Use(s.countRequests, checkTusResumable)
	r.HandleFunc("/files", s.createUpload).Methods(http.MethodPost)
	r.HandleFunc("/files/{file_id}", s.getOffset).Methods(http.MethodHead)
	r.HandleFunc("/files/{file_id}", s.patchUpload).Methods(http.MethodPatch)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Count returns how many requests with the given method the server has seen.
func (s *Server) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method]
}

// ResetCounts zeroes the per-method request counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
}

// Data returns the bytes received so far for an upload id.
func (s *Server) Data(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), u.data...), true
}

// Drop forgets an upload, as if it expired server-side. Later requests for
// it answer 404.
func (s *Server) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, id)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.Method]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func checkTusResumable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.Header.Get("Tus-Resumable")
		if version == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Tus-Resumable header is missing"))
			return
		}
		if version != tusVersion {
			w.WriteHeader(http.StatusPreconditionFailed)
			w.Write([]byte("Tus version not supported"))
			return
		}
		w.Header().Set("Tus-Resumable", tusVersion)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	totalLength := r.Header.Get("Upload-Length")
	size, err := strconv.ParseInt(totalLength, 10, 64)
	if err != nil || size < 0 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Invalid Upload-Length header"))
		return
	}

	u := &upload{
		id:       uuid.New().String(),
		size:     size,
		metadata: r.Header.Get("Upload-Metadata"),
	}

	s.mu.Lock()
	s.uploads[u.id] = u
	s.mu.Unlock()

	log.Debug().Str("file_id", u.id).Int64("size", size).Msg("upload created")

	w.Header().Add("Location", fmt.Sprintf("/files/%s", u.id))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getOffset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID := vars["file_id"]

	s.mu.Lock()
	u, ok := s.uploads[fileID]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	offset := int64(len(u.data))
	size := u.size
	metadata := u.metadata
	s.mu.Unlock()

	w.Header().Add("Upload-Offset", fmt.Sprint(offset))
	w.Header().Add("Upload-Length", fmt.Sprint(size))
	w.Header().Add("Cache-Control", "no-store")
	if metadata != "" {
		w.Header().Add("Upload-Metadata", metadata)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fileID := vars["file_id"]

	if ct := r.Header.Get("Content-Type"); ct != offsetContentType {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		w.Write([]byte("invalid Content-Type header: expected " + offsetContentType))
		return
	}

	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || offset < 0 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid Upload-Offset header"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[fileID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("file not found"))
		return
	}
	if offset != int64(len(u.data)) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("Upload-Offset header does not match the current offset"))
		return
	}
	if int64(len(u.data))+int64(len(body)) > u.size {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte("body exceeds Upload-Length"))
		return
	}
	u.data = append(u.data, body...)

	log.Debug().
		Str("file_id", fileID).
		Int("written_size", len(body)).
		Int("offset", len(u.data)).
		Msg("chunk stored")

	w.Header().Add("Upload-Offset", fmt.Sprint(len(u.data)))
	w.WriteHeader(http.StatusNoContent)
}

// UploadID extracts the upload id from a resource URL, for looking uploads
// up via Data or Drop.
func UploadID(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}
