// Package dashboard is an in-memory SparkleShare dashboard speaking the
// same API as the real server. It backs the integration tests and the
// sparkle-dashboard development binary.
package dashboard

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// DefaultMaxUploadSize bounds putFile bodies.
const DefaultMaxUploadSize = 16 << 20

// Server serves the dashboard API.
type Server struct {
	auth          *Auth
	content       *Content
	maxUploadSize int64
}

// NewServer creates a server over auth and content.
func NewServer(auth *Auth, content *Content, maxUploadSize int64) *Server {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &Server{auth: auth, content: content, maxUploadSize: maxUploadSize}
}

// Auth returns the server's authenticator.
func (s *Server) Auth() *Auth { return s.auth }

// Content returns the served tree.
func (s *Server) Content() *Content { return s.content }

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/getAuthCode", s.handleGetAuthCode)

	// Signed routes
	api := http.NewServeMux()
	api.HandleFunc("GET /api/ping", s.handlePing)
	api.HandleFunc("GET /api/getFolderList", s.handleFolderList)
	api.HandleFunc("GET /api/getFolderContent/{ssid}", s.handleFolderContent)
	api.HandleFunc("GET /api/getFolderRevision/{ssid}", s.handleFolderRevision)
	api.HandleFunc("GET /api/getFile/{ssid}", s.handleGetFile)
	api.HandleFunc("POST /api/putFile/{ssid}", s.handlePutFile)
	mux.Handle("/api/", s.auth.Middleware(api))

	return logging.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetAuthCode exchanges a link code for device credentials.
// GET /api/getAuthCode?code=...&name=...
func (s *Server) handleGetAuthCode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.auth.Redeem(q.Get("code"), q.Get("name"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrUnknownCode):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCodeUsed), errors.Is(err, ErrCodeExpired):
		sendError(w, http.StatusForbidden, err.Error())
	default:
		logging.Error("link failed", logging.Err(err))
		sendError(w, http.StatusInternalServerError, "link failed")
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "pong")
}

func (s *Server) handleFolderList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.content.Projects())
}

func (s *Server) handleFolderContent(w http.ResponseWriter, r *http.Request) {
	entries, err := s.content.List(r.PathValue("ssid"))
	if err != nil {
		s.sendContentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleFolderRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := s.content.Revision(r.PathValue("ssid"))
	if err != nil {
		s.sendContentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := s.content.File(r.PathValue("ssid"))
	if err != nil {
		s.sendContentError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		sendError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	ssid := r.PathValue("ssid")
	if err := s.content.Put(ssid, data); err != nil {
		s.sendContentError(w, err)
		return
	}
	device := ""
	if c := ClaimsFrom(r.Context()); c != nil {
		device = c.DeviceName
	}
	logging.FromContext(r.Context()).Info("file saved",
		logging.String("ssid", ssid),
		logging.Int("size", len(data)),
		logging.String("device", device))
	writeJSON(w, http.StatusOK, protocol.PutFileResponse{OK: true, Size: int64(len(data))})
}

func (s *Server) sendContentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotFolder), errors.Is(err, ErrNotFile):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, protocol.ErrorResponse{Error: message, Code: code})
}
