package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/p-arndt/setzkasten/internal/session"
)

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	files, err := sess.Files()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleUploadFiles stores multipart files under source/. Each form field
// name is the destination path relative to source/.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeValidationError(w, "invalid multipart body: "+err.Error())
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		writeValidationError(w, "no provided files")
		return
	}

	for dest, headers := range r.MultipartForm.File {
		for _, hdr := range headers {
			f, err := hdr.Open()
			if err != nil {
				writeValidationError(w, fmt.Sprintf("reading upload %s: %v", dest, err))
				return
			}
			err = sess.WriteSource(dest, f)
			f.Close()
			if err != nil {
				writeAPIError(w, err)
				return
			}
			s.logger.Info("file uploaded", "session_key", sess.Key, "path", dest, "bytes", hdr.Size)
		}
	}

	files, err := sess.Files()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, files)
}

var productContentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if sess.Product == "" {
		writeNotFound(w, "session has no product")
		return
	}
	contentType := productContentTypes[filepath.Ext(sess.Product)]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	s.serveSessionFile(w, sess, sess.Product, contentType)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if sess.Log == "" {
		writeNotFound(w, "session has no log")
		return
	}
	s.serveSessionFile(w, sess, sess.Log, "text/plain; charset=utf-8")
}

// serveSessionFile streams a file through the session sandbox so only paths
// inside the working directory can ever be served.
func (s *Server) serveSessionFile(w http.ResponseWriter, sess *session.Session, path, contentType string) {
	f, err := sess.Sources().Open(path)
	if err != nil {
		writeNotFound(w, "file not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("streaming file", "session_key", sess.Key, "path", path, "error", err)
	}
}
