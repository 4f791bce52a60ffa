package api

import (
	"encoding/json"
	"net/http"

	"github.com/p-arndt/setzkasten/internal/session"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	templates, err := sess.Templates()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl session.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}

	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if err := sess.PutTemplate(tpl); err != nil {
		writeAPIError(w, err)
		return
	}
	s.logger.Info("template uploaded", "session_key", sess.Key, "target", tpl.Target)

	templates, err := sess.Templates()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, templates)
}
