package api

import (
	"encoding/json"
	"net/http"

	"github.com/p-arndt/setzkasten/internal/metrics"
	"github.com/p-arndt/setzkasten/internal/session"
)

// sessionResource is the client-facing session view. Product and log are
// hyperlinks into this API, never filesystem paths. Forms describes the
// actions valid in the session's current state.
type sessionResource struct {
	session.Public
	Product string         `json:"product,omitempty"`
	Log     string         `json:"log,omitempty"`
	Forms   map[string]any `json:"forms,omitempty"`
}

func sessionURL(key string) string {
	return "/api/sessions/" + key
}

// sessionForms builds the action descriptors for the session's state. Only
// editable sessions can be mutated; terminal sessions carry none.
func sessionForms(sess *session.Session) map[string]any {
	if sess.Status != session.StatusEditable {
		return nil
	}
	base := sessionURL(sess.Key)
	return map[string]any{
		"upload_files": map[string]any{
			"href":    base + "/files",
			"rel":     []string{"create-form"},
			"method":  "POST",
			"enctype": "multipart/form-data",
			"value": []map[string]any{
				{"name": "<path>", "required": true, "label": "one part per file, field name is the destination path under source/"},
			},
		},
		"add_template": map[string]any{
			"href":   base + "/templates",
			"rel":    []string{"create-form"},
			"method": "POST",
			"value": []map[string]any{
				{"name": "target", "required": true, "label": "source file the rendered template is written to"},
				{"name": "text", "required": true, "label": "template text"},
				{"name": "data", "required": true, "label": "namespace the template is rendered with"},
			},
		},
		"finalize": map[string]any{
			"href":   base,
			"rel":    []string{"edit-form"},
			"method": "POST",
			"value": []map[string]any{
				{"name": "finalize", "required": false, "label": "set true to lock the session and start compilation"},
				{"name": "convert", "required": false, "label": "optional rasterization, {format: jpeg|png|tiff, dpi: 10-10000}"},
			},
		},
	}
}

func (s *Server) resource(sess *session.Session) (sessionResource, error) {
	pub, err := sess.PublicView()
	if err != nil {
		return sessionResource{}, err
	}
	res := sessionResource{Public: pub, Forms: sessionForms(sess)}
	if sess.Product != "" {
		res.Product = sessionURL(sess.Key) + "/product"
	}
	if sess.Log != "" {
		res.Log = sessionURL(sess.Key) + "/log"
	}
	return res, nil
}

// handleAPIHome describes the create-session action.
func (s *Server) handleAPIHome(w http.ResponseWriter, r *http.Request) {
	form := map[string]any{
		"create_session": map[string]any{
			"href":   "/api/sessions",
			"rel":    []string{"create-form"},
			"method": "POST",
			"value": []map[string]any{
				{"name": "compiler", "required": true, "label": "compiler, one of 'xelatex', 'pdflatex', 'lualatex'"},
				{"name": "target", "required": true, "label": "main target file to run through the compiler"},
				{"name": "convert", "required": false, "label": "optional rasterization, {format: jpeg|png|tiff, dpi: 10-10000}"},
			},
		},
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *Server) handleSessionsRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api", http.StatusFound)
}

type createSessionRequest struct {
	Compiler string           `json:"compiler"`
	Target   string           `json:"target"`
	Convert  *session.Convert `json:"convert"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}

	sess, err := s.mgr.Create(r.Context(), req.Compiler, req.Target, req.Convert)
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeAPIError(w, err)
		return
	}
	s.logger.Info("session created",
		"session_key", sess.Key, "compiler", sess.Compiler, "target", sess.Target)

	res, err := s.resource(sess)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	w.Header().Set("Location", sessionURL(sess.Key))
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	res, err := s.resource(sess)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateSessionRequest struct {
	Finalize bool             `json:"finalize"`
	Convert  *session.Convert `json:"convert"`
}

// handleUpdateSession applies a convert spec and/or finalizes the session.
// Finalizing enqueues the compile job and answers 202.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if !req.Finalize && req.Convert == nil {
		writeValidationError(w, "nothing to do: provide finalize and/or convert")
		return
	}

	sess, err := s.mgr.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if req.Convert != nil {
		if err := sess.SetConvert(req.Convert); err != nil {
			writeAPIError(w, err)
			return
		}
	}

	status := http.StatusOK
	if req.Finalize {
		if err := sess.Finalize(); err != nil {
			writeAPIError(w, err)
			return
		}
		if err := s.queue.EnqueueCompile(r.Context(), sess.Key); err != nil {
			s.logger.Error("enqueue compile", "session_key", sess.Key, "error", err)
			writeAPIError(w, err)
			return
		}
		s.logger.Info("session finalized", "session_key", sess.Key)
		status = http.StatusAccepted
	}

	res, err := s.resource(sess)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, status, res)
}

// handleStatus reports the instance clock and a per-status session census.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	keys, err := s.mgr.AllSessionKeys(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}

	counts := map[string]int{}
	for _, key := range keys {
		sess, err := s.mgr.Load(r.Context(), key)
		if err != nil {
			continue
		}
		counts[sess.Status]++
	}

	metrics.SessionsLive.Reset()
	for status, n := range counts {
		metrics.SessionsLive.WithLabelValues(status).Set(float64(n))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time":     s.clock.Now(),
		"sessions": counts,
	})
}
