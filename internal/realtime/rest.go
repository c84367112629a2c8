package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"coderelay/internal/language"
	"coderelay/internal/protocol"
	"coderelay/internal/session"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

// httpStatus maps a session error code to an HTTP status.
func httpStatus(code string) int {
	switch code {
	case protocol.CodeInvalidRequest, protocol.CodeInvalidMessage, protocol.CodeUnsupportedLanguage:
		return http.StatusBadRequest
	case protocol.CodeSessionNotFound:
		return http.StatusNotFound
	case protocol.CodeMaxSessions:
		return http.StatusServiceUnavailable
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleExecute runs code to completion and returns everything it printed.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "invalid request body")
		return
	}
	if err := protocol.ValidateExecute(req.Language, req.Code); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.oneShotTimeout)
	defer cancel()

	res, err := s.sessions.RunOnce(ctx, req.Language, req.Code, req.Stdin)
	if err != nil {
		code := session.ErrorCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = protocol.CodeTimeout
		}
		s.logger.Warn().Err(err).Str("language", req.Language).Msg("one-shot execution failed")
		writeError(w, httpStatus(code), code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	specs := []language.Spec{}
	if s.languages != nil {
		specs = s.languages.List()
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.CodeSessionNotFound, session.ErrNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess.Detail())
}

// handleDeleteSession terminates a session and closes its connection.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		writeError(w, http.StatusNotFound, protocol.CodeSessionNotFound, session.ErrNotFound.Error())
		return
	}

	s.sessions.Remove(id)
	s.disconnect(id)

	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Len(),
		Clients:  s.Clients(),
	})
}
