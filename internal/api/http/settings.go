package apihttp

import (
	"errors"
	"net/http"

	"torrentstream/qbtcontrol/internal/domain"
)

func (s *Server) handleConnectionSettings(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/settings/connection" {
		http.NotFound(w, r)
		return
	}
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "settings service is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		view, err := s.settings.Get(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPatch:
		var patch domain.ConnectionSettingsPatch
		if err := decodeJSONBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		view, err := s.settings.Update(r.Context(), patch)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
