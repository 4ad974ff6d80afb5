package apihttp

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"torrentstream/qbtcontrol/internal/domain"
)

type searchRequest struct {
	Pattern   string   `json:"pattern"`
	Category  string   `json:"category"`
	Plugins   string   `json:"plugins"`
	MaxSizeGB *float64 `json:"maxSizeGb"`
	Limit     *int     `json:"limit"`
	Offset    *int     `json:"offset"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	var (
		query domain.SearchQuery
		err   error
	)
	if r.Method == http.MethodPost {
		query, err = s.searchQueryFromBody(r)
	} else {
		query, err = s.searchQueryFromURL(r)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	outcome := s.search.Run(r.Context(), query)
	if outcome.Failure != nil {
		writeJSON(w, failureStatus(outcome.Failure.Kind), outcome.Failure)
		return
	}
	if outcome.Result == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search produced no outcome")
		return
	}
	writeJSON(w, http.StatusOK, outcome.Result)
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	query, err := s.searchQueryFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := writeSSEEvent(w, flusher, "bootstrap", map[string]any{
		"phase":   "bootstrap",
		"final":   false,
		"pattern": query.Pattern,
		"status":  "started",
	}); err != nil {
		return
	}

	for event := range s.search.Stream(r.Context(), query) {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		var payload any
		switch event.Type {
		case domain.SearchEventAttempt:
			payload = event.Attempt
		case domain.SearchEventResult:
			payload = event.Result
		case domain.SearchEventError:
			payload = event.Failure
		default:
			continue
		}
		if err := writeSSEEvent(w, flusher, string(event.Type), payload); err != nil {
			return
		}
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
}

func (s *Server) searchQueryFromURL(r *http.Request) (domain.SearchQuery, error) {
	values := r.URL.Query()
	pattern := values.Get("pattern")
	if strings.TrimSpace(pattern) == "" {
		pattern = values.Get("q")
	}
	maxSizeGB, err := parseOptionalFloat(r, "maxSizeGb")
	if err != nil {
		return domain.SearchQuery{}, errors.New("invalid maxSizeGb")
	}
	limit, err := parsePositiveInt(r, "limit", s.defaultLimit)
	if err != nil {
		return domain.SearchQuery{}, errors.New("invalid limit")
	}
	offset, err := parseNonNegativeInt(r, "offset", 0)
	if err != nil {
		return domain.SearchQuery{}, errors.New("invalid offset")
	}
	return s.buildQuery(pattern, values.Get("category"), values.Get("plugins"), maxSizeGB, limit, offset)
}

func (s *Server) searchQueryFromBody(r *http.Request) (domain.SearchQuery, error) {
	var payload searchRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		return domain.SearchQuery{}, err
	}
	limit := s.defaultLimit
	if payload.Limit != nil {
		if *payload.Limit <= 0 {
			return domain.SearchQuery{}, errors.New("invalid limit")
		}
		limit = *payload.Limit
	}
	offset := 0
	if payload.Offset != nil {
		if *payload.Offset < 0 {
			return domain.SearchQuery{}, errors.New("invalid offset")
		}
		offset = *payload.Offset
	}
	return s.buildQuery(payload.Pattern, payload.Category, payload.Plugins, payload.MaxSizeGB, limit, offset)
}

// buildQuery validates the transport-level fields. A nil maxSizeGB means the
// configured default; zero is a real ceiling.
func (s *Server) buildQuery(pattern, category, plugins string, maxSizeGB *float64, limit, offset int) (domain.SearchQuery, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return domain.SearchQuery{}, errors.New("pattern is required")
	}
	if len(pattern) > maxPatternLength {
		return domain.SearchQuery{}, fmt.Errorf("pattern too long (max %d characters)", maxPatternLength)
	}
	maxSizeBytes := s.defaultMaxSizeBytes
	if maxSizeGB != nil {
		if math.IsNaN(*maxSizeGB) || *maxSizeGB < 0 {
			return domain.SearchQuery{}, errors.New("invalid maxSizeGb")
		}
		maxSizeBytes = domain.GBToBytes(*maxSizeGB)
	}
	return domain.SearchQuery{
		Pattern:      pattern,
		Category:     category,
		Plugins:      plugins,
		MaxSizeBytes: maxSizeBytes,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// failureStatus maps a search failure kind to the HTTP status returned with
// the error envelope.
func failureStatus(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureInvalidQuery:
		return http.StatusBadRequest
	case domain.FailurePollTimeout:
		return http.StatusGatewayTimeout
	case domain.FailureAuth, domain.FailureLaunch, domain.FailurePoll, domain.FailureTransport:
		return http.StatusBadGateway
	case domain.FailureCanceled, domain.FailureNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
