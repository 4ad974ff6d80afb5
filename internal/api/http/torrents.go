package apihttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"torrentstream/qbtcontrol/internal/domain"
)

type hashesRequest struct {
	Hashes      []string `json:"hashes"`
	DeleteFiles bool     `json:"deleteFiles"`
}

type addTrackersRequest struct {
	Hash string   `json:"hash"`
	URLs []string `json:"urls"`
}

type addTagsRequest struct {
	Hashes []string `json:"hashes"`
	Tags   []string `json:"tags"`
}

type filePriorityRequest struct {
	Hash     string `json:"hash"`
	IDs      []int  `json:"ids"`
	Priority *int   `json:"priority"`
}

type torrentLimitRequest struct {
	Hashes []string `json:"hashes"`
	Limit  *int64   `json:"limit"`
}

type globalLimitRequest struct {
	Limit *int64 `json:"limit"`
}

type addTorrentsRequest struct {
	URLs []string `json:"urls"`
}

// commandGuard rejects the request unless method matches and a command
// service is wired.
func (s *Server) commandGuard(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if s.commands == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "command service is not configured")
		return false
	}
	return true
}

// writeCommandResult maps a command outcome to a response. A rejected
// command is reported as 502 with the result body; a partially successful
// batch as 207.
func (s *Server) writeCommandResult(w http.ResponseWriter, result domain.CommandResult, err error) {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, domain.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "not_configured", err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "canceled", err.Error())
		default:
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		}
		return
	}
	if result.OK {
		writeJSON(w, http.StatusOK, result)
		return
	}
	for _, item := range result.Items {
		if item.OK {
			writeJSON(w, http.StatusMultiStatus, result)
			return
		}
	}
	writeJSON(w, http.StatusBadGateway, result)
}

func (s *Server) handleTorrentList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/torrents" {
		http.NotFound(w, r)
		return
	}
	if !s.commandGuard(w, r, http.MethodGet) {
		return
	}
	result, err := s.commands.ListTorrents(r.Context())
	if err == nil && result.OK && len(result.Data) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"items": result.Data})
		return
	}
	s.writeCommandResult(w, result, err)
}

func (s *Server) handleTorrentsAdd(w http.ResponseWriter, r *http.Request) {
	if !s.commandGuard(w, r, http.MethodPost) {
		return
	}

	var (
		files []domain.TorrentFile
		urls  []string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart body: "+err.Error())
			return
		}
		for _, header := range r.MultipartForm.File["torrents"] {
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "cannot read "+header.Filename)
				return
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "cannot read "+header.Filename)
				return
			}
			files = append(files, domain.TorrentFile{Name: header.Filename, Content: content})
		}
		for _, value := range r.MultipartForm.Value["urls"] {
			urls = append(urls, splitList(value)...)
		}
	} else {
		var payload addTorrentsRequest
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		urls = payload.URLs
	}

	result, err := s.commands.AddTorrents(r.Context(), files, urls)
	s.writeCommandResult(w, result, err)
}

func (s *Server) handleTorrentsDelete(w http.ResponseWriter, r *http.Request) {
	if !s.commandGuard(w, r, http.MethodPost) {
		return
	}
	var payload hashesRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.commands.DeleteTorrents(r.Context(), payload.Hashes, payload.DeleteFiles)
	s.writeCommandResult(w, result, err)
}

func (s *Server) handleTorrentsPause(w http.ResponseWriter, r *http.Request) {
	s.handleHashesCommand(w, r, CommandService.PauseTorrents)
}

func (s *Server) handleTorrentsResume(w http.ResponseWriter, r *http.Request) {
	s.handleHashesCommand(w, r, CommandService.ResumeTorrents)
}

func (s *Server) handleHashesCommand(w http.ResponseWriter, r *http.Request, run func(CommandService, context.Context, []string) (domain.CommandResult, error)) {
	if !s.commandGuard(w, r, http.MethodPost) {
		return
	}
	var payload struct {
		Hashes []string `json:"hashes"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := run(s.commands, r.Context(), payload.Hashes)
	s.writeCommandResult(w, result, err)
}

// handleTorrentTrackers lists tracker URLs on GET and adds trackers on POST.
func (s *Server) handleTorrentTrackers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !s.commandGuard(w, r, http.MethodGet) {
			return
		}
		result, err := s.commands.TrackerURLs(r.Context(), r.URL.Query().Get("hash"))
		s.writeCommandResult(w, result, err)
	case http.MethodPost:
		if !s.commandGuard(w, r, http.MethodPost) {
			return
		}
		var payload addTrackersRequest
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		result, err := s.commands.AddTrackers(r.Context(), payload.Hash, payload.URLs)
		s.writeCommandResult(w, result, err)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTorrentTags(w http.ResponseWriter, r *http.Request) {
	if !s.commandGuard(w, r, http.MethodPost) {
		return
	}
	var payload addTagsRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.commands.AddTags(r.Context(), payload.Hashes, payload.Tags)
	s.writeCommandResult(w, result, err)
}

func (s *Server) handleFilePriority(w http.ResponseWriter, r *http.Request) {
	if !s.commandGuard(w, r, http.MethodPost) {
		return
	}
	var payload filePriorityRequest
	if err := decodeJSONBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if payload.Priority == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority is required")
		return
	}
	result, err := s.commands.SetFilePriority(r.Context(), payload.Hash, payload.IDs, domain.FilePriority(*payload.Priority))
	s.writeCommandResult(w, result, err)
}

func (s *Server) handleTorrentLimit(run func(CommandService, context.Context, []string, int64) (domain.CommandResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.commandGuard(w, r, http.MethodPost) {
			return
		}
		var payload torrentLimitRequest
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if payload.Limit == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit is required")
			return
		}
		result, err := run(s.commands, r.Context(), payload.Hashes, *payload.Limit)
		s.writeCommandResult(w, result, err)
	}
}

func (s *Server) handleGlobalLimit(run func(CommandService, context.Context, int64) (domain.CommandResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.commandGuard(w, r, http.MethodPost) {
			return
		}
		var payload globalLimitRequest
		if err := decodeJSONBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if payload.Limit == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit is required")
			return
		}
		result, err := run(s.commands, r.Context(), *payload.Limit)
		s.writeCommandResult(w, result, err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !s.commandGuard(w, r, http.MethodGet) {
		return
	}
	result, err := s.commands.Version(r.Context())
	if err == nil && result.OK {
		writeJSON(w, http.StatusOK, map[string]string{"version": result.Message})
		return
	}
	s.writeCommandResult(w, result, err)
}
