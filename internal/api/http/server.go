package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentstream/qbtcontrol/internal/domain"
)

type SearchService interface {
	Run(ctx context.Context, query domain.SearchQuery) domain.SearchOutcome
	Stream(ctx context.Context, query domain.SearchQuery) <-chan domain.SearchEvent
}

type CommandService interface {
	AddTorrents(ctx context.Context, files []domain.TorrentFile, urls []string) (domain.CommandResult, error)
	DeleteTorrents(ctx context.Context, hashes []string, deleteFiles bool) (domain.CommandResult, error)
	PauseTorrents(ctx context.Context, hashes []string) (domain.CommandResult, error)
	ResumeTorrents(ctx context.Context, hashes []string) (domain.CommandResult, error)
	ListTorrents(ctx context.Context) (domain.CommandResult, error)
	TrackerURLs(ctx context.Context, hash string) (domain.CommandResult, error)
	AddTrackers(ctx context.Context, hash string, urls []string) (domain.CommandResult, error)
	AddTags(ctx context.Context, hashes []string, tags []string) (domain.CommandResult, error)
	SetFilePriority(ctx context.Context, hash string, fileIDs []int, priority domain.FilePriority) (domain.CommandResult, error)
	SetTorrentDownloadLimit(ctx context.Context, hashes []string, limit int64) (domain.CommandResult, error)
	SetTorrentUploadLimit(ctx context.Context, hashes []string, limit int64) (domain.CommandResult, error)
	SetGlobalDownloadLimit(ctx context.Context, limit int64) (domain.CommandResult, error)
	SetGlobalUploadLimit(ctx context.Context, limit int64) (domain.CommandResult, error)
	Version(ctx context.Context) (domain.CommandResult, error)
}

type SettingsService interface {
	Get(ctx context.Context) (domain.ConnectionSettingsView, error)
	Update(ctx context.Context, patch domain.ConnectionSettingsPatch) (domain.ConnectionSettingsView, error)
}

type Server struct {
	search   SearchService
	commands CommandService
	settings SettingsService
	logger   *slog.Logger

	defaultMaxSizeBytes int64
	defaultLimit        int
	rateLimitRPS        float64
	rateLimitBurst      int
	corsOrigins         []string
}

const (
	maxPatternLength = 500
	maxUploadBytes   = 32 << 20
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCommands(commands CommandService) ServerOption {
	return func(s *Server) {
		s.commands = commands
	}
}

func WithSettings(settings SettingsService) ServerOption {
	return func(s *Server) {
		s.settings = settings
	}
}

// WithSearchDefaults sets the size ceiling and page size used when a search
// request does not carry them.
func WithSearchDefaults(maxSizeBytes int64, limit int) ServerOption {
	return func(s *Server) {
		if maxSizeBytes > 0 {
			s.defaultMaxSizeBytes = maxSizeBytes
		}
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

// WithRateLimit configures the inbound token bucket. A non-positive rps
// disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimitRPS = rps
		s.rateLimitBurst = burst
	}
}

// WithCORS allows browser clients from origins. An empty list disables CORS
// handling.
func WithCORS(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:              searchService,
		logger:              slog.Default(),
		defaultMaxSizeBytes: domain.GBToBytes(domain.DefaultMaxSizeGB),
		defaultLimit:        domain.DefaultPageLimit,
		rateLimitRPS:        10,
		rateLimitBurst:      20,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

// routes lists every endpoint served by Handler. Paths missing here are not
// routed and are reported as otherRoute.
func (s *Server) routes() []route {
	fn := func(f http.HandlerFunc) http.Handler { return f }
	return []route{
		{"/health", routeInternal, fn(s.handleHealth)},
		{"/metrics", routeInternal, promhttp.Handler()},
		{"/search/stream", routeStream, fn(s.handleSearchStream)},
		{"/search", routeSearch, fn(s.handleSearch)},
		{"/torrents", routeCommand, fn(s.handleTorrentList)},
		{"/torrents/add", routeCommand, fn(s.handleTorrentsAdd)},
		{"/torrents/delete", routeCommand, fn(s.handleTorrentsDelete)},
		{"/torrents/pause", routeCommand, fn(s.handleTorrentsPause)},
		{"/torrents/resume", routeCommand, fn(s.handleTorrentsResume)},
		{"/torrents/trackers", routeCommand, fn(s.handleTorrentTrackers)},
		{"/torrents/tags", routeCommand, fn(s.handleTorrentTags)},
		{"/torrents/file-priority", routeCommand, fn(s.handleFilePriority)},
		{"/torrents/download-limit", routeCommand, fn(s.handleTorrentLimit(CommandService.SetTorrentDownloadLimit))},
		{"/torrents/upload-limit", routeCommand, fn(s.handleTorrentLimit(CommandService.SetTorrentUploadLimit))},
		{"/transfer/download-limit", routeCommand, fn(s.handleGlobalLimit(CommandService.SetGlobalDownloadLimit))},
		{"/transfer/upload-limit", routeCommand, fn(s.handleGlobalLimit(CommandService.SetGlobalUploadLimit))},
		{"/app/version", routeCommand, fn(s.handleVersion)},
		{"/settings/connection", routeSettings, fn(s.handleConnectionSettings)},
	}
}

func (s *Server) Handler() http.Handler {
	routes := s.routes()
	table := newRouteTable(routes)
	mux := http.NewServeMux()
	for _, rt := range routes {
		mux.Handle(rt.path, rt.handler)
	}
	traced := otelhttp.NewHandler(mux, "qbtcontrol",
		otelhttp.WithFilter(func(r *http.Request) bool {
			_, class := table.lookup(r.URL.Path)
			return class != routeInternal
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			name, _ := table.lookup(r.URL.Path)
			return r.Method + " " + name
		}),
	)
	var handler http.Handler = observeMiddleware(s.logger, table, traced)
	if s.rateLimitRPS > 0 {
		burst := s.rateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		handler = rateLimitMiddleware(s.rateLimitRPS, burst, table, handler)
	}
	if len(s.corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}).Handler(handler)
	}
	return recoveryMiddleware(s.logger, handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

// parseOptionalFloat returns nil when key is absent so callers can tell an
// explicit zero from a missing value.
func parseOptionalFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// splitList splits comma or newline separated input, dropping blanks. Case
// is kept since it carries tracker URLs and tags.
func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if value := strings.TrimSpace(field); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
