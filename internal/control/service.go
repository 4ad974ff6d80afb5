// Package control runs one-shot commands against the remote WebUI: adding
// and removing torrents, limits, trackers, tags and file priorities. Every
// command logs in fresh and interprets the status code itself.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/metrics"
	"torrentstream/qbtcontrol/internal/qbt"
	"torrentstream/qbtcontrol/internal/telemetry"
)

const (
	PathTorrentsAdd           = "/api/v2/torrents/add"
	PathTorrentsDelete        = "/api/v2/torrents/delete"
	PathTorrentsStop          = "/api/v2/torrents/stop"
	PathTorrentsStart         = "/api/v2/torrents/start"
	PathTorrentsTrackers      = "/api/v2/torrents/trackers"
	PathTorrentsAddTrackers   = "/api/v2/torrents/addTrackers"
	PathTorrentsAddTags       = "/api/v2/torrents/addTags"
	PathTorrentsFilePrio      = "/api/v2/torrents/filePrio"
	PathTorrentsDownloadLimit = "/api/v2/torrents/setDownloadLimit"
	PathTorrentsUploadLimit   = "/api/v2/torrents/setUploadLimit"
	PathTorrentsInfo          = "/api/v2/torrents/info"
	PathTransferDownloadLimit = "/api/v2/transfer/setDownloadLimit"
	PathTransferUploadLimit   = "/api/v2/transfer/setUploadLimit"
	PathAppVersion            = "/api/v2/app/version"

	// pseudoTrackerPrefix marks the DHT, PeX and LSD rows of the tracker list.
	pseudoTrackerPrefix = "** ["

	defaultUploadConcurrency = 4
)

// Client is the subset of *qbt.Client used by commands.
type Client interface {
	Login(ctx context.Context, creds qbt.Credentials) (*qbt.Session, error)
	Do(ctx context.Context, session *qbt.Session, request qbt.Request) (qbt.Response, error)
}

type SettingsProvider interface {
	Current(ctx context.Context) (domain.ConnectionSettings, error)
}

type Service struct {
	client            Client
	settings          SettingsProvider
	logger            *slog.Logger
	uploadConcurrency int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUploadConcurrency bounds the number of torrent files uploaded at once.
func WithUploadConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.uploadConcurrency = int64(n)
		}
	}
}

func NewService(client Client, settings SettingsProvider, opts ...Option) *Service {
	svc := &Service{
		client:            client,
		settings:          settings,
		logger:            slog.Default(),
		uploadConcurrency: defaultUploadConcurrency,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// command describes one single-request command.
type command struct {
	name    string
	request qbt.Request
	// failure prefixes the message reported for a non-success status.
	failure string
	success func(resp qbt.Response) (domain.CommandResult, error)
}

func (s *Service) execute(ctx context.Context, cmd command) (result domain.CommandResult, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "command."+cmd.name)
	defer span.End()
	start := time.Now()
	defer func() {
		s.observe(cmd.name, start, result, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if !result.OK {
			span.SetStatus(codes.Error, result.Message)
		}
	}()

	session, rejected, err := s.login(ctx)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if rejected != nil {
		return *rejected, nil
	}

	resp, err := s.client.Do(ctx, session, cmd.request)
	if err != nil {
		return domain.CommandResult{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if !resp.OK() {
		return domain.CommandResult{
			OK:         false,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("%s: status code %d", cmd.failure, resp.StatusCode),
		}, nil
	}
	return cmd.success(resp)
}

// login returns a session, or a failed result when the remote rejects the
// credentials. Only context and settings errors are returned as errors.
func (s *Service) login(ctx context.Context) (*qbt.Session, *domain.CommandResult, error) {
	if s.settings == nil {
		return nil, nil, domain.ErrNotConfigured
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.client.Login(ctx, qbt.CredentialsFromSettings(settings))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrNotConfigured) {
			return nil, nil, err
		}
		s.logger.Warn("command login failed", slog.String("error", err.Error()))
		return nil, &domain.CommandResult{OK: false, Message: err.Error()}, nil
	}
	return session, nil, nil
}

func (s *Service) observe(name string, start time.Time, result domain.CommandResult, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !result.OK && result.HTTPStatus == 0 && len(result.Items) == 0:
		outcome = "login_failed"
	case !result.OK:
		outcome = "rejected"
	}
	metrics.CommandsTotal.WithLabelValues(name, outcome).Inc()

	attrs := []any{
		slog.String("command", name),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(start)),
	}
	if result.HTTPStatus != 0 {
		attrs = append(attrs, slog.Int("status", result.HTTPStatus))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		s.logger.Warn("command failed", attrs...)
		return
	}
	s.logger.Info("command completed", attrs...)
}

func ok(message string) func(qbt.Response) (domain.CommandResult, error) {
	return func(qbt.Response) (domain.CommandResult, error) {
		return domain.CommandResult{OK: true, Message: message}, nil
	}
}

// joinHashes validates hashes and joins them the way the WebUI expects. The
// single value "all" addresses every torrent.
func joinHashes(hashes []string) (string, error) {
	cleaned := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		if hash = strings.TrimSpace(hash); hash != "" {
			cleaned = append(cleaned, hash)
		}
	}
	if len(cleaned) == 0 {
		return "", fmt.Errorf("%w: at least one torrent hash is required", domain.ErrInvalidArgument)
	}
	return strings.Join(cleaned, "|"), nil
}

func requireHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return "", fmt.Errorf("%w: torrent hash is required", domain.ErrInvalidArgument)
	}
	return hash, nil
}

func requireLimit(limit int64) error {
	if limit < 0 {
		return fmt.Errorf("%w: limit must be zero (unlimited) or positive", domain.ErrInvalidArgument)
	}
	return nil
}

func postForm(path string, form url.Values) qbt.Request {
	return qbt.Request{Method: http.MethodPost, Path: path, Form: form}
}
