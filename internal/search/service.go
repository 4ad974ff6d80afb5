package search

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/metrics"
	"torrentstream/qbtcontrol/internal/qbt"
	"torrentstream/qbtcontrol/internal/telemetry"
)

// Authenticator exchanges credentials for a session. *qbt.Client implements it.
type Authenticator interface {
	Login(ctx context.Context, creds qbt.Credentials) (*qbt.Session, error)
}

// SettingsProvider supplies the connection settings for each operation.
type SettingsProvider interface {
	Current(ctx context.Context) (domain.ConnectionSettings, error)
}

type Service struct {
	auth     Authenticator
	launcher *Launcher
	poller   *Poller
	settings SettingsProvider
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithPollConfig(cfg PollConfig) ServiceOption {
	return func(s *Service) {
		s.poller.cfg = cfg.normalized()
	}
}

// withWait replaces the inter-attempt delay, for tests.
func withWait(wait func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(s *Service) {
		s.poller.wait = wait
	}
}

// client is what the service needs from the WebUI client.
type client interface {
	Authenticator
	Gateway
}

func NewService(c client, settings SettingsProvider, opts ...ServiceOption) *Service {
	svc := &Service{
		auth:     c,
		launcher: NewLauncher(c),
		poller:   NewPoller(c, DefaultPollConfig(), nil),
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.poller.logger = svc.logger
	return svc
}

// Search runs one full operation: login, start, poll, shape. Every error is
// an *OperationError.
func (s *Service) Search(ctx context.Context, query domain.SearchQuery) (domain.ResultEnvelope, error) {
	return s.search(ctx, query, nil)
}

// Run is Search with failures converted to an error envelope.
func (s *Service) Run(ctx context.Context, query domain.SearchQuery) domain.SearchOutcome {
	envelope, err := s.search(ctx, query, nil)
	if err != nil {
		failure := EnvelopeFor(err)
		return domain.SearchOutcome{Failure: &failure}
	}
	return domain.SearchOutcome{Result: &envelope}
}

// Stream runs a search in the background and reports each poll attempt
// before the final result or error. The channel is closed afterwards.
func (s *Service) Stream(ctx context.Context, query domain.SearchQuery) <-chan domain.SearchEvent {
	ch := make(chan domain.SearchEvent, 4)
	go func() {
		defer close(ch)
		send := func(event domain.SearchEvent) {
			select {
			case ch <- event:
			case <-ctx.Done():
			}
		}
		envelope, err := s.search(ctx, query, func(attempt domain.PollAttempt) {
			send(domain.SearchEvent{Type: domain.SearchEventAttempt, Attempt: &attempt})
		})
		if err != nil {
			failure := EnvelopeFor(err)
			send(domain.SearchEvent{Type: domain.SearchEventError, Failure: &failure})
			return
		}
		send(domain.SearchEvent{Type: domain.SearchEventResult, Result: &envelope})
	}()
	return ch
}

func (s *Service) search(ctx context.Context, query domain.SearchQuery, observe Observer) (envelope domain.ResultEnvelope, err error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "search")
	defer span.End()

	var (
		job    domain.SearchJob
		result PollResult
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			opErr := classify(err, job.ID)
			err = opErr
			outcome = string(opErr.Kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			s.logger.Warn("search failed",
				slog.String("pattern", truncate(query.Pattern, 80)),
				slog.String("kind", outcome),
				slog.String("searchId", job.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("search completed",
				slog.String("pattern", truncate(query.Pattern, 80)),
				slog.String("searchId", job.ID.String()),
				slog.Int("attempts", result.Attempts),
				slog.Int("totalResults", envelope.TotalResults),
				slog.Int("filteredResults", envelope.FilteredResults),
				slog.Duration("elapsed", time.Since(start)),
			)
		}
		if result.Attempts > 0 {
			metrics.SearchPollAttempts.Observe(float64(result.Attempts))
		}
		metrics.SearchOutcomesTotal.WithLabelValues(outcome).Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	query, err = PrepareQuery(query)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}
	span.SetAttributes(
		attribute.String("search.pattern", query.Pattern),
		attribute.String("search.category", query.Category),
		attribute.String("search.plugins", query.Plugins),
	)

	if s.settings == nil {
		return domain.ResultEnvelope{}, domain.ErrNotConfigured
	}
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}
	session, err := s.auth.Login(ctx, qbt.CredentialsFromSettings(settings))
	if err != nil {
		return domain.ResultEnvelope{}, err
	}

	job, err = s.launcher.Start(ctx, session, query)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}
	span.SetAttributes(attribute.String("search.id", job.ID.String()))

	result, err = s.poller.Poll(ctx, session, job, observe)
	if err != nil {
		return domain.ResultEnvelope{}, err
	}

	envelope = Shape(result.Results, query.MaxSizeBytes)
	envelope.SearchID = job.ID
	envelope.Pattern = query.Pattern
	return envelope, nil
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return qbt.CutUTF8(value, limit)
	}
	return qbt.CutUTF8(value, limit-3) + "..."
}
