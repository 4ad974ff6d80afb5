package search

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
	"torrentstream/qbtcontrol/internal/telemetry"
)

// PollConfig is the attempt budget of the poller.
type PollConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// EarlyAcceptAttempt is the zero-based attempt from which a running job
	// with a non-empty page is accepted as done.
	EarlyAcceptAttempt int
}

// DefaultPollConfig returns 10 attempts, 1s apart, accepting partial results
// from the third attempt on.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:        10,
		Delay:              time.Second,
		EarlyAcceptAttempt: 2,
	}
}

func (c PollConfig) normalized() PollConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.EarlyAcceptAttempt < 0 {
		c.EarlyAcceptAttempt = 0
	}
	return c
}

type PollState int

const (
	StatePolling PollState = iota
	StateDone
	StateExhausted
)

func (s PollState) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Next is the transition function applied after the page for attempt has
// been received. The rules are evaluated in order.
func (c PollConfig) Next(attempt int, page domain.PollOutcome) PollState {
	c = c.normalized()
	switch {
	case page.Status.IsStopped():
		return StateDone
	case len(page.Results) > 0 && attempt >= c.EarlyAcceptAttempt:
		return StateDone
	case attempt >= c.MaxAttempts-1:
		return StateExhausted
	default:
		return StatePolling
	}
}

// PollResult is the terminal state of the poller.
type PollResult struct {
	State    PollState
	Attempts int
	Status   domain.JobStatus
	Results  []domain.TorrentResult
}

// Usable reports whether the terminal state carries data for the shaper.
// Exhausted with a non-empty page counts as done.
func (r PollResult) Usable() bool {
	switch r.State {
	case StateDone:
		return true
	case StateExhausted:
		return len(r.Results) > 0 || r.Status.IsStopped()
	default:
		return false
	}
}

type pollMachine struct {
	cfg     PollConfig
	state   PollState
	attempt int
	last    domain.PollOutcome
}

func (m *pollMachine) receive(page domain.PollOutcome) PollState {
	m.last = page
	m.state = m.cfg.Next(m.attempt, page)
	return m.state
}

func (m *pollMachine) advance() {
	m.attempt++
	m.state = StatePolling
}

func (m *pollMachine) result() PollResult {
	return PollResult{
		State:    m.state,
		Attempts: m.attempt + 1,
		Status:   m.last.Status,
		Results:  m.last.Results,
	}
}

// Observer receives every finished attempt.
type Observer func(domain.PollAttempt)

type Poller struct {
	gateway Gateway
	cfg     PollConfig
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

func NewPoller(gateway Gateway, cfg PollConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		gateway: gateway,
		cfg:     cfg.normalized(),
		logger:  logger,
		wait:    sleepContext,
	}
}

// Poll drives the state machine for job until it reaches Done or Exhausted.
// Strictly sequential: one request in flight, then the fixed delay.
func (p *Poller) Poll(ctx context.Context, session *qbt.Session, job domain.SearchJob, observe Observer) (PollResult, error) {
	m := &pollMachine{cfg: p.cfg, state: StatePolling}
	for {
		if err := ctx.Err(); err != nil {
			return m.result(), err
		}
		page, err := p.fetch(ctx, session, job, m.attempt, m.last.Status)
		if err != nil {
			return m.result(), err
		}
		state := m.receive(page)
		p.logger.Debug("search poll",
			slog.String("searchId", job.ID.String()),
			slog.Int("attempt", m.attempt),
			slog.String("status", string(page.Status)),
			slog.Int("results", len(page.Results)),
			slog.String("state", state.String()),
		)
		if observe != nil {
			observe(domain.PollAttempt{
				SearchID: job.ID,
				Attempt:  m.attempt,
				Status:   page.Status,
				Results:  len(page.Results),
				State:    state.String(),
			})
		}
		if state != StatePolling {
			break
		}
		if err := p.wait(ctx, p.cfg.Delay); err != nil {
			return m.result(), err
		}
		m.advance()
	}

	result := m.result()
	if !result.Usable() {
		return result, &OperationError{
			Kind:   domain.FailurePollTimeout,
			JobID:  job.ID,
			Status: result.Status,
			Err:    ErrPollTimeout,
		}
	}
	return result, nil
}

func (p *Poller) fetch(ctx context.Context, session *qbt.Session, job domain.SearchJob, attempt int, lastStatus domain.JobStatus) (domain.PollOutcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "search.poll")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.id", job.ID.String()),
		attribute.Int("search.attempt", attempt),
	)

	form := url.Values{}
	form.Set("id", job.ID.String())
	form.Set("limit", strconv.Itoa(job.Query.Limit))
	form.Set("offset", strconv.Itoa(job.Query.Offset))

	resp, err := p.gateway.Do(ctx, session, qbt.Request{
		Method: http.MethodPost,
		Path:   PathSearchResults,
		Form:   form,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return domain.PollOutcome{}, err
	}
	if !resp.OK() {
		span.SetStatus(codes.Error, "non-success status")
		return domain.PollOutcome{}, &OperationError{
			Kind:       domain.FailurePoll,
			JobID:      job.ID,
			Status:     lastStatus,
			HTTPStatus: resp.StatusCode,
			Response:   resp.Preview(),
			Err:        ErrPollFailed,
		}
	}

	var page domain.PollOutcome
	if err := resp.DecodeJSON(&page); err != nil {
		span.RecordError(err)
		return domain.PollOutcome{}, err
	}
	span.SetAttributes(
		attribute.String("search.status", string(page.Status)),
		attribute.Int("search.results", len(page.Results)),
	)
	return page, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
