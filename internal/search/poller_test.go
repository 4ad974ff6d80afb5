package search

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
)

func TestPollConfigNext(t *testing.T) {
	cfg := DefaultPollConfig()
	some := []domain.TorrentResult{{"fileName": "x"}}

	tests := []struct {
		name    string
		attempt int
		page    domain.PollOutcome
		want    PollState
	}{
		{"stopped empty at first attempt", 0, domain.PollOutcome{Status: domain.JobStatusStopped}, StateDone},
		{"stopped with results", 4, domain.PollOutcome{Status: domain.JobStatusStopped, Results: some}, StateDone},
		{"running with results before early accept", 1, domain.PollOutcome{Status: domain.JobStatusRunning, Results: some}, StatePolling},
		{"running with results at early accept", 2, domain.PollOutcome{Status: domain.JobStatusRunning, Results: some}, StateDone},
		{"running empty mid budget", 5, domain.PollOutcome{Status: domain.JobStatusRunning}, StatePolling},
		{"running empty at last attempt", 9, domain.PollOutcome{Status: domain.JobStatusRunning}, StateExhausted},
		{"unknown status counts as running", 3, domain.PollOutcome{Status: "Queued"}, StatePolling},
		{"absent status at last attempt", 9, domain.PollOutcome{}, StateExhausted},
		{"stopped beats exhaustion", 9, domain.PollOutcome{Status: domain.JobStatusStopped}, StateDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.Next(tt.attempt, tt.page); got != tt.want {
				t.Fatalf("Next(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPollConfigNormalizes(t *testing.T) {
	cfg := PollConfig{MaxAttempts: 0, Delay: -time.Second, EarlyAcceptAttempt: -1}.normalized()
	if cfg.MaxAttempts != 1 || cfg.Delay != 0 || cfg.EarlyAcceptAttempt != 0 {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
}

// pageGateway serves scripted result pages and counts calls.
type pageGateway struct {
	pages []qbt.Response
	errs  []error
	calls int
}

func (g *pageGateway) Do(_ context.Context, _ *qbt.Session, request qbt.Request) (qbt.Response, error) {
	index := g.calls
	g.calls++
	if index < len(g.errs) && g.errs[index] != nil {
		return qbt.Response{}, g.errs[index]
	}
	if index >= len(g.pages) {
		index = len(g.pages) - 1
	}
	return g.pages[index], nil
}

func jsonPage(body string) qbt.Response {
	return qbt.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestPoller(gateway Gateway) *Poller {
	p := NewPoller(gateway, DefaultPollConfig(), nil)
	p.wait = noWait
	return p
}

var testJob = domain.SearchJob{ID: "12345", Query: domain.NewSearchQuery("ubuntu")}

func TestPollAcceptsPartialResultsOnThirdAttempt(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Running","results":[{"fileName":"a","fileSize":1,"nbSeeders":2}],"total":1}`),
	}}

	result, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if gateway.calls != 3 {
		t.Fatalf("expected 3 result requests, got %d", gateway.calls)
	}
	if result.State != StateDone || result.Attempts != 3 || len(result.Results) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPollExhaustsBudget(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Running","results":[],"total":0}`),
	}}

	result, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Kind != domain.FailurePollTimeout || opErr.JobID != "12345" {
		t.Fatalf("unexpected error: %#v", err)
	}
	if opErr.Status != domain.JobStatusRunning {
		t.Fatalf("expected last status Running, got %q", opErr.Status)
	}
	if gateway.calls != 10 {
		t.Fatalf("expected exactly 10 result requests, got %d", gateway.calls)
	}
	if result.State != StateExhausted {
		t.Fatalf("expected exhausted, got %s", result.State)
	}
}

func TestPollStoppedEmptyIsSuccess(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Stopped","results":[],"total":0}`),
	}}

	result, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if gateway.calls != 1 || result.State != StateDone || len(result.Results) != 0 {
		t.Fatalf("unexpected result after %d calls: %+v", gateway.calls, result)
	}
}

func TestPollNonSuccessStatusIsPollFailure(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Running","results":[],"total":0}`),
		{StatusCode: http.StatusNotFound, Body: []byte("Not Found")},
	}}

	_, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, nil)
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if opErr.Kind != domain.FailurePoll || opErr.HTTPStatus != http.StatusNotFound {
		t.Fatalf("unexpected failure: %+v", opErr)
	}
	if opErr.JobID != "12345" || opErr.Status != domain.JobStatusRunning {
		t.Fatalf("expected job context, got id=%q status=%q", opErr.JobID, opErr.Status)
	}
	if opErr.Response != "Not Found" {
		t.Fatalf("expected response preview, got %q", opErr.Response)
	}
}

func TestPollTransportErrorStopsImmediately(t *testing.T) {
	boom := errors.Join(qbt.ErrTransport, errors.New("connection reset"))
	gateway := &pageGateway{
		pages: []qbt.Response{jsonPage(`{"status":"Running"}`)},
		errs:  []error{nil, boom},
	}

	_, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, nil)
	if !errors.Is(err, qbt.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if gateway.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", gateway.calls)
	}
}

func TestPollReportsEveryAttempt(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Running","results":[]}`),
		jsonPage(`{"status":"Running","results":[]}`),
		jsonPage(`{"status":"Stopped","results":[{"fileName":"a"}]}`),
	}}

	var attempts []domain.PollAttempt
	_, err := newTestPoller(gateway).Poll(context.Background(), nil, testJob, func(a domain.PollAttempt) {
		attempts = append(attempts, a)
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Attempt != i || a.SearchID != "12345" {
			t.Fatalf("attempt %d: unexpected %+v", i, a)
		}
	}
	if attempts[0].State != "polling" || attempts[2].State != "done" || attempts[2].Results != 1 {
		t.Fatalf("unexpected states: %+v", attempts)
	}
}

func TestPollStopsWhenContextCanceledDuringDelay(t *testing.T) {
	gateway := &pageGateway{pages: []qbt.Response{
		jsonPage(`{"status":"Running","results":[]}`),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(gateway, PollConfig{MaxAttempts: 10, Delay: time.Hour, EarlyAcceptAttempt: 2}, nil)
	p.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	_, err := p.Poll(ctx, nil, testJob, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if gateway.calls != 1 {
		t.Fatalf("expected no request after cancellation, got %d", gateway.calls)
	}
}

func TestSleepContextWaits(t *testing.T) {
	start := time.Now()
	if err := sleepContext(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before the delay elapsed")
	}
}
