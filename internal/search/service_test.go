package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
	"torrentstream/qbtcontrol/internal/qbt/qbttest"
)

type staticSettings struct {
	settings domain.ConnectionSettings
	err      error
}

func (s staticSettings) Current(context.Context) (domain.ConnectionSettings, error) {
	return s.settings, s.err
}

func newTestService(t *testing.T, fake *qbttest.Server, opts ...ServiceOption) *Service {
	t.Helper()
	settings := staticSettings{settings: domain.ConnectionSettings{
		Host:     fake.URL,
		Username: qbttest.Username,
		Password: qbttest.Password,
	}}
	opts = append([]ServiceOption{withWait(noWait)}, opts...)
	return NewService(qbt.NewClient(qbt.Config{}), settings, opts...)
}

func TestSearchScenarioFilterAndRank(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{
		Status: "Stopped",
		Results: []map[string]any{
			qbttest.Result("one", 1*gib, 5),
			qbttest.Result("ten", 10*gib, 50),
			qbttest.Result("two", 2*gib, 1),
		},
	}}

	query := domain.NewSearchQuery("ubuntu")
	envelope, err := newTestService(t, fake).Search(context.Background(), query)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if envelope.SearchID != "12345" || envelope.Pattern != "ubuntu" {
		t.Fatalf("unexpected envelope header: %+v", envelope)
	}
	if envelope.TotalResults != 3 || envelope.FilteredResults != 2 || len(envelope.Results) != 2 {
		t.Fatalf("unexpected counts: %+v", envelope)
	}
	if envelope.Results[0].FileName() != "one" || envelope.Results[1].FileName() != "two" {
		t.Fatalf("unexpected order: %v, %v", envelope.Results[0].FileName(), envelope.Results[1].FileName())
	}

	start, ok := fake.LastCall(PathSearchStart)
	if !ok {
		t.Fatal("search was never started")
	}
	if start.Form.Get("pattern") != "ubuntu" || start.Form.Get("category") != "all" || start.Form.Get("plugins") != "all" {
		t.Fatalf("unexpected start form: %v", start.Form)
	}
	poll, _ := fake.LastCall(PathSearchResults)
	if poll.Form.Get("id") != "12345" || poll.Form.Get("limit") != "100" || poll.Form.Get("offset") != "0" {
		t.Fatalf("unexpected results form: %v", poll.Form)
	}
}

func TestSearchHonorsZeroCeiling(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{
		Status: "Stopped",
		Results: []map[string]any{
			qbttest.Result("three", 3*gib, 7),
			qbttest.Result("empty", 0, 1),
		},
	}}

	query := domain.NewSearchQuery("ubuntu")
	query.MaxSizeBytes = domain.GBToBytes(1e-10)
	envelope, err := newTestService(t, fake).Search(context.Background(), query)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if envelope.TotalResults != 2 || envelope.FilteredResults != 1 || envelope.Results[0].FileName() != "empty" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestSearchScenarioTopTenOnSecondAttempt(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	rows := make([]map[string]any, 0, 15)
	for seeders := 1; seeders <= 15; seeders++ {
		rows = append(rows, qbttest.Result("r", gib, seeders))
	}
	fake.Pages = []qbttest.Page{
		{Status: "Running"},
		{Status: "Stopped", Results: rows},
	}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("debian"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if fake.Count(PathSearchResults) != 2 {
		t.Fatalf("expected 2 polls, got %d", fake.Count(PathSearchResults))
	}
	if envelope.FilteredResults != 15 || len(envelope.Results) != 10 {
		t.Fatalf("unexpected counts: %+v", envelope)
	}
	if envelope.Results[0].Seeders() != 15 || envelope.Results[9].Seeders() != 6 {
		t.Fatalf("unexpected ranking: first=%d last=%d", envelope.Results[0].Seeders(), envelope.Results[9].Seeders())
	}
}

func TestSearchScenarioLoginRejected(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.LoginStatus = http.StatusForbidden

	outcome := newTestService(t, fake).Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.OK() || outcome.Failure == nil {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if outcome.Failure.Kind != domain.FailureAuth {
		t.Fatalf("expected auth failure, got %s", outcome.Failure.Kind)
	}
	if got := len(fake.Calls()); got != 1 {
		t.Fatalf("expected only the login request, got %d calls", got)
	}
}

func TestSearchEarlyAcceptStopsOnThirdPoll(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Running", Results: []map[string]any{qbttest.Result("a", gib, 1)}}}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("ubuntu"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if fake.Count(PathSearchResults) != 3 {
		t.Fatalf("expected 3 polls, got %d", fake.Count(PathSearchResults))
	}
	if envelope.FilteredResults != 1 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestSearchTimesOutAfterBudget(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Running"}}

	outcome := newTestService(t, fake).Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailurePollTimeout {
		t.Fatalf("expected poll timeout, got %+v", outcome)
	}
	if outcome.Failure.SearchID != "12345" {
		t.Fatalf("expected search id on timeout, got %q", outcome.Failure.SearchID)
	}
	if fake.Count(PathSearchResults) != 10 {
		t.Fatalf("expected 10 polls, got %d", fake.Count(PathSearchResults))
	}
}

func TestSearchCustomPollBudget(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Running"}}

	svc := newTestService(t, fake, WithPollConfig(PollConfig{MaxAttempts: 3, Delay: time.Millisecond, EarlyAcceptAttempt: 1}))
	_, err := svc.Search(context.Background(), domain.NewSearchQuery("ubuntu"))
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if fake.Count(PathSearchResults) != 3 {
		t.Fatalf("expected 3 polls, got %d", fake.Count(PathSearchResults))
	}
}

func TestSearchStoppedEmptyReturnsEmptyEnvelope(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Stopped"}}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("nothing"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if envelope.TotalResults != 0 || len(envelope.Results) != 0 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	encoded, _ := json.Marshal(envelope)
	var decoded map[string]any
	_ = json.Unmarshal(encoded, &decoded)
	if _, ok := decoded["results"].([]any); !ok {
		t.Fatalf("expected results array, got %s", encoded)
	}
}

func TestSearchLaunchFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantHTTP int
	}{
		{"non-success status", http.StatusConflict, "", ErrLaunchFailed, http.StatusConflict},
		{"missing id", 0, `{}`, ErrJobIDMissing, 0},
		{"zero id", 0, `{"id":0}`, ErrJobIDMissing, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := qbttest.NewServer()
			defer fake.Close()
			fake.StartStatus = tt.status
			fake.StartBody = tt.body

			_, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("ubuntu"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			envelope := EnvelopeFor(err)
			if envelope.Kind != domain.FailureLaunch || envelope.HTTPStatus != tt.wantHTTP {
				t.Fatalf("unexpected envelope: %+v", envelope)
			}
			if fake.Count(PathSearchResults) != 0 {
				t.Fatal("expected no poll after a failed launch")
			}
		})
	}
}

func TestSearchStringJobIDIsEchoed(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.StartBody = `{"id":"abc"}`
	fake.Pages = []qbttest.Page{{Status: "Stopped"}}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("ubuntu"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	poll, _ := fake.LastCall(PathSearchResults)
	if envelope.SearchID != "abc" || poll.Form.Get("id") != "abc" {
		t.Fatalf("expected id abc, got envelope=%q form=%q", envelope.SearchID, poll.Form.Get("id"))
	}
}

func TestSearchStringZeroJobIDIsAccepted(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.StartBody = `{"id":"0"}`
	fake.Pages = []qbttest.Page{{Status: "Stopped"}}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("ubuntu"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	poll, _ := fake.LastCall(PathSearchResults)
	if envelope.SearchID != "0" || poll.Form.Get("id") != "0" {
		t.Fatalf("expected id 0, got envelope=%q form=%q", envelope.SearchID, poll.Form.Get("id"))
	}
}

func TestSearchPollFailureCarriesJob(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Running"}, {HTTPStatus: http.StatusNotFound}}

	outcome := newTestService(t, fake).Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailurePoll {
		t.Fatalf("expected poll failure, got %+v", outcome)
	}
	if outcome.Failure.SearchID != "12345" || outcome.Failure.Status != domain.JobStatusRunning || outcome.Failure.HTTPStatus != http.StatusNotFound {
		t.Fatalf("unexpected failure: %+v", outcome.Failure)
	}
}

func TestSearchRejectsEmptyPattern(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()

	_, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("   "))
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if EnvelopeFor(err).Kind != domain.FailureInvalidQuery {
		t.Fatalf("unexpected kind: %s", EnvelopeFor(err).Kind)
	}
	if len(fake.Calls()) != 0 {
		t.Fatal("expected no remote calls")
	}
}

func TestSearchUnreachableHostIsAuthFailure(t *testing.T) {
	fake := qbttest.NewServer()
	url := fake.URL
	fake.Close()

	settings := staticSettings{settings: domain.ConnectionSettings{Host: url, Username: "admin", Password: "x"}}
	svc := NewService(qbt.NewClient(qbt.Config{}), settings, withWait(noWait))
	outcome := svc.Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailureAuth {
		t.Fatalf("expected auth failure, got %+v", outcome)
	}
}

func TestSearchWithoutHostIsNotConfigured(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()

	settings := staticSettings{settings: domain.ConnectionSettings{Username: "admin", Password: "x"}}
	svc := NewService(qbt.NewClient(qbt.Config{}), settings, withWait(noWait))
	outcome := svc.Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailureNotConfigured {
		t.Fatalf("expected not_configured, got %+v", outcome)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("expected no remote calls, got %d", len(fake.Calls()))
	}
}

func TestSearchSettingsError(t *testing.T) {
	svc := NewService(qbt.NewClient(qbt.Config{}), staticSettings{err: errors.New("store down")})
	outcome := svc.Run(context.Background(), domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailureInternal {
		t.Fatalf("expected internal failure, got %+v", outcome)
	}
}

func TestSearchCanceledContext(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := newTestService(t, fake).Run(ctx, domain.NewSearchQuery("ubuntu"))
	if outcome.Failure == nil || outcome.Failure.Kind != domain.FailureCanceled {
		t.Fatalf("expected canceled, got %+v", outcome)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("expected no remote calls, got %d", len(fake.Calls()))
	}
}

func TestSearchNormalizesPattern(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{{Status: "Stopped"}}

	envelope, err := newTestService(t, fake).Search(context.Background(), domain.NewSearchQuery("  Amélie   2001 "))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if envelope.Pattern != "Amélie 2001" {
		t.Fatalf("unexpected pattern %q", envelope.Pattern)
	}
	start, _ := fake.LastCall(PathSearchStart)
	if start.Form.Get("pattern") != "Amélie 2001" {
		t.Fatalf("unexpected start pattern %q", start.Form.Get("pattern"))
	}
}

func TestStreamEmitsAttemptsThenResult(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.Pages = []qbttest.Page{
		{Status: "Running"},
		{Status: "Stopped", Results: []map[string]any{qbttest.Result("a", gib, 3)}},
	}

	var events []domain.SearchEvent
	for event := range newTestService(t, fake).Stream(context.Background(), domain.NewSearchQuery("ubuntu")) {
		events = append(events, event)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != domain.SearchEventAttempt || events[1].Type != domain.SearchEventAttempt {
		t.Fatalf("expected attempts first, got %s, %s", events[0].Type, events[1].Type)
	}
	last := events[2]
	if last.Type != domain.SearchEventResult || last.Result == nil || last.Result.FilteredResults != 1 {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestStreamEmitsErrorOnFailure(t *testing.T) {
	fake := qbttest.NewServer()
	defer fake.Close()
	fake.LoginStatus = http.StatusUnauthorized

	var events []domain.SearchEvent
	for event := range newTestService(t, fake).Stream(context.Background(), domain.NewSearchQuery("ubuntu")) {
		events = append(events, event)
	}
	if len(events) != 1 || events[0].Type != domain.SearchEventError || events[0].Failure.Kind != domain.FailureAuth {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestNormalizePattern(t *testing.T) {
	tests := map[string]string{
		"ubuntu":            "ubuntu",
		"  two   words ":    "two words",
		"tab\tand\nnewline": "tab and newline",
		"e\u0301":           "\u00e9",
		"":                  "",
	}
	for in, want := range tests {
		if got := NormalizePattern(in); got != want {
			t.Errorf("NormalizePattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("Amélie", 6); got != "Am..." {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("ééé", 3); got != "é" {
		t.Fatalf("unexpected %q", got)
	}
}
