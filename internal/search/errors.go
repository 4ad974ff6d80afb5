package search

import (
	"context"
	"errors"
	"fmt"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
)

var (
	ErrInvalidQuery = errors.New("search pattern is required")
	ErrLaunchFailed = errors.New("search start request failed")
	ErrJobIDMissing = errors.New("search start response carries no search id")
	ErrPollFailed   = errors.New("search results request failed")
	ErrPollTimeout  = errors.New("search timed out without results")
)

// OperationError is a classified failure of one search operation. It keeps
// the remote job id and the last seen job status when they are known.
type OperationError struct {
	Kind       domain.FailureKind
	JobID      domain.JobID
	Status     domain.JobStatus
	HTTPStatus int
	Response   string
	Err        error
}

func (e *OperationError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%v: HTTP %d", e.Err, e.HTTPStatus)
	}
	return e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Envelope() domain.ErrorEnvelope {
	return domain.ErrorEnvelope{
		Error:      e.Error(),
		Kind:       e.Kind,
		SearchID:   e.JobID,
		Status:     e.Status,
		HTTPStatus: e.HTTPStatus,
		Response:   e.Response,
	}
}

// classify turns any error produced while searching into an OperationError.
// Job context already attached by the poller is preserved.
func classify(err error, jobID domain.JobID) *OperationError {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.JobID == "" {
			opErr.JobID = jobID
		}
		return opErr
	}
	out := &OperationError{JobID: jobID, Err: err}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Kind = domain.FailureCanceled
	case errors.Is(err, domain.ErrNotConfigured):
		out.Kind = domain.FailureNotConfigured
	case errors.Is(err, qbt.ErrAuthFailed):
		out.Kind = domain.FailureAuth
	case errors.Is(err, ErrInvalidQuery):
		out.Kind = domain.FailureInvalidQuery
	case errors.Is(err, qbt.ErrTransport):
		out.Kind = domain.FailureTransport
	default:
		out.Kind = domain.FailureInternal
	}
	return out
}

// EnvelopeFor converts an error returned by Service.Search into the error
// envelope reported to callers.
func EnvelopeFor(err error) domain.ErrorEnvelope {
	if err == nil {
		return domain.ErrorEnvelope{}
	}
	return classify(err, "").Envelope()
}
