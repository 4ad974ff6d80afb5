package search

import (
	"context"
	"net/http"
	"net/url"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
)

const (
	PathSearchStart   = "/api/v2/search/start"
	PathSearchResults = "/api/v2/search/results"
)

// Gateway performs one authenticated request. *qbt.Client implements it.
type Gateway interface {
	Do(ctx context.Context, session *qbt.Session, request qbt.Request) (qbt.Response, error)
}

// Launcher submits search jobs. It never retries.
type Launcher struct {
	gateway Gateway
}

func NewLauncher(gateway Gateway) *Launcher {
	return &Launcher{gateway: gateway}
}

type startResponse struct {
	ID domain.JobID `json:"id"`
}

func (l *Launcher) Start(ctx context.Context, session *qbt.Session, query domain.SearchQuery) (domain.SearchJob, error) {
	form := url.Values{}
	form.Set("pattern", query.Pattern)
	form.Set("category", query.Category)
	form.Set("plugins", query.Plugins)

	resp, err := l.gateway.Do(ctx, session, qbt.Request{
		Method: http.MethodPost,
		Path:   PathSearchStart,
		Form:   form,
	})
	if err != nil {
		return domain.SearchJob{}, err
	}
	if !resp.OK() {
		return domain.SearchJob{}, &OperationError{
			Kind:       domain.FailureLaunch,
			HTTPStatus: resp.StatusCode,
			Response:   resp.Preview(),
			Err:        ErrLaunchFailed,
		}
	}

	var payload startResponse
	if err := resp.DecodeJSON(&payload); err != nil {
		return domain.SearchJob{}, err
	}
	if payload.ID.IsZero() {
		return domain.SearchJob{}, &OperationError{
			Kind:     domain.FailureLaunch,
			Response: resp.Preview(),
			Err:      ErrJobIDMissing,
		}
	}
	return domain.SearchJob{ID: payload.ID, Query: query}, nil
}
