package control

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
)

// SetGlobalDownloadLimit sets the global download limit in bytes per
// second; zero removes it.
func (s *Service) SetGlobalDownloadLimit(ctx context.Context, limit int64) (domain.CommandResult, error) {
	return s.setGlobalLimit(ctx, "set_global_download_limit", PathTransferDownloadLimit, limit)
}

func (s *Service) SetGlobalUploadLimit(ctx context.Context, limit int64) (domain.CommandResult, error) {
	return s.setGlobalLimit(ctx, "set_global_upload_limit", PathTransferUploadLimit, limit)
}

func (s *Service) setGlobalLimit(ctx context.Context, name, path string, limit int64) (domain.CommandResult, error) {
	if err := requireLimit(limit); err != nil {
		return domain.CommandResult{}, err
	}
	form := url.Values{}
	form.Set("limit", strconv.FormatInt(limit, 10))
	return s.execute(ctx, command{
		name:    name,
		request: postForm(path, form),
		failure: "failed to set speed limit",
		success: ok(fmt.Sprintf("set speed limit: %d", limit)),
	})
}

// Version reports the remote application version as the message.
func (s *Service) Version(ctx context.Context) (domain.CommandResult, error) {
	return s.execute(ctx, command{
		name:    "app_version",
		request: qbt.Request{Method: http.MethodGet, Path: PathAppVersion},
		failure: "failed to get application version",
		success: func(resp qbt.Response) (domain.CommandResult, error) {
			return domain.CommandResult{OK: true, Message: strings.TrimSpace(string(resp.Body))}, nil
		},
	})
}
