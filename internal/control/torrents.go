package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/qbt"
	"torrentstream/qbtcontrol/internal/telemetry"
)

// AddTorrents uploads each file in its own request and submits all URLs
// (magnets or links) in one more. Items are reported in input order: files
// first, then the URL batch.
func (s *Service) AddTorrents(ctx context.Context, files []domain.TorrentFile, urls []string) (result domain.CommandResult, err error) {
	cleanedURLs := make([]string, 0, len(urls))
	for _, raw := range urls {
		if raw = strings.TrimSpace(raw); raw != "" {
			cleanedURLs = append(cleanedURLs, raw)
		}
	}
	if len(files) == 0 && len(cleanedURLs) == 0 {
		return domain.CommandResult{}, fmt.Errorf("%w: no torrent files or urls provided", domain.ErrInvalidArgument)
	}

	const name = "add_torrents"
	ctx, span := telemetry.Tracer().Start(ctx, "command."+name)
	defer span.End()
	start := time.Now()
	defer func() { s.observe(name, start, result, err) }()

	session, rejected, err := s.login(ctx)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if rejected != nil {
		return *rejected, nil
	}

	items := make([]domain.ItemResult, len(files), len(files)+1)
	sem := semaphore.NewWeighted(s.uploadConcurrency)
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file domain.TorrentFile) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				items[i] = domain.ItemResult{Name: file.Name, Message: err.Error()}
				return
			}
			defer sem.Release(1)
			items[i] = s.uploadFile(ctx, session, file)
		}(i, file)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return domain.CommandResult{}, err
	}

	if len(cleanedURLs) > 0 {
		items = append(items, s.submitURLs(ctx, session, cleanedURLs))
	}

	added := 0
	for _, item := range items {
		if item.OK {
			added++
		}
	}
	return domain.CommandResult{
		OK:      added == len(items),
		Message: fmt.Sprintf("added %d of %d", added, len(items)),
		Items:   items,
	}, nil
}

func (s *Service) uploadFile(ctx context.Context, session *qbt.Session, file domain.TorrentFile) domain.ItemResult {
	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = "upload.torrent"
	}
	if len(file.Content) == 0 {
		return domain.ItemResult{Name: name, Message: "empty torrent file: " + name}
	}
	resp, err := s.client.Do(ctx, session, qbt.Request{
		Method: http.MethodPost,
		Path:   PathTorrentsAdd,
		Files:  []qbt.FormFile{{Field: "torrents", Name: name, Content: file.Content}},
	})
	if err != nil {
		s.logger.Warn("torrent upload failed", slog.String("file", name), slog.String("error", err.Error()))
		return domain.ItemResult{Name: name, Message: fmt.Sprintf("failed to add torrent file %s: %v", name, err)}
	}
	return addItemResult(name, "torrent file "+name, resp.StatusCode)
}

func (s *Service) submitURLs(ctx context.Context, session *qbt.Session, urls []string) domain.ItemResult {
	const name = "urls"
	form := url.Values{}
	form.Set("urls", strings.Join(urls, "\n"))
	resp, err := s.client.Do(ctx, session, postForm(PathTorrentsAdd, form))
	if err != nil {
		return domain.ItemResult{Name: name, Message: fmt.Sprintf("failed to add %d urls: %v", len(urls), err)}
	}
	return addItemResult(name, fmt.Sprintf("%d urls", len(urls)), resp.StatusCode)
}

func addItemResult(name, subject string, status int) domain.ItemResult {
	item := domain.ItemResult{Name: name, HTTPStatus: status}
	switch {
	case status >= 200 && status < 300:
		item.OK = true
		item.Message = "added " + subject
	case status == http.StatusUnsupportedMediaType:
		item.Message = "invalid " + subject
	default:
		item.Message = fmt.Sprintf("failed to add %s: status code %d", subject, status)
	}
	return item
}

func (s *Service) DeleteTorrents(ctx context.Context, hashes []string, deleteFiles bool) (domain.CommandResult, error) {
	joined, err := joinHashes(hashes)
	if err != nil {
		return domain.CommandResult{}, err
	}
	form := url.Values{}
	form.Set("hashes", joined)
	form.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	return s.execute(ctx, command{
		name:    "delete_torrents",
		request: postForm(PathTorrentsDelete, form),
		failure: "failed to delete torrents",
		success: ok(hashesMessage("deleted", joined)),
	})
}

func (s *Service) PauseTorrents(ctx context.Context, hashes []string) (domain.CommandResult, error) {
	joined, err := joinHashes(hashes)
	if err != nil {
		return domain.CommandResult{}, err
	}
	form := url.Values{}
	form.Set("hashes", joined)
	return s.execute(ctx, command{
		name:    "pause_torrents",
		request: postForm(PathTorrentsStop, form),
		failure: "failed to pause torrents",
		success: ok(hashesMessage("paused", joined)),
	})
}

func (s *Service) ResumeTorrents(ctx context.Context, hashes []string) (domain.CommandResult, error) {
	joined, err := joinHashes(hashes)
	if err != nil {
		return domain.CommandResult{}, err
	}
	form := url.Values{}
	form.Set("hashes", joined)
	return s.execute(ctx, command{
		name:    "resume_torrents",
		request: postForm(PathTorrentsStart, form),
		failure: "failed to resume torrents",
		success: ok(hashesMessage("resumed", joined)),
	})
}

func hashesMessage(verb, joined string) string {
	if joined == "all" {
		return verb + " all torrents"
	}
	return verb + " torrents: " + joined
}

// TrackerURLs lists the real tracker URLs of a torrent. Data holds the URLs
// as a JSON array.
func (s *Service) TrackerURLs(ctx context.Context, hash string) (domain.CommandResult, error) {
	hash, err := requireHash(hash)
	if err != nil {
		return domain.CommandResult{}, err
	}
	query := url.Values{}
	query.Set("hash", hash)
	return s.execute(ctx, command{
		name:    "tracker_urls",
		request: qbt.Request{Method: http.MethodGet, Path: PathTorrentsTrackers, Query: query},
		failure: "failed to get torrent trackers",
		success: func(resp qbt.Response) (domain.CommandResult, error) {
			var trackers []domain.Tracker
			if err := resp.DecodeJSON(&trackers); err != nil {
				return domain.CommandResult{}, err
			}
			urls := FilterTrackerURLs(trackers)
			data, err := json.Marshal(urls)
			if err != nil {
				return domain.CommandResult{}, err
			}
			message := strings.Join(urls, ",")
			switch {
			case len(trackers) == 0:
				message = "torrent has no trackers"
			case len(urls) == 0:
				message = "torrent has no valid tracker URLs"
			}
			return domain.CommandResult{OK: true, Message: message, Data: data}, nil
		},
	})
}

// FilterTrackerURLs drops the pseudo trackers and empty URLs, keeping order.
func FilterTrackerURLs(trackers []domain.Tracker) []string {
	urls := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		if tracker.URL == "" || strings.HasPrefix(tracker.URL, pseudoTrackerPrefix) {
			continue
		}
		urls = append(urls, tracker.URL)
	}
	return urls
}

func (s *Service) AddTrackers(ctx context.Context, hash string, trackers []string) (domain.CommandResult, error) {
	hash, err := requireHash(hash)
	if err != nil {
		return domain.CommandResult{}, err
	}
	cleaned := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		if tracker = strings.TrimSpace(tracker); tracker != "" {
			cleaned = append(cleaned, tracker)
		}
	}
	if len(cleaned) == 0 {
		return domain.CommandResult{}, fmt.Errorf("%w: at least one tracker url is required", domain.ErrInvalidArgument)
	}
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("urls", strings.Join(cleaned, "\n"))
	return s.execute(ctx, command{
		name:    "add_trackers",
		request: postForm(PathTorrentsAddTrackers, form),
		failure: "failed to add trackers",
		success: ok(fmt.Sprintf("added %d trackers to %s", len(cleaned), hash)),
	})
}

func (s *Service) AddTags(ctx context.Context, hashes []string, tags []string) (domain.CommandResult, error) {
	joined, err := joinHashes(hashes)
	if err != nil {
		return domain.CommandResult{}, err
	}
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if len(cleaned) == 0 {
		return domain.CommandResult{}, fmt.Errorf("%w: at least one tag is required", domain.ErrInvalidArgument)
	}
	form := url.Values{}
	form.Set("hashes", joined)
	form.Set("tags", strings.Join(cleaned, ","))
	return s.execute(ctx, command{
		name:    "add_tags",
		request: postForm(PathTorrentsAddTags, form),
		failure: "failed to add torrent tags",
		success: ok(fmt.Sprintf("tagged %s: %s", joined, strings.Join(cleaned, ","))),
	})
}

// SetFilePriority sets the priority of files addressed by their position in
// the torrent's content list.
func (s *Service) SetFilePriority(ctx context.Context, hash string, fileIDs []int, priority domain.FilePriority) (domain.CommandResult, error) {
	hash, err := requireHash(hash)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if !priority.Valid() {
		return domain.CommandResult{}, fmt.Errorf("%w: priority must be one of 0, 1, 6, 7", domain.ErrInvalidArgument)
	}
	if len(fileIDs) == 0 {
		return domain.CommandResult{}, fmt.Errorf("%w: at least one file id is required", domain.ErrInvalidArgument)
	}
	ids := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		if id < 0 {
			return domain.CommandResult{}, fmt.Errorf("%w: file id %d is negative", domain.ErrInvalidArgument, id)
		}
		ids = append(ids, strconv.Itoa(id))
	}
	joinedIDs := strings.Join(ids, "|")
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("id", joinedIDs)
	form.Set("priority", strconv.Itoa(int(priority)))
	return s.execute(ctx, command{
		name:    "set_file_priority",
		request: postForm(PathTorrentsFilePrio, form),
		failure: "failed to set file priority",
		success: ok(fmt.Sprintf("set file priority %s:%s:%d", hash, joinedIDs, priority)),
	})
}

func (s *Service) SetTorrentDownloadLimit(ctx context.Context, hashes []string, limit int64) (domain.CommandResult, error) {
	return s.setTorrentLimit(ctx, "set_torrent_download_limit", PathTorrentsDownloadLimit, "download", hashes, limit)
}

func (s *Service) SetTorrentUploadLimit(ctx context.Context, hashes []string, limit int64) (domain.CommandResult, error) {
	return s.setTorrentLimit(ctx, "set_torrent_upload_limit", PathTorrentsUploadLimit, "upload", hashes, limit)
}

func (s *Service) setTorrentLimit(ctx context.Context, name, path, direction string, hashes []string, limit int64) (domain.CommandResult, error) {
	joined, err := joinHashes(hashes)
	if err != nil {
		return domain.CommandResult{}, err
	}
	if err := requireLimit(limit); err != nil {
		return domain.CommandResult{}, err
	}
	form := url.Values{}
	form.Set("hashes", joined)
	form.Set("limit", strconv.FormatInt(limit, 10))
	return s.execute(ctx, command{
		name:    name,
		request: postForm(path, form),
		failure: "failed to set torrent " + direction + " limit",
		success: ok(fmt.Sprintf("set torrent %s limit %s:%d", direction, joined, limit)),
	})
}

// ListTorrents returns the raw torrent list in Data.
func (s *Service) ListTorrents(ctx context.Context) (domain.CommandResult, error) {
	return s.execute(ctx, command{
		name:    "list_torrents",
		request: qbt.Request{Method: http.MethodGet, Path: PathTorrentsInfo},
		failure: "failed to get torrent list",
		success: func(resp qbt.Response) (domain.CommandResult, error) {
			var torrents []json.RawMessage
			if err := resp.DecodeJSON(&torrents); err != nil {
				return domain.CommandResult{}, err
			}
			if torrents == nil {
				torrents = []json.RawMessage{}
			}
			data, err := json.Marshal(torrents)
			if err != nil {
				return domain.CommandResult{}, err
			}
			return domain.CommandResult{
				OK:      true,
				Message: fmt.Sprintf("%d torrents", len(torrents)),
				Data:    data,
			}, nil
		},
	})
}
