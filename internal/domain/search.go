package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultCategory   = "all"
	DefaultPlugins    = "all"
	DefaultMaxSizeGB  = 5.0
	DefaultPageLimit  = 100
	DefaultTopResults = 10

	bytesPerGiB = 1 << 30
)

// MaxSizeUnset marks a query without an explicit size ceiling. Zero is a real
// ceiling that only admits empty payloads.
const MaxSizeUnset int64 = -1

type SearchQuery struct {
	Pattern      string
	Category     string
	Plugins      string
	MaxSizeBytes int64
	Limit        int
	Offset       int
}

// GBToBytes converts a size ceiling given in (binary) gigabytes to bytes,
// truncating fractions. Negative and NaN inputs clamp to zero.
func GBToBytes(gb float64) int64 {
	if math.IsNaN(gb) || gb <= 0 {
		return 0
	}
	value := gb * bytesPerGiB
	if value >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(value)
}

func NewSearchQuery(pattern string) SearchQuery {
	return SearchQuery{
		Pattern:      pattern,
		Category:     DefaultCategory,
		Plugins:      DefaultPlugins,
		MaxSizeBytes: GBToBytes(DefaultMaxSizeGB),
		Limit:        DefaultPageLimit,
	}
}

// WithDefaults fills unset optional fields. A MaxSizeBytes of zero is kept.
func (q SearchQuery) WithDefaults() SearchQuery {
	if strings.TrimSpace(q.Category) == "" {
		q.Category = DefaultCategory
	}
	if strings.TrimSpace(q.Plugins) == "" {
		q.Plugins = DefaultPlugins
	}
	if q.MaxSizeBytes < 0 {
		q.MaxSizeBytes = GBToBytes(DefaultMaxSizeGB)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// JobID is the opaque search handle assigned by the remote service. It keeps
// the textual form of whatever the service sent, so numeric ids are echoed
// back as JSON numbers. A numeric 0 decodes as missing, the string "0" does not.
type JobID string

func (id JobID) String() string {
	return string(id)
}

func (id JobID) IsZero() bool {
	return id == ""
}

func (id JobID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *JobID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = JobID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("job id must be a string or a number")
	}
	if f, err := n.Float64(); err == nil && f == 0 {
		*id = ""
		return nil
	}
	*id = JobID(n.String())
	return nil
}

type SearchJob struct {
	ID    JobID
	Query SearchQuery
}

type JobStatus string

const (
	JobStatusRunning JobStatus = "Running"
	JobStatusStopped JobStatus = "Stopped"
)

// IsStopped reports whether the remote job has finished. Unknown or absent
// values count as still running.
func (s JobStatus) IsStopped() bool {
	return s == JobStatusStopped
}

// TorrentResult is one row of a remote result page. The record is passed
// through untouched; only fileSize and nbSeeders are ever inspected.
type TorrentResult map[string]any

func (r TorrentResult) FileSize() int64 {
	return r.intField("fileSize")
}

func (r TorrentResult) Seeders() int64 {
	return r.intField("nbSeeders")
}

func (r TorrentResult) FileName() string {
	value, _ := r["fileName"].(string)
	return value
}

func (r TorrentResult) intField(key string) int64 {
	switch v := r[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

type PollOutcome struct {
	Status  JobStatus       `json:"status"`
	Results []TorrentResult `json:"results"`
	Total   int             `json:"total"`
}

// ResultEnvelope is the successful outcome of a search operation.
type ResultEnvelope struct {
	SearchID        JobID           `json:"search_id"`
	Pattern         string          `json:"pattern"`
	TotalResults    int             `json:"total_results"`
	FilteredResults int             `json:"filtered_results"`
	Results         []TorrentResult `json:"results"`
}

type FailureKind string

const (
	FailureAuth          FailureKind = "auth_failure"
	FailureLaunch        FailureKind = "launch_failure"
	FailurePoll          FailureKind = "poll_failure"
	FailurePollTimeout   FailureKind = "poll_timeout"
	FailureTransport     FailureKind = "transport_error"
	FailureInvalidQuery  FailureKind = "invalid_query"
	FailureCanceled      FailureKind = "canceled"
	FailureNotConfigured FailureKind = "not_configured"
	FailureInternal      FailureKind = "internal_error"
)

// ErrorEnvelope is the structured failure returned in place of a
// ResultEnvelope.
type ErrorEnvelope struct {
	Error      string      `json:"error"`
	Kind       FailureKind `json:"kind"`
	SearchID   JobID       `json:"search_id,omitempty"`
	Status     JobStatus   `json:"status,omitempty"`
	HTTPStatus int         `json:"http_status,omitempty"`
	Response   string      `json:"response,omitempty"`
}

// SearchOutcome holds exactly one of Result or Failure.
type SearchOutcome struct {
	Result  *ResultEnvelope
	Failure *ErrorEnvelope
}

func (o SearchOutcome) OK() bool {
	return o.Failure == nil && o.Result != nil
}

// PollAttempt describes one finished poll round trip.
type PollAttempt struct {
	SearchID JobID     `json:"search_id"`
	Attempt  int       `json:"attempt"`
	Status   JobStatus `json:"status,omitempty"`
	Results  int       `json:"results"`
	State    string    `json:"state"`
}

type SearchEventType string

const (
	SearchEventAttempt SearchEventType = "attempt"
	SearchEventResult  SearchEventType = "result"
	SearchEventError   SearchEventType = "error"
)

// SearchEvent is one message of a streamed search: attempts first, then a
// single result or error.
type SearchEvent struct {
	Type    SearchEventType
	Attempt *PollAttempt
	Result  *ResultEnvelope
	Failure *ErrorEnvelope
}
