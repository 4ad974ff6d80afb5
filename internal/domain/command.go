package domain

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotConfigured   = errors.New("connection is not configured")
	ErrInvalidArgument = errors.New("invalid argument")
)

// CommandResult is the outcome of a one-shot command against the remote
// service. OK is false for login failures and non-success statuses.
type CommandResult struct {
	OK         bool            `json:"ok"`
	Message    string          `json:"message"`
	HTTPStatus int             `json:"httpStatus,omitempty"`
	Items      []ItemResult    `json:"items,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ItemResult reports one entry of a multi-item command such as adding
// several torrent files.
type ItemResult struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
}

// TorrentFile is a .torrent payload to upload. The content is sent as is.
type TorrentFile struct {
	Name    string
	Content []byte
}

type Tracker struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

type FilePriority int

const (
	FilePrioritySkip    FilePriority = 0
	FilePriorityNormal  FilePriority = 1
	FilePriorityHigh    FilePriority = 6
	FilePriorityMaximal FilePriority = 7
)

func (p FilePriority) Valid() bool {
	switch p {
	case FilePrioritySkip, FilePriorityNormal, FilePriorityHigh, FilePriorityMaximal:
		return true
	default:
		return false
	}
}
