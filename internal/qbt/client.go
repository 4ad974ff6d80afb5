package qbt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"torrentstream/qbtcontrol/internal/domain"
	"torrentstream/qbtcontrol/internal/metrics"
)

const (
	defaultUserAgent  = "qbtcontrol/1.0"
	maxResponseBytes  = 8 * 1024 * 1024
	errorPreviewBytes = 2048

	PathLogin = "/api/v2/auth/login"
)

var (
	ErrAuthFailed = errors.New("login failed")
	ErrTransport  = errors.New("transport error")
)

type Config struct {
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

// Client talks to the qBittorrent WebUI API v2. It keeps no session state:
// every Login returns a new Session with its own cookie jar.
type Client struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

type Credentials struct {
	Host     string
	Username string
	Password string
}

func CredentialsFromSettings(s domain.ConnectionSettings) Credentials {
	s = s.Normalize()
	return Credentials{Host: s.Host, Username: s.Username, Password: s.Password}
}

// Session is the credential obtained from Login. It must be attached to
// every later request of the same operation and then discarded.
type Session struct {
	baseURL string
	client  *http.Client
}

func (s *Session) BaseURL() string {
	if s == nil {
		return ""
	}
	return s.baseURL
}

type FormFile struct {
	Field       string
	Name        string
	ContentType string
	Content     []byte
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	Files  []FormFile
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Preview returns the body truncated for error messages.
func (r Response) Preview() string {
	return CutUTF8(strings.TrimSpace(string(r.Body)), errorPreviewBytes)
}

// CutUTF8 returns at most n bytes of s without splitting a multi-byte rune.
func CutUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DecodeJSON unmarshals the body keeping numbers as json.Number so pass-through
// records survive re-encoding untouched. A malformed body is a transport error.
func (r Response) DecodeJSON(dest any) error {
	decoder := json.NewDecoder(bytes.NewReader(r.Body))
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: decode response body: %v", ErrTransport, err)
	}
	return nil
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:      httpClient,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Login exchanges credentials for a session. Any non-2xx status or transport
// failure is reported as ErrAuthFailed.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	baseURL, err := normalizeBaseURL(creds.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	client := *c.http
	client.Jar = jar
	session := &Session{baseURL: baseURL, client: &client}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)
	resp, err := c.Do(ctx, session, Request{Method: http.MethodPost, Path: PathLogin, Form: form})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	}
	return session, nil
}

// Do performs one request with the session attached. A non-2xx status is
// returned to the caller as is; only transport failures produce an error.
func (c *Client) Do(ctx context.Context, session *Session, request Request) (Response, error) {
	if session == nil || session.client == nil {
		return Response{}, fmt.Errorf("%w: no session", ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	req, err := c.buildRequest(ctx, session.baseURL, request)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	start := time.Now()
	resp, err := session.client.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(request.Path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(request.Path, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		c.logger.Debug("qbt request failed",
			slog.String("method", req.Method),
			slog.String("path", request.Path),
			slog.String("error", err.Error()),
		)
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(request.Path, "error").Inc()
		return Response{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	metrics.RemoteRequestsTotal.WithLabelValues(request.Path, metrics.StatusClass(resp.StatusCode)).Inc()
	c.logger.Debug("qbt request",
		slog.String("method", req.Method),
		slog.String("path", request.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, baseURL string, request Request) (*http.Request, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	target := baseURL + request.Path
	if len(request.Query) > 0 {
		target += "?" + request.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(request.Files) > 0:
		payload, ct, err := encodeMultipart(request.Form, request.Files)
		if err != nil {
			return nil, err
		}
		body = payload
		contentType = ct
	case request.Form != nil:
		body = strings.NewReader(request.Form.Encode())
		contentType = "application/x-www-form-urlencoded; charset=UTF-8"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func encodeMultipart(form url.Values, files []FormFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for key, values := range form {
		for _, value := range values {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", err
			}
		}
	}
	for _, file := range files {
		field := file.Field
		if field == "" {
			field = "torrents"
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/x-bittorrent"
		}
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{
			fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(file.Name)),
		}
		header["Content-Type"] = []string{contentType}
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func normalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", domain.ErrNotConfigured
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid host: %w", err)
	}
	if parsed.Host == "" {
		return "", errors.New("invalid host: missing host")
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}
