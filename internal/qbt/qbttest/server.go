// Package qbttest provides a scripted fake of the qBittorrent WebAPI v2 for
// tests.
package qbttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

const (
	Username = "admin"
	Password = "adminadmin"

	sessionCookie = "SID"
	sessionValue  = "localtoken"
)

// Page is one scripted response of /api/v2/search/results.
type Page struct {
	HTTPStatus int
	Status     string
	Results    []map[string]any
}

type Call struct {
	Method string
	Path   string
	Form   url.Values
	Files  []string
}

// Server is a fake WebUI. Zero-value fields mean "behave like a healthy
// instance".
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// LoginStatus overrides the status of a login with valid credentials.
	LoginStatus int
	// StartStatus overrides the status of /search/start.
	StartStatus int
	// StartBody overrides the JSON body of /search/start.
	StartBody string
	// Pages are served in order; the last page repeats once exhausted.
	Pages []Page
	// Status overrides the response status per path for command endpoints.
	Status map[string]int
	// Trackers is returned by /torrents/trackers.
	Trackers []map[string]any
	// Torrents is returned by /torrents/info.
	Torrents []map[string]any
	Version  string

	calls    []Call
	pageNext int
}

func NewServer() *Server {
	s := &Server{
		Status:  map[string]int{},
		Version: "v5.0.3",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", s.handleLogin)
	mux.HandleFunc("/api/v2/search/start", s.authorized(s.handleSearchStart))
	mux.HandleFunc("/api/v2/search/results", s.authorized(s.handleSearchResults))
	mux.HandleFunc("/api/v2/app/version", s.authorized(s.handleVersion))
	mux.HandleFunc("/api/v2/torrents/trackers", s.authorized(s.handleTrackers))
	mux.HandleFunc("/api/v2/torrents/info", s.authorized(s.handleTorrentsInfo))
	mux.HandleFunc("/", s.authorized(s.handleCommand))
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// Calls returns a copy of every request received, login included.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many requests hit path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call.Path == path {
			n++
		}
	}
	return n
}

// LastCall returns the most recent request to path.
func (s *Server) LastCall(path string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Path == path {
			return s.calls[i], true
		}
	}
	return Call{}, false
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := Call{Method: r.Method, Path: r.URL.Path}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(10 << 20); err == nil {
				call.Form = url.Values(r.MultipartForm.Value)
				for _, headers := range r.MultipartForm.File {
					for _, fh := range headers {
						call.Files = append(call.Files, fh.Filename)
					}
				}
			}
		} else if err := r.ParseForm(); err == nil {
			call.Form = r.Form
		}
		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value != sessionValue {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("username") != Username || r.FormValue("password") != Password {
		http.Error(w, "Fails.", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	status := s.LoginStatus
	s.mu.Unlock()
	if status != 0 && status != http.StatusOK {
		http.Error(w, "login rejected", status)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sessionValue, Path: "/"})
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "Ok.")
}

func (s *Server) handleSearchStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status, body := s.StartStatus, s.StartBody
	s.mu.Unlock()
	if status != 0 && status != http.StatusOK {
		http.Error(w, "search start rejected", status)
		return
	}
	if body == "" {
		body = `{"id":12345}`
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func (s *Server) handleSearchResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var page Page
	if len(s.Pages) > 0 {
		index := s.pageNext
		if index >= len(s.Pages) {
			index = len(s.Pages) - 1
		}
		page = s.Pages[index]
		s.pageNext++
	} else {
		page = Page{Status: "Stopped"}
	}
	s.mu.Unlock()

	if page.HTTPStatus != 0 && page.HTTPStatus != http.StatusOK {
		http.Error(w, "results rejected", page.HTTPStatus)
		return
	}
	results := page.Results
	if results == nil {
		results = []map[string]any{}
	}
	payload := map[string]any{
		"status":  page.Status,
		"results": results,
		"total":   len(results),
	}
	if page.Status == "" {
		delete(payload, "status")
	}
	writeJSON(w, payload)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	version := s.Version
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, version+"\n")
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	if status := s.statusFor(r.URL.Path); status != http.StatusOK {
		http.Error(w, "rejected", status)
		return
	}
	s.mu.Lock()
	trackers := s.Trackers
	s.mu.Unlock()
	if trackers == nil {
		trackers = []map[string]any{}
	}
	writeJSON(w, trackers)
}

func (s *Server) handleTorrentsInfo(w http.ResponseWriter, r *http.Request) {
	if status := s.statusFor(r.URL.Path); status != http.StatusOK {
		http.Error(w, "rejected", status)
		return
	}
	s.mu.Lock()
	torrents := s.Torrents
	s.mu.Unlock()
	if torrents == nil {
		torrents = []map[string]any{}
	}
	writeJSON(w, torrents)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if status := s.statusFor(r.URL.Path); status != http.StatusOK {
		http.Error(w, "rejected", status)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "Ok.")
}

func (s *Server) statusFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.Status[path]; ok && status != 0 {
		return status
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// Result builds a search result row with the two inspected fields set.
func Result(name string, fileSize int64, seeders int) map[string]any {
	return map[string]any{
		"descrLink":  "https://example.org/t/" + name,
		"fileName":   name,
		"fileSize":   fileSize,
		"fileUrl":    "magnet:?xt=urn:btih:" + name,
		"nbLeechers": 1,
		"nbSeeders":  seeders,
		"siteUrl":    "https://example.org",
	}
}
