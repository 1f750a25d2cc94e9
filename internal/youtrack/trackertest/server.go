// Package trackertest provides an in-process fake of the tracker REST API for
// tests: login, issue creation and command execution, with scripted failures
// and a log of every request received.
package trackertest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// authCookie mirrors youtrack.AuthCookie; duplicated to keep this package
// free of the client it tests.
const authCookie = "jetbrains.charisma.main.security.PRINCIPAL"

// Request is a request received by the fake tracker.
type Request struct {
	Method  string
	Path    string
	Form    url.Values
	Cookies map[string]string
}

// Server is a fake tracker backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	username      string
	password      string
	project       string
	loginStatus   int
	createStatus  int
	commandStatus func(command string) int
	cookieMaxAge  int
	omitLocation  bool
	omitCookie    bool
	sessions      map[string]bool
	nextIssue     int
	requests      []Request
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials makes login succeed only for username and password.
func WithCredentials(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// WithLoginStatus forces every login to answer with status.
func WithLoginStatus(status int) Option {
	return func(s *Server) {
		s.loginStatus = status
	}
}

// WithCreateStatus forces every issue creation to answer with status.
func WithCreateStatus(status int) Option {
	return func(s *Server) {
		s.createStatus = status
	}
}

// WithCommandStatus decides the status of each command execution.
func WithCommandStatus(fn func(command string) int) Option {
	return func(s *Server) {
		s.commandStatus = fn
	}
}

// WithCookieMaxAge sets Max-Age on the auth cookie.
func WithCookieMaxAge(seconds int) Option {
	return func(s *Server) {
		s.cookieMaxAge = seconds
	}
}

// WithoutLocation answers issue creation without a Location header.
func WithoutLocation() Option {
	return func(s *Server) {
		s.omitLocation = true
	}
}

// WithoutAuthCookie makes login succeed without setting the auth cookie.
func WithoutAuthCookie() Option {
	return func(s *Server) {
		s.omitCookie = true
	}
}

// New starts a fake tracker that is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		project:      "PRJ",
		loginStatus:  http.StatusOK,
		createStatus: http.StatusCreated,
		commandStatus: func(string) int {
			return http.StatusOK
		},
		sessions: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Post("/rest/user/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Put("/rest/issue", s.handleCreate)
		r.Post("/rest/issue/{issueID}/execute", s.handleExecute)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the server URL parsed.
func (s *Server) Endpoint() *url.URL {
	u, _ := url.Parse(s.URL)
	return u
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the requests whose path ends with suffix.
func (s *Server) RequestsTo(method, suffix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, suffix) {
			out = append(out, r)
		}
	}
	return out
}

// Logins returns the login requests.
func (s *Server) Logins() []Request {
	return s.RequestsTo(http.MethodPost, "/rest/user/login")
}

// Creates returns the issue creation requests.
func (s *Server) Creates() []Request {
	return s.RequestsTo(http.MethodPut, "/rest/issue")
}

// Commands returns the command execution requests.
func (s *Server) Commands() []Request {
	return s.RequestsTo(http.MethodPost, "/execute")
}

// ExpireSessions invalidates every issued session server-side.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		req := Request{
			Method:  r.Method,
			Path:    r.URL.Path,
			Form:    r.PostForm,
			Cookies: make(map[string]string),
		}
		for _, c := range r.Cookies() {
			req.Cookies[c.Name] = c.Value
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(authCookie)
		s.mu.Lock()
		ok := err == nil && s.sessions[c.Value]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loginStatus != http.StatusOK {
		http.Error(w, "login rejected", s.loginStatus)
		return
	}
	if s.username != "" && (r.PostForm.Get("login") != s.username || r.PostForm.Get("password") != s.password) {
		http.Error(w, "incorrect login or password", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: uuid.NewString(), Path: "/"})
	if !s.omitCookie {
		token := uuid.NewString()
		s.sessions[token] = true
		http.SetCookie(w, &http.Cookie{Name: authCookie, Value: token, Path: "/", MaxAge: s.cookieMaxAge})
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte("<login>ok</login>"))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createStatus != http.StatusCreated {
		http.Error(w, "cannot create issue", s.createStatus)
		return
	}
	if r.PostForm.Get("project") == "" || r.PostForm.Get("summary") == "" {
		http.Error(w, "project and summary are required", http.StatusBadRequest)
		return
	}

	s.nextIssue++
	if !s.omitLocation {
		w.Header().Set("Location", fmt.Sprintf("%s/rest/issue/%s-%d", s.URL, r.PostForm.Get("project"), s.nextIssue))
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.commandStatus(r.PostForm.Get("command"))
	s.mu.Unlock()

	if status < 200 || status > 299 {
		http.Error(w, "command failed for "+chi.URLParam(r, "issueID"), status)
		return
	}
	w.WriteHeader(status)
}
