// Package youtrack implements the issue reporting client for a YouTrack
// tracker: cookie-session login, issue creation and command execution.
//
// Bulk import is not supported: it needs low-level update access that a
// logging account should not hold.
package youtrack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"issuesink/internal/tracer"
	dErrors "issuesink/pkg/domain-errors"
	"issuesink/pkg/secrets"
)

const (
	defaultTimeout = 30 * time.Second
	// maxErrorBody caps how much of a failed response is kept for diagnostics.
	maxErrorBody  = 64 << 10
	formMediaType = "application/x-www-form-urlencoded"
)

// Client is an HTTP Reporter. CreateIssue re-authenticates transparently when
// the session cookie is missing or expired. Safe for concurrent use; the
// session check-then-login runs under a mutex so concurrent callers never
// race into duplicate logins.
type Client struct {
	username string
	secret   *secrets.Secret
	endpoint *url.URL

	httpClient      HTTPDoer
	timeout         time.Duration
	logger          *slog.Logger
	tracer          tracer.Tracer
	now             func() time.Time
	authImmediately bool

	mu      sync.Mutex
	session session

	closeOnce sync.Once
	closed    bool
}

var (
	_ Reporter  = (*Client)(nil)
	_ io.Closer = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing or shared transports).
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// WithTimeout sets the request timeout of the default HTTP client. It has no
// effect together with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracer sets the tracer for tracker calls.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithClock overrides the clock used for cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithAuthImmediately logs in during New. If the login fails the client is
// closed (connections released, secret destroyed) and New returns the error.
func WithAuthImmediately() Option {
	return func(c *Client) {
		c.authImmediately = true
	}
}

// New creates a Client for the tracker at endpoint. The client takes
// ownership of secret and destroys it on Close.
func New(username string, secret *secrets.Secret, endpoint *url.URL, opts ...Option) (*Client, error) {
	if username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "username is required")
	}
	if secret == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "secret is required")
	}
	if endpoint == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "endpoint is required")
	}
	if !endpoint.IsAbs() || endpoint.Host == "" {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "endpoint %q must be an absolute URL", endpoint.String())
	}

	c := &Client{
		username: username,
		secret:   secret,
		endpoint: endpoint,
		timeout:  defaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
		tracer:   tracer.NewNoop(),
		now:      time.Now,
		session:  newSession(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	if c.authImmediately {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.Authenticate(ctx); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}
	return c, nil
}

// Endpoint returns the tracker base URL.
func (c *Client) Endpoint() *url.URL {
	u := *c.endpoint
	return &u
}

// SessionState reports the current authentication state.
func (c *Client) SessionState() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.state(c.now())
}

// Authenticate ensures a valid session, logging in only when the auth cookie
// is missing or expired.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return dErrors.New(dErrors.CodeClosed, "client is closed")
	}
	if c.session.state(c.now()) == SessionValid {
		return nil
	}
	return c.login(ctx)
}

// login must be called with c.mu held.
func (c *Client) login(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLogin, tracer.String(tracer.AttrLogin, tracer.HashIdentity(c.username)))
	defer func() { span.End(err) }()

	target := c.resolve(LoginPath)
	var resp *response
	err = c.secret.Use(func(password []byte) error {
		body := encodeForm(field("login", c.username), formField{key: "password", value: password})
		defer secrets.Zero(body)

		var doErr error
		resp, doErr = c.send(ctx, http.MethodPost, target, body, false)
		return doErr
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTransport, "authenticate")
	}
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, resp.statusCode))

	if !resp.success() {
		return dErrors.Remote(dErrors.CodeUnauthorized, resp.remoteError("Authenticating"))
	}

	now := c.now()
	c.session.reset()
	c.session.merge(resp.cookies, now)
	if c.session.state(now) != SessionValid {
		c.logger.Warn("login succeeded without an auth cookie", "endpoint", c.endpoint.String())
	} else {
		c.logger.Debug("authenticated against tracker", "endpoint", c.endpoint.String())
	}
	return nil
}

// CreateIssue implements Reporter.
func (c *Client) CreateIssue(ctx context.Context, project, summary, description, issueType string) (issue *url.URL, err error) {
	if project == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "project is required")
	}
	if summary == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "summary is required")
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanCreateIssue,
		tracer.String(tracer.AttrProject, project),
		tracer.String(tracer.AttrIssueType, issueType),
	)
	defer func() { span.End(err) }()

	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	body := encodeForm(field("project", project), field("summary", summary), field("description", description))
	resp, err := c.send(ctx, http.MethodPut, c.resolve(IssuePath), body, true)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "create issue")
	}
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, resp.statusCode))

	if resp.statusCode != http.StatusCreated {
		return nil, dErrors.Remote(dErrors.CodeCreation, resp.remoteError("Creating issue"))
	}

	location := resp.header.Get("Location")
	if location == "" {
		return nil, dErrors.New(dErrors.CodeCreation, "issue created without a Location header")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCreation, "parse issue location")
	}
	issue = c.endpoint.ResolveReference(ref)
	span.AddEvent(tracer.EventIssueCreated, tracer.String(tracer.AttrIssue, issue.String()))

	if issueType != "" {
		if _, err := c.ExecuteAgainstIssue(ctx, issue, "type "+issueType, ""); err != nil {
			return nil, err
		}
	}
	return issue, nil
}

// ExecuteAgainstIssue implements Reporter. It does not refresh the session;
// it relies on the session established by CreateIssue.
func (c *Client) ExecuteAgainstIssue(ctx context.Context, issue *url.URL, command, comment string) (_ *url.URL, err error) {
	if issue == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issue is required")
	}
	if command == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "command is required")
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanExecute,
		tracer.String(tracer.AttrIssue, issue.String()),
		tracer.String(tracer.AttrCommand, command),
	)
	defer func() { span.End(err) }()

	fields := []formField{field("command", command)}
	if comment != "" {
		fields = append(fields, field("comment", comment))
	}

	target := c.endpoint.ResolveReference(&url.URL{Path: strings.TrimSuffix(issue.Path, "/") + "/execute"})
	resp, err := c.send(ctx, http.MethodPost, target, encodeForm(fields...), true)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, fmt.Sprintf("execute command %q", command))
	}
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, resp.statusCode))

	if !resp.success() {
		return nil, dErrors.Remote(dErrors.CodeCommand, resp.remoteError(fmt.Sprintf("Executing command %q", command)))
	}
	return issue, nil
}

// Close releases idle connections and destroys the secret. Safe to call more
// than once; only the first call has an effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.session.reset()
		c.mu.Unlock()

		c.secret.Destroy()
		if ic, ok := c.httpClient.(interface{ CloseIdleConnections() }); ok {
			ic.CloseIdleConnections()
		}
	})
	return nil
}

func (c *Client) resolve(path string) *url.URL {
	return c.endpoint.JoinPath(path)
}

// response is a fully read tracker response.
type response struct {
	url        string
	statusCode int
	status     string
	header     http.Header
	cookies    []*http.Cookie
	body       []byte
}

func (r *response) success() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

func (r *response) remoteError(operation string) *dErrors.RemoteError {
	reason := strings.TrimSpace(strings.TrimPrefix(r.status, fmt.Sprint(r.statusCode)))
	if reason == "" {
		reason = http.StatusText(r.statusCode)
	}
	return &dErrors.RemoteError{
		Operation:  operation,
		URL:        r.url,
		StatusCode: r.statusCode,
		Reason:     reason,
		Body:       string(r.body),
	}
}

// send performs one form request. withSession attaches the session cookies.
func (c *Client) send(ctx context.Context, method string, target *url.URL, body []byte, withSession bool) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", formMediaType)
	req.Header.Set("Accept", "application/json")

	if withSession {
		c.mu.Lock()
		c.session.attach(req, c.now())
		c.mu.Unlock()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTransport, "request timeout")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransport, "read response")
	}

	cookies := resp.Cookies()
	if withSession && len(cookies) > 0 {
		c.mu.Lock()
		c.session.merge(cookies, c.now())
		c.mu.Unlock()
	}

	return &response{
		url:        target.String(),
		statusCode: resp.StatusCode,
		status:     resp.Status,
		header:     resp.Header,
		cookies:    cookies,
		body:       data,
	}, nil
}
