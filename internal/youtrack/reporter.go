package youtrack

//go:generate mockgen -source=reporter.go -destination=mocks/mocks.go -package=mocks Reporter,HTTPDoer

import (
	"context"
	"net/http"
	"net/url"
)

// Tracker REST contract.
const (
	IssuePath  = "/rest/issue"
	LoginPath  = "/rest/user/login"
	AuthCookie = "jetbrains.charisma.main.security.PRINCIPAL"
)

// Reporter creates issues and runs commands against them.
//
// Implementations that own resources (connections, secrets) additionally
// implement io.Closer; the sink releases them on shutdown only when they do.
type Reporter interface {
	// CreateIssue creates an issue and returns its location. When issueType
	// is non-empty it is applied with a "type" command before returning.
	CreateIssue(ctx context.Context, project, summary, description, issueType string) (*url.URL, error)

	// ExecuteAgainstIssue runs a tracker command against issue, adding comment
	// when non-empty. It returns issue so calls can be chained.
	ExecuteAgainstIssue(ctx context.Context, issue *url.URL, command, comment string) (*url.URL, error)
}

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
