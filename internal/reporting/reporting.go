// Package reporting holds the policy that turns one log event into one issue
// plus zero or more follow-up commands.
//
// Configuration is two-phase: a mutable Builder collects settings and Build
// produces an immutable Configuration. Only a Configuration can be handed to a
// sink, so a half-configured policy cannot reach the flush path.
package reporting

import (
	"errors"
	"fmt"
	"net/url"

	"issuesink/internal/event"
	"issuesink/internal/template"
	dErrors "issuesink/pkg/domain-errors"
)

// Command is a tracker command to run against a created issue, with an
// optional comment. An empty Comment is omitted from the request.
type Command struct {
	Text    string
	Comment string
}

// CommandFunc produces the command to execute against a freshly created issue.
type CommandFunc func(e event.Event, issue *url.URL) Command

// IssueTypeFunc resolves the issue type for an event. An empty result leaves
// the tracker's project default in place.
type IssueTypeFunc func(e event.Event) string

// CommandProvider is a registered post-creation command together with its
// failure policy.
type CommandProvider struct {
	Resolve CommandFunc
	// FailSilently swallows execution failures so later providers still run.
	FailSilently bool
}

// CommandOption configures a CommandProvider at registration time.
type CommandOption func(*CommandProvider)

// FailSilently sets whether a failing command is logged and skipped (true, the
// default) or aborts the remaining commands for the event (false).
func FailSilently(silent bool) CommandOption {
	return func(p *CommandProvider) {
		p.FailSilently = silent
	}
}

// Builder accumulates reporting settings. Setters chain; invalid arguments are
// recorded and reported together by Build. A Builder is not safe for
// concurrent use.
type Builder struct {
	project     string
	issueType   IssueTypeFunc
	summary     *template.Formatter
	description *template.Formatter
	commands    []CommandProvider
	errs        []error

	// projectErr is kept apart from errs so a later valid UseProject
	// replaces it.
	projectErr error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// UseProject sets the tracker project issues are created in. Required. The
// last call wins, including over an earlier rejected one.
func (b *Builder) UseProject(project string) *Builder {
	if project == "" {
		b.project = ""
		b.projectErr = dErrors.New(dErrors.CodeInvalidInput, "project must not be empty")
		return b
	}
	b.project = project
	b.projectErr = nil
	return b
}

// UseIssueType sets a constant issue type, e.g. "Bug".
func (b *Builder) UseIssueType(issueType string) *Builder {
	if issueType == "" {
		return b.fail(dErrors.New(dErrors.CodeInvalidInput, "issue type must not be empty"))
	}
	b.issueType = func(event.Event) string { return issueType }
	return b
}

// UseIssueTypeFunc resolves the issue type per event.
func (b *Builder) UseIssueTypeFunc(fn IssueTypeFunc) *Builder {
	if fn == nil {
		return b.fail(dErrors.New(dErrors.CodeInvalidInput, "issue type resolver must not be nil"))
	}
	b.issueType = fn
	return b
}

// FormatSummaryWith customizes the issue summary. Defaults to template.DefaultSummary.
func (b *Builder) FormatSummaryWith(tmpl string, opts ...template.Option) *Builder {
	f, err := template.New(tmpl, opts...)
	if err != nil {
		return b.fail(fmt.Errorf("summary: %w", err))
	}
	b.summary = f
	return b
}

// FormatDescriptionWith customizes the issue description. Defaults to
// template.DefaultDescription.
func (b *Builder) FormatDescriptionWith(tmpl string, opts ...template.Option) *Builder {
	f, err := template.New(tmpl, opts...)
	if err != nil {
		return b.fail(fmt.Errorf("description: %w", err))
	}
	b.description = f
	return b
}

// OnIssueCreated registers a command to run against every created issue.
// Registrations run in order and independently of each other's outcome unless
// one registered with FailSilently(false) fails.
func (b *Builder) OnIssueCreated(fn CommandFunc, opts ...CommandOption) *Builder {
	if fn == nil {
		return b.fail(dErrors.New(dErrors.CodeInvalidInput, "command provider must not be nil"))
	}
	p := CommandProvider{Resolve: fn, FailSilently: true}
	for _, opt := range opts {
		opt(&p)
	}
	b.commands = append(b.commands, p)
	return b
}

// UsePriority sets the priority of every created issue.
func (b *Builder) UsePriority(priority string, opts ...CommandOption) *Builder {
	if priority == "" {
		return b.fail(dErrors.New(dErrors.CodeInvalidInput, "priority must not be empty"))
	}
	cmd := Command{Text: "Priority " + priority}
	return b.OnIssueCreated(func(event.Event, *url.URL) Command { return cmd }, opts...)
}

// Build validates the settings and returns an immutable Configuration with
// defaults filled in. It may be called repeatedly.
func (b *Builder) Build() (*Configuration, error) {
	errs := append([]error(nil), b.errs...)
	switch {
	case b.projectErr != nil:
		errs = append(errs, b.projectErr)
	case b.project == "":
		errs = append(errs, errors.New("project must be specified via UseProject"))
	}
	if len(errs) > 0 {
		// Not dErrors.Wrap: the joined errors carry their own codes, and a
		// failed Build is always a configuration error.
		return nil, &dErrors.Error{
			Code:    dErrors.CodeConfiguration,
			Message: "invalid reporting configuration",
			Err:     errors.Join(errs...),
		}
	}

	c := &Configuration{
		project:     b.project,
		issueType:   b.issueType,
		summary:     b.summary,
		description: b.description,
		commands:    append([]CommandProvider(nil), b.commands...),
	}
	if c.issueType == nil {
		c.issueType = func(event.Event) string { return "" }
	}
	if c.summary == nil {
		c.summary = template.MustNew(template.DefaultSummary)
	}
	if c.description == nil {
		c.description = template.MustNew(template.DefaultDescription)
	}
	return c, nil
}

// Configuration is a validated, immutable reporting policy.
type Configuration struct {
	project     string
	issueType   IssueTypeFunc
	summary     *template.Formatter
	description *template.Formatter
	commands    []CommandProvider
}

// Project returns the tracker project.
func (c *Configuration) Project() string {
	return c.project
}

// IssueType resolves the issue type for e; empty means none.
func (c *Configuration) IssueType(e event.Event) string {
	return c.issueType(e)
}

// Summary renders the issue summary for e.
func (c *Configuration) Summary(e event.Event) string {
	return c.summary.Render(e)
}

// Description renders the issue description for e.
func (c *Configuration) Description(e event.Event) string {
	return c.description.Render(e)
}

// Commands returns a copy of the registered command providers in registration order.
func (c *Configuration) Commands() []CommandProvider {
	return append([]CommandProvider(nil), c.commands...)
}
