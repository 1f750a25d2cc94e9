package reporting

import (
	"bytes"
	"io"
	"net/url"
	"os"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"issuesink/internal/event"
	"issuesink/internal/template"
	dErrors "issuesink/pkg/domain-errors"
	"issuesink/pkg/validation"
)

// Policy is the file form of a reporting configuration.
//
//	project: OPS
//	issue_type: Bug
//	summary_template: "[{Level}] {Message}"
//	language: de
//	priority: Major
//	commands:
//	  - command: "tag logged"
//	    comment: "reported by issuesink"
//	    fail_silently: false
type Policy struct {
	Project             string          `yaml:"project"`
	IssueType           string          `yaml:"issue_type"`
	SummaryTemplate     string          `yaml:"summary_template"`
	DescriptionTemplate string          `yaml:"description_template"`
	Language            string          `yaml:"language" validate:"omitempty,bcp47_language_tag"`
	Priority            string          `yaml:"priority"`
	Commands            []PolicyCommand `yaml:"commands" validate:"dive"`
}

// PolicyCommand is a fixed command from a policy file.
type PolicyCommand struct {
	Command string `yaml:"command" validate:"notblank"`
	Comment string `yaml:"comment"`
	// FailSilently defaults to true when omitted.
	FailSilently *bool `yaml:"fail_silently"`
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "open policy file")
	}
	defer f.Close()
	return DecodePolicy(f)
}

// DecodePolicy decodes and validates a YAML policy document. Unknown keys
// are rejected.
func DecodePolicy(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "read policy")
	}
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "decode policy")
	}
	if err := validation.Validate(p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid policy")
	}
	return &p, nil
}

// Apply copies the policy onto b. Empty fields leave b unchanged, so a policy
// can layer over settings made in code.
func (p *Policy) Apply(b *Builder) *Builder {
	if p.Project != "" {
		b.UseProject(p.Project)
	}
	if p.IssueType != "" {
		b.UseIssueType(p.IssueType)
	}

	var opts []template.Option
	if p.Language != "" {
		tag, err := language.Parse(p.Language)
		if err != nil {
			b.fail(dErrors.Wrap(err, dErrors.CodeConfiguration, "policy language"))
		} else {
			opts = append(opts, template.WithLanguage(tag))
		}
	}
	if p.SummaryTemplate != "" {
		b.FormatSummaryWith(p.SummaryTemplate, opts...)
	}
	if p.DescriptionTemplate != "" {
		b.FormatDescriptionWith(p.DescriptionTemplate, opts...)
	}

	if p.Priority != "" {
		b.UsePriority(p.Priority)
	}
	for _, c := range p.Commands {
		if c.Command == "" {
			b.fail(dErrors.New(dErrors.CodeInvalidInput, "policy command must not be empty"))
			continue
		}
		cmd := Command{Text: c.Command, Comment: c.Comment}
		silent := c.FailSilently == nil || *c.FailSilently
		b.OnIssueCreated(func(event.Event, *url.URL) Command { return cmd }, FailSilently(silent))
	}
	return b
}
