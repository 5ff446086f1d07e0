// Package notify delivers job error and completion messages to email, webhook and slack destinations
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Destination:NotifierMock

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	errorTemplateName      = "templates/error.html.tmpl"
	completionTemplateName = "templates/completion.html.tmpl"
)

// Destination is a delivery channel
type Destination interface {
	notify.Notifier
}

// Params defines when to notify and how messages look
type Params struct {
	EnabledError       bool
	EnabledCompletion  bool
	ErrorTemplate      string // custom template file, embedded one used if empty or broken
	CompletionTemplate string
	HostName           string
}

// SendersParams defines destinations. Email enabled with ToEmails, webhook with WebhookURLs
// and slack with SlackToken plus SlackChannels.
type SendersParams struct {
	notify.SMTPParams
	FromEmail string
	ToEmails  []string

	WebhookURLs    []string
	WebhookTimeout time.Duration

	SlackToken    string
	SlackChannels []string
}

// Service sends notifications to all configured destinations
type Service struct {
	Params
	destinations  []Destination
	fromEmail     string
	toEmail       []string
	webhooks      []string
	slackChannels []string
	errorTmpl     *template.Template
	completeTmpl  *template.Template
}

// NewService makes notification service, returns nil if no destinations defined
func NewService(params Params, sp SendersParams) *Service {
	res := &Service{Params: params, fromEmail: sp.FromEmail}

	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(sp.SMTPParams))
		res.toEmail = sp.ToEmails
	}
	if len(sp.WebhookURLs) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: sp.WebhookTimeout}))
		res.webhooks = sp.WebhookURLs
	}
	if sp.SlackToken != "" && len(sp.SlackChannels) > 0 {
		res.destinations = append(res.destinations, notify.NewSlack(sp.SlackToken))
		res.slackChannels = sp.SlackChannels
	}
	if len(res.destinations) == 0 {
		return nil
	}

	res.errorTmpl = loadTemplate(params.ErrorTemplate, errorTemplateName)
	res.completeTmpl = loadTemplate(params.CompletionTemplate, completionTemplateName)
	return res
}

// Send message to all destinations, errors from all of them are combined
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error
	for _, dest := range s.destinations {
		for _, addr := range s.addresses(dest.Schema(), subj) {
			if err := dest.Send(ctx, addr, text); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// IsOnError returns true if error notifications enabled
func (s *Service) IsOnError() bool { return s.EnabledError }

// IsOnCompletion returns true if completion notifications enabled
func (s *Service) IsOnCompletion() bool { return s.EnabledCompletion }

// MakeErrorHTML creates html error message
func (s *Service) MakeErrorHTML(spec, command, errorLog string) (string, error) {
	tmpl := s.errorTmpl
	if tmpl == nil {
		tmpl = loadTemplate("", errorTemplateName)
	}
	return s.execute(tmpl, spec, command, errorLog)
}

// MakeCompletionHTML creates html completion message
func (s *Service) MakeCompletionHTML(spec, command string) (string, error) {
	tmpl := s.completeTmpl
	if tmpl == nil {
		tmpl = loadTemplate("", completionTemplateName)
	}
	return s.execute(tmpl, spec, command, "")
}

func (s *Service) execute(tmpl *template.Template, spec, command, errorLog string) (string, error) {
	data := struct {
		Spec    string
		Command string
		TS      time.Time
		Error   string
		Host    string
	}{
		Spec:    spec,
		Command: command,
		TS:      time.Now(),
		Error:   errorLog,
		Host:    s.HostName,
	}

	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// addresses makes destination strings in the format expected by the given schema
func (s *Service) addresses(schema, subj string) []string {
	switch schema {
	case "mailto":
		if len(s.toEmail) == 0 {
			return nil
		}
		return []string{fmt.Sprintf("mailto:%s?from=%s&subject=%s", strings.Join(s.toEmail, ","), s.fromEmail,
			url.QueryEscape(subj))}
	case "slack":
		res := make([]string, 0, len(s.slackChannels))
		for _, ch := range s.slackChannels {
			res = append(res, fmt.Sprintf("slack:%s?title=%s", ch, url.QueryEscape(subj)))
		}
		return res
	default:
		return s.webhooks
	}
}

// loadTemplate parses custom template file, falls back to the embedded one if it can't be used
func loadTemplate(fname, embedded string) *template.Template {
	if fname != "" {
		data, err := os.ReadFile(fname) //nolint:gosec // template location from config
		if err == nil {
			tmpl, perr := template.New("msg").Parse(string(data))
			if perr == nil {
				return tmpl
			}
			err = perr
		}
		log.Printf("[WARN] can't use template %s, fallback to default, %v", fname, err)
	}
	return template.Must(template.ParseFS(templatesFS, embedded))
}
