// Package notify sends the single terminal notification of a run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/loykin/piperun/internal/common"
)

// Template kinds.
const (
	KindSuccess = "success"
	KindFailure = "failure"
)

// Run outcomes a notification can be sent for.
const (
	OutcomeCompleted = "Completed"
	OutcomeAborted   = "Aborted"
)

// ErrAlreadyDispatched is returned when a run was already notified.
var ErrAlreadyDispatched = errors.New("notification already dispatched for run")

// Notification is a rendered message ready for a Transport.
type Notification struct {
	Kind       string   `json:"kind"`
	Outcome    string   `json:"outcome"`
	RunID      string   `json:"run_id"`
	RunURL     string   `json:"run_url,omitempty"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Transport delivers a notification. Delivery is fire-and-forget: an error
// means the message was not accepted.
type Transport interface {
	Send(ctx context.Context, n Notification) error
	Name() string
}

// NotificationError is a failed delivery. It is logged and never changes the
// run's outcome.
type NotificationError struct {
	RunID     string
	Transport string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify run %s via %s: %v", e.RunID, e.Transport, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// StageLine is one stage in the notification context.
type StageLine struct {
	Name     string
	Status   string
	ExitCode int
	Duration time.Duration
}

// Context is the typed data templates are rendered with.
type Context struct {
	RunID      string
	RunURL     string
	Outcome    string
	SourceRef  string
	ReportPath string
	StartedAt  time.Time
	FinishedAt time.Time
	Stages     []StageLine
}

// Failed returns the stages whose status is "failed".
func (c Context) Failed() []StageLine {
	var out []StageLine
	for _, s := range c.Stages {
		if s.Status == "failed" {
			out = append(out, s)
		}
	}
	return out
}

// Templates holds the subject/body sources of both kinds.
type Templates struct {
	SuccessSubject string `mapstructure:"success_subject" yaml:"success_subject"`
	SuccessBody    string `mapstructure:"success_body" yaml:"success_body"`
	FailureSubject string `mapstructure:"failure_subject" yaml:"failure_subject"`
	FailureBody    string `mapstructure:"failure_body" yaml:"failure_body"`
}

// DefaultTemplates are used for any template left empty.
var DefaultTemplates = Templates{
	SuccessSubject: `[piperun] {{.RunID}} completed{{if .SourceRef}} ({{.SourceRef}}){{end}}`,
	SuccessBody: `Pipeline run {{.RunID}} completed.
{{if .RunURL}}Details: {{.RunURL}}
{{end}}{{range .Stages}}- {{.Name}}: {{.Status}} (exit {{.ExitCode}})
{{end}}`,
	FailureSubject: `[piperun] {{.RunID}} aborted{{if .SourceRef}} ({{.SourceRef}}){{end}}`,
	FailureBody: `Pipeline run {{.RunID}} was aborted.
{{if .RunURL}}Details: {{.RunURL}}
{{end}}{{range .Stages}}- {{.Name}}: {{.Status}} (exit {{.ExitCode}})
{{end}}{{with .Failed}}Failed: {{range $i, $s := .}}{{if $i}}, {{end}}{{$s.Name}}{{end}}
{{end}}`,
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Renderer renders notifications from parsed templates. Rendering is a pure
// function of the Context.
type Renderer struct {
	success compiled
	failure compiled
}

// NewRenderer parses t, filling empty fields from DefaultTemplates.
func NewRenderer(t Templates) (*Renderer, error) {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	parse := func(name, src string) (*template.Template, error) {
		tpl, err := template.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s template: %w", name, err)
		}
		return tpl, nil
	}
	r := &Renderer{}
	var err error
	if r.success.subject, err = parse("success_subject", pick(t.SuccessSubject, DefaultTemplates.SuccessSubject)); err != nil {
		return nil, err
	}
	if r.success.body, err = parse("success_body", pick(t.SuccessBody, DefaultTemplates.SuccessBody)); err != nil {
		return nil, err
	}
	if r.failure.subject, err = parse("failure_subject", pick(t.FailureSubject, DefaultTemplates.FailureSubject)); err != nil {
		return nil, err
	}
	if r.failure.body, err = parse("failure_body", pick(t.FailureBody, DefaultTemplates.FailureBody)); err != nil {
		return nil, err
	}
	return r, nil
}

// KindFor returns the template kind for an outcome: success iff Completed,
// failure iff Aborted.
func KindFor(outcome string) (string, error) {
	switch outcome {
	case OutcomeCompleted:
		return KindSuccess, nil
	case OutcomeAborted:
		return KindFailure, nil
	default:
		return "", fmt.Errorf("notify: outcome %q is not terminal", outcome)
	}
}

// Render selects exactly one template for c.Outcome and renders it.
func (r *Renderer) Render(c Context, recipients []string) (Notification, error) {
	kind, err := KindFor(c.Outcome)
	if err != nil {
		return Notification{}, err
	}
	tpl := r.success
	if kind == KindFailure {
		tpl = r.failure
	}
	var subj, body strings.Builder
	if err := tpl.subject.Execute(&subj, c); err != nil {
		return Notification{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, c); err != nil {
		return Notification{}, fmt.Errorf("notify: render body: %w", err)
	}
	return Notification{
		Kind:       kind,
		Outcome:    c.Outcome,
		RunID:      c.RunID,
		RunURL:     c.RunURL,
		Recipients: append([]string(nil), recipients...),
		Subject:    strings.TrimSpace(subj.String()),
		Body:       body.String(),
	}, nil
}

// sentWindow is how many recent run ids a Dispatcher remembers.
const sentWindow = 1024

// Dispatcher sends at most one notification per run id among the most
// recent sentWindow runs. Older ids are forgotten so a long-lived process
// does not grow without bound; the Run itself carries the permanent guard.
type Dispatcher struct {
	transport  Transport
	recipients []string
	renderer   *Renderer
	logger     *common.Logger

	mu     sync.Mutex
	window int
	sent   map[string]struct{}
	order  []string
}

// NewDispatcher returns a Dispatcher for a fixed recipient set.
func NewDispatcher(t Transport, recipients []string, tpl Templates) (*Dispatcher, error) {
	if t == nil {
		t = Discard{}
	}
	r, err := NewRenderer(tpl)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		transport:  t,
		recipients: append([]string(nil), recipients...),
		renderer:   r,
		logger:     common.GetLogger().WithComponent("notify"),
		window:     sentWindow,
		sent:       map[string]struct{}{},
	}, nil
}

// claim marks runID as dispatched, evicting the oldest id once the window
// is full. It reports false when runID was already claimed.
func (d *Dispatcher) claim(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sent[runID]; ok {
		return false
	}
	if len(d.order) >= d.window {
		delete(d.sent, d.order[0])
		d.order = append(d.order[:0], d.order[1:]...)
	}
	d.sent[runID] = struct{}{}
	d.order = append(d.order, runID)
	return true
}

// Dispatch renders and sends the notification for c. A second call for the
// same run id returns ErrAlreadyDispatched without sending. Delivery failures
// come back as *NotificationError after being logged; the dispatch still
// counts as done and is not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, c Context) (Notification, error) {
	if !d.claim(c.RunID) {
		return Notification{}, fmt.Errorf("%w: %s", ErrAlreadyDispatched, c.RunID)
	}

	logger := d.logger.WithRun(c.RunID)
	n, err := d.renderer.Render(c, d.recipients)
	if err != nil {
		nerr := &NotificationError{RunID: c.RunID, Transport: d.transport.Name(), Err: err}
		logger.Error("notification not rendered", "error", err)
		return Notification{}, nerr
	}
	if err := d.transport.Send(ctx, n); err != nil {
		nerr := &NotificationError{RunID: c.RunID, Transport: d.transport.Name(), Err: err}
		logger.Error("notification delivery failed", "transport", d.transport.Name(), "kind", n.Kind, "error", err)
		return n, nerr
	}
	logger.Info("notification sent", "transport", d.transport.Name(), "kind", n.Kind, "recipients", len(n.Recipients))
	return n, nil
}
