// Package report renders the per-run summary document.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	ttemplate "text/template"
	"time"

	"github.com/loykin/piperun/internal/artifact"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/stage"
)

const (
	HTMLFile = "summary.html"
	JSONFile = "summary.json"

	Unavailable = "unavailable"
)

//go:embed summary.html.tmpl
var summaryHTML string

var htmlTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"ts":    func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"href":  relHref,
}).Parse(summaryHTML))

// relHref turns a slash-separated path relative to the run directory into a
// link. Archive directory names may carry '%' escapes, which must survive
// the browser's decoding.
func relHref(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// StageInput is one stage as the report sees it.
type StageInput struct {
	Stage    stage.Stage
	Status   string
	ExitCode int
	Duration time.Duration
	Error    string
	LogPath  string // relative to the run directory
}

// Input is everything the report is built from.
type Input struct {
	RunID        string
	SourceRef    string
	Outcome      string
	StartedAt    time.Time
	FinishedAt   time.Time
	DashboardURL string
	Stages       []StageInput
	Artifacts    []artifact.Ref
}

// StageRow is one line of the status table.
type StageRow struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Isolation string `json:"isolation"`
	ExitCode  int    `json:"exit_code"`
	Duration  string `json:"duration"`
	Error     string `json:"error,omitempty"`
	Log       string `json:"log,omitempty"`
}

// ArtifactLink is one archived file or an unavailable placeholder.
type ArtifactLink struct {
	Label     string `json:"label"`
	Href      string `json:"href,omitempty"`
	Available bool   `json:"available"`
	SHA256    string `json:"sha256,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// ArtifactSection lists the artifacts of one artifact-declaring stage.
type ArtifactSection struct {
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Entries []ArtifactLink `json:"entries"`
}

// Summary is the typed context rendered into summary.html and summary.json.
type Summary struct {
	RunID        string            `json:"run_id"`
	SourceRef    string            `json:"source_ref,omitempty"`
	Outcome      string            `json:"outcome"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	GeneratedAt  time.Time         `json:"generated_at"`
	DashboardURL string            `json:"dashboard_url,omitempty"`
	Stages       []StageRow        `json:"stages"`
	Artifacts    []ArtifactSection `json:"artifacts"`
}

// Build turns in into a Summary. It has no side effects: the same input and
// clock give the same summary. Every stage that declares artifacts gets a
// section, in declaration order, whether or not it ran.
func Build(in Input, now time.Time) Summary {
	s := Summary{
		RunID:        in.RunID,
		SourceRef:    in.SourceRef,
		Outcome:      in.Outcome,
		StartedAt:    in.StartedAt,
		FinishedAt:   in.FinishedAt,
		GeneratedAt:  now,
		DashboardURL: in.DashboardURL,
		Stages:       make([]StageRow, 0, len(in.Stages)),
		Artifacts:    []ArtifactSection{},
	}
	byStage := map[string][]artifact.Ref{}
	for _, r := range in.Artifacts {
		byStage[r.Stage] = append(byStage[r.Stage], r)
	}
	for _, st := range in.Stages {
		s.Stages = append(s.Stages, StageRow{
			Name:      st.Stage.Name,
			Status:    st.Status,
			Isolation: st.Stage.Isolation.String(),
			ExitCode:  st.ExitCode,
			Duration:  st.Duration.Round(time.Millisecond).String(),
			Error:     st.Error,
			Log:       st.LogPath,
		})
		if !st.Stage.DeclaresArtifacts() {
			continue
		}
		sec := ArtifactSection{Stage: st.Stage.Name, Status: st.Status}
		refs := byStage[st.Stage.Name]
		if len(refs) == 0 {
			for _, p := range st.Stage.Artifacts {
				sec.Entries = append(sec.Entries, ArtifactLink{Label: p})
			}
		}
		for _, r := range refs {
			link := ArtifactLink{Label: r.Path, Available: r.Archived, SHA256: r.SHA256, Size: r.Size}
			if link.Label == "" {
				link.Label = r.Pattern
			}
			if r.Archived {
				link.Href = r.Location
			}
			sec.Entries = append(sec.Entries, link)
		}
		s.Artifacts = append(s.Artifacts, sec)
	}
	return s
}

// RenderHTML writes the HTML summary.
func RenderHTML(w io.Writer, s Summary) error {
	return htmlTmpl.Execute(w, s)
}

// RenderJSON writes the machine-readable summary.
func RenderJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Paths are the files written for one run.
type Paths struct {
	HTML string
	JSON string
}

// Aggregator writes summaries into run directories.
type Aggregator struct {
	logger *common.Logger
	now    func() time.Time
}

// NewAggregator returns an Aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return &Aggregator{logger: common.GetLogger().WithComponent("report"), now: time.Now}
}

// Write builds the summary for in and writes summary.html and summary.json
// into runDir.
func (a *Aggregator) Write(_ context.Context, runDir string, in Input) (Summary, Paths, error) {
	s := Build(in, a.now().UTC())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return s, Paths{}, fmt.Errorf("report: %w", err)
	}
	var hb, jb bytes.Buffer
	if err := RenderHTML(&hb, s); err != nil {
		return s, Paths{}, fmt.Errorf("report: render html: %w", err)
	}
	if err := RenderJSON(&jb, s); err != nil {
		return s, Paths{}, fmt.Errorf("report: render json: %w", err)
	}
	p := Paths{HTML: filepath.Join(runDir, HTMLFile), JSON: filepath.Join(runDir, JSONFile)}
	if err := writeAtomic(p.HTML, hb.Bytes()); err != nil {
		return s, Paths{}, fmt.Errorf("report: %w", err)
	}
	if err := writeAtomic(p.JSON, jb.Bytes()); err != nil {
		return s, Paths{}, fmt.Errorf("report: %w", err)
	}
	a.logger.WithRun(in.RunID).Info("summary written", "path", p.HTML, "outcome", s.Outcome, "stages", len(s.Stages))
	return s, p, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// URLData is the context a dashboard URL pattern is rendered with.
type URLData struct {
	RunID     string
	SourceRef string
}

// RunURL renders a dashboard URL pattern such as
// "https://ci.example.com/runs/{{.RunID}}". An empty pattern yields "".
func RunURL(pattern string, d URLData) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", nil
	}
	t, err := ttemplate.New("url").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("dashboard url: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, d); err != nil {
		return "", fmt.Errorf("dashboard url: %w", err)
	}
	return b.String(), nil
}
