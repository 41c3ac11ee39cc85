// Package status exposes the run audit history for humans and over HTTP.
package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/piperun/internal/store"
)

const defaultHistoryLimit = 10

// Source is the read side of the run store.
type Source interface {
	ListRuns(ctx context.Context, opts store.ListOptions) ([]store.RunRecord, error)
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
}

// RunItem is one row of the run history.
type RunItem struct {
	RunID      string    `json:"run_id"`
	SourceRef  string    `json:"source_ref,omitempty"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ReportPath string    `json:"report_path,omitempty"`
}

// StageItem is one stage of a run detail.
type StageItem struct {
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Isolation  string    `json:"isolation"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LogPath    string    `json:"log_path,omitempty"`
}

type ArtifactItem struct {
	Stage    string `json:"stage"`
	Pattern  string `json:"pattern"`
	Path     string `json:"path,omitempty"`
	Location string `json:"location,omitempty"`
	Archived bool   `json:"archived"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunDetail is a run with its stage and artifact rows.
type RunDetail struct {
	RunItem
	Stages    []StageItem    `json:"stages"`
	Artifacts []ArtifactItem `json:"artifacts"`
}

func itemFrom(r store.RunRecord) RunItem {
	return RunItem{
		RunID:      r.RunID,
		SourceRef:  r.SourceRef,
		Status:     r.Status,
		Outcome:    r.Outcome,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		ReportPath: r.ReportPath,
	}
}

func detailFrom(r store.RunRecord) RunDetail {
	d := RunDetail{RunItem: itemFrom(r), Stages: []StageItem{}, Artifacts: []ArtifactItem{}}
	for _, s := range r.Stages {
		d.Stages = append(d.Stages, StageItem(s))
	}
	for _, a := range r.Artifacts {
		d.Artifacts = append(d.Artifacts, ArtifactItem(a))
	}
	return d
}

// List returns up to limit runs, newest first. limit<=0 means the default of 10.
func List(ctx context.Context, src Source, opts store.ListOptions) ([]RunItem, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultHistoryLimit
	}
	runs, err := src.ListRuns(ctx, opts)
	if err != nil {
		return nil, err
	}
	items := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		items = append(items, itemFrom(r))
	}
	return items, nil
}

// Show returns one run with its stages and artifacts. The error wraps
// store.ErrNotFound for an unknown id.
func Show(ctx context.Context, src Source, runID string) (RunDetail, error) {
	r, err := src.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return detailFrom(*r), nil
}

// FormatList renders the history for CLI output, one run per line.
func FormatList(items []RunItem) string {
	if len(items) == 0 {
		return "no runs recorded\n"
	}
	var b strings.Builder
	for _, it := range items {
		ref := it.SourceRef
		if ref == "" {
			ref = "-"
		}
		fmt.Fprintf(&b, "%s %-9s ref=%s started=%s took=%s\n",
			it.RunID, it.Outcome, ref, it.StartedAt.UTC().Format(time.RFC3339), it.FinishedAt.Sub(it.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}

// FormatDetail renders one run for CLI output.
func FormatDetail(d RunDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\noutcome: %s\nstatus: %s\n", d.RunID, d.Outcome, d.Status)
	if d.SourceRef != "" {
		fmt.Fprintf(&b, "ref: %s\n", d.SourceRef)
	}
	if d.ReportPath != "" {
		fmt.Fprintf(&b, "report: %s\n", d.ReportPath)
	}
	b.WriteString("stages:\n")
	for _, s := range d.Stages {
		fmt.Fprintf(&b, "  %d. %s %s (%s) exit=%d %dms\n", s.Seq, s.Name, s.Status, s.Isolation, s.ExitCode, s.DurationMS)
	}
	if len(d.Artifacts) > 0 {
		b.WriteString("artifacts:\n")
		for _, a := range d.Artifacts {
			if a.Archived {
				fmt.Fprintf(&b, "  %s %s -> %s\n", a.Stage, a.Path, a.Location)
			} else {
				fmt.Fprintf(&b, "  %s %s unavailable: %s\n", a.Stage, a.Pattern, a.Error)
			}
		}
	}
	return b.String()
}
