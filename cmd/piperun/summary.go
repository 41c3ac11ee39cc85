package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/loykin/piperun/pkg/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	nameStyle    = lipgloss.NewStyle().Width(22)
	cellStyle    = lipgloss.NewStyle().Width(10)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Width(10)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Width(10)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func statusStyle(s pipeline.StageStatus) lipgloss.Style {
	switch s {
	case pipeline.StageSuccess:
		return successStyle
	case pipeline.StageFailed:
		return failedStyle
	default:
		return skippedStyle
	}
}

// renderSummary prints the per-stage table of a finished run.
func renderSummary(s pipeline.Snapshot) string {
	outcome := successStyle
	if s.Outcome == pipeline.StatusAborted {
		outcome = failedStyle
	}
	lines := []string{
		titleStyle.Render("run "+s.ID) + "  " + outcome.UnsetWidth().Render(string(s.Outcome)),
	}
	for _, r := range s.Results {
		exit := "-"
		if r.Status != pipeline.StageSkipped {
			exit = fmt.Sprintf("exit %d", r.ExitCode)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			nameStyle.Render(r.Stage),
			statusStyle(r.Status).Render(string(r.Status)),
			cellStyle.Render(string(r.Isolation)),
			cellStyle.Render(exit),
			r.Duration.Round(time.Millisecond).String(),
		))
	}
	if s.ReportPath != "" {
		lines = append(lines, "report: "+s.ReportPath)
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}
