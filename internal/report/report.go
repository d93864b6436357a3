// Package report renders run results for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/phasekit/internal/db"
	"github.com/metalagman/phasekit/internal/model"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#6C7A89")

	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case model.RunStatusPassed:
		return lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	case model.RunStatusRunning, model.RunStatusInterrupted:
		return lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	}
}

func phaseIcon(p model.PhaseResult) string {
	if p.Success {
		return lipgloss.NewStyle().Foreground(colorOK).Render("✓")
	}
	return lipgloss.NewStyle().Foreground(colorError).Render("✗")
}

// Summary renders a compact boxed summary of a run.
func Summary(res model.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("run "+res.RunID), statusStyle(res.Status).Render(res.Status))
	if res.Pipeline != "" {
		fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("pipeline"), res.Pipeline)
	}
	for _, p := range res.Phases {
		line := fmt.Sprintf("%s %-16s reward %-4d batches %-2d attempts %d", phaseIcon(p), p.Phase, p.Reward, p.Batches, p.Attempts)
		if p.GateOutcome != "" {
			line += " gate " + p.GateOutcome
		}
		b.WriteString(line + "\n")
		if p.Error != "" {
			b.WriteString(mutedStyle.Render("    "+p.Error) + "\n")
		}
	}
	fmt.Fprintf(&b, "%s %d", mutedStyle.Render("total reward"), res.TotalReward)
	if res.RollbackApplied {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(colorWarn).Render("rolled back"))
	}
	if res.Duration > 0 {
		fmt.Fprintf(&b, "  %s %s", mutedStyle.Render("took"), res.Duration.Round(time.Millisecond))
	}
	return boxStyle.Render(b.String())
}

// Markdown builds a markdown report of a run, one table row per agent.
func Markdown(res model.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", res.RunID)
	if res.Pipeline != "" {
		fmt.Fprintf(&b, "- **Pipeline:** %s\n", res.Pipeline)
	}
	fmt.Fprintf(&b, "- **Status:** %s\n", res.Status)
	fmt.Fprintf(&b, "- **Total reward:** %d\n", res.TotalReward)
	fmt.Fprintf(&b, "- **Rollback applied:** %t\n", res.RollbackApplied)
	if res.Duration > 0 {
		fmt.Fprintf(&b, "- **Duration:** %s\n", res.Duration.Round(time.Millisecond))
	}

	for _, p := range res.Phases {
		state := "passed"
		if !p.Success {
			state = "failed"
		}
		fmt.Fprintf(&b, "\n## %s (%s)\n\n", p.Phase, state)
		if p.GateOutcome != "" {
			fmt.Fprintf(&b, "Gate outcome `%s` after %d attempt(s).\n\n", p.GateOutcome, p.Attempts)
		}
		if p.Error != "" {
			fmt.Fprintf(&b, "> %s\n\n", p.Error)
		}
		if len(p.Results) == 0 {
			continue
		}
		b.WriteString("| Agent | Result | Quality | Reward | Time |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range p.Results {
			outcome := "ok"
			if !r.Success {
				outcome = "failed"
			}
			fmt.Fprintf(&b, "| %s | %s | %.2f | %d | %dms |\n", r.AgentKey, outcome, r.Quality, r.RewardEarned, r.ExecutionTimeMs)
		}
	}
	return b.String()
}

// Render renders markdown for a terminal without color.
func Render(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

// FromRecord rebuilds a run result from its stored form.
func FromRecord(rec db.RunRecord, phases []db.PhaseRecord) model.RunResult {
	res := model.RunResult{
		RunID:           rec.RunID,
		Pipeline:        rec.Pipeline,
		Status:          rec.Status,
		TotalReward:     rec.TotalReward,
		RollbackApplied: rec.RollbackApplied,
		Duration:        rec.Duration,
		CompletedPhases: []string{},
		FailedPhases:    []string{},
	}
	for _, p := range phases {
		res.Phases = append(res.Phases, p.Result)
		if p.Result.Success {
			res.CompletedPhases = append(res.CompletedPhases, p.Result.Phase)
		} else {
			res.FailedPhases = append(res.FailedPhases, p.Result.Phase)
		}
	}
	return res
}

// RunsTable renders a one-line-per-run listing.
func RunsTable(runs []db.RunRecord) string {
	if len(runs) == 0 {
		return mutedStyle.Render("no runs recorded")
	}
	header := titleStyle.Render(fmt.Sprintf("%-24s %-12s %-16s %-8s %s", "RUN", "STATUS", "PIPELINE", "REWARD", "CREATED"))
	lines := []string{header}
	for _, r := range runs {
		status := statusStyle(r.Status).Render(fmt.Sprintf("%-12s", r.Status))
		lines = append(lines, fmt.Sprintf("%-24s %s %-16s %-8d %s",
			r.RunID, status, r.Pipeline, r.TotalReward, r.CreatedAt.Local().Format(time.DateTime)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
