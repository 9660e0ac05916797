// Package tui renders session output for the terminal and runs the
// interactive prompt.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fsagent/backup"
	"fsagent/fsops"
	"fsagent/gate"
	"fsagent/plan"
	"fsagent/task"
	"fsagent/undo"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))

	outputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)

	addStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	delStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))

	titleCaser = cases.Title(language.English)
)

// Title renders a heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

func label(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func writeHints(b *strings.Builder, warnings, suggestions []string) {
	for _, w := range warnings {
		b.WriteString(warnStyle.Render("! " + w))
		b.WriteString("\n")
	}
	for _, s := range suggestions {
		b.WriteString(hintStyle.Render("hint: " + s))
		b.WriteString("\n")
	}
}

// RenderResult renders the outcome of one command.
func RenderResult(res task.Result) string {
	var b strings.Builder
	if res.Success {
		line := "✓ " + res.Message
		if res.Path != "" {
			line += " " + res.Path
		}
		b.WriteString(okStyle.Render(line))
		b.WriteString("\n")
		if res.BackupID != "" {
			b.WriteString(hintStyle.Render("backup " + res.BackupID))
			b.WriteString("\n")
		}
		if out := strings.TrimRight(res.Output, "\n"); out != "" {
			b.WriteString(outputStyle.Render(out))
			b.WriteString("\n")
		}
	} else {
		b.WriteString(errorStyle.Render("✗ " + res.Message))
		b.WriteString("\n")
	}
	writeHints(&b, res.Warnings, res.Suggestions)
	return b.String()
}

// RenderUndo renders the results of an undo request.
func RenderUndo(results []undo.Result) string {
	if len(results) == 0 {
		return hintStyle.Render("nothing to undo") + "\n"
	}

	var b strings.Builder
	for _, r := range results {
		if r.Success {
			b.WriteString(okStyle.Render("↶ " + r.Message))
		} else {
			b.WriteString(errorStyle.Render(fmt.Sprintf("✗ could not undo %s: %s", r.Entry.Kind, r.Message)))
		}
		b.WriteString("\n")
	}
	if last := results[len(results)-1]; !last.Success {
		b.WriteString(hintStyle.Render("the entry was kept in history; fix the cause and undo again"))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHistory renders the ledger summary.
func RenderHistory(lines []string) string {
	if len(lines) == 0 {
		return hintStyle.Render("no operations recorded") + "\n"
	}
	var b strings.Builder
	b.WriteString(Title("History"))
	b.WriteString("\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderStats renders ledger statistics.
func RenderStats(s undo.Statistics) string {
	last := "never"
	if !s.LastOperationTime.IsZero() {
		last = s.LastOperationTime.Format(time.DateTime)
	}
	return fmt.Sprintf("%s\noperations: %d\nundoable:   %d\nlast:       %s\n",
		Title("Statistics"), s.TotalOperations, s.UndoableOperations, last)
}

// RenderAnalysis renders a plan preview.
func RenderAnalysis(a plan.Analysis) string {
	if len(a.Impacts) == 0 {
		return hintStyle.Render("the plan is empty") + "\n"
	}

	var b strings.Builder
	b.WriteString(Title("Plan"))
	b.WriteString("\n")
	for _, imp := range a.Impacts {
		fmt.Fprintf(&b, "%2d. %-7s %s\n", imp.Index, label(string(imp.Type)), imp.Description)
		for _, c := range imp.Conflicts {
			b.WriteString(errorStyle.Render("    conflict: " + c))
			b.WriteString("\n")
		}
		for _, w := range imp.Warnings {
			b.WriteString(warnStyle.Render("    warning: " + w))
			b.WriteString("\n")
		}
		if imp.Preview != "" {
			b.WriteString(renderDiff(imp.Preview, "    "))
		}
	}

	c := a.Counts
	fmt.Fprintf(&b, "\n%d create, %d modify, %d delete, %d move, %d read\n",
		c.Creates, c.Modifies, c.Deletes, c.Moves, c.Reads)

	for _, g := range a.GlobalConflicts {
		b.WriteString(errorStyle.Render("conflict: " + g))
		b.WriteString("\n")
	}
	if a.HasConflicts() {
		b.WriteString(hintStyle.Render("resolve the conflicts or run with `plan run --force`"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderDiff(diff, indent string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			line = addStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			line = delStyle.Render(line)
		}
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderPlanRun renders the results of executing a plan.
func RenderPlanRun(run task.PlanRun) string {
	var b strings.Builder
	if run.Stale {
		b.WriteString(warnStyle.Render("! the workspace changed since the last preview; the plan was re-checked"))
		b.WriteString("\n")
	}
	for i, res := range run.Results {
		fmt.Fprintf(&b, "%2d. ", i+1)
		b.WriteString(RenderResult(res))
	}
	if run.Remaining > 0 {
		b.WriteString(hintStyle.Render(fmt.Sprintf("%d operation(s) left in the plan", run.Remaining)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderRollback renders the outcome of an interrupt.
func RenderRollback(o gate.RollbackOutcome) string {
	if o.Interrupted == "" {
		return ""
	}
	style := okStyle
	if !o.Succeeded() {
		style = errorStyle
	}
	return style.Render(fmt.Sprintf("interrupted %q: %s", o.Interrupted, o.Message)) + "\n"
}

// RenderBackups renders a backup listing.
func RenderBackups(session string, records []*backup.Record, now time.Time) string {
	var b strings.Builder
	b.WriteString(Title("Session " + session))
	b.WriteString("\n")
	if len(records) == 0 {
		b.WriteString(hintStyle.Render("no backups"))
		b.WriteString("\n")
		return b.String()
	}
	for _, r := range records {
		kind := "file"
		if r.IsDirectory {
			kind = "dir "
		}
		fmt.Fprintf(&b, "%s  %s  %8s  %6s ago  %s\n",
			r.ID, kind, fsops.FormatSize(r.SizeBytes), r.Age(now).Round(time.Minute), r.SourcePath)
	}
	return b.String()
}

// RenderCleanup renders a retention report.
func RenderCleanup(session string, report backup.CleanupReport) string {
	verb := "deleted"
	if report.DryRun {
		verb = "would delete"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s %d, kept %d\n", session, verb, len(report.Deleted), len(report.Kept))
	for _, r := range report.Deleted {
		b.WriteString(hintStyle.Render(fmt.Sprintf("  %s %s", r.ID, r.SourcePath)))
		b.WriteString("\n")
	}
	for _, err := range report.Errors {
		b.WriteString(errorStyle.Render("  " + err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}
