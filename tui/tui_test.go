package tui

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsagent/backup"
	"fsagent/config"
	"fsagent/gate"
	"fsagent/plan"
	"fsagent/task"
	"fsagent/undo"
)

func TestRenderResult(t *testing.T) {
	out := RenderResult(task.Result{
		Success:  true,
		Message:  "created file",
		Path:     "a.txt",
		BackupID: "01ABC",
		Output:   "hello\n",
		Warnings: []string{"parent created"},
	})
	assert.Contains(t, out, "created file a.txt")
	assert.Contains(t, out, "backup 01ABC")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "! parent created")

	out = RenderResult(task.Result{Message: "file not found", Suggestions: []string{"check the path"}})
	assert.Contains(t, out, "✗ file not found")
	assert.Contains(t, out, "hint: check the path")
}

func TestRenderUndo(t *testing.T) {
	assert.Contains(t, RenderUndo(nil), "nothing to undo")

	out := RenderUndo([]undo.Result{
		{Success: true, Message: "removed a.txt"},
		{Entry: undo.Entry{Kind: undo.KindWriteFile}, Message: "backup gone"},
	})
	assert.Contains(t, out, "removed a.txt")
	assert.Contains(t, out, "could not undo write_file: backup gone")
	assert.Contains(t, out, "kept in history")
}

func TestRenderAnalysis(t *testing.T) {
	assert.Contains(t, RenderAnalysis(plan.Analysis{}), "the plan is empty")

	a := plan.Analysis{
		Impacts: []plan.Impact{{
			Index:       1,
			Description: "modify file a.txt",
			Type:        plan.ImpactModify,
			Warnings:    []string{"large file"},
			Preview:     "-old\n+new\n",
		}},
		Conflicts:       []string{"a.txt is touched by steps 1, 2; the result depends on their order"},
		GlobalConflicts: []string{"a.txt is touched by steps 1, 2; the result depends on their order"},
		Counts:          plan.Counts{Modifies: 1},
	}
	out := RenderAnalysis(a)
	assert.Contains(t, out, "Modify")
	assert.Contains(t, out, "modify file a.txt")
	assert.Contains(t, out, "warning: large file")
	assert.Contains(t, out, "-old")
	assert.Contains(t, out, "+new")
	assert.Contains(t, out, "0 create, 1 modify")
	assert.Contains(t, out, "conflict: a.txt is touched")
	assert.Contains(t, out, "--force")
}

func TestRenderStatsAndRollback(t *testing.T) {
	out := RenderStats(undo.Statistics{TotalOperations: 3, UndoableOperations: 2})
	assert.Contains(t, out, "operations: 3")
	assert.Contains(t, out, "undoable:   2")
	assert.Contains(t, out, "never")

	assert.Empty(t, RenderRollback(gate.RollbackOutcome{}))
	out = RenderRollback(gate.RollbackOutcome{Interrupted: "create file a.txt", Message: "rolled back"})
	assert.Contains(t, out, `interrupted "create file a.txt": rolled back`)
}

func TestRenderBackups(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	out := RenderBackups("s1", []*backup.Record{{
		ID:         "01XYZ",
		SourcePath: "/ws/a.txt",
		SizeBytes:  2048,
		Timestamp:  now.Add(-time.Hour),
	}}, now)
	assert.Contains(t, out, "Session s1")
	assert.Contains(t, out, "01XYZ")
	assert.Contains(t, out, "/ws/a.txt")
	assert.Contains(t, out, "1h0m0s ago")

	assert.Contains(t, RenderBackups("s2", nil, now), "no backups")

	report := backup.CleanupReport{DryRun: true, Deleted: []*backup.Record{{ID: "01XYZ"}}}
	assert.Contains(t, RenderCleanup("s1", report), "s1: would delete 1, kept 0")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConfirmModel(t *testing.T) {
	tests := []struct {
		key    string
		answer bool
	}{
		{"y", true},
		{"Y", true},
		{"n", false},
		{"enter", false},
		{"esc", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, cmd := confirmModel{prompt: "delete a.txt?"}.Update(key(tt.key))
			cm := m.(confirmModel)
			assert.True(t, cm.done)
			assert.Equal(t, tt.answer, cm.answer)
			assert.NotNil(t, cmd)
		})
	}

	m, cmd := confirmModel{prompt: "delete a.txt?"}.Update(key("x"))
	assert.False(t, m.(confirmModel).done)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "[y/N]")
}

func newREPL(t *testing.T) (*REPL, *bytes.Buffer, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ConfirmDestructive = false
	dir := t.TempDir()
	s, err := task.NewSession(dir, cfg, task.Options{SessionID: "repl"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var out bytes.Buffer
	return NewREPL(s, strings.NewReader(""), &out, AlwaysYes), &out, dir
}

func TestREPLJSONCommandAndUndo(t *testing.T) {
	r, out, dir := newREPL(t)
	ctx := context.Background()

	assert.False(t, r.Handle(ctx, `{"type":"create_file","path":"a.txt","content":"hi"}`))
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	r.Handle(ctx, "history")
	assert.Contains(t, out.String(), "create_file")

	r.Handle(ctx, "undo")
	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	r.Handle(ctx, "undo")
	assert.Contains(t, out.String(), "nothing to undo")

	out.Reset()
	r.Handle(ctx, "undo two")
	assert.Contains(t, out.String(), `"two" is not a number`)
}

func TestREPLPlan(t *testing.T) {
	r, out, dir := newREPL(t)
	ctx := context.Background()

	r.Handle(ctx, `plan {"type":"create_directory","path":"docs"}`)
	r.Handle(ctx, `plan {"type":"create_file","path":"docs/a.md","content":"x"}`)
	assert.Contains(t, out.String(), "queued #2")

	out.Reset()
	r.Handle(ctx, "plan show")
	assert.Contains(t, out.String(), "create directory docs")
	_, err := os.Stat(filepath.Join(dir, "docs"))
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	r.Handle(ctx, "plan run")
	_, err = os.Stat(filepath.Join(dir, "docs", "a.md"))
	assert.NoError(t, err)

	out.Reset()
	r.Handle(ctx, "plan run")
	assert.Contains(t, out.String(), "the plan is empty")
}

func TestREPLMisc(t *testing.T) {
	r, out, _ := newREPL(t)
	ctx := context.Background()

	assert.False(t, r.Handle(ctx, "   "))
	r.Handle(ctx, "help")
	assert.Contains(t, out.String(), "plan run [--force]")

	out.Reset()
	r.Handle(ctx, "tidy up the readme")
	assert.Contains(t, out.String(), "no language model is configured")

	out.Reset()
	r.Handle(ctx, `{"type":"explode"}`)
	assert.Contains(t, out.String(), `unknown operation type "explode"`)

	assert.True(t, r.Handle(ctx, "exit"))
	assert.True(t, r.Handle(ctx, "QUIT"))
}

func TestREPLRunStopsAtEOF(t *testing.T) {
	r, out, _ := newREPL(t)
	r.in = bufio.NewScanner(strings.NewReader(`{"type":"create_directory","path":"x"}` + "\nstats\n"))
	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "operations: 1")
}
