package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsagent/config"
	"fsagent/errs"
	"fsagent/gate"
	"fsagent/intent"
	"fsagent/undo"
)

func newSession(t *testing.T, tweak func(*config.Config)) *Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ConfirmDestructive = false
	if tweak != nil {
		tweak(cfg)
	}
	s, err := NewSession(t.TempDir(), cfg, Options{SessionID: "test-session"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func yes(string) bool { return true }
func no(string) bool  { return false }

func (s *Session) abs(rel string) string {
	return filepath.Join(s.Workspace(), rel)
}

func readFile(t *testing.T, s *Session, rel string) string {
	t.Helper()
	data, err := os.ReadFile(s.abs(rel))
	require.NoError(t, err)
	return string(data)
}

func exists(s *Session, rel string) bool {
	_, err := os.Stat(s.abs(rel))
	return err == nil
}

func TestCreateModifyUndoScenario(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	res := s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "hello"}, nil)
	require.True(t, res.Success, res.Message)
	assert.Empty(t, res.BackupID)

	res = s.ExecuteCommand(ctx, intent.ModifyFile{Path: "a.txt", Find: "hello", Replace: "world"}, nil)
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.BackupID)
	assert.Equal(t, "world", readFile(t, s, "a.txt"))
	assert.Equal(t, 1, s.Store().Len())

	results, err := s.UndoOperations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)
	assert.Equal(t, "hello", readFile(t, s, "a.txt"))

	results, err = s.UndoOperations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.False(t, exists(s, "a.txt"))

	results, err = s.UndoOperations(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReadsAreNotRecorded(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "hi"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.ReadFile{Path: "a.txt"}, nil)
	require.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)

	res = s.ExecuteCommand(ctx, intent.ListDirectory{}, nil)
	require.True(t, res.Success)
	require.Len(t, res.Entries, 1, "bookkeeping directories are hidden")
	assert.Equal(t, "a.txt", res.Entries[0].Path)

	assert.Equal(t, 1, s.Statistics().TotalOperations)
}

func TestPathsAreSandboxed(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	res := s.ExecuteCommand(ctx, intent.ReadFile{Path: "../outside.txt"}, nil)
	assert.Equal(t, errs.PathRejected, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.CreateFile{Path: ".agent-backups/evil.txt"}, nil)
	assert.Equal(t, errs.PathRejected, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.DeleteDirectory{Path: ".", Recursive: true}, nil)
	assert.Equal(t, errs.PathRejected, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.CreateFile{}, nil)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))
}

func TestDestructiveNeedsConfirmation(t *testing.T) {
	s := newSession(t, func(c *config.Config) { c.ConfirmDestructive = true })
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "x"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.DeleteFile{Path: "a.txt"}, no)
	assert.Equal(t, errs.Cancelled, errs.KindOf(res.Err))
	assert.True(t, exists(s, "a.txt"))

	res = s.ExecuteCommand(ctx, intent.DeleteFile{Path: "a.txt"}, nil)
	assert.Equal(t, errs.Cancelled, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.DeleteFile{Path: "a.txt"}, yes)
	assert.True(t, res.Success)
	assert.False(t, exists(s, "a.txt"))
}

func TestDeleteFileUndoRecreatesEmpty(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "data"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.DeleteFile{Path: "a.txt"}, nil)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Warnings)

	results, err := s.UndoOperations(ctx, 1)
	require.NoError(t, err)
	require.True(t, results[0].Success)
	assert.Equal(t, "", readFile(t, s, "a.txt"))
}

func TestDeleteWithBackupRestoresContent(t *testing.T) {
	s := newSession(t, func(c *config.Config) { c.BackupBeforeDelete = true })
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "d/a.txt", Content: "A"}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "b.txt", Content: "B"}, nil).Success)

	require.True(t, s.ExecuteCommand(ctx, intent.DeleteFile{Path: "b.txt"}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.DeleteDirectory{Path: "d", Recursive: true}, nil).Success)
	assert.False(t, exists(s, "d"))

	results, err := s.UndoOperations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", readFile(t, s, "d/a.txt"))
	assert.Equal(t, "B", readFile(t, s, "b.txt"))
}

func TestDeleteDirectoryWithoutBackupCannotBeUndone(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "d/a.txt", Content: "A"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.DeleteDirectory{Path: "d"}, nil)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.DeleteDirectory{Path: "d", Recursive: true}, nil)
	require.True(t, res.Success)
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, undo.KindDeleteDirectoryNoBackup, res.Recorded[0].Kind)

	results, err := s.UndoOperations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, errs.Unsupported, errs.KindOf(results[0].Err))
	assert.Equal(t, 2, s.Statistics().TotalOperations)
}

func TestMoveOverwriteUndoRestoresBoth(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "A"}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "b.txt", Content: "B"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.MoveFile{Source: "a.txt", Destination: "b.txt"}, nil)
	assert.Equal(t, errs.AlreadyExists, errs.KindOf(res.Err))

	res = s.ExecuteCommand(ctx, intent.MoveFile{Source: "a.txt", Destination: "b.txt", Overwrite: true}, nil)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Recorded, 2)
	assert.Equal(t, "A", readFile(t, s, "b.txt"))

	results, err := s.UndoOperations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", readFile(t, s, "a.txt"))
	assert.Equal(t, "B", readFile(t, s, "b.txt"))
}

func TestRenameAndCopy(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "dir/old.txt", Content: "x"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.RenameFile{Path: "dir/old.txt", NewName: "new.txt"}, nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, filepath.Join("dir", "new.txt"), res.Path)

	res = s.ExecuteCommand(ctx, intent.CopyFile{Source: "dir/new.txt", Destination: "copy.txt"}, nil)
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, undo.KindCreateFile, res.Recorded[0].Kind)

	results, err := s.UndoOperations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, exists(s, "copy.txt"))
	assert.True(t, exists(s, "dir/old.txt"))
}

func TestMoveAndCopyMessagesNameRelativeSource(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "x"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.CopyFile{Source: "a.txt", Destination: "b.txt"}, nil)
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "from a.txt")
	assert.NotContains(t, res.Message, s.Workspace())

	res = s.ExecuteCommand(ctx, intent.MoveFile{Source: "b.txt", Destination: "sub/c.txt"}, nil)
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "from b.txt")
	assert.NotContains(t, res.Message, s.Workspace())
}

func TestCopyOntoItselfKeepsContent(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "precious"}, nil).Success)

	res := s.ExecuteCommand(ctx, intent.CopyFile{Source: "a.txt", Destination: "a.txt", Overwrite: true}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))
	assert.Equal(t, "precious", readFile(t, s, "a.txt"))
	assert.Equal(t, 0, s.Store().Len())

	res = s.ExecuteCommand(ctx, intent.MoveFile{Source: "a.txt", Destination: "a.txt", Overwrite: true}, nil)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))
	assert.Equal(t, "precious", readFile(t, s, "a.txt"))
	assert.Equal(t, 1, s.ledger.Len())
}

func TestWriteAndTruncateTakeBackups(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	require.True(t, s.ExecuteCommand(ctx, intent.WriteFile{Path: "log.txt", Content: "one\n"}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.WriteFile{Path: "log.txt", Content: "two\n", Append: true}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.TruncateFile{Path: "log.txt", Size: 2}, nil).Success)
	assert.Equal(t, "on", readFile(t, s, "log.txt"))
	assert.Equal(t, 2, s.Store().Len())

	stats := s.Statistics()
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 3, stats.UndoableOperations)

	_, err := s.UndoOperations(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "one\n", readFile(t, s, "log.txt"))

	res := s.ExecuteCommand(ctx, intent.ModifyFile{Path: "missing.txt", Find: "a"}, nil)
	assert.Equal(t, errs.NotFound, errs.KindOf(res.Err))
}

func TestBusyGateRejectsCommands(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	ticket, err := s.Gate().Acquire(ctx, "long running write")
	require.NoError(t, err)

	res := s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt"}, nil)
	assert.Equal(t, errs.ConcurrencyRejected, errs.KindOf(res.Err))
	assert.Contains(t, res.Err.Error(), "long running write")
	assert.False(t, exists(s, "a.txt"))

	_, err = s.UndoOperations(ctx, 1)
	assert.Equal(t, errs.ConcurrencyRejected, errs.KindOf(err))

	ticket.Release()
	assert.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt"}, nil).Success)
}

func TestCancelledContextChangesNothing(t *testing.T) {
	s := newSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt"}, nil)
	assert.Equal(t, errs.Cancelled, errs.KindOf(res.Err))
	assert.False(t, exists(s, "a.txt"))
	assert.Equal(t, 0, s.Statistics().TotalOperations)
}

func TestInterruptWhileIdle(t *testing.T) {
	s := newSession(t, nil)
	outcome := s.Interrupt()
	assert.False(t, outcome.Attempted)
}

func TestInterruptDuringUndoLeavesOlderEntries(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "a"}, nil).Success)
	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "b.txt", Content: "b"}, nil).Success)

	var outcome gate.RollbackOutcome
	err := s.gate.Run(ctx, "undo 1", func(context.Context) error {
		s.ledger.UndoLast(1)
		outcome = s.Interrupt()
		return nil
	})
	require.NoError(t, err)

	assert.False(t, outcome.Attempted)
	assert.False(t, exists(s, "b.txt"))
	assert.True(t, exists(s, "a.txt"))
	assert.Equal(t, 1, s.ledger.Len())
	assert.False(t, s.Gate().State().Busy)
}

func TestInterruptRollsBackRecordedOperation(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	require.True(t, s.ExecuteCommand(ctx, intent.CreateFile{Path: "a.txt", Content: "a"}, nil).Success)

	var outcome gate.RollbackOutcome
	err := s.gate.Run(ctx, "create file c.txt", func(context.Context) error {
		require.NoError(t, os.WriteFile(s.abs("c.txt"), []byte("c"), 0o644))
		s.ledger.Record(undo.KindCreateFile, s.abs("c.txt"), undo.None(), "create file c.txt")
		outcome = s.Interrupt()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "create file c.txt", outcome.Interrupted)
	assert.True(t, outcome.Attempted)
	assert.True(t, outcome.Succeeded())
	assert.False(t, exists(s, "c.txt"))
	assert.True(t, exists(s, "a.txt"))
	assert.Equal(t, 1, s.ledger.Len())
}

func TestPlanWithConflictIsRefused(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	_, err := s.AddToPlan(intent.CreateFile{Path: "x.txt", Content: "x"})
	require.NoError(t, err)
	n, err := s.AddToPlan(intent.DeleteFile{Path: "x.txt"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.AddToPlan(intent.DeleteFile{})
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(err))

	analysis := s.AnalyzePlan()
	require.Len(t, analysis.GlobalConflicts, 1)

	run, err := s.ExecutePlan(ctx, nil, false)
	require.Error(t, err)
	assert.Empty(t, run.Results)
	assert.Equal(t, 2, run.Remaining)
	assert.False(t, exists(s, "x.txt"))
	assert.Len(t, s.PlanIntents(), 2)

	run, err = s.ExecutePlan(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	assert.False(t, exists(s, "x.txt"))
	assert.Empty(t, s.PlanIntents())
	assert.Equal(t, 2, s.Statistics().TotalOperations)
}

func TestPlanExecutesInOrderAndStopsOnFailure(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()

	_, err := s.ExecutePlan(ctx, nil, false)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(err))

	s.AddToPlan(intent.CreateDirectory{Path: "docs"})
	s.AddToPlan(intent.CreateFile{Path: "docs/readme.md", Content: "# hi"})
	s.AddToPlan(intent.ModifyFile{Path: "docs/readme.md", Find: "absent", Replace: "x"})
	s.AddToPlan(intent.CreateFile{Path: "after.txt"})

	run, err := s.ExecutePlan(ctx, nil, true)
	require.NoError(t, err)
	require.Len(t, run.Results, 3)
	assert.True(t, run.Results[0].Success)
	assert.True(t, run.Results[1].Success)
	assert.False(t, run.Results[2].Success)
	assert.Equal(t, 2, run.Remaining)
	assert.Len(t, s.PlanIntents(), 2)
	assert.False(t, exists(s, "after.txt"))

	s.ClearPlan()
	assert.Empty(t, s.PlanIntents())
}

func TestInterpretWithoutModel(t *testing.T) {
	s := newSession(t, nil)
	_, err := s.Interpret(context.Background(), "make a file")
	assert.Equal(t, errs.Unsupported, errs.KindOf(err))
}

func TestHistorySummary(t *testing.T) {
	s := newSession(t, nil)
	ctx := context.Background()
	s.ExecuteCommand(ctx, intent.CreateDirectory{Path: "a"}, nil)
	s.ExecuteCommand(ctx, intent.CreateFile{Path: "a/b.txt"}, nil)

	lines := s.HistorySummary()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "create file a/b.txt")
}
