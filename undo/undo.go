package undo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fsagent/errs"
	"fsagent/internal/logging"
)

// DefaultMaxEntries is used when the ledger is built with a non-positive bound.
const DefaultMaxEntries = 50

// Kind identifies which reversal applies to an entry.
type Kind int

const (
	KindCreateFile Kind = iota
	KindCreateDirectory
	KindWriteFile
	KindModifyFile
	KindTruncateFile
	KindDeleteFile
	KindDeleteDirectory
	KindDeleteDirectoryNoBackup
	KindMoveFile
	KindRenameFile
)

var kindNames = [...]string{
	KindCreateFile:              "create_file",
	KindCreateDirectory:         "create_directory",
	KindWriteFile:               "write_file",
	KindModifyFile:              "modify_file",
	KindTruncateFile:            "truncate_file",
	KindDeleteFile:              "delete_file",
	KindDeleteDirectory:         "delete_directory",
	KindDeleteDirectoryNoBackup: "delete_directory_no_backup",
	KindMoveFile:                "move_file",
	KindRenameFile:              "rename_file",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Reversal carries what an entry needs to be undone: a backup id, the path
// the target was moved away from, or nothing for pure creations.
type Reversal struct {
	BackupID     string `json:"backup_id,omitempty"`
	OriginalPath string `json:"original_path,omitempty"`
}

// FromBackup returns a reversal that restores the given backup.
func FromBackup(id string) Reversal { return Reversal{BackupID: id} }

// FromPath returns a reversal that moves the target back to original.
func FromPath(original string) Reversal { return Reversal{OriginalPath: original} }

// None is the reversal of an entry undone by deleting its target.
func None() Reversal { return Reversal{} }

// Entry is one recorded, successfully completed operation.
type Entry struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	TargetPath  string    `json:"target_path"`
	Reversal    Reversal  `json:"reversal"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Undoable reports whether the entry can be reversed in principle.
func (e Entry) Undoable() bool {
	switch e.Kind {
	case KindCreateFile, KindCreateDirectory, KindMoveFile, KindRenameFile:
		return true
	case KindWriteFile, KindModifyFile, KindTruncateFile, KindDeleteFile, KindDeleteDirectory:
		return e.Reversal.BackupID != ""
	case KindDeleteDirectoryNoBackup:
		return false
	}
	return false
}

// Result is the outcome of one attempted reversal.
type Result struct {
	Entry   Entry
	Success bool
	Message string
	Err     error
}

// Statistics summarises the retained history.
type Statistics struct {
	TotalOperations    int       `json:"total_operations"`
	UndoableOperations int       `json:"undoable_operations"`
	LastOperationTime  time.Time `json:"last_operation_time"`
}

// Restorer restores a backup to a path. *backup.Store satisfies it.
type Restorer interface {
	RestoreBackup(id, targetPath string) error
}

// Ledger is the bounded, oldest-to-newest history of reversible operations.
// Record and UndoLast are expected to run behind the operation gate; the
// read-only accessors may be called at any time.
type Ledger struct {
	fs       afero.Fs
	restorer Restorer
	max      int
	logger   *zap.Logger

	mu      sync.Mutex
	entries []Entry
	// recorded counts Record calls; undo and eviction leave it alone.
	recorded uint64
	now      func() time.Time
}

// NewLedger creates an empty ledger holding at most max entries.
func NewLedger(fs afero.Fs, restorer Restorer, max int, logger *zap.Logger) *Ledger {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Ledger{
		fs:       fs,
		restorer: restorer,
		max:      max,
		logger:   logging.OrNop(logger).Named("undo"),
		now:      time.Now,
	}
}

// Record appends an entry for an operation that has fully succeeded,
// evicting the oldest entries once the bound is exceeded.
func (l *Ledger) Record(kind Kind, targetPath string, rev Reversal, description string) Entry {
	entry := Entry{
		ID:          ulid.Make().String(),
		Kind:        kind,
		TargetPath:  targetPath,
		Reversal:    rev,
		Timestamp:   l.now(),
		Description: description,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.recorded++
	var evicted []Entry
	if over := len(l.entries) - l.max; over > 0 {
		evicted = append(evicted, l.entries[:over]...)
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	for _, e := range evicted {
		l.logger.Debug("evicted undo entry", zap.String("id", e.ID), zap.Stringer("kind", e.Kind))
	}
	l.logger.Debug("recorded operation",
		zap.String("id", entry.ID),
		zap.Stringer("kind", kind),
		zap.String("target", targetPath))
	return entry
}

// UndoLast reverses up to n entries, newest first. It stops at the first
// failure and puts that entry back on the ledger. One Result is returned per
// attempted entry, in attempt order; an empty ledger yields no results.
func (l *Ledger) UndoLast(n int) []Result {
	var results []Result
	for i := 0; i < n; i++ {
		entry, ok := l.pop()
		if !ok {
			break
		}

		res := l.reverseSafely(entry)
		results = append(results, res)
		if !res.Success {
			l.pushBack(entry)
			l.logger.Warn("undo failed",
				zap.String("id", entry.ID),
				zap.Stringer("kind", entry.Kind),
				zap.String("target", entry.TargetPath),
				zap.Error(res.Err))
			break
		}
		l.logger.Info("undid operation", zap.String("id", entry.ID), zap.Stringer("kind", entry.Kind))
	}
	return results
}

func (l *Ledger) pop() (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}
	last := len(l.entries) - 1
	entry := l.entries[last]
	l.entries = l.entries[:last]
	return entry, true
}

func (l *Ledger) pushBack(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
}

// reverseSafely turns a panic inside a reversal into a failed result.
func (l *Ledger) reverseSafely(entry Entry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := errs.Newf(errs.IOFailure, "undo", "reversal panicked: %v", r).WithPath(entry.TargetPath)
			res = Result{Entry: entry, Message: err.Error(), Err: err}
		}
	}()

	msg, err := l.reverse(entry)
	if err != nil {
		return Result{Entry: entry, Message: errs.Message(err), Err: err}
	}
	return Result{Entry: entry, Success: true, Message: msg}
}

func (l *Ledger) reverse(entry Entry) (string, error) {
	target := entry.TargetPath

	switch entry.Kind {
	case KindCreateFile, KindCreateDirectory:
		if err := l.fs.RemoveAll(target); err != nil {
			return "", errs.Classify("undo", err).WithPath(target)
		}
		return fmt.Sprintf("removed %s", target), nil

	case KindWriteFile, KindModifyFile, KindTruncateFile:
		if entry.Reversal.BackupID == "" {
			return "", errs.New(errs.BackupUnavailable, "undo", "no backup available").WithPath(target)
		}
		if err := l.restore(entry); err != nil {
			return "", err
		}
		return fmt.Sprintf("restored previous content of %s", target), nil

	case KindDeleteFile:
		if entry.Reversal.BackupID != "" {
			if err := l.restore(entry); err != nil {
				return "", err
			}
			return fmt.Sprintf("restored %s", target), nil
		}
		if err := l.recreateEmpty(target); err != nil {
			return "", err
		}
		return fmt.Sprintf("recreated %s as an empty file; its content was not backed up", target), nil

	case KindDeleteDirectory:
		if entry.Reversal.BackupID != "" {
			if err := l.restore(entry); err != nil {
				return "", err
			}
			return fmt.Sprintf("restored directory %s", target), nil
		}
		if err := l.fs.MkdirAll(target, 0755); err != nil {
			return "", errs.Classify("undo", err).WithPath(target)
		}
		return fmt.Sprintf("recreated empty directory %s", target), nil

	case KindMoveFile, KindRenameFile:
		return l.moveBack(entry)

	case KindDeleteDirectoryNoBackup:
		return "", errs.New(errs.Unsupported, "undo", "directory was deleted without a backup; there is nothing to reverse").
			WithPath(target)
	}

	return "", errs.Newf(errs.Unsupported, "undo", "no reversal for %s", entry.Kind)
}

func (l *Ledger) restore(entry Entry) error {
	if l.restorer == nil {
		return errs.New(errs.BackupUnavailable, "undo", "no backup store configured").WithPath(entry.TargetPath)
	}

	err := l.restorer.RestoreBackup(entry.Reversal.BackupID, entry.TargetPath)
	if err == nil {
		return nil
	}
	if errs.Is(err, errs.NotFound) {
		return errs.Wrap(errs.BackupUnavailable, "undo", err,
			fmt.Sprintf("backup %s is no longer available; this operation is permanently un-restorable", entry.Reversal.BackupID)).
			WithPath(entry.TargetPath)
	}
	return err
}

func (l *Ledger) recreateEmpty(target string) error {
	if err := l.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errs.Classify("undo", err).WithPath(target)
	}
	f, err := l.fs.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Classify("undo", err).WithPath(target)
	}
	return f.Close()
}

func (l *Ledger) moveBack(entry Entry) (string, error) {
	original := entry.Reversal.OriginalPath
	target := entry.TargetPath
	if original == "" {
		return "", errs.New(errs.Unsupported, "undo", "original location was not recorded").WithPath(target)
	}

	if _, err := l.fs.Stat(target); err != nil {
		return "", errs.Classify("undo", err).WithPath(target)
	}
	if _, err := l.fs.Stat(original); err == nil {
		return "", errs.New(errs.AlreadyExists, "undo", "original location is occupied").
			WithPath(original).
			WithSuggestions("move or delete the file at the original location, then undo again")
	}

	if err := l.fs.MkdirAll(filepath.Dir(original), 0755); err != nil {
		return "", errs.Classify("undo", err).WithPath(original)
	}
	if err := l.fs.Rename(target, original); err != nil {
		return "", errs.Classify("undo", err).WithPath(target)
	}
	return fmt.Sprintf("moved %s back to %s", target, original), nil
}

// Statistics reports counts over the retained entries only.
func (l *Ledger) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Statistics{TotalOperations: len(l.entries)}
	for _, e := range l.entries {
		if e.Undoable() {
			stats.UndoableOperations++
		}
	}
	if n := len(l.entries); n > 0 {
		stats.LastOperationTime = l.entries[n-1].Timestamp
	}
	return stats
}

// HistorySummary returns one line per entry, newest first.
func (l *Ledger) HistorySummary() []string {
	entries := l.Entries()
	lines := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		desc := e.Description
		if desc == "" {
			desc = e.TargetPath
		}
		marker := ""
		if !e.Undoable() {
			marker = " (not undoable)"
		}
		lines = append(lines, fmt.Sprintf("%s  %-26s %s%s",
			e.Timestamp.Format("15:04:05"), e.Kind, desc, marker))
	}
	return lines
}

// Entries returns a copy of the ledger, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Recorded returns how many entries have ever been recorded. Unlike the
// ledger length it only moves forward, and only when something is recorded.
func (l *Ledger) Recorded() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recorded
}

// LastID returns the id of the newest entry, or "" when empty.
func (l *Ledger) LastID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1].ID
}
