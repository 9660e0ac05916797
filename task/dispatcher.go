package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fsagent/backup"
	"fsagent/errs"
	"fsagent/fsops"
	"fsagent/gate"
	"fsagent/intent"
	"fsagent/internal/logging"
	"fsagent/undo"
)

// Confirm is asked before a destructive operation runs. Returning false
// cancels it.
type Confirm func(prompt string) bool

// Resolver confines paths to the workspace. *workspace.Sandbox satisfies it.
type Resolver interface {
	Resolve(path string) (string, error)
	Root() string
	Rel(abs string) string
}

// Policy holds the config switches the dispatcher honours.
type Policy struct {
	BackupBeforeDelete bool
	ConfirmDestructive bool
}

// Result is what one executed command reports to the user.
type Result struct {
	Intent      intent.Intent `json:"-"`
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Path        string        `json:"path,omitempty"`
	Output      string        `json:"output,omitempty"`
	Entries     []fsops.Entry `json:"entries,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	BackupID    string        `json:"backup_id,omitempty"`
	Recorded    []undo.Entry  `json:"-"`
	Err         error         `json:"-"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

func failure(in intent.Intent, err error) Result {
	return Result{
		Intent:      in,
		Message:     errs.Message(err),
		Err:         err,
		Suggestions: errs.Suggestions(err),
	}
}

// Dispatcher runs one intent at a time through the gate, taking backups
// before mutation and recording every completed change in the ledger.
type Dispatcher struct {
	gate   *gate.Gate
	ledger *undo.Ledger
	store  *backup.Store
	ops    *fsops.Ops
	paths  Resolver
	policy Policy
	logger *zap.Logger
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(g *gate.Gate, ledger *undo.Ledger, store *backup.Store, ops *fsops.Ops, paths Resolver, policy Policy, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gate:   g,
		ledger: ledger,
		store:  store,
		ops:    ops,
		paths:  paths,
		policy: policy,
		logger: logging.OrNop(logger).Named("dispatcher"),
	}
}

// Execute validates, confirms and runs in. Every failure comes back
// classified inside the Result; Execute itself never panics.
func (d *Dispatcher) Execute(ctx context.Context, in intent.Intent, confirm Confirm) Result {
	if err := intent.Validate(in); err != nil {
		return failure(in, err)
	}

	target, err := d.paths.Resolve(in.Target())
	if err != nil {
		return failure(in, err)
	}
	var source string
	if src := intent.Source(in); src != "" {
		if source, err = d.paths.Resolve(src); err != nil {
			return failure(in, err)
		}
	}
	if err := d.guardRoot(in, target, source); err != nil {
		return failure(in, err)
	}
	if source != "" && source == target {
		return failure(in, errs.New(errs.ValidationFailure, string(in.Kind()), "source and destination are the same").
			WithPath(d.displayPath(target)))
	}

	if d.needsConfirmation(in, target) {
		prompt := fmt.Sprintf("%s. Continue?", d.describe(in))
		if confirm == nil || !confirm(prompt) {
			return failure(in, errs.New(errs.Cancelled, string(in.Kind()), "cancelled; nothing was changed"))
		}
	}

	var res Result
	err = d.gate.Run(ctx, d.describe(in), func(ctx context.Context) error {
		res = d.apply(ctx, in, target, source)
		return nil
	})
	if err != nil {
		res = failure(in, err)
	}
	res.Intent = in

	if res.Success {
		d.logger.Info("operation succeeded", zap.String("kind", string(in.Kind())), zap.String("path", target))
	} else {
		d.logger.Warn("operation failed",
			zap.String("kind", string(in.Kind())),
			zap.String("path", target),
			zap.Error(res.Err))
	}
	return res
}

func (d *Dispatcher) describe(in intent.Intent) string {
	return intent.Describe(in)
}

func (d *Dispatcher) guardRoot(in intent.Intent, target, source string) error {
	root := d.paths.Root()
	switch in.(type) {
	case intent.DeleteDirectory, intent.DeleteFile, intent.TruncateFile:
		if target == root {
			return errs.New(errs.PathRejected, string(in.Kind()), "refusing to operate on the workspace root")
		}
	case intent.MoveFile, intent.RenameFile:
		if source == root {
			return errs.New(errs.PathRejected, string(in.Kind()), "refusing to move the workspace root")
		}
	}
	return nil
}

func (d *Dispatcher) needsConfirmation(in intent.Intent, target string) bool {
	explicit := false
	switch v := in.(type) {
	case intent.DeleteFile:
		explicit = v.Confirm
	case intent.DeleteDirectory:
		explicit = v.Confirm
	}
	if explicit {
		return true
	}
	if !d.policy.ConfirmDestructive {
		return false
	}
	if intent.Destructive(in) {
		return true
	}
	if _, ok := in.(intent.WriteFile); ok {
		_, err := d.ops.Fs().Stat(target)
		return err == nil
	}
	return false
}

// checkpoint stops the operation when it was interrupted.
func checkpoint(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Cancelled, op, err, "operation interrupted; nothing was changed")
	}
	return nil
}

func (d *Dispatcher) stat(path string) (os.FileInfo, bool) {
	info, err := d.ops.Fs().Stat(path)
	if err != nil {
		return nil, false
	}
	return info, true
}

// mandatoryBackup backs up path or aborts the operation.
func (d *Dispatcher) mandatoryBackup(ctx context.Context, op, path string, dir bool) (*backup.Record, error) {
	if err := checkpoint(ctx, op); err != nil {
		return nil, err
	}
	var (
		rec *backup.Record
		err error
	)
	if dir {
		rec, err = d.store.CreateDirectoryBackup(path)
	} else {
		rec, err = d.store.CreateBackup(path)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), op, err, "backup failed; operation aborted, nothing was changed").
			WithPath(path)
	}
	return rec, nil
}

func (d *Dispatcher) apply(ctx context.Context, in intent.Intent, target, source string) Result {
	op := string(in.Kind())
	if err := checkpoint(ctx, op); err != nil {
		return failure(in, err)
	}

	var (
		res      Result
		pending  []pendingEntry
		backupID string
	)

	switch v := in.(type) {
	case intent.ReadFile:
		return d.finish(ctx, in, d.ops.ReadFile(target), nil, "")

	case intent.ListDirectory:
		return d.finish(ctx, in, d.ops.List(target, v.Pattern, v.Recursive), nil, "")

	case intent.CreateFile:
		info, existed := d.stat(target)
		if existed && !info.IsDir() && v.Overwrite {
			rec, err := d.mandatoryBackup(ctx, op, target, false)
			if err != nil {
				return failure(in, err)
			}
			backupID = rec.ID
			pending = append(pending, pendingEntry{undo.KindWriteFile, target, undo.FromBackup(rec.ID)})
		} else {
			pending = append(pending, pendingEntry{undo.KindCreateFile, target, undo.None()})
		}
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		return d.finish(ctx, in, d.ops.CreateFile(target, v.Content, v.Overwrite), pending, backupID)

	case intent.CreateDirectory:
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		pending = append(pending, pendingEntry{undo.KindCreateDirectory, target, undo.None()})
		return d.finish(ctx, in, d.ops.CreateDirectory(target), pending, "")

	case intent.WriteFile:
		info, existed := d.stat(target)
		if existed && !info.IsDir() {
			rec, err := d.mandatoryBackup(ctx, op, target, false)
			if err != nil {
				return failure(in, err)
			}
			backupID = rec.ID
			pending = append(pending, pendingEntry{undo.KindWriteFile, target, undo.FromBackup(rec.ID)})
		} else {
			pending = append(pending, pendingEntry{undo.KindCreateFile, target, undo.None()})
		}
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		return d.finish(ctx, in, d.ops.WriteFile(target, v.Content, v.Append), pending, backupID)

	case intent.ModifyFile:
		if err := d.requireFile(op, target); err != nil {
			return failure(in, err)
		}
		rec, err := d.mandatoryBackup(ctx, op, target, false)
		if err != nil {
			return failure(in, err)
		}
		pending = append(pending, pendingEntry{undo.KindModifyFile, target, undo.FromBackup(rec.ID)})
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		return d.finish(ctx, in, d.ops.ReplaceInFile(target, v.Find, v.Replace, v.Count), pending, rec.ID)

	case intent.TruncateFile:
		if err := d.requireFile(op, target); err != nil {
			return failure(in, err)
		}
		rec, err := d.mandatoryBackup(ctx, op, target, false)
		if err != nil {
			return failure(in, err)
		}
		pending = append(pending, pendingEntry{undo.KindTruncateFile, target, undo.FromBackup(rec.ID)})
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		return d.finish(ctx, in, d.ops.Truncate(target, v.Size), pending, rec.ID)

	case intent.DeleteFile:
		if err := d.requireFile(op, target); err != nil {
			return failure(in, err)
		}
		rev := undo.None()
		if d.policy.BackupBeforeDelete {
			rec, err := d.mandatoryBackup(ctx, op, target, false)
			if err != nil {
				return failure(in, err)
			}
			backupID = rec.ID
			rev = undo.FromBackup(rec.ID)
		}
		pending = append(pending, pendingEntry{undo.KindDeleteFile, target, rev})
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		res = d.finish(ctx, in, d.ops.DeleteFile(target), pending, backupID)
		if res.Success && backupID == "" {
			res.Warnings = append(res.Warnings, "no backup was taken; undo recreates the file empty")
		}
		return res

	case intent.DeleteDirectory:
		info, ok := d.stat(target)
		if !ok {
			return failure(in, errs.New(errs.NotFound, op, "path does not exist").WithPath(target))
		}
		if !info.IsDir() {
			return failure(in, errs.New(errs.ValidationFailure, op, "path is not a directory").WithPath(target))
		}
		kind, rev := undo.KindDeleteDirectory, undo.None()
		switch {
		case d.policy.BackupBeforeDelete:
			rec, err := d.mandatoryBackup(ctx, op, target, true)
			if err != nil {
				return failure(in, err)
			}
			backupID = rec.ID
			rev = undo.FromBackup(rec.ID)
		case d.hasChildren(target):
			kind = undo.KindDeleteDirectoryNoBackup
		}
		pending = append(pending, pendingEntry{kind, target, rev})
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		res = d.finish(ctx, in, d.ops.DeleteDirectory(target, v.Recursive), pending, backupID)
		if res.Success && kind == undo.KindDeleteDirectoryNoBackup {
			res.Warnings = append(res.Warnings, "no backup was taken; this deletion cannot be undone")
		}
		return res

	case intent.MoveFile:
		return d.move(ctx, in, source, target, v.Overwrite, undo.KindMoveFile)

	case intent.RenameFile:
		return d.move(ctx, in, source, target, false, undo.KindRenameFile)

	case intent.CopyFile:
		info, existed := d.stat(target)
		if existed && !info.IsDir() && v.Overwrite {
			rec, err := d.mandatoryBackup(ctx, op, target, false)
			if err != nil {
				return failure(in, err)
			}
			backupID = rec.ID
			pending = append(pending, pendingEntry{undo.KindWriteFile, target, undo.FromBackup(rec.ID)})
		} else {
			pending = append(pending, pendingEntry{undo.KindCreateFile, target, undo.None()})
		}
		if err := checkpoint(ctx, op); err != nil {
			return failure(in, err)
		}
		return d.finish(ctx, in, d.fromSource(d.ops.Copy(source, target, v.Overwrite), source), pending, backupID)
	}

	return failure(in, errs.Newf(errs.Unsupported, op, "operation %s is not supported", op))
}

// move records the overwritten destination, if any, before the move itself
// so undo puts the source back first and then restores the destination.
func (d *Dispatcher) move(ctx context.Context, in intent.Intent, source, target string, overwrite bool, kind undo.Kind) Result {
	op := string(in.Kind())
	var (
		pending  []pendingEntry
		backupID string
	)

	if info, existed := d.stat(target); existed && overwrite {
		rec, err := d.mandatoryBackup(ctx, op, target, info.IsDir())
		if err != nil {
			return failure(in, err)
		}
		backupID = rec.ID
		replaced := undo.KindDeleteFile
		if info.IsDir() {
			replaced = undo.KindDeleteDirectory
		}
		pending = append(pending, pendingEntry{replaced, target, undo.FromBackup(rec.ID)})
	}
	pending = append(pending, pendingEntry{kind, target, undo.FromPath(source)})

	if err := checkpoint(ctx, op); err != nil {
		return failure(in, err)
	}
	return d.finish(ctx, in, d.fromSource(d.ops.Move(source, target, overwrite), source), pending, backupID)
}

// fromSource names the workspace-relative source in a move or copy
// message; the destination follows as the result path.
func (d *Dispatcher) fromSource(pr fsops.Result, source string) fsops.Result {
	if pr.Success {
		pr.Message = fmt.Sprintf("%s from %s to", pr.Message, d.displayPath(source))
	}
	return pr
}

type pendingEntry struct {
	kind   undo.Kind
	target string
	rev    undo.Reversal
}

// finish turns a primitive result into a command result. Ledger entries are
// recorded only once the primitive has succeeded; a change that completed
// after an interrupt is still recorded so it can be undone.
func (d *Dispatcher) finish(ctx context.Context, in intent.Intent, pr fsops.Result, pending []pendingEntry, backupID string) Result {
	if !pr.Success {
		err := pr.Err
		if err == nil {
			err = errs.New(errs.IOFailure, string(in.Kind()), pr.Error)
		}
		res := failure(in, err)
		if backupID != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("backup %s was kept", backupID))
		}
		return res
	}

	res := Result{
		Intent:   in,
		Success:  true,
		Message:  pr.Message,
		Path:     d.displayPath(pr.Path),
		Output:   pr.Output,
		Entries:  pr.Entries,
		BackupID: backupID,
	}
	desc := d.describe(in)
	for _, p := range pending {
		res.Recorded = append(res.Recorded, d.ledger.Record(p.kind, p.target, p.rev, desc))
	}
	if ctx.Err() != nil {
		res.Warnings = append(res.Warnings, "interrupted after the change was applied; it was recorded and can be undone")
	}
	return res
}

func (d *Dispatcher) requireFile(op, path string) error {
	info, ok := d.stat(path)
	if !ok {
		return errs.New(errs.NotFound, op, "file does not exist").WithPath(path)
	}
	if info.IsDir() {
		return errs.New(errs.ValidationFailure, op, "path is a directory").WithPath(path)
	}
	return nil
}

func (d *Dispatcher) hasChildren(dir string) bool {
	f, err := d.ops.Fs().Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	names, _ := f.Readdirnames(1)
	return len(names) > 0
}

// displayPath is used in messages shown to the user.
func (d *Dispatcher) displayPath(abs string) string {
	if abs == "" {
		return ""
	}
	rel := d.paths.Rel(abs)
	if rel == "." {
		return filepath.Base(d.paths.Root())
	}
	return rel
}
