package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"fsagent/backup"
	"fsagent/config"
	"fsagent/errs"
	"fsagent/fsops"
	"fsagent/gate"
	"fsagent/intent"
	"fsagent/internal/logging"
	"fsagent/interpreter"
	"fsagent/paths"
	"fsagent/plan"
	"fsagent/undo"
	"fsagent/workspace"
)

// Options customises a session. The zero value runs against the real
// filesystem with no interpreter and no watcher.
type Options struct {
	Fs          afero.Fs
	Interpreter interpreter.Interpreter
	Logger      *zap.Logger
	// Watch enables the workspace watcher that flags stale plan previews.
	Watch     bool
	SessionID string
}

// Session is the presentation-facing facade over one workspace: it owns
// the gate, the ledger, the backup store and the plan queue.
type Session struct {
	id      string
	cfg     *config.Config
	paths   *paths.ProjectPaths
	sandbox *workspace.Sandbox
	fs      afero.Fs
	logger  *zap.Logger

	store      *backup.Store
	ledger     *undo.Ledger
	gate       *gate.Gate
	dispatcher *Dispatcher

	simulator   *plan.Simulator
	queue       plan.Queue
	watcher     *plan.Watcher
	interpreter interpreter.Interpreter
}

// PlanRun is the outcome of executing the queued plan.
type PlanRun struct {
	Analysis plan.Analysis
	Results  []Result
	// Stale is set when the workspace changed after the last preview.
	Stale bool
	// Remaining counts intents left in the queue after a failure.
	Remaining int
}

// NewSession builds every component for workspacePath.
func NewSession(workspacePath string, cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := logging.OrNop(opts.Logger)

	pp, err := paths.NewProjectPaths(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	sandbox := workspace.NewSandbox(pp.WorkspacePath())

	id := opts.SessionID
	if id == "" {
		id = newSessionID()
	}

	store, err := backup.NewStore(fs, pp.BackupsDir(), id, logger)
	if err != nil {
		return nil, err
	}
	ledger := undo.NewLedger(fs, store, cfg.MaxUndo, logger)
	g := gate.New(ledger, logger)

	ops := fsops.New(fs, cfg.MaxFileSize)
	ops.Hidden = sandbox.IsReserved

	policy := Policy{
		BackupBeforeDelete: cfg.BackupBeforeDelete,
		ConfirmDestructive: cfg.ConfirmDestructive,
	}

	s := &Session{
		id:          id,
		cfg:         cfg,
		paths:       pp,
		sandbox:     sandbox,
		fs:          fs,
		logger:      logger.Named("session"),
		store:       store,
		ledger:      ledger,
		gate:        g,
		dispatcher:  NewDispatcher(g, ledger, store, ops, sandbox, policy, logger),
		simulator:   plan.NewSimulator(plan.AferoStater{Fs: fs}, sandbox.Resolve, logger),
		interpreter: opts.Interpreter,
	}

	if opts.Watch {
		w, err := plan.NewWatcher(sandbox.Root(), sandbox.IsReserved, plan.DefaultSettle, logger)
		if err != nil {
			s.logger.Warn("workspace watcher unavailable", zap.Error(err))
		} else {
			s.watcher = w
		}
	}

	s.logger.Info("session started",
		zap.String("id", id),
		zap.String("workspace", sandbox.Root()))
	return s, nil
}

func newSessionID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// ID returns the session id, which names the backup directory.
func (s *Session) ID() string { return s.id }

// Workspace returns the workspace root.
func (s *Session) Workspace() string { return s.sandbox.Root() }

// Config returns the configuration the session was built with.
func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the session's backup store.
func (s *Session) Store() *backup.Store { return s.store }

// Gate returns the operation gate, for the interrupt handler.
func (s *Session) Gate() *gate.Gate { return s.gate }

// Interpret turns free text into an intent.
func (s *Session) Interpret(ctx context.Context, text string) (intent.Intent, error) {
	if s.interpreter == nil {
		return nil, errs.New(errs.Unsupported, "interpret", "no language model is configured").
			WithSuggestions("set an API key with `fsagent config set api_key <key>` or OPENAI_API_KEY")
	}
	return s.interpreter.Interpret(ctx, text)
}

// ExecuteCommand runs a single intent.
func (s *Session) ExecuteCommand(ctx context.Context, in intent.Intent, confirm Confirm) Result {
	return s.dispatcher.Execute(ctx, in, confirm)
}

// UndoOperations reverses up to n recorded operations, newest first.
func (s *Session) UndoOperations(ctx context.Context, n int) ([]undo.Result, error) {
	if n < 1 {
		return nil, errs.Newf(errs.ValidationFailure, "undo", "cannot undo %d operations", n)
	}

	var results []undo.Result
	err := s.gate.Run(ctx, fmt.Sprintf("undo %d", n), func(context.Context) error {
		results = s.ledger.UndoLast(n)
		return nil
	})
	return results, err
}

// HistorySummary lists recorded operations, newest first.
func (s *Session) HistorySummary() []string {
	return s.ledger.HistorySummary()
}

// Statistics summarises the ledger.
func (s *Session) Statistics() undo.Statistics {
	return s.ledger.Statistics()
}

// AddToPlan validates and queues an intent, returning the queue length.
func (s *Session) AddToPlan(in intent.Intent) (int, error) {
	if err := intent.Validate(in); err != nil {
		return s.queue.Len(), err
	}
	return s.queue.Add(in), nil
}

// PlanIntents returns the queued intents in order.
func (s *Session) PlanIntents() []intent.Intent {
	return s.queue.Intents()
}

// AnalyzePlan previews the queued intents against the current workspace.
func (s *Session) AnalyzePlan() plan.Analysis {
	analysis := s.simulator.Analyze(s.queue.Intents())
	if s.watcher != nil {
		s.watcher.MarkFresh()
	}
	return analysis
}

// ExecutePlan re-analyses the queue and, unless conflicts are found and
// force is false, runs every intent in order through the normal path. It
// stops at the first failure and leaves that intent and the ones after it
// queued.
func (s *Session) ExecutePlan(ctx context.Context, confirm Confirm, force bool) (PlanRun, error) {
	intents := s.queue.Intents()
	if len(intents) == 0 {
		return PlanRun{}, errs.New(errs.ValidationFailure, "plan", "the plan is empty").
			WithSuggestions("queue operations with `plan <command>` first")
	}

	run := PlanRun{Stale: s.watcher != nil && s.watcher.Stale()}
	if run.Stale {
		s.logger.Warn("workspace changed since the last preview; re-analysing")
	}
	run.Analysis = s.AnalyzePlan()

	if run.Analysis.HasConflicts() && !force {
		run.Remaining = len(intents)
		return run, errs.Newf(errs.ValidationFailure, "plan", "the plan has %d conflict(s); nothing was executed",
			len(run.Analysis.Conflicts)).
			WithSuggestions("review them with `plan show`", "run anyway with `plan run --force`")
	}

	for i, in := range intents {
		res := s.ExecuteCommand(ctx, in, confirm)
		run.Results = append(run.Results, res)
		if !res.Success {
			rest := intents[i:]
			s.queue.Clear()
			for _, r := range rest {
				s.queue.Add(r)
			}
			run.Remaining = len(rest)
			return run, nil
		}
	}

	s.queue.Clear()
	return run, nil
}

// ClearPlan drops every queued intent.
func (s *Session) ClearPlan() {
	s.queue.Clear()
}

// Interrupt cancels the running operation and attempts one rollback.
func (s *Session) Interrupt() gate.RollbackOutcome {
	return s.gate.Interrupt()
}

// Close stops the watcher and applies backup retention. Backups of this
// session beyond the configured limits are deleted; an unused session
// directory is removed.
func (s *Session) Close() error {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("failed to stop watcher", zap.Error(err))
		}
	}

	report := s.store.Cleanup(s.cfg.BackupMaxAgeHours, s.cfg.BackupMaxCount, false)
	for _, err := range report.Errors {
		s.logger.Warn("backup cleanup error", zap.Error(err))
	}
	if s.store.Len() == 0 {
		// Remove only succeeds on an empty directory.
		_ = s.fs.Remove(s.store.Dir())
	}

	s.logger.Info("session closed", zap.String("id", s.id), zap.Int("operations", s.ledger.Len()))
	return nil
}
