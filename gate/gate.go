// Package gate serializes filesystem operations: at most one runs at a time,
// and an interrupted operation gets one best-effort rollback.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fsagent/errs"
	"fsagent/internal/logging"
	"fsagent/undo"
)

// Ledger is the part of the undo ledger the gate needs for rollback.
type Ledger interface {
	// Recorded counts recorded entries; undoing does not change it.
	Recorded() uint64
	UndoLast(n int) []undo.Result
}

// State is a snapshot of the gate for display.
type State struct {
	Busy        bool
	Description string
	Started     time.Time
}

func (s State) String() string {
	if !s.Busy {
		return "idle"
	}
	return fmt.Sprintf("busy: %s (since %s)", s.Description, s.Started.Format(time.Kitchen))
}

// RollbackOutcome reports what Interrupt did.
type RollbackOutcome struct {
	// Interrupted is the description of the operation that was running.
	Interrupted string
	// Attempted is true when an undo was tried.
	Attempted bool
	Results   []undo.Result
	Message   string
}

// Succeeded is true when no rollback was needed or the rollback worked.
func (o RollbackOutcome) Succeeded() bool {
	for _, r := range o.Results {
		if !r.Success {
			return false
		}
	}
	return true
}

// Gate is an Idle/Busy state machine. It does not queue: acquiring a busy
// gate fails immediately.
type Gate struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	busy       bool
	desc       string
	started    time.Time
	watermark  uint64
	cancel     context.CancelFunc
	generation uint64
}

// New creates an idle gate that rolls back through ledger on interrupt.
func New(ledger Ledger, logger *zap.Logger) *Gate {
	return &Gate{
		ledger: ledger,
		logger: logging.OrNop(logger).Named("gate"),
		now:    time.Now,
	}
}

// Ticket is held by the running operation.
type Ticket struct {
	gate       *Gate
	generation uint64
	ctx        context.Context
	once       sync.Once
}

// Context is cancelled when the operation is interrupted.
func (t *Ticket) Context() context.Context {
	return t.ctx
}

// Release returns the gate to Idle. It is safe to call more than once, and
// a ticket whose operation was already interrupted releases nothing.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.gate.release(t.generation)
	})
}

// Acquire moves the gate from Idle to Busy. When the gate is busy the error
// is ConcurrencyRejected and names the running operation.
func (g *Gate) Acquire(ctx context.Context, description string) (*Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return nil, errs.Newf(errs.ConcurrencyRejected, "acquire", "another operation is in progress: %s", g.desc).
			WithSuggestions("wait for it to finish and try again")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Classify("acquire", err)
	}

	opCtx, cancel := context.WithCancel(ctx)
	g.busy = true
	g.desc = description
	g.started = g.now()
	g.cancel = cancel
	g.generation++
	if g.ledger != nil {
		g.watermark = g.ledger.Recorded()
	}

	g.logger.Debug("gate acquired", zap.String("operation", description))
	return &Ticket{gate: g, generation: g.generation, ctx: opCtx}, nil
}

// Release forces the gate back to Idle regardless of who holds it.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idleLocked()
}

func (g *Gate) release(generation uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.busy || g.generation != generation {
		return
	}
	g.logger.Debug("gate released",
		zap.String("operation", g.desc),
		zap.Duration("elapsed", g.now().Sub(g.started)))
	g.idleLocked()
}

func (g *Gate) idleLocked() {
	if g.cancel != nil {
		g.cancel()
	}
	g.busy = false
	g.desc = ""
	g.started = time.Time{}
	g.watermark = 0
	g.cancel = nil
	g.generation++
}

// Run acquires the gate, calls fn with the operation context and releases
// the gate however fn returns. A panic in fn is reported as an IOFailure.
func (g *Gate) Run(ctx context.Context, description string, fn func(ctx context.Context) error) (err error) {
	ticket, err := g.Acquire(ctx, description)
	if err != nil {
		return err
	}
	defer ticket.Release()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("operation panicked", zap.String("operation", description), zap.Any("panic", r))
			err = errs.Newf(errs.IOFailure, description, "operation failed unexpectedly: %v", r)
		}
	}()

	if err := fn(ticket.Context()); err != nil {
		return errs.Classify(description, err)
	}
	return nil
}

// Interrupt cancels the running operation, makes one attempt to undo what
// it recorded, and forces the gate Idle. On an idle gate it does nothing.
func (g *Gate) Interrupt() RollbackOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.busy {
		return RollbackOutcome{Message: "no operation in progress"}
	}

	outcome := RollbackOutcome{Interrupted: g.desc}
	if g.cancel != nil {
		g.cancel()
	}

	switch {
	case g.ledger == nil:
		outcome.Message = "interrupted; no ledger to roll back"
	case g.ledger.Recorded() == g.watermark:
		outcome.Message = "interrupted before anything was recorded; nothing to roll back"
	default:
		outcome.Attempted = true
		outcome.Results = g.ledger.UndoLast(1)
		if outcome.Succeeded() {
			outcome.Message = "interrupted; the operation was rolled back"
		} else {
			outcome.Message = "interrupted; rollback failed, the entry stays in history"
		}
	}

	g.logger.Warn("operation interrupted",
		zap.String("operation", outcome.Interrupted),
		zap.Bool("rollback_attempted", outcome.Attempted),
		zap.Bool("rollback_succeeded", outcome.Succeeded()))

	g.idleLocked()
	return outcome
}

// State returns a snapshot of the gate.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{Busy: g.busy, Description: g.desc, Started: g.started}
}
