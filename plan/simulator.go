// Package plan previews the cumulative effect of queued intents without
// touching the filesystem.
package plan

import (
	"sync"

	"go.uber.org/zap"

	"fsagent/intent"
	"fsagent/internal/logging"
)

// Resolver maps a user path to an absolute workspace path.
type Resolver func(path string) (string, error)

// Simulator takes a fresh snapshot on every call to Analyze.
type Simulator struct {
	stater  Stater
	resolve Resolver
	logger  *zap.Logger
}

// NewSimulator builds a simulator over st.
func NewSimulator(st Stater, resolve Resolver, logger *zap.Logger) *Simulator {
	return &Simulator{stater: st, resolve: resolve, logger: logging.OrNop(logger).Named("plan")}
}

// Steps resolves the paths of every intent.
func (s *Simulator) Steps(intents []intent.Intent) []Step {
	steps := make([]Step, 0, len(intents))
	for _, in := range intents {
		step := Step{Intent: in}
		step.Target, step.Err = s.resolve(in.Target())
		if src := intent.Source(in); src != "" && step.Err == nil {
			step.Source, step.Err = s.resolve(src)
		}
		steps = append(steps, step)
	}
	return steps
}

// Analyze snapshots the current filesystem state and simulates intents.
func (s *Simulator) Analyze(intents []intent.Intent) Analysis {
	steps := s.Steps(intents)
	snap := TakeSnapshot(s.stater, steps)
	analysis := Analyze(snap, steps)

	s.logger.Debug("analyzed plan",
		zap.Int("steps", len(steps)),
		zap.Int("paths", len(snap.states)),
		zap.Int("conflicts", len(analysis.Conflicts)),
		zap.Int("warnings", len(analysis.Warnings)))
	return analysis
}

// Queue holds intents waiting to be previewed or executed.
type Queue struct {
	mu      sync.Mutex
	intents []intent.Intent
}

// Add appends an intent and returns the new length.
func (q *Queue) Add(in intent.Intent) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, in)
	return len(q.intents)
}

// Intents returns a copy of the queue in enqueue order.
func (q *Queue) Intents() []intent.Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]intent.Intent(nil), q.intents...)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = nil
}

// Len returns the number of queued intents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.intents)
}
