// Package runner drives the scheduler loop: it reconciles completed
// subprocesses, routes ready work items to agents within their
// concurrency ceilings and health windows, and publishes state changes
// to attached control-plane clients. One runner owns all live scheduler
// state per instance; clients only ever observe and command it.
package runner

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/herdctl/herd/internal/health"
	"github.com/herdctl/herd/internal/protocol"
	"github.com/herdctl/herd/internal/review"
	"github.com/herdctl/herd/internal/routing"
	"github.com/herdctl/herd/internal/state"
	"github.com/herdctl/herd/internal/supervisor"
	"github.com/herdctl/herd/pkg/models"
)

// DefaultPollInterval bounds the loop's idle wait so pause and stop
// commands are observed promptly.
const DefaultPollInterval = 2 * time.Second

// Runner is the scheduler loop and its collaborators.
type Runner struct {
	store   state.Store
	routes  *routing.Table
	health  *health.Tracker
	sup     *supervisor.Supervisor
	trigger review.Trigger
	emitter *Emitter
	mode    *modeController

	instanceID string
	socketPath string
	startedAt  time.Time
	workDir    string

	mu           sync.Mutex
	pollInterval time.Duration
	itemTimeout  time.Duration
	deadlines    map[string]time.Time
	timedOut     map[string]bool

	done chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithPollInterval sets the loop's idle-wait bound.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithItemTimeout kills runs exceeding d and classifies them as timeouts.
// Zero disables the limit.
func WithItemTimeout(d time.Duration) Option {
	return func(r *Runner) { r.itemTimeout = d }
}

// WithWorkDir sets the working directory for spawned agents.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// New assembles a Runner around its collaborators.
func New(instanceID, socketPath string, store state.Store, routes *routing.Table,
	tracker *health.Tracker, sup *supervisor.Supervisor, trigger review.Trigger,
	emitter *Emitter, opts ...Option) *Runner {

	r := &Runner{
		store:        store,
		routes:       routes,
		health:       tracker,
		sup:          sup,
		trigger:      trigger,
		emitter:      emitter,
		mode:         newModeController(),
		instanceID:   instanceID,
		socketPath:   socketPath,
		startedAt:    time.Now().UTC(),
		pollInterval: DefaultPollInterval,
		deadlines:    make(map[string]time.Time),
		timedOut:     make(map[string]bool),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if iv := routes.PollInterval(); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil && d > 0 {
			r.pollInterval = d
		}
	}
	return r
}

// Run executes the scheduler loop until stopped. It restores persisted
// health state and reconciles orphans before the first iteration.
func (r *Runner) Run() error {
	defer close(r.done)
	defer r.mode.markStopped()

	if entries, err := r.store.ListHealth(); err == nil {
		r.health.Restore(entries)
	} else {
		log.Printf("[runner] could not restore health state: %v", err)
	}
	if err := r.Reconcile(); err != nil {
		return err
	}

	log.Printf("[runner] instance %s started (pid %d)", r.instanceID, os.Getpid())

	for {
		mode := r.mode.Mode()

		r.drainCompletions()
		r.enforceTimeouts()

		if mode == models.ModeRunning {
			r.dispatch()
		}

		r.broadcastStatus()

		if mode == models.ModeStopping {
			if r.sup.ActiveCount() == 0 {
				log.Printf("[runner] all in-flight work drained, stopping")
				return nil
			}
		}

		if ev, ok := r.sup.WaitForAny(r.currentPollInterval()); ok {
			r.handleCompletion(ev)
		}
	}
}

// Done is closed once the loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Mode returns the loop's current state.
func (r *Runner) Mode() models.RunnerMode {
	return r.mode.Mode()
}

// Pause suspends spawning. In-flight work keeps draining and completions
// are still observed.
func (r *Runner) Pause() { r.mode.Pause() }

// Resume re-enables spawning.
func (r *Runner) Resume() { r.mode.Resume() }

// Stop begins a graceful stop: no new spawns, in-flight runs drain.
func (r *Runner) Stop() { r.mode.Stop() }

// ForceStop stops the loop and kills all in-flight runs.
func (r *Runner) ForceStop() {
	r.mode.Stop()
	for _, itemID := range r.sup.ActiveItems() {
		if err := r.sup.Kill(itemID); err != nil {
			log.Printf("[runner] force stop: %v", err)
		}
	}
}

// ReloadConfig re-reads the routing configuration.
func (r *Runner) ReloadConfig() error {
	return r.routes.Reload()
}

// SetInterval changes the loop's idle-wait bound at runtime.
func (r *Runner) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %v", d)
	}
	r.mu.Lock()
	r.pollInterval = d
	r.mu.Unlock()
	log.Printf("[runner] poll interval set to %v", d)
	return nil
}

// Snapshot builds the full state view sent to attaching clients.
func (r *Runner) Snapshot() models.RunnerSnapshot {
	snap := models.RunnerSnapshot{
		InstanceID: r.instanceID,
		PID:        os.Getpid(),
		StartedAt:  r.startedAt,
		Mode:       r.mode.Mode(),
		SocketPath: r.socketPath,
		Health:     r.health.Snapshot(),
	}
	if active, err := r.store.ListActiveRuns(); err == nil {
		for _, rec := range active {
			snap.ActiveRuns = append(snap.ActiveRuns, *rec)
		}
	}
	return snap
}

// drainCompletions handles every already-finished subprocess without
// blocking.
func (r *Runner) drainCompletions() {
	for {
		ev, ok := r.sup.WaitForAny(0)
		if !ok {
			return
		}
		r.handleCompletion(ev)
	}
}

// handleCompletion persists the run outcome, updates health and item
// state, and fires the review trigger on success.
func (r *Runner) handleCompletion(ev *supervisor.CompletionEvent) {
	r.mu.Lock()
	timedOut := r.timedOut[ev.WorkItemID]
	delete(r.timedOut, ev.WorkItemID)
	delete(r.deadlines, ev.WorkItemID)
	r.mu.Unlock()

	status, failure := Classify(ev.ExitCode, timedOut, ev.OutputTail)

	if err := r.store.CompleteRun(ev.RunID, status, ev.ExitCode, failure, ev.EndedAt); err != nil {
		log.Printf("[runner] complete run %s: %v", ev.RunID, err)
	}

	result := "success"
	switch {
	case status == models.RunSucceeded:
		h := r.health.RecordSuccess(ev.Agent)
		r.persistHealth(h)
		// Recoveries are broadcast too, so attached clients see the
		// breaker close without re-attaching for a snapshot.
		r.emitter.Emit(&protocol.HealthChange{Health: h})
		if err := r.store.SetWorkItemStatus(ev.WorkItemID, models.StatusReview); err != nil {
			log.Printf("[runner] move item %s to review: %v", ev.WorkItemID, err)
		}
		r.trigger.ItemEnteredReview(ev.WorkItemID, ev.RunID)

	case failure == models.FailurePermission:
		// Needs a human, not a retry: label the item and keep the
		// breaker out of it.
		result = string(failure)
		if err := r.store.AddLabel(ev.WorkItemID, models.LabelNeedsHuman); err != nil {
			log.Printf("[runner] label item %s: %v", ev.WorkItemID, err)
		}
		if err := r.store.SetWorkItemStatus(ev.WorkItemID, models.StatusOpen); err != nil {
			log.Printf("[runner] reopen item %s: %v", ev.WorkItemID, err)
		}

	default:
		result = string(failure)
		h := r.health.RecordFailure(ev.Agent, failure)
		r.persistHealth(h)
		r.emitter.Emit(&protocol.HealthChange{Health: h})
		if err := r.store.SetWorkItemStatus(ev.WorkItemID, models.StatusOpen); err != nil {
			log.Printf("[runner] reopen item %s: %v", ev.WorkItemID, err)
		}
	}

	r.emitter.Emit(&protocol.TaskCompleted{
		WorkItemID: ev.WorkItemID,
		Agent:      ev.Agent,
		RunID:      ev.RunID,
		Result:     result,
		ExitCode:   ev.ExitCode,
	})
}

// dispatch routes ready items to agents and spawns them, up to each
// agent's remaining concurrency and subject to health availability.
func (r *Runner) dispatch() {
	ready, err := r.store.FindReady()
	if err != nil {
		log.Printf("[runner] find ready: %v", err)
		return
	}

	for _, item := range ready {
		if r.sup.IsRunning(item.ID) {
			continue
		}

		agent, err := r.routes.AgentForTier(item.Tier)
		if err != nil {
			log.Printf("[runner] item %s: %v", item.ID, err)
			continue
		}
		if !r.health.IsAvailable(agent) {
			continue
		}
		if r.sup.RunningFor(agent) >= r.routes.ConcurrencyLimit(agent) {
			continue
		}

		argv, err := r.routes.CommandFor(agent)
		if err != nil {
			log.Printf("[runner] item %s: %v", item.ID, err)
			continue
		}
		argv = append(argv, item.ID)

		rec, err := r.sup.Spawn(item.ID, agent, argv, r.workDir)
		if err != nil {
			// Spawn-time failures are local: skip this item now, retry
			// next iteration.
			if !errors.Is(err, supervisor.ErrAtCapacity) {
				log.Printf("[runner] spawn item %s: %v", item.ID, err)
			}
			continue
		}

		if err := r.store.SetWorkItemStatus(item.ID, models.StatusInProgress); err != nil {
			log.Printf("[runner] mark item %s in_progress: %v", item.ID, err)
		}
		if r.itemTimeout > 0 {
			r.mu.Lock()
			r.deadlines[item.ID] = time.Now().Add(r.itemTimeout)
			r.mu.Unlock()
		}

		r.emitter.Emit(&protocol.TaskSpawned{
			WorkItemID: item.ID,
			Agent:      agent,
			RunID:      rec.ID,
			PID:        rec.PID,
		})
	}
}

// enforceTimeouts kills runs past their allowed duration. The completion
// path classifies them as timeouts when they exit.
func (r *Runner) enforceTimeouts() {
	if r.itemTimeout <= 0 {
		return
	}

	now := time.Now()
	r.mu.Lock()
	var expired []string
	for itemID, deadline := range r.deadlines {
		if now.After(deadline) && !r.timedOut[itemID] {
			r.timedOut[itemID] = true
			expired = append(expired, itemID)
		}
	}
	r.mu.Unlock()

	for _, itemID := range expired {
		log.Printf("[runner] item %s exceeded %v, killing", itemID, r.itemTimeout)
		if err := r.sup.Kill(itemID); err != nil {
			log.Printf("[runner] timeout kill %s: %v", itemID, err)
		}
	}
}

// broadcastStatus emits a one-line state delta after each iteration.
func (r *Runner) broadcastStatus() {
	ready, _ := r.store.FindReady()
	blocked, _ := r.store.FindBlocked()
	r.emitter.Emit(&protocol.StatusLine{
		Line: fmt.Sprintf("%s: %d running, %d ready, %d blocked",
			r.mode.Mode(), r.sup.ActiveCount(), len(ready), len(blocked)),
	})
}

func (r *Runner) persistHealth(h models.AgentHealth) {
	if err := r.store.UpsertHealth(h); err != nil {
		log.Printf("[runner] persist health for %s: %v", h.Agent, err)
	}
}

func (r *Runner) currentPollInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollInterval
}
