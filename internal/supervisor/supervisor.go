// Package supervisor owns the lifecycle of agent subprocesses: spawning,
// output capture, termination, and completion reporting. It enforces
// per-agent concurrency ceilings and is the scheduler loop's only blocking
// dependency via WaitForAny.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/herdctl/herd/pkg/models"
)

// ErrAtCapacity indicates the agent's concurrency ceiling is already met.
var ErrAtCapacity = errors.New("agent concurrency ceiling reached")

// ErrConfig indicates the agent command cannot be resolved.
var ErrConfig = errors.New("agent command cannot be resolved")

// DefaultOutputCap bounds the in-memory output capture per stream.
// The truncation is deliberate: full output goes to the durable file sink.
const DefaultOutputCap = 10 * 1024

// DefaultAgentLimit applies when routing specifies no ceiling for an agent.
const DefaultAgentLimit = 2

// CompletionEvent describes one finished subprocess.
type CompletionEvent struct {
	// RunID is the RunRecord id created at spawn time.
	RunID string
	// WorkItemID is the item the subprocess executed.
	WorkItemID string
	// Agent is the agent name the subprocess ran as.
	Agent string
	// PID is the subprocess OS pid.
	PID int
	// ExitCode is the subprocess exit code (-1 if killed by signal).
	ExitCode int
	// EndedAt is when the subprocess exited.
	EndedAt time.Time
	// OutputTail is the bounded captured output, for failure classification.
	OutputTail []byte
}

// RunRecorder persists RunRecords. The store is written before the
// supervisor tracks the process, so a crash never loses a "this ran" fact.
type RunRecorder interface {
	CreateRun(rec *models.RunRecord) error
}

// Supervisor spawns and tracks agent subprocesses.
type Supervisor struct {
	limitFor   func(agent string) int
	recorder   RunRecorder
	captureDir string
	outputCap  int
	onChunk    func(workItemID string, chunk []byte)

	mu     sync.Mutex
	procs  map[string]*proc
	counts map[string]int

	completions chan CompletionEvent
	closing     chan struct{}
	wg          sync.WaitGroup
}

type proc struct {
	runID   string
	itemID  string
	agent   string
	cmd     *exec.Cmd
	stdout  *captureBuffer
	stderr  *captureBuffer
	logFile *os.File
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRecorder wires durable RunRecord creation at spawn time.
func WithRecorder(r RunRecorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// WithCaptureDir enables durable per-run output files under dir.
func WithCaptureDir(dir string) Option {
	return func(s *Supervisor) { s.captureDir = dir }
}

// WithOutputCap overrides the in-memory capture bound.
func WithOutputCap(n int) Option {
	return func(s *Supervisor) { s.outputCap = n }
}

// WithOutputSink registers a subscriber that receives output chunks as
// they arrive. Delivery is synchronous with the subprocess write, so the
// sink must not block.
func WithOutputSink(fn func(workItemID string, chunk []byte)) Option {
	return func(s *Supervisor) { s.onChunk = fn }
}

// New creates a Supervisor. limitFor resolves the per-agent concurrency
// ceiling; a non-positive result falls back to DefaultAgentLimit.
func New(limitFor func(agent string) int, opts ...Option) *Supervisor {
	s := &Supervisor{
		limitFor:    limitFor,
		outputCap:   DefaultOutputCap,
		procs:       make(map[string]*proc),
		counts:      make(map[string]int),
		completions: make(chan CompletionEvent, 64),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts a subprocess for the work item. It fails with ErrAtCapacity
// when the agent's ceiling is met and with ErrConfig when the command
// cannot be resolved; neither failure creates a RunRecord.
func (s *Supervisor) Spawn(workItemID, agent string, argv []string, workDir string) (*models.RunRecord, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("agent %s: %w", agent, ErrConfig)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("agent %s: %q: %w", agent, argv[0], ErrConfig)
	}

	s.mu.Lock()
	if _, exists := s.procs[workItemID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("work item %s already has an active subprocess", workItemID)
	}
	limit := s.limitFor(agent)
	if limit <= 0 {
		limit = DefaultAgentLimit
	}
	if s.counts[agent] >= limit {
		s.mu.Unlock()
		return nil, fmt.Errorf("agent %s (limit %d): %w", agent, limit, ErrAtCapacity)
	}
	// Reserve the slot before the (slow) process start.
	s.counts[agent]++
	s.mu.Unlock()

	runID := uuid.New().String()

	var logFile *os.File
	var outputPath string
	if s.captureDir != "" {
		if err := os.MkdirAll(s.captureDir, 0o755); err != nil {
			log.Printf("[supervisor] capture dir unavailable: %v", err)
		} else {
			outputPath = filepath.Join(s.captureDir, runID+".log")
			logFile, _ = os.Create(outputPath)
		}
	}

	var sink func([]byte)
	if s.onChunk != nil {
		sink = func(chunk []byte) { s.onChunk(workItemID, chunk) }
	}
	// stdout and stderr are independent bounded sinks sharing one
	// durable log file.
	stdout := newCaptureBuffer(s.outputCap, writerOrNil(logFile), sink)
	stderr := newCaptureBuffer(s.outputCap, writerOrNil(logFile), sink)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cleanup := func() {
		s.release(agent)
		if logFile != nil {
			logFile.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("start agent %s: %w", agent, err)
	}

	rec := &models.RunRecord{
		ID:         runID,
		WorkItemID: workItemID,
		Agent:      agent,
		PID:        cmd.Process.Pid,
		Status:     models.RunRunning,
		StartedAt:  time.Now().UTC(),
		OutputPath: outputPath,
	}

	if s.recorder != nil {
		if err := s.recorder.CreateRun(rec); err != nil {
			// Without a durable record the run must not proceed.
			cmd.Process.Kill()
			cmd.Wait()
			cleanup()
			return nil, fmt.Errorf("persist run record: %w", err)
		}
	}

	p := &proc{
		runID:   runID,
		itemID:  workItemID,
		agent:   agent,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		logFile: logFile,
	}

	s.mu.Lock()
	s.procs[workItemID] = p
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reap(p)

	log.Printf("[supervisor] spawned %s for item %s (agent=%s pid=%d)", argv[0], workItemID, agent, rec.PID)
	return rec, nil
}

// IsRunning returns true if the work item has an active subprocess.
func (s *Supervisor) IsRunning(workItemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[workItemID]
	return ok
}

// RunningFor returns the number of active subprocesses for the agent.
func (s *Supervisor) RunningFor(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[agent]
}

// ActiveCount returns the total number of active subprocesses.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// ActiveItems returns the work item IDs with active subprocesses.
func (s *Supervisor) ActiveItems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.procs))
	for id := range s.procs {
		out = append(out, id)
	}
	return out
}

// Kill sends a graceful termination signal to the work item's subprocess.
// Best-effort: it does not wait for the process to exit.
func (s *Supervisor) Kill(workItemID string) error {
	s.mu.Lock()
	p, ok := s.procs[workItemID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active subprocess for work item %s", workItemID)
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

// GetOutput returns the bounded captured output (stdout then stderr) for
// the work item's active subprocess.
func (s *Supervisor) GetOutput(workItemID string) ([]byte, error) {
	s.mu.Lock()
	p, ok := s.procs[workItemID]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no active subprocess for work item %s", workItemID)
	}
	return append(p.stdout.Bytes(), p.stderr.Bytes()...), nil
}

// WaitForAny blocks until a subprocess completes or the timeout elapses.
// A zero or negative timeout polls without blocking. This is the
// supervisor's only suspending call, and the bound keeps pause/stop
// commands responsive.
func (s *Supervisor) WaitForAny(timeout time.Duration) (*CompletionEvent, bool) {
	if timeout <= 0 {
		select {
		case ev := <-s.completions:
			return &ev, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-s.completions:
		return &ev, true
	case <-timer.C:
		return nil, false
	}
}

// Shutdown terminates all owned subprocesses and waits up to grace for
// them to exit, escalating to SIGKILL afterwards. Only the owning runner
// process may call this; attaching clients never reach it.
func (s *Supervisor) Shutdown(grace time.Duration) {
	close(s.closing)

	s.mu.Lock()
	for _, p := range s.procs {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if s.ActiveCount() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	s.mu.Lock()
	for _, p := range s.procs {
		log.Printf("[supervisor] pid %d did not exit within grace, killing", p.cmd.Process.Pid)
		p.cmd.Process.Kill()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// reap waits for the subprocess to exit and publishes a completion event.
func (s *Supervisor) reap(p *proc) {
	defer s.wg.Done()

	err := p.cmd.Wait()
	endedAt := time.Now().UTC()

	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	tail := append(p.stdout.Bytes(), p.stderr.Bytes()...)
	if p.logFile != nil {
		p.logFile.Close()
	}

	s.mu.Lock()
	delete(s.procs, p.itemID)
	if s.counts[p.agent] > 0 {
		s.counts[p.agent]--
	}
	s.mu.Unlock()

	ev := CompletionEvent{
		RunID:      p.runID,
		WorkItemID: p.itemID,
		Agent:      p.agent,
		PID:        p.cmd.Process.Pid,
		ExitCode:   exitCode,
		EndedAt:    endedAt,
		OutputTail: tail,
	}

	select {
	case s.completions <- ev:
	case <-s.closing:
		// Shutdown in progress; the store still holds the run record and
		// startup reconciliation will complete it.
	}
}

// release returns a reserved concurrency slot.
func (s *Supervisor) release(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[agent] > 0 {
		s.counts[agent]--
	}
}

// writerOrNil avoids a typed-nil io.Writer inside captureBuffer.
func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}
