package runner

import (
	"log"
	"sync"

	"github.com/herdctl/herd/pkg/models"
)

// modeController manages the scheduler loop's state machine:
// running ⇄ paused ⇄ stopping → stopped. It is the only piece of live
// scheduler state that command handlers touch directly; everything else
// is owned by the loop goroutine.
type modeController struct {
	mu   sync.RWMutex
	mode models.RunnerMode
}

func newModeController() *modeController {
	return &modeController{mode: models.ModeRunning}
}

// Mode returns the current loop state.
func (m *modeController) Mode() models.RunnerMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Pause suspends spawning. In-flight work keeps draining.
func (m *modeController) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == models.ModeRunning {
		m.mode = models.ModePaused
		log.Printf("[runner] paused - no new work will be spawned")
	}
}

// Resume re-enables spawning after a pause.
func (m *modeController) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == models.ModePaused {
		m.mode = models.ModeRunning
		log.Printf("[runner] resumed - spawning enabled")
	}
}

// Stop moves the loop to stopping. Irreversible; pause and resume are
// ignored from here on.
func (m *modeController) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != models.ModeStopping && m.mode != models.ModeStopped {
		m.mode = models.ModeStopping
		log.Printf("[runner] stopping - draining in-flight work")
	}
}

// markStopped records loop exit. Only the loop goroutine calls this.
func (m *modeController) markStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = models.ModeStopped
}
