package runner

import (
	"fmt"
	"log"
	"syscall"
	"time"

	"github.com/herdctl/herd/internal/protocol"
	"github.com/herdctl/herd/pkg/models"
)

// isProcessAlive probes a PID with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Reconcile inspects runs left in the running state by a previous
// instance. A dead PID means the run was orphaned: the record is closed
// as failed and the item returns to open for rescheduling. A live PID
// we did not spawn only gets a warning; never kill work you cannot be
// certain about.
func (r *Runner) Reconcile() error {
	active, err := r.store.ListActiveRuns()
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	for _, rec := range active {
		if isProcessAlive(rec.PID) {
			log.Printf("[runner] pid %d for item %s is alive but not owned by this instance, leaving it",
				rec.PID, rec.WorkItemID)
			r.emitter.Emit(&protocol.StatusLine{
				Line: fmt.Sprintf("warning: pid %d (item %s) predates this instance and is still running", rec.PID, rec.WorkItemID),
			})
			continue
		}

		log.Printf("[runner] run %s (item %s, pid %d) found dead, marking orphaned", rec.ID, rec.WorkItemID, rec.PID)
		if err := r.store.CompleteRun(rec.ID, models.RunFailed, -1, models.FailureOrphaned, time.Now().UTC()); err != nil {
			return fmt.Errorf("reconcile run %s: %w", rec.ID, err)
		}

		item, err := r.store.GetWorkItem(rec.WorkItemID)
		if err != nil {
			log.Printf("[runner] reconcile: orphaned run %s references missing item %s", rec.ID, rec.WorkItemID)
			continue
		}
		if item.Status == models.StatusInProgress {
			if err := r.store.SetWorkItemStatus(item.ID, models.StatusOpen); err != nil {
				return fmt.Errorf("reconcile item %s: %w", item.ID, err)
			}
		}
	}
	return nil
}
