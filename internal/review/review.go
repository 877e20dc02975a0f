// Package review fires the configured review hook when a work item's run
// succeeds and the item moves to the review state. Triggering is
// fire-and-forget: hook failures are logged, never retried, and never
// affect the item's state.
package review

import (
	"log"
	"os/exec"
	"sync"
)

// Trigger is notified once per successful run completion.
type Trigger interface {
	// ItemEnteredReview fires the hook for the given item and run.
	ItemEnteredReview(workItemID, runID string)
}

// NopTrigger ignores review notifications. Used when no hook is configured.
type NopTrigger struct{}

// ItemEnteredReview implements Trigger.
func (NopTrigger) ItemEnteredReview(workItemID, runID string) {}

// CommandTrigger runs an external command for each item entering review.
// The item ID and run ID are appended to the configured argv. A run ID is
// triggered at most once even if completion handling is retried.
type CommandTrigger struct {
	argv func() []string

	mu    sync.Mutex
	fired map[string]bool
}

// NewCommandTrigger creates a trigger that resolves its argv per firing,
// so config reloads take effect without restarting the runner.
func NewCommandTrigger(argv func() []string) *CommandTrigger {
	return &CommandTrigger{
		argv:  argv,
		fired: make(map[string]bool),
	}
}

// ItemEnteredReview implements Trigger. The hook runs asynchronously.
func (t *CommandTrigger) ItemEnteredReview(workItemID, runID string) {
	t.mu.Lock()
	if t.fired[runID] {
		t.mu.Unlock()
		return
	}
	t.fired[runID] = true
	t.mu.Unlock()

	argv := t.argv()
	if len(argv) == 0 {
		return
	}

	go func() {
		args := append(append([]string{}, argv[1:]...), workItemID, runID)
		cmd := exec.Command(argv[0], args...)
		if err := cmd.Run(); err != nil {
			log.Printf("[review] hook for item %s failed: %v", workItemID, err)
		}
	}()
}

var (
	_ Trigger = (*CommandTrigger)(nil)
	_ Trigger = NopTrigger{}
)
