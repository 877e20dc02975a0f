package review

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCommandTriggerRunsHook(t *testing.T) {
	out := filepath.Join(t.TempDir(), "fired")
	// With sh -c the appended item and run IDs land in $0 and $1.
	tr := NewCommandTrigger(func() []string {
		return []string{"/bin/sh", "-c", "echo \"$0 $1\" >> " + out}
	})

	tr.ItemEnteredReview("item-1", "run-1")

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(out)
		if err == nil && len(data) > 0 {
			if !strings.Contains(string(data), "item-1 run-1") {
				t.Fatalf("hook received wrong args: %q", data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hook did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommandTriggerFiresOncePerRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "count")
	tr := NewCommandTrigger(func() []string {
		return []string{"/bin/sh", "-c", "echo x >> " + out}
	})

	for i := 0; i < 5; i++ {
		tr.ItemEnteredReview("item-1", "run-1")
	}
	tr.ItemEnteredReview("item-1", "run-2")

	time.Sleep(500 * time.Millisecond)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook never ran: %v", err)
	}
	if got := strings.Count(string(data), "x"); got != 2 {
		t.Errorf("expected exactly one firing per run id, got %d lines", got)
	}
}

func TestCommandTriggerEmptyArgv(t *testing.T) {
	tr := NewCommandTrigger(func() []string { return nil })
	// Must not panic or block.
	tr.ItemEnteredReview("item-1", "run-1")
}
