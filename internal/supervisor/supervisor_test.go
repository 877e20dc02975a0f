package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

type memRecorder struct {
	runs []*models.RunRecord
	fail bool
}

func (m *memRecorder) CreateRun(rec *models.RunRecord) error {
	if m.fail {
		return errors.New("store unavailable")
	}
	m.runs = append(m.runs, rec)
	return nil
}

func fixedLimit(n int) func(string) int {
	return func(string) int { return n }
}

func TestSpawnAndWaitSuccess(t *testing.T) {
	rec := &memRecorder{}
	s := New(fixedLimit(2), WithRecorder(rec))

	run, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "echo hello"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if run.PID <= 0 {
		t.Errorf("expected a real pid, got %d", run.PID)
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != models.RunRunning {
		t.Fatalf("expected one running run record, got %+v", rec.runs)
	}

	ev, ok := s.WaitForAny(5 * time.Second)
	if !ok {
		t.Fatal("expected a completion event")
	}
	if ev.RunID != run.ID || ev.WorkItemID != "item-1" {
		t.Errorf("completion does not match spawn: %+v", ev)
	}
	if ev.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", ev.ExitCode)
	}
	if !strings.Contains(string(ev.OutputTail), "hello") {
		t.Errorf("expected captured output, got %q", ev.OutputTail)
	}
	if s.IsRunning("item-1") {
		t.Error("item should no longer be running after completion")
	}
	if s.RunningFor("sonnet") != 0 {
		t.Error("slot should be released after completion")
	}
}

func TestSpawnReportsNonzeroExit(t *testing.T) {
	s := New(fixedLimit(2))
	if _, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "exit 7"}, t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	ev, ok := s.WaitForAny(5 * time.Second)
	if !ok {
		t.Fatal("expected a completion event")
	}
	if ev.ExitCode != 7 {
		t.Errorf("expected exit 7, got %d", ev.ExitCode)
	}
}

func TestSpawnAtCapacity(t *testing.T) {
	rec := &memRecorder{}
	s := New(fixedLimit(1), WithRecorder(rec))
	defer s.Shutdown(2 * time.Second)

	if _, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "sleep 5"}, t.TempDir()); err != nil {
		t.Fatalf("first spawn: %v", err)
	}

	_, err := s.Spawn("item-2", "sonnet", []string{"/bin/sh", "-c", "true"}, t.TempDir())
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	// A rejected spawn must not leave a run record behind.
	if len(rec.runs) != 1 {
		t.Errorf("expected 1 run record, got %d", len(rec.runs))
	}

	// A different agent is unaffected by sonnet's ceiling.
	if _, err := s.Spawn("item-3", "opus", []string{"/bin/sh", "-c", "true"}, t.TempDir()); err != nil {
		t.Errorf("other agent should have its own ceiling: %v", err)
	}
}

func TestSpawnConfigError(t *testing.T) {
	rec := &memRecorder{}
	s := New(fixedLimit(2), WithRecorder(rec))

	_, err := s.Spawn("item-1", "sonnet", []string{"no-such-binary-herd-test"}, t.TempDir())
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := s.Spawn("item-1", "sonnet", nil, t.TempDir()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty argv, got %v", err)
	}
	if len(rec.runs) != 0 {
		t.Errorf("config failures must not create run records, got %d", len(rec.runs))
	}
	if s.RunningFor("sonnet") != 0 {
		t.Error("rejected spawn must not consume a slot")
	}
}

func TestSpawnRecorderFailureKillsProcess(t *testing.T) {
	rec := &memRecorder{fail: true}
	s := New(fixedLimit(2), WithRecorder(rec))

	_, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "sleep 5"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error when run record cannot be persisted")
	}
	if s.IsRunning("item-1") {
		t.Error("process must not be tracked when persistence fails")
	}
	if s.RunningFor("sonnet") != 0 {
		t.Error("slot must be released when persistence fails")
	}
}

func TestWaitForAnyTimeout(t *testing.T) {
	s := New(fixedLimit(2))

	start := time.Now()
	ev, ok := s.WaitForAny(50 * time.Millisecond)
	if ok || ev != nil {
		t.Fatalf("expected timeout, got %+v", ev)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("WaitForAny returned before the timeout")
	}
}

func TestKill(t *testing.T) {
	s := New(fixedLimit(2))

	if _, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "sleep 30"}, t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := s.Kill("item-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}

	ev, ok := s.WaitForAny(5 * time.Second)
	if !ok {
		t.Fatal("expected completion after kill")
	}
	if ev.ExitCode == 0 {
		t.Error("killed process should not report success")
	}

	if err := s.Kill("item-1"); err == nil {
		t.Error("expected error killing an item with no subprocess")
	}
}

func TestOutputCapTruncates(t *testing.T) {
	s := New(fixedLimit(2), WithOutputCap(64))

	cmd := []string{"/bin/sh", "-c", "i=0; while [ $i -lt 100 ]; do echo 0123456789012345; i=$((i+1)); done"}
	if _, err := s.Spawn("item-1", "sonnet", cmd, t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	ev, ok := s.WaitForAny(5 * time.Second)
	if !ok {
		t.Fatal("expected completion")
	}
	if len(ev.OutputTail) > 128 {
		t.Errorf("expected bounded capture, got %d bytes", len(ev.OutputTail))
	}
}

func TestCaptureDirWritesFullOutput(t *testing.T) {
	dir := t.TempDir()
	s := New(fixedLimit(2), WithOutputCap(8), WithCaptureDir(dir))

	run, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "echo full-line-beyond-cap"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, ok := s.WaitForAny(5 * time.Second); !ok {
		t.Fatal("expected completion")
	}

	if run.OutputPath == "" {
		t.Fatal("expected an output path on the run record")
	}
	data, err := os.ReadFile(run.OutputPath)
	if err != nil {
		t.Fatalf("read capture file: %v", err)
	}
	if !strings.Contains(string(data), "full-line-beyond-cap") {
		t.Errorf("durable file should hold the full stream, got %q", data)
	}
	if filepath.Dir(run.OutputPath) != dir {
		t.Errorf("capture file should live under %s, got %s", dir, run.OutputPath)
	}
}

func TestOutputSinkReceivesChunks(t *testing.T) {
	var got []string
	done := make(chan struct{})
	s := New(fixedLimit(2), WithOutputSink(func(itemID string, chunk []byte) {
		got = append(got, itemID+":"+string(chunk))
	}))

	if _, err := s.Spawn("item-1", "sonnet", []string{"/bin/sh", "-c", "echo streamed"}, t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	go func() {
		s.WaitForAny(5 * time.Second)
		close(done)
	}()
	<-done

	joined := strings.Join(got, "")
	if !strings.Contains(joined, "item-1:") || !strings.Contains(joined, "streamed") {
		t.Errorf("sink did not receive the stream, got %q", joined)
	}
}

func TestShutdownTerminatesAll(t *testing.T) {
	s := New(fixedLimit(4))

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Spawn(id, "sonnet", []string{"/bin/sh", "-c", "sleep 30"}, t.TempDir()); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	if s.ActiveCount() != 3 {
		t.Fatalf("expected 3 active, got %d", s.ActiveCount())
	}

	start := time.Now()
	s.Shutdown(5 * time.Second)
	if s.ActiveCount() != 0 {
		t.Errorf("expected no active processes after shutdown, got %d", s.ActiveCount())
	}
	if time.Since(start) > 4*time.Second {
		t.Error("shutdown took longer than expected for SIGTERM-responsive processes")
	}
}
