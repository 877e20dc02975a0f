package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

func TestDecodeDispatchesOnType(t *testing.T) {
	line := []byte(`{"type":"set_interval","instance_id":"i-1","request_id":"r-1","interval":"5s"}`)

	msg, err := Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	si, ok := msg.(*SetInterval)
	if !ok {
		t.Fatalf("expected *SetInterval, got %T", msg)
	}
	if si.Interval != "5s" || si.RequestID != "r-1" {
		t.Errorf("fields not decoded: %+v", si)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reboot_universe"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown message type") {
		t.Errorf("expected unknown-type rejection, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Error("expected malformed input to be rejected")
	}
}

func TestEncodeStampsHeader(t *testing.T) {
	msg := &TaskCompleted{
		WorkItemID: "item-1",
		Agent:      "sonnet",
		RunID:      "run-1",
		Result:     "network_error",
		ExitCode:   75,
	}
	msg.InstanceID = "i-1"

	line, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	back, err := Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tc, ok := back.(*TaskCompleted)
	if !ok {
		t.Fatalf("expected *TaskCompleted, got %T", back)
	}
	if tc.Type != KindTaskCompleted {
		t.Errorf("type not stamped: %q", tc.Type)
	}
	if tc.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
	if tc.Result != "network_error" || tc.ExitCode != 75 {
		t.Errorf("payload lost: %+v", tc)
	}
}

func TestEveryKindRoundTrips(t *testing.T) {
	now := time.Now().UTC()
	until := now.Add(time.Minute)
	messages := []Message{
		&Attach{},
		&Detach{},
		&Pause{},
		&Resume{},
		&Stop{},
		&ForceStop{},
		&ReloadConfig{},
		&SetInterval{Interval: "1s"},
		&Hello{PID: 42, Version: "0.1.0"},
		&Snapshot{State: models.RunnerSnapshot{InstanceID: "i-1", Mode: models.ModeRunning}},
		&StatusLine{Line: "2 running, 1 ready"},
		&TaskSpawned{WorkItemID: "w", Agent: "a", RunID: "r", PID: 7},
		&TaskCompleted{WorkItemID: "w", Result: "success"},
		&HealthChange{Health: models.AgentHealth{Agent: "a", ConsecutiveFailures: 3, BackoffUntil: &until}},
		&OutputChunk{WorkItemID: "w", Data: []byte("tail")},
		&ErrorEvent{Message: "bad command"},
	}
	if len(messages) != len(decoders) {
		t.Fatalf("sealed set drifted: %d messages vs %d decoders", len(messages), len(decoders))
	}

	for _, msg := range messages {
		line, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %s: %v", msg.Kind(), err)
		}
		back, err := Decode(line)
		if err != nil {
			t.Fatalf("decode %s: %v", msg.Kind(), err)
		}
		if back.Kind() != msg.Kind() {
			t.Errorf("kind changed in flight: sent %s got %s", msg.Kind(), back.Kind())
		}
	}
}
