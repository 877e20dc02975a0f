// Package protocol defines the control-plane wire protocol: newline-
// delimited JSON, one object per line, UTF-8. The message set is sealed:
// every command and event is a concrete struct registered in the decode
// table, so adding a message kind is a compile-time-checked change and
// unknown types are rejected at the boundary.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

// Kind discriminates message types on the wire.
type Kind string

// Commands (client → server).
const (
	KindAttach       Kind = "attach"
	KindDetach       Kind = "detach"
	KindPause        Kind = "pause"
	KindResume       Kind = "resume"
	KindStop         Kind = "stop"
	KindForceStop    Kind = "force_stop"
	KindReloadConfig Kind = "reload_config"
	KindSetInterval  Kind = "set_interval"
)

// Events (server → clients).
const (
	KindHello         Kind = "hello"
	KindSnapshot      Kind = "snapshot"
	KindStatusLine    Kind = "status_line"
	KindTaskSpawned   Kind = "task_spawned"
	KindTaskCompleted Kind = "task_completed"
	KindHealthChange  Kind = "health_change"
	KindOutputChunk   Kind = "output_chunk"
	KindError         Kind = "error"
)

// Header carries the fields common to every message.
type Header struct {
	Type       Kind      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Message is implemented by every wire message.
type Message interface {
	// Kind returns the message's wire discriminator.
	Kind() Kind
	// Head returns the shared header for stamping and correlation.
	Head() *Header
}

// Attach requests the full snapshot followed by the live event stream.
type Attach struct {
	Header
}

// Detach ends the client's subscription without affecting the runner.
type Detach struct {
	Header
}

// Pause suspends new spawns; in-flight work keeps draining.
type Pause struct {
	Header
}

// Resume re-enables spawning after a pause.
type Resume struct {
	Header
}

// Stop requests a graceful stop: no new spawns, in-flight runs drain.
type Stop struct {
	Header
}

// ForceStop requests an immediate stop, killing in-flight runs.
type ForceStop struct {
	Header
}

// ReloadConfig asks the runner to re-read its routing configuration.
type ReloadConfig struct {
	Header
}

// SetInterval changes the scheduler's idle-wait bound.
type SetInterval struct {
	Header
	// Interval is a Go duration string, e.g. "2s".
	Interval string `json:"interval"`
}

// Hello is the server's first message on every new connection.
type Hello struct {
	Header
	PID     int    `json:"pid"`
	Version string `json:"version"`
}

// Snapshot carries the full runner state, sent on attach.
type Snapshot struct {
	Header
	State models.RunnerSnapshot `json:"state"`
}

// StatusLine is a human-oriented progress line.
type StatusLine struct {
	Header
	Line string `json:"line"`
}

// TaskSpawned announces a new subprocess.
type TaskSpawned struct {
	Header
	WorkItemID string `json:"work_item_id"`
	Agent      string `json:"agent"`
	RunID      string `json:"run_id"`
	PID        int    `json:"pid"`
}

// TaskCompleted announces a finished subprocess with its classification.
type TaskCompleted struct {
	Header
	WorkItemID string `json:"work_item_id"`
	Agent      string `json:"agent"`
	RunID      string `json:"run_id"`
	// Result is "success" or the failure type.
	Result   string `json:"result"`
	ExitCode int    `json:"exit_code"`
}

// HealthChange announces an agent health transition.
type HealthChange struct {
	Header
	Health models.AgentHealth `json:"health"`
}

// OutputChunk streams captured subprocess output. Best-effort: slow
// clients are disconnected rather than allowed to block the broadcast.
type OutputChunk struct {
	Header
	WorkItemID string `json:"work_item_id"`
	Data       []byte `json:"data"`
}

// ErrorEvent reports a protocol or command failure to one client.
type ErrorEvent struct {
	Header
	Message string `json:"message"`
}

func (m *Attach) Kind() Kind        { return KindAttach }
func (m *Detach) Kind() Kind        { return KindDetach }
func (m *Pause) Kind() Kind         { return KindPause }
func (m *Resume) Kind() Kind        { return KindResume }
func (m *Stop) Kind() Kind          { return KindStop }
func (m *ForceStop) Kind() Kind     { return KindForceStop }
func (m *ReloadConfig) Kind() Kind  { return KindReloadConfig }
func (m *SetInterval) Kind() Kind   { return KindSetInterval }
func (m *Hello) Kind() Kind         { return KindHello }
func (m *Snapshot) Kind() Kind      { return KindSnapshot }
func (m *StatusLine) Kind() Kind    { return KindStatusLine }
func (m *TaskSpawned) Kind() Kind   { return KindTaskSpawned }
func (m *TaskCompleted) Kind() Kind { return KindTaskCompleted }
func (m *HealthChange) Kind() Kind  { return KindHealthChange }
func (m *OutputChunk) Kind() Kind   { return KindOutputChunk }
func (m *ErrorEvent) Kind() Kind    { return KindError }

func (h *Header) Head() *Header { return h }

// Compile-time verification that every wire type implements Message.
var (
	_ Message = (*Attach)(nil)
	_ Message = (*Detach)(nil)
	_ Message = (*Pause)(nil)
	_ Message = (*Resume)(nil)
	_ Message = (*Stop)(nil)
	_ Message = (*ForceStop)(nil)
	_ Message = (*ReloadConfig)(nil)
	_ Message = (*SetInterval)(nil)
	_ Message = (*Hello)(nil)
	_ Message = (*Snapshot)(nil)
	_ Message = (*StatusLine)(nil)
	_ Message = (*TaskSpawned)(nil)
	_ Message = (*TaskCompleted)(nil)
	_ Message = (*HealthChange)(nil)
	_ Message = (*OutputChunk)(nil)
	_ Message = (*ErrorEvent)(nil)
)

// decoders maps each wire kind to a constructor for its concrete type.
var decoders = map[Kind]func() Message{
	KindAttach:        func() Message { return &Attach{} },
	KindDetach:        func() Message { return &Detach{} },
	KindPause:         func() Message { return &Pause{} },
	KindResume:        func() Message { return &Resume{} },
	KindStop:          func() Message { return &Stop{} },
	KindForceStop:     func() Message { return &ForceStop{} },
	KindReloadConfig:  func() Message { return &ReloadConfig{} },
	KindSetInterval:   func() Message { return &SetInterval{} },
	KindHello:         func() Message { return &Hello{} },
	KindSnapshot:      func() Message { return &Snapshot{} },
	KindStatusLine:    func() Message { return &StatusLine{} },
	KindTaskSpawned:   func() Message { return &TaskSpawned{} },
	KindTaskCompleted: func() Message { return &TaskCompleted{} },
	KindHealthChange:  func() Message { return &HealthChange{} },
	KindOutputChunk:   func() Message { return &OutputChunk{} },
	KindError:         func() Message { return &ErrorEvent{} },
}

// Decode parses one wire line into its concrete message type. It is the
// single entry point for inbound messages; unknown types are rejected.
func Decode(line []byte) (Message, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	ctor, ok := decoders[probe.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
	msg := ctor()
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", probe.Type, err)
	}
	return msg, nil
}

// Encode serializes a message to one wire line (no trailing newline). The
// header's type and timestamp are stamped if unset.
func Encode(msg Message) ([]byte, error) {
	h := msg.Head()
	h.Type = msg.Kind()
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return data, nil
}
