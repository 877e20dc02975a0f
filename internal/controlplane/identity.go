// Package controlplane exposes the runner over a local socket. Clients
// attach for a snapshot plus live event stream and issue commands; the
// runner process stays the sole owner of scheduler state and subprocess
// teardown, so a client exiting can never touch running work.
package controlplane

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Identity describes the runner instance that owns the project. It is
// written next to the socket so clients can discover a running instance
// without guessing.
type Identity struct {
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	SocketPath string    `json:"socket_path"`
	StartedAt  time.Time `json:"started_at"`
}

// SocketPath returns the project's control socket path.
func SocketPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".herd", "control.sock")
}

// IdentityPath returns the project's runner identity file path.
func IdentityPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".herd", "runner.json")
}

// PortFilePath returns where the TCP fallback port is persisted.
func PortFilePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".herd", "control.port")
}

// WriteIdentity persists the identity file, mode restricted to the owner.
func WriteIdentity(projectRoot string, id Identity) error {
	path := IdentityPath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// ReadIdentity loads the identity file if present.
func ReadIdentity(projectRoot string) (*Identity, error) {
	data, err := os.ReadFile(IdentityPath(projectRoot))
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

// RemoveIdentity deletes the identity and port files on clean shutdown.
func RemoveIdentity(projectRoot string) {
	os.Remove(IdentityPath(projectRoot))
	os.Remove(PortFilePath(projectRoot))
}

// WritePortFile persists the TCP fallback port, owner-only.
func WritePortFile(projectRoot string, port int) error {
	if err := os.WriteFile(PortFilePath(projectRoot), []byte(strconv.Itoa(port)), 0600); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	return nil
}

// ReadPortFile loads the TCP fallback port if present.
func ReadPortFile(projectRoot string) (int, error) {
	data, err := os.ReadFile(PortFilePath(projectRoot))
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse port file: %w", err)
	}
	return port, nil
}
