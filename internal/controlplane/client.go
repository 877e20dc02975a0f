package controlplane

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/herdctl/herd/internal/protocol"
)

// Client is a thin control-plane client. It only observes and commands
// the runner; nothing it does, crashing included, can touch running
// work.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the project's runner, preferring the unix socket and
// falling back to the persisted TCP port.
func Dial(projectRoot string) (*Client, error) {
	socketPath := SocketPath(projectRoot)
	if _, err := os.Stat(socketPath); err == nil {
		conn, err := net.DialTimeout("unix", socketPath, 3*time.Second)
		if err == nil {
			return newClient(conn), nil
		}
	}

	port, err := ReadPortFile(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("no runner found for this project (is one running?)")
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial runner on port %d: %w", port, err)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, scanner: scanner}
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one command with a fresh request id, returning the id.
func (c *Client) Send(msg protocol.Message) (string, error) {
	h := msg.Head()
	if h.RequestID == "" {
		h.RequestID = uuid.New().String()
	}
	line, err := protocol.Encode(msg)
	if err != nil {
		return "", err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return h.RequestID, nil
}

// Next reads the next event from the stream.
func (c *Client) Next() (protocol.Message, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return protocol.Decode(line)
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("connection closed")
}

// Attach subscribes to the event stream and returns the initial snapshot.
func (c *Client) Attach() (*protocol.Snapshot, error) {
	if _, err := c.Send(&protocol.Attach{}); err != nil {
		return nil, err
	}

	// The server answers with hello then snapshot before any live events.
	for {
		msg, err := c.Next()
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *protocol.Hello:
			continue
		case *protocol.Snapshot:
			return m, nil
		case *protocol.ErrorEvent:
			return nil, fmt.Errorf("attach rejected: %s", m.Message)
		default:
			// Live events may arrive ahead of the snapshot; skip them.
			continue
		}
	}
}

// Command sends a command and waits for its acknowledgement or error.
func (c *Client) Command(msg protocol.Message) (string, error) {
	reqID, err := c.Send(msg)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(10 * time.Second)
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		resp, err := c.Next()
		if err != nil {
			return "", err
		}
		// Broadcast events may interleave; match on the request id.
		if resp.Head().RequestID != reqID {
			continue
		}
		switch m := resp.(type) {
		case *protocol.StatusLine:
			return m.Line, nil
		case *protocol.ErrorEvent:
			return "", fmt.Errorf("%s", m.Message)
		default:
			continue
		}
	}
}
