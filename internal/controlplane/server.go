package controlplane

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/herdctl/herd/internal/protocol"
	"github.com/herdctl/herd/pkg/models"
)

// Version reported in hello messages.
const Version = "0.1.0"

// outboundQueueSize bounds each client's send queue. A client that falls
// this far behind is disconnected rather than allowed to block the
// broadcast; durable capture still holds whatever it missed.
const outboundQueueSize = 64

// Controller is the command surface the server drives. The runner
// implements it; the server never reaches deeper than this.
type Controller interface {
	Pause()
	Resume()
	Stop()
	ForceStop()
	ReloadConfig() error
	SetInterval(d time.Duration) error
	Snapshot() models.RunnerSnapshot
}

// Server accepts control-plane connections and fans runner events out to
// attached clients.
type Server struct {
	instanceID string
	socketPath string
	controller Controller
	events     <-chan protocol.Message

	listener net.Listener
	tcpPort  int

	mu      sync.Mutex
	clients map[*client]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// client is one connected control client.
type client struct {
	conn     net.Conn
	outbound chan []byte
	attached bool
	closed   chan struct{}
	once     sync.Once
}

// NewServer creates a Server that broadcasts events to attached clients.
func NewServer(instanceID, socketPath string, controller Controller, events <-chan protocol.Message) *Server {
	return &Server{
		instanceID: instanceID,
		socketPath: socketPath,
		controller: controller,
		events:     events,
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Start listens on the unix socket, falling back to a loopback TCP port
// when unix sockets are unavailable. The chosen port is persisted via
// WritePortFile by the caller (see TCPPort).
func (s *Server) Start() error {
	// Remove stale socket file
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		tcp, tcpErr := net.Listen("tcp", "127.0.0.1:0")
		if tcpErr != nil {
			return fmt.Errorf("listen on %s: %w (tcp fallback also failed: %v)", s.socketPath, err, tcpErr)
		}
		s.tcpPort = tcp.Addr().(*net.TCPAddr).Port
		s.listener = tcp
		log.Printf("[controlplane] unix socket unavailable, listening on 127.0.0.1:%d", s.tcpPort)
	} else {
		if err := os.Chmod(s.socketPath, 0600); err != nil {
			listener.Close()
			return fmt.Errorf("chmod socket: %w", err)
		}
		s.listener = listener
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.broadcastLoop()
	return nil
}

// TCPPort returns the fallback port, or 0 when serving on the socket.
func (s *Server) TCPPort() int {
	return s.tcpPort
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and disconnects all clients. It never touches
// the controller: shutting the server down must not stop running work.
func (s *Server) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				log.Printf("[controlplane] accept error: %v", err)
				continue
			}
		}

		c := &client{
			conn:     conn,
			outbound: make(chan []byte, outboundQueueSize),
			closed:   make(chan struct{}),
		}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(2)
		go s.readLoop(c)
		go s.writeLoop(c)
	}
}

// broadcastLoop fans runner events out to every attached client.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.events:
			if !ok {
				return
			}
			line, err := s.encode(msg)
			if err != nil {
				log.Printf("[controlplane] %v", err)
				continue
			}

			s.mu.Lock()
			for c := range s.clients {
				if !c.attached {
					continue
				}
				select {
				case c.outbound <- line:
				default:
					// Slow client: disconnect instead of backpressuring
					// the scheduler loop.
					log.Printf("[controlplane] disconnecting slow client %s", c.conn.RemoteAddr())
					c.close()
				}
			}
			s.mu.Unlock()
		}
	}
}

// readLoop parses and dispatches one client's commands.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.drop(c)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[controlplane] panic in readLoop: %v\n%s", r, debug.Stack())
		}
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			// Malformed input gets a structured error back and affects
			// nobody else.
			s.sendTo(c, &protocol.ErrorEvent{Message: err.Error()})
			continue
		}
		if done := s.dispatch(c, msg); done {
			return
		}
	}
}

// dispatch handles one decoded command. Returns true when the connection
// should end.
func (s *Server) dispatch(c *client, msg protocol.Message) bool {
	reqID := msg.Head().RequestID

	switch m := msg.(type) {
	case *protocol.Attach:
		// Subscribe before replying so no event falls between the
		// snapshot and the live stream.
		s.mu.Lock()
		c.attached = true
		s.mu.Unlock()

		hello := &protocol.Hello{PID: os.Getpid(), Version: Version}
		hello.RequestID = reqID
		s.sendTo(c, hello)

		snap := &protocol.Snapshot{State: s.controller.Snapshot()}
		snap.RequestID = reqID
		s.sendTo(c, snap)

	case *protocol.Detach:
		return true

	case *protocol.Pause:
		s.controller.Pause()
		s.ack(c, reqID, "paused")

	case *protocol.Resume:
		s.controller.Resume()
		s.ack(c, reqID, "resumed")

	case *protocol.Stop:
		s.controller.Stop()
		s.ack(c, reqID, "stopping")

	case *protocol.ForceStop:
		s.controller.ForceStop()
		s.ack(c, reqID, "force stopping")

	case *protocol.ReloadConfig:
		if err := s.controller.ReloadConfig(); err != nil {
			s.sendError(c, reqID, err)
		} else {
			s.ack(c, reqID, "config reloaded")
		}

	case *protocol.SetInterval:
		d, err := time.ParseDuration(m.Interval)
		if err == nil {
			err = s.controller.SetInterval(d)
		}
		if err != nil {
			s.sendError(c, reqID, err)
		} else {
			s.ack(c, reqID, "interval set to "+m.Interval)
		}

	default:
		// Event kinds are valid wire messages but not valid commands.
		s.sendError(c, reqID, fmt.Errorf("%s is not a command", msg.Kind()))
	}
	return false
}

// writeLoop drains one client's outbound queue onto the wire.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	defer c.conn.Close()

	for {
		select {
		case <-c.closed:
			return
		case line, ok := <-c.outbound:
			if !ok {
				return
			}
			if _, err := c.conn.Write(append(line, '\n')); err != nil {
				c.close()
				return
			}
		}
	}
}

// ack confirms a command with a status line carrying the request id.
func (s *Server) ack(c *client, reqID, text string) {
	ev := &protocol.StatusLine{Line: text}
	ev.RequestID = reqID
	s.sendTo(c, ev)
}

func (s *Server) sendError(c *client, reqID string, err error) {
	ev := &protocol.ErrorEvent{Message: err.Error()}
	ev.RequestID = reqID
	s.sendTo(c, ev)
}

// sendTo queues a message for one client, disconnecting it when full.
func (s *Server) sendTo(c *client, msg protocol.Message) {
	line, err := s.encode(msg)
	if err != nil {
		log.Printf("[controlplane] %v", err)
		return
	}
	select {
	case c.outbound <- line:
	default:
		c.close()
	}
}

func (s *Server) encode(msg protocol.Message) ([]byte, error) {
	msg.Head().InstanceID = s.instanceID
	return protocol.Encode(msg)
}

// drop removes a client from the broadcast set and closes it.
func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
