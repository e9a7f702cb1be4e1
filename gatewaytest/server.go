// Package gatewaytest runs an in-process fake trading gateway. It performs
// the server side of the version/identity handshake and then plays whatever
// records the test or operator scripts at it. Client integration tests and
// the fakegw command are its two consumers.
package gatewaytest

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/hermes/protocol"
)

// Record is one scripted server message as ordered wire fields, envelope
// included.
type Record []interface{}

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port; read it back via Addr().
	Port int

	// ServerVersion the gateway reports during the handshake
	ServerVersion int

	// ConnectTime the gateway reports during the handshake
	ConnectTime string

	// Script is played to every client immediately after its handshake.
	Script []Record

	Log *zap.Logger
}

// Server is a fake gateway listening on one TCP address. Connections that
// complete the handshake receive the script and then anything pushed
// through Send, while inbound client fields are drained and recorded.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts     Options
	listener net.Listener

	mu          sync.Mutex
	activeConns map[net.Conn]*protocol.Writer
	received    []string

	loopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewServer(options Options) *Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}

	if options.ServerVersion == 0 {
		options.ServerVersion = 53
	}

	if options.ConnectTime == "" {
		options.ConnectTime = "20230101 10:00:00"
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		opts:        options,
		activeConns: make(map[net.Conn]*protocol.Writer),
		log:         log,
	}
}

// Start listens and begins accepting connections. It returns once the
// listener is bound, so Addr() is valid immediately after.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	listener, err := reuseport.Listen("tcp", addr)
	if err != nil {
		cancel()
		return err
	}

	s.listener = listener
	s.log.Info("Fake gateway listening", zap.String("addr", listener.Addr().String()))

	s.loopWaiter.Add(1)

	go func() {
		defer s.loopWaiter.Done()
		s.acceptLoop()
	}()

	return nil
}

// Addr is the bound listen address, host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting, drops every active connection and waits for the
// per-connection loops to drain.
func (s *Server) Close() error {
	s.cancel()

	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.activeConns {
		err = multierr.Append(err, conn.Close())
		delete(s.activeConns, conn)
	}
	s.mu.Unlock()

	s.loopWaiter.Wait()

	return err
}

// Send pushes one record to every connected client.
func (s *Server) Send(fields ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error

	for _, writer := range s.activeConns {
		err = multierr.Append(err, writer.WriteRecord(fields...))
	}

	return err
}

// ActiveConns is the number of clients that completed the handshake and
// are still connected.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.activeConns)
}

// Received returns every client field read so far, handshake fields
// excluded, in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	received := make([]string, len(s.received))
	copy(received, s.received)

	return received
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				s.log.Info("Stopped accepting new connections")
				return
			}

			netOpError := new(net.OpError)
			if errors.As(err, &netOpError) {
				// The listener was closed under us, that's fine.
				return
			}

			s.log.Warn("Accept failed", zap.Error(err))
			return
		}

		s.loopWaiter.Add(1)

		go func() {
			defer s.loopWaiter.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	log := s.log.Named("conn").With(zap.String("peer", conn.RemoteAddr().String()))

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	clientVersion, err := reader.ReadInt()
	if err != nil {
		log.Warn("Failed to read client version", zap.Error(err))
		conn.Close()
		return
	}

	if err := writer.WriteRecord(s.opts.ServerVersion, s.opts.ConnectTime); err != nil {
		log.Warn("Failed to send handshake", zap.Error(err))
		conn.Close()
		return
	}

	clientID, err := reader.ReadInt()
	if err != nil {
		log.Warn("Failed to read client ID", zap.Error(err))
		conn.Close()
		return
	}

	log.Info("Client handshake complete",
		zap.Int("clientVersion", clientVersion),
		zap.Int("clientID", clientID))

	for _, record := range s.opts.Script {
		if err := writer.WriteRecord(record...); err != nil {
			log.Warn("Failed to play scripted record", zap.Error(err))
			conn.Close()
			return
		}
	}

	s.addConn(conn, writer)
	defer s.removeConn(conn)

	// Drain inbound fields until the client goes away. The server has no
	// catalog of client schemas, so fields are recorded raw.
	for {
		field, err := reader.ReadField()
		if err != nil {
			if !errors.Is(err, protocol.ErrConnectionClosed) && !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Info("Client read ended", zap.Error(err))
			}

			return
		}

		s.mu.Lock()
		s.received = append(s.received, field)
		s.mu.Unlock()
	}
}

func (s *Server) addConn(conn net.Conn, writer *protocol.Writer) {
	s.mu.Lock()
	s.activeConns[conn] = writer
	s.mu.Unlock()
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.activeConns, conn)
	s.mu.Unlock()

	conn.Close()
}
