package client

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/hermes/protocol"
)

const (
	// ClientVersion is the protocol version this client announces during
	// the handshake.
	ClientVersion = 66

	// MinServerVersion is the lowest gateway protocol version the client
	// will accept by default.
	MinServerVersion = 38

	// clientIDRange bounds generated client identifiers.
	clientIDRange = 999999999
)

var (
	ErrAlreadyConnected  = errors.New("Session is already connected")
	ErrNotConnected      = errors.New("Session is not connected")
	ErrProtocolVersion   = errors.New("Gateway protocol version is below the minimum supported")
	ErrInvalidListener   = errors.New("Listener must be a non-nil callback for a known inbound message type")
	ErrInvalidSendTarget = errors.New("Send accepts outbound message values only")
)

// benignNoticeCodes are connection status notices the gateway misroutes
// through its error message. They are informational, not failures.
var benignNoticeCodes = map[int]bool{
	2104: true,
	2106: true,
	2158: true,
}

// gatewayNotice is satisfied by the catalog's error/notification message.
type gatewayNotice interface {
	NoticeCode() int
	NoticeText() string
}

// nextOrderIDCarrier is satisfied by the catalog's next-valid-id message,
// the only source ever allowed to seed the session's next order ID.
type nextOrderIDCarrier interface {
	NextOrderID() int
}

// Conn is one session with a trading gateway. It owns the socket, the
// listener registry and the single background goroutine that reads the
// socket. A Conn must not be shared across sessions; after Close it is reset
// to a fresh disconnected state and can be opened again.
type Conn struct {
	mu        sync.Mutex
	connected bool
	lastErr   error

	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer

	registry *Registry
	catalog  *protocol.Catalog

	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	serverVersion   int
	clientID        int
	nextOrderID     int
	nextOrderIDSet  bool
	connTimeLocal   time.Time
	connTimeGateway string

	readTick time.Duration

	log *zap.Logger
}

func New(catalog *protocol.Catalog, log *zap.Logger) *Conn {
	return &Conn{
		catalog:  catalog,
		registry: NewRegistry(),
		log:      log,
	}
}

// Open dials the gateway and performs the version/identity handshake:
// client version out, negotiated version and connect time in, client ID out,
// strictly in that order. On success the reader loop is started and the
// session is marked connected. On any failure the socket is closed and the
// session is left disconnected.
func (c *Conn) Open(ctx context.Context, options Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}

	opts := options.withDefaults()

	dialer := net.Dialer{Timeout: opts.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return err
	}

	writer := protocol.NewWriter(conn)
	reader := protocol.NewReader(conn)

	// Bound the whole handshake so an unresponsive gateway cannot stall
	// Open forever.
	if err := conn.SetDeadline(time.Now().Add(opts.DialTimeout)); err != nil {
		conn.Close()
		return err
	}

	serverVersion, connTime, err := handshake(reader, writer, opts.MinServerVersion)
	if err != nil {
		// Never leak the socket on a half-finished handshake.
		if cerr := conn.Close(); cerr != nil {
			c.log.Warn("Failed to close socket after handshake failure", zap.Error(cerr))
		}

		return err
	}

	clientID := opts.ClientID
	if clientID == 0 {
		clientID = generateClientID()
	}

	if err := writer.WriteField(clientID); err != nil {
		if cerr := conn.Close(); cerr != nil {
			c.log.Warn("Failed to close socket after handshake failure", zap.Error(cerr))
		}

		return err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	c.conn = conn
	c.reader = reader
	c.writer = writer
	c.cancel = cancel
	c.serverVersion = serverVersion
	c.clientID = clientID
	c.connTimeLocal = time.Now()
	c.connTimeGateway = connTime
	c.readTick = opts.ReadTick
	c.lastErr = nil
	c.connected = true

	c.loopWaiter.Add(1)

	go func() {
		defer c.loopWaiter.Done()
		c.readLoop(loopCtx, conn, reader)
	}()

	c.log.Info("Session connected",
		zap.String("gateway", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))),
		zap.Int("serverVersion", serverVersion),
		zap.Int("clientID", clientID),
		zap.String("gatewayTime", connTime))

	return nil
}

// handshake runs the wire exchange that negotiates the session's protocol
// version. The client version is sent strictly before the server version is
// read.
func handshake(reader *protocol.Reader, writer *protocol.Writer, minVersion int) (int, string, error) {
	if err := writer.WriteField(ClientVersion); err != nil {
		return 0, "", err
	}

	serverVersion, err := reader.ReadInt()
	if err != nil {
		return 0, "", err
	}

	if serverVersion < minVersion {
		return 0, "", fmt.Errorf("%w: gateway negotiated %d, minimum is %d",
			ErrProtocolVersion, serverVersion, minVersion)
	}

	connTime, err := reader.ReadField()
	if err != nil {
		return 0, "", err
	}

	return serverVersion, connTime, nil
}

// Close stops the reader loop, closes the socket and resets the session to
// a fresh disconnected state. Subscriptions do not survive a Close; a
// reconnect starts from scratch.
func (c *Conn) Close() error {
	c.mu.Lock()

	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	cancel()

	// Expire any in-flight blocking read so the loop can observe the
	// cancelled context, then join it before touching the socket. The
	// expiry is re-applied until the loop exits because the loop itself
	// moves the deadline around between envelope and body reads.
	err := conn.SetReadDeadline(time.Now())

	done := make(chan struct{})

	go func() {
		c.loopWaiter.Wait()
		close(done)
	}()

	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false

		case <-time.After(50 * time.Millisecond):
			conn.SetReadDeadline(time.Now())
		}
	}

	err = multierr.Append(err, conn.Close())

	c.mu.Lock()
	c.reset()
	c.mu.Unlock()

	c.log.Info("Session closed")

	return err
}

// reset returns the session to its zero, disconnected record. Callers must
// hold mu.
func (c *Conn) reset() {
	c.connected = false
	c.conn = nil
	c.reader = nil
	c.writer = nil
	c.cancel = nil
	c.registry = NewRegistry()
	c.serverVersion = 0
	c.clientID = 0
	c.nextOrderID = 0
	c.nextOrderIDSet = false
	c.connTimeLocal = time.Time{}
	c.connTimeGateway = ""
}

// Send serialises one outbound message through the socket as a single
// atomic record. It is safe to call concurrently with the reader loop and
// with other senders.
func (c *Conn) Send(msg protocol.Outbound) error {
	if msg == nil {
		return ErrInvalidSendTarget
	}

	c.mu.Lock()
	writer := c.writer
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	fields, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSendTarget, err)
	}

	return writer.WriteRecord(fields...)
}

// Subscribe registers cb for every inbound message of the given type.
// Callbacks for one type run in registration order, synchronously on the
// reader goroutine.
func (c *Conn) Subscribe(typeID int, cb Callback) error {
	if cb == nil || !c.catalog.Has(typeID) {
		return ErrInvalidListener
	}

	c.mu.Lock()
	registry := c.registry
	c.mu.Unlock()

	registry.Register(typeID, cb)

	return nil
}

// IsConnected reports whether the session completed its handshake and has
// not been closed since.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// NeedsReconnect reports whether the reader loop terminated on a stream or
// decode failure. The core never reconnects by itself; that policy belongs
// to the caller.
func (c *Conn) NeedsReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr != nil
}

// LastError returns the failure that terminated the reader loop, if any.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// ServerVersion is the protocol version negotiated at handshake.
func (c *Conn) ServerVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.serverVersion
}

// ClientID is the identity this session announced to the gateway.
func (c *Conn) ClientID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clientID
}

// NextOrderID returns the next usable order ID once the gateway has
// announced it. The second return is false until then.
func (c *Conn) NextOrderID() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nextOrderID, c.nextOrderIDSet
}

// ConnectedAt is the local time the handshake completed.
func (c *Conn) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connTimeLocal
}

// GatewayConnectTime is the connect timestamp string the gateway reported
// during the handshake.
func (c *Conn) GatewayConnectTime() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connTimeGateway
}

// readLoop is the sole reader of the socket. It decodes one envelope at a
// time, resolves the type against the catalog, lets the message consume its
// own fields and hands the instance to the registered listeners. It exits on
// cancellation or the first unrecoverable read/decode failure.
func (c *Conn) readLoop(ctx context.Context, conn net.Conn, reader *protocol.Reader) {
	log := c.log.Named("readLoop")

	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, exiting...")
			return

		default:
			if c.readTick > 0 {
				// A deadline per read keeps cancellation deterministic even
				// against a silent gateway.
				if err := conn.SetReadDeadline(time.Now().Add(c.readTick)); err != nil {
					c.failLoop(log, err)
					return
				}
			}

			typeID, err := reader.ReadInt()
			if err != nil {
				if ctx.Err() != nil {
					log.Info("Context cancelled, exiting...")
					return
				}

				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					// Idle tick, go around and re-check the context.
					continue
				}

				c.failLoop(log, err)
				return
			}

			if typeID == 0 {
				// The gateway occasionally emits a zero envelope. Its meaning
				// is undefined upstream; consume and carry on.
				continue
			}

			if c.readTick > 0 {
				// The envelope is in; the rest of the message may arrive
				// slowly. Block without a tick so a slow gateway cannot be
				// mistaken for a dead one mid-message. Close still
				// interrupts this by expiring the deadline itself.
				if err := conn.SetReadDeadline(time.Time{}); err != nil {
					c.failLoop(log, err)
					return
				}
			}

			decode, ok := c.catalog.Lookup(typeID)
			if !ok {
				// The field count of an unknown type is unknowable, so the
				// stream cannot be resynchronised past it.
				c.failLoop(log, fmt.Errorf("%w: type %d", protocol.ErrUnsupportedMessage, typeID))
				return
			}

			serverVersion := c.ServerVersion()

			msg, err := decode(reader, serverVersion)
			if err != nil {
				if ctx.Err() != nil {
					log.Info("Context cancelled, exiting...")
					return
				}

				c.failLoop(log, fmt.Errorf("Failed to decode message type %d: %w", typeID, err))
				return
			}

			c.dispatch(log, msg)
		}
	}
}

// failLoop records the failure that is terminating the reader loop so the
// caller can observe that the session needs reconnecting.
func (c *Conn) failLoop(log *zap.Logger, err error) {
	log.Warn("Reader loop terminating", zap.Error(err))

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Conn) dispatch(log *zap.Logger, msg protocol.Message) {
	c.captureNextOrderID(msg)

	if notice, ok := msg.(gatewayNotice); ok && benignNoticeCodes[notice.NoticeCode()] {
		log.Info("Gateway notice",
			zap.Int("code", notice.NoticeCode()),
			zap.String("text", notice.NoticeText()))
	}

	c.mu.Lock()
	registry := c.registry
	c.mu.Unlock()

	listeners := registry.Get(msg.TypeID())
	if len(listeners) == 0 {
		log.Debug("No subscriber for message", zap.Int("type", msg.TypeID()))
		return
	}

	for _, listener := range listeners {
		c.invoke(log, listener, msg)
	}
}

// invoke isolates one callback so a panicking subscriber cannot terminate
// ingestion for everyone else.
func (c *Conn) invoke(log *zap.Logger, listener Callback, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Listener panicked",
				zap.Int("type", msg.TypeID()),
				zap.Any("panic", r))
		}
	}()

	listener(msg)
}

// captureNextOrderID seeds the session's next order ID, exactly once, from
// the designated inbound message. Nothing else ever assigns it.
func (c *Conn) captureNextOrderID(msg protocol.Message) {
	carrier, ok := msg.(nextOrderIDCarrier)
	if !ok {
		return
	}

	c.mu.Lock()
	if !c.nextOrderIDSet {
		c.nextOrderID = carrier.NextOrderID()
		c.nextOrderIDSet = true
	}
	c.mu.Unlock()
}

// generateClientID derives a session identity from the wall clock and
// process identity, reduced into a bounded range. Collisions are unlikely
// but possible; callers that need a guaranteed identity should set
// Options.ClientID.
func generateClientID() int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	h.Write([]byte(strconv.Itoa(os.Getpid())))

	id := int(h.Sum32()) % clientIDRange
	if id <= 0 {
		id += clientIDRange - 1
	}

	return id
}
