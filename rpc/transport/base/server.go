package base

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Server Connection
// -----------------------------------------------------------

// serverConn implements transport.IServerConn
type serverConn struct {
	id         uint64
	conn       net.Conn
	serializer serializer.IRPCSerializer
	timeout    time.Duration
	writeMu    sync.Mutex
	closed     atomic.Bool
}

func (c *serverConn) ID() uint64 { return c.id }

func (c *serverConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *serverConn) Send(msg common.Message) error {
	if c.closed.Load() {
		return common.ErrConnectionClosed
	}

	data, err := c.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", msg.Kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	return writeFrame(c.conn, data)
}

func (c *serverConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// -----------------------------------------------------------
// Server Transport
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	serializer serializer.IRPCSerializer
	handler    transport.IServerHandler
	config     common.ServerConfig
	listener   net.Listener

	conns   *xsync.MapOf[uint64, *serverConn]
	nextID  atomic.Uint64
	streams sync.WaitGroup
	closing atomic.Bool
}

// NewBaseServerTransport creates a new server transport with the specified connector and serializer
func NewBaseServerTransport(connector IServerConnector, s serializer.IRPCSerializer) transport.IMessageServerTransport {
	return &serverTransport{
		connector:  connector,
		serializer: s,
		conns:      xsync.NewMapOf[uint64, *serverConn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IMessageServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.IServerHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if config.Transport.MaxFrameSize <= 0 {
		config.Transport.MaxFrameSize = common.DefaultMaxFrameSize
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	t.streams.Add(1)
	go t.acceptConnections()
	return nil
}

func (t *serverTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) Shutdown() error {
	if t.closing.Swap(true) {
		return nil
	}

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	t.conns.Range(func(_ uint64, c *serverConn) bool {
		_ = c.Close()
		return true
	})
	t.streams.Wait()

	Logger.Infof("%s server on %s stopped", t.connector.GetName(), t.Addr())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptConnections accepts streams until the listener is closed
func (t *serverTransport) acceptConnections() {
	defer t.streams.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		sc := &serverConn{
			id:         t.nextID.Add(1),
			conn:       conn,
			serializer: t.serializer,
			timeout:    time.Duration(t.config.TimeoutSecond) * time.Second,
		}
		t.conns.Store(sc.id, sc)

		// a stream accepted while shutting down is closed right away
		if t.closing.Load() {
			t.conns.Delete(sc.id)
			_ = sc.Close()
			continue
		}

		t.streams.Add(1)
		go t.handleConnection(sc)
	}
}

// handleConnection reads the messages of one stream sequentially, so replies
// leave in the same order the requests arrived
func (t *serverTransport) handleConnection(sc *serverConn) {
	defer t.streams.Done()

	t.handler.OnConnect(sc)

	size := t.config.Transport.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	reader := bufio.NewReaderSize(sc.conn, size)

	var buf []byte
	var cause error
	for {
		var payload []byte
		payload, buf, cause = readFrame(reader, buf, t.config.Transport.MaxFrameSize)
		if cause != nil {
			break
		}

		var msg common.Message
		if cause = t.serializer.Deserialize(payload, &msg); cause != nil {
			cause = fmt.Errorf("failed to decode frame: %w", cause)
			break
		}

		t.handler.OnMessage(sc, msg)
	}

	switch {
	case errors.Is(cause, io.EOF):
		Logger.Debugf("Connection %d closed by client", sc.id)
		cause = nil
	case sc.closed.Load():
		cause = nil
	default:
		Logger.Warningf("Connection %d failed: %v", sc.id, cause)
	}

	t.conns.Delete(sc.id)
	_ = sc.Close()
	t.handler.OnDisconnect(sc, cause)
}
