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
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Client Transport
// -----------------------------------------------------------

// clientTransport implements transport.IMessageTransport over one net.Conn,
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector  IClientConnector
	serializer serializer.IRPCSerializer
	config     common.ClientConfig

	conn     net.Conn
	receiver transport.IReceiver
	writeMu  sync.Mutex  // serializes frame writes
	closing  atomic.Bool // set by Close, silences the reader
}

// NewBaseClientTransport creates a new client transport with the specified connector and serializer
func NewBaseClientTransport(connector IClientConnector, s serializer.IRPCSerializer) transport.IMessageTransport {
	return &clientTransport{
		connector:  connector,
		serializer: s,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IMessageTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig, receiver transport.IReceiver) error {
	if t.conn != nil {
		return fmt.Errorf("transport already connected")
	}
	if receiver == nil {
		return fmt.Errorf("no receiver provided")
	}

	t.config = config.WithDefaults()
	t.receiver = receiver

	endpoint := t.config.Address()
	conn, err := t.connector.Connect(endpoint, t.config.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	t.conn = conn
	Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())

	go t.readMessages()
	return nil
}

func (t *clientTransport) Send(msg common.Message) error {
	if t.conn == nil || t.closing.Load() {
		return common.ErrConnectionClosed
	}

	data, err := t.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", msg.Kind, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.config.CallTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.config.CallTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if err := writeFrame(t.conn, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (t *clientTransport) Close() error {
	if t.closing.Swap(true) {
		return nil
	}
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readMessages decodes frames in a loop and hands them to the receiver in arrival order
func (t *clientTransport) readMessages() {
	size := t.config.Transport.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	reader := bufio.NewReaderSize(t.conn, size)

	var buf []byte
	for {
		var payload []byte
		var err error

		payload, buf, err = readFrame(reader, buf, t.config.Transport.MaxFrameSize)
		if err != nil {
			t.fail(err)
			return
		}

		var msg common.Message
		if err := t.serializer.Deserialize(payload, &msg); err != nil {
			t.fail(fmt.Errorf("failed to decode frame: %w", err))
			return
		}

		if t.closing.Load() {
			return
		}
		t.receiver.OnMessage(msg)
	}
}

// fail reports a stream failure unless the transport was closed on purpose
func (t *clientTransport) fail(err error) {
	if t.closing.Load() {
		return
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("server closed the connection: %w", err)
	}
	Logger.Debugf("Stream to %s failed: %v", t.config.Address(), err)
	t.receiver.OnError(err)
}
