package base

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// --------------------------------------------------------------------------
// Test doubles
// --------------------------------------------------------------------------

type loopbackClient struct{}

func (loopbackClient) GetName() string { return "loopback" }
func (loopbackClient) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}
func (loopbackClient) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

type loopbackServer struct{}

func (loopbackServer) GetName() string { return "loopback" }
func (loopbackServer) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}
func (loopbackServer) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

// echoHandler answers every request with a response carrying the same body
type echoHandler struct {
	disconnected chan error
}

func (h *echoHandler) OnConnect(transport.IServerConn) {}
func (h *echoHandler) OnMessage(conn transport.IServerConn, msg common.Message) {
	_ = conn.Send(common.NewResponse(msg.Command, msg.Body))
}
func (h *echoHandler) OnDisconnect(_ transport.IServerConn, err error) {
	h.disconnected <- err
}

type chanReceiver struct {
	messages chan common.Message
	errors   chan error
}

func (r *chanReceiver) OnMessage(msg common.Message) { r.messages <- msg }
func (r *chanReceiver) OnError(err error)            { r.errors <- err }

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestFrameRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, []byte("hello")))
	require.NoError(t, writeFrame(&wire, []byte{}))
	require.NoError(t, writeFrame(&wire, bytes.Repeat([]byte{7}, 1000)))

	var buf []byte
	var payload []byte
	var err error

	payload, buf, err = readFrame(&wire, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))

	payload, buf, err = readFrame(&wire, buf, 0)
	require.NoError(t, err)
	require.Empty(t, payload)

	payload, _, err = readFrame(&wire, buf, 0)
	require.NoError(t, err)
	require.Len(t, payload, 1000)
}

func TestFrameTooLarge(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, writeFrame(&wire, make([]byte, 128)))

	_, _, err := readFrame(&wire, nil, 64)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestStreamPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := serializer.NewBinarySerializer()

	handler := &echoHandler{disconnected: make(chan error, 1)}
	server := NewBaseServerTransport(loopbackServer{}, s)
	server.RegisterHandler(handler)
	require.NoError(t, server.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0"}))
	defer server.Shutdown()

	receiver := &chanReceiver{
		messages: make(chan common.Message, 100),
		errors:   make(chan error, 1),
	}
	client := NewBaseClientTransport(loopbackClient{}, s)
	config := common.ClientConfig{Endpoint: server.Addr()}
	require.NoError(t, client.Connect(config, receiver))

	for i := 0; i < 100; i++ {
		require.NoError(t, client.Send(common.NewRequest(uint32(i), common.Body{"i": int64(i)})))
	}

	for i := 0; i < 100; i++ {
		select {
		case msg := <-receiver.messages:
			require.Equal(t, common.KindResponse, msg.Kind)
			require.Equal(t, uint32(i), msg.Command)
			require.Equal(t, int64(i), msg.Body["i"])
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for response %d", i)
		}
	}

	// closing on purpose must not be reported as a stream failure
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Send(common.NewEvent(1, nil)), common.ErrConnectionClosed)

	select {
	case err := <-handler.disconnected:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not notice the disconnect")
	}

	select {
	case err := <-receiver.errors:
		t.Fatalf("unexpected stream error: %v", err)
	default:
	}
}

func TestServerShutdownReportsError(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := serializer.NewJSONSerializer()

	handler := &echoHandler{disconnected: make(chan error, 1)}
	server := NewBaseServerTransport(loopbackServer{}, s)
	server.RegisterHandler(handler)
	require.NoError(t, server.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0"}))

	receiver := &chanReceiver{
		messages: make(chan common.Message, 1),
		errors:   make(chan error, 1),
	}
	client := NewBaseClientTransport(loopbackClient{}, s)
	require.NoError(t, client.Connect(common.ClientConfig{Endpoint: server.Addr()}, receiver))
	defer client.Close()

	// make sure the stream is established on the server before shutting down
	require.NoError(t, client.Send(common.NewRequest(1, nil)))
	<-receiver.messages

	require.NoError(t, server.Shutdown())

	select {
	case err := <-receiver.errors:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the shutdown")
	}
}
