package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/transport/tcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// --------------------------------------------------------------------------
// Test doubles
// --------------------------------------------------------------------------

// recordingConn is an in-memory IServerConn
type recordingConn struct {
	id uint64

	mu     sync.Mutex
	sent   []common.Message
	closed bool
}

func (c *recordingConn) ID() uint64         { return c.id }
func (c *recordingConn) RemoteAddr() string { return "test" }

func (c *recordingConn) Send(msg common.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return common.ErrConnectionClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) messages() []common.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Message(nil), c.sent...)
}

func (c *recordingConn) last(t *testing.T) common.Message {
	t.Helper()
	msgs := c.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func newTestServer(routes Routes) *Server {
	return NewServer(
		common.ServerConfig{Endpoint: "127.0.0.1:0"},
		tcp.NewTCPServerTransport(serializer.NewBinarySerializer()),
		NewRouter(routes),
	)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestUnknownCommandIsAnException(t *testing.T) {
	s := newTestServer(DemoRoutes())
	conn := &recordingConn{id: 1}
	s.OnConnect(conn)

	s.OnMessage(conn, common.NewRequest(0x7777, nil))

	reply := conn.last(t)
	require.Equal(t, common.KindException, reply.Kind)
	require.Equal(t, uint32(0x7777), reply.Command)
	require.Equal(t, "unknown command 0x7777", reply.Err)
}

func TestSessionStateSpansRequests(t *testing.T) {
	s := newTestServer(DemoRoutes())
	conn := &recordingConn{id: 1}
	other := &recordingConn{id: 2}
	s.OnConnect(conn)
	s.OnConnect(other)

	s.OnMessage(conn, common.NewRequest(CmdWhoAmI, nil))
	reply := conn.last(t)
	require.Equal(t, common.KindException, reply.Kind)
	require.Equal(t, "player not found", reply.Err)

	s.OnMessage(conn, common.NewRequest(CmdLogin, common.Body{"playerId": "p1"}))
	reply = conn.last(t)
	require.Equal(t, common.KindResponse, reply.Kind)
	require.Equal(t, true, reply.Body["ok"])

	s.OnMessage(conn, common.NewRequest(CmdWhoAmI, nil))
	require.Equal(t, "p1", conn.last(t).Body["playerId"])

	// state is per session
	s.OnMessage(other, common.NewRequest(CmdWhoAmI, nil))
	require.Equal(t, common.KindException, other.last(t).Kind)
}

func TestLoginRequiresPlayerID(t *testing.T) {
	s := newTestServer(DemoRoutes())
	conn := &recordingConn{id: 1}
	s.OnConnect(conn)

	s.OnMessage(conn, common.NewRequest(CmdLogin, common.Body{}))
	reply := conn.last(t)
	require.Equal(t, common.KindException, reply.Kind)
	require.Equal(t, "playerId required", reply.Err)
}

func TestHandlerErrorsAndPanics(t *testing.T) {
	s := newTestServer(Routes{
		Requests: map[uint32]RequestHandler{
			0x10: func(*Session, common.Body) (common.Body, error) { return nil, errors.New("boom") },
			0x11: func(*Session, common.Body) (common.Body, error) { panic("bug") },
			0x12: func(*Session, common.Body) (common.Body, error) { return common.Body{"fine": true}, nil },
		},
	})
	conn := &recordingConn{id: 1}
	s.OnConnect(conn)

	s.OnMessage(conn, common.NewRequest(0x10, nil))
	s.OnMessage(conn, common.NewRequest(0x11, nil))
	s.OnMessage(conn, common.NewRequest(0x12, nil))

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "boom", msgs[0].Err)
	require.Equal(t, "internal server error", msgs[1].Err)
	require.Equal(t, common.KindResponse, msgs[2].Kind)
	require.Equal(t, true, msgs[2].Body["fine"])
}

func TestChatIsBroadcast(t *testing.T) {
	s := newTestServer(DemoRoutes())
	alice := &recordingConn{id: 1}
	bob := &recordingConn{id: 2}
	s.OnConnect(alice)
	s.OnConnect(bob)
	require.Equal(t, 2, s.SessionCount())

	s.OnMessage(alice, common.NewRequest(CmdLogin, common.Body{"playerId": "alice"}))
	s.OnMessage(alice, common.NewEvent(EvtChat, common.Body{"text": "hi"}))
	s.OnMessage(alice, common.NewEvent(0x0999, nil)) // no handler, dropped

	for _, conn := range []*recordingConn{alice, bob} {
		msg := conn.last(t)
		require.Equal(t, common.KindEvent, msg.Kind)
		require.Equal(t, EvtChatBroadcast, msg.Command)
		require.Equal(t, "alice", msg.Body["from"])
		require.Equal(t, "hi", msg.Body["text"])
	}

	s.OnDisconnect(bob, nil)
	require.Equal(t, 1, s.SessionCount())
	require.Equal(t, 1, s.Broadcast(EvtChatBroadcast, common.Body{"text": "bye"}))
}

func TestSlowEchoValidatesDelay(t *testing.T) {
	s := newTestServer(DemoRoutes())
	conn := &recordingConn{id: 1}
	s.OnConnect(conn)

	s.OnMessage(conn, common.NewRequest(CmdSlowEcho, common.Body{"delayMs": "soon"}))
	require.Equal(t, common.KindException, conn.last(t).Kind)

	start := time.Now()
	s.OnMessage(conn, common.NewRequest(CmdSlowEcho, common.Body{"delayMs": int64(30), "v": "x"}))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, "x", conn.last(t).Body["v"])
}

func TestServerOverTCP(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(DemoRoutes())
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotEmpty(t, addr)

	received := make(chan common.Message, 16)
	failed := make(chan error, 1)
	client := tcp.NewTCPClientTransport(serializer.NewBinarySerializer())
	config := common.DefaultClientConfig("", 0)
	config.Endpoint = addr
	require.NoError(t, client.Connect(config, &receiverFuncs{
		onMessage: func(msg common.Message) { received <- msg },
		onError:   func(err error) { failed <- err },
	}))

	require.NoError(t, client.Send(common.NewRequest(CmdSlowEcho, common.Body{"delayMs": int64(50), "n": int64(1)})))
	require.NoError(t, client.Send(common.NewRequest(CmdEcho, common.Body{"n": int64(2)})))
	require.NoError(t, client.Send(common.NewRequest(CmdPing, nil)))

	// replies keep request order even though the first one is slow
	for _, want := range []uint32{CmdSlowEcho, CmdEcho, CmdPing} {
		select {
		case msg := <-received:
			require.Equal(t, want, msg.Command)
			require.Equal(t, common.KindResponse, msg.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("no reply for 0x%04x", want)
		}
	}

	require.NoError(t, client.Close())
	require.NoError(t, s.Stop())
}

type receiverFuncs struct {
	onMessage func(common.Message)
	onError   func(error)
}

func (r *receiverFuncs) OnMessage(msg common.Message) { r.onMessage(msg) }
func (r *receiverFuncs) OnError(err error)            { r.onError(err) }
