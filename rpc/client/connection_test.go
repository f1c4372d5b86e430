package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLink/lib/dispatch"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// --------------------------------------------------------------------------
// Test doubles
// --------------------------------------------------------------------------

// fakeTransport records sent messages and lets the test play the server.
// deliver and fail must be called from one goroutine, like a real reader.
type fakeTransport struct {
	connectErr error
	sendErr    error

	mu       sync.Mutex
	receiver transport.IReceiver

	sent   chan common.Message
	closed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan common.Message, 128)}
}

func (f *fakeTransport) Connect(_ common.ClientConfig, receiver transport.IReceiver) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.receiver = receiver
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(msg common.Message) error {
	if f.closed.Load() {
		return io.ErrClosedPipe
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- msg
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) deliver(msg common.Message) {
	f.mu.Lock()
	r := f.receiver
	f.mu.Unlock()
	r.OnMessage(msg)
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	r := f.receiver
	f.mu.Unlock()
	r.OnError(err)
}

// next returns the next message written by the client
func (f *fakeTransport) next(t *testing.T) common.Message {
	t.Helper()
	select {
	case msg := <-f.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return common.Message{}
	}
}

type askResult struct {
	body common.Body
	err  error
}

// askAsync starts an ask and waits until its request hit the wire
func askAsync(t *testing.T, c *Connection, ft *fakeTransport, command uint32, timeout time.Duration) <-chan askResult {
	t.Helper()
	out := make(chan askResult, 1)
	go func() {
		body, err := c.Ask(context.Background(), command, common.Body{"cmd": command}, timeout)
		out <- askResult{body, err}
	}()
	msg := ft.next(t)
	require.Equal(t, common.KindRequest, msg.Kind)
	require.Equal(t, command, msg.Command)
	return out
}

func await(t *testing.T, ch <-chan askResult) askResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return")
		return askResult{}
	}
}

func newTestConnection(t *testing.T, listeners ListenerTable, events *dispatch.Dispatcher) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c, err := NewConnection(common.DefaultClientConfig("game.local", 9600), ft, listeners, events)
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	return c, ft
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestAskReturnsResponseBody(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)
	defer c.Close()

	res := askAsync(t, c, ft, 0x0101, time.Second)
	ft.deliver(common.NewResponse(0x0101, common.Body{"ok": true}))

	r := await(t, res)
	require.NoError(t, r.err)
	require.Equal(t, true, r.body["ok"])
	require.Equal(t, StateReady, c.State())
	require.Zero(t, c.Pending())
}

func TestRepliesAreMatchedInSendOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)
	defer c.Close()

	const n = 50
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		command := uint32(0x1000 + i)
		go func() {
			body, err := c.Ask(context.Background(), command, nil, 2*time.Second)
			if err == nil && body["n"] != command {
				err = fmt.Errorf("command 0x%04x got body for %v", command, body["n"])
			}
			results <- err
		}()
	}

	// answer in the order the requests hit the wire
	for i := 0; i < n; i++ {
		msg := ft.next(t)
		ft.deliver(common.NewResponse(msg.Command, common.Body{"n": msg.Command}))
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
	require.Equal(t, StateReady, c.State())
}

func TestExceptionKeepsConnectionUsable(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)
	defer c.Close()

	res := askAsync(t, c, ft, 0x0101, time.Second)
	ft.deliver(common.NewException(0x0101, "player not found"))

	r := await(t, res)
	var remote *common.RemoteError
	require.ErrorAs(t, r.err, &remote)
	require.Equal(t, "player not found", remote.Error())
	require.Equal(t, uint32(0x0101), remote.Command)
	require.False(t, common.IsFatal(r.err))
	require.Equal(t, StateReady, c.State())

	res = askAsync(t, c, ft, 0x0102, time.Second)
	ft.deliver(common.NewResponse(0x0102, common.Body{"name": "p1"}))
	r = await(t, res)
	require.NoError(t, r.err)
	require.Equal(t, "p1", r.body["name"])
}

func TestMismatchedReplyClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	first := askAsync(t, c, ft, 0x0001, time.Second)
	second := askAsync(t, c, ft, 0x0002, time.Second)

	ft.deliver(common.NewResponse(0x0002, nil))

	for _, ch := range []<-chan askResult{first, second} {
		r := await(t, ch)
		require.ErrorIs(t, r.err, common.ErrConnectionClosed)
		require.ErrorIs(t, r.err, common.ErrProtocolViolation)
	}
	require.Equal(t, StateClosed, c.State())
	require.True(t, ft.closed.Load())
	require.ErrorIs(t, c.Err(), common.ErrProtocolViolation)

	_, err := c.Ask(context.Background(), 0x0001, nil, time.Second)
	require.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestUnsolicitedReplyClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	ft.deliver(common.NewResponse(0x0001, nil))

	require.Equal(t, StateClosed, c.State())
	require.ErrorIs(t, c.Err(), common.ErrProtocolViolation)
}

func TestInboundRequestClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	res := askAsync(t, c, ft, 0x0001, time.Second)
	ft.deliver(common.NewRequest(0x0001, nil))

	r := await(t, res)
	require.ErrorIs(t, r.err, common.ErrProtocolViolation)
	require.Equal(t, StateClosed, c.State())
}

func TestTimeoutClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	short := askAsync(t, c, ft, 0x0001, 200*time.Millisecond)
	long := askAsync(t, c, ft, 0x0002, 5*time.Second)

	r := await(t, short)
	require.ErrorIs(t, r.err, common.ErrTimeout)
	require.NotErrorIs(t, r.err, common.ErrConnectionClosed)

	r = await(t, long)
	require.ErrorIs(t, r.err, common.ErrConnectionClosed)
	require.ErrorIs(t, r.err, common.ErrTimeout)

	require.Equal(t, StateClosed, c.State())
	require.True(t, ft.closed.Load())

	// a late reply after the close is ignored
	ft.deliver(common.NewResponse(0x0001, nil))
	require.Equal(t, StateClosed, c.State())
}

func TestContextCancelClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, err := c.Ask(ctx, 0x0001, nil, 5*time.Second)
		res <- err
	}()
	ft.next(t)
	cancel()

	require.ErrorIs(t, <-res, context.Canceled)
	require.Equal(t, StateClosed, c.State())
}

func TestTransportFailureFailsPendingCalls(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	res := askAsync(t, c, ft, 0x0001, 5*time.Second)
	ft.fail(io.EOF)

	r := await(t, res)
	require.ErrorIs(t, r.err, common.ErrConnectionClosed)
	require.ErrorIs(t, r.err, io.EOF)
	require.Equal(t, StateClosed, c.State())

	err := c.Notify(0x0201, nil)
	require.ErrorIs(t, err, common.ErrConnectionClosed)
}

func TestSendFailureClosesConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	ft := newFakeTransport()
	ft.sendErr = errors.New("broken pipe")
	c, err := NewConnection(common.DefaultClientConfig("game.local", 9600), ft, nil, nil)
	require.NoError(t, err)

	_, err = c.Ask(context.Background(), 0x0001, nil, time.Second)
	require.ErrorIs(t, err, common.ErrConnectionClosed)
	require.ErrorContains(t, err, "broken pipe")
	require.Equal(t, StateClosed, c.State())
	require.Zero(t, c.Pending())
}

func TestConnectFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ft := newFakeTransport()
	ft.connectErr = errors.New("connection refused")

	_, err := NewConnection(common.DefaultClientConfig("game.local", 9600), ft, nil, nil)
	require.ErrorContains(t, err, "connection refused")
	require.True(t, ft.closed.Load())
}

func TestListenersRequireDispatcher(t *testing.T) {
	_, err := NewConnection(common.DefaultClientConfig("game.local", 9600), newFakeTransport(),
		ListenerTable{0x0202: func(common.Body) error { return nil }}, nil)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)

	res := askAsync(t, c, ft, 0x0001, 5*time.Second)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	r := await(t, res)
	require.ErrorIs(t, r.err, common.ErrConnectionClosed)
	require.Equal(t, common.ErrConnectionClosed, c.Err())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestNotifyWritesEvent(t *testing.T) {
	defer goleak.VerifyNone(t)
	c, ft := newTestConnection(t, nil, nil)
	defer c.Close()

	require.NoError(t, c.Notify(0x0201, common.Body{"text": "hi"}))
	msg := ft.next(t)
	require.Equal(t, common.KindEvent, msg.Kind)
	require.Equal(t, uint32(0x0201), msg.Command)
	require.Equal(t, "hi", msg.Body["text"])
	require.Zero(t, c.Pending())
}

func TestEventsReachListenersInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	events := dispatch.New("test")

	var mu sync.Mutex
	var chat []int
	var failures atomic.Int32
	listeners := ListenerTable{
		0x0202: func(body common.Body) error {
			mu.Lock()
			chat = append(chat, body["n"].(int))
			mu.Unlock()
			return nil
		},
		0x0203: func(common.Body) error {
			failures.Add(1)
			panic("listener bug")
		},
	}
	c, ft := newTestConnection(t, listeners, events)

	for i := 0; i < 100; i++ {
		ft.deliver(common.NewEvent(0x0202, common.Body{"n": i}))
		if i%10 == 0 {
			ft.deliver(common.NewEvent(0x0203, nil))
			ft.deliver(common.NewEvent(0x0999, nil)) // no listener
		}
	}

	// events interleave with a pending call without disturbing it
	res := askAsync(t, c, ft, 0x0001, time.Second)
	ft.deliver(common.NewEvent(0x0202, common.Body{"n": 100}))
	ft.deliver(common.NewResponse(0x0001, nil))
	require.NoError(t, await(t, res).err)

	require.NoError(t, c.Close())
	events.Close()

	require.Len(t, chat, 101)
	for i, n := range chat {
		require.Equal(t, i, n)
	}
	require.Equal(t, int32(10), failures.Load())
	require.Equal(t, int64(10), events.Stats().Panicked)
}
