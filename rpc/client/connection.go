package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLink/lib/dispatch"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// ConnState is the lifecycle state of a Connection
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateReady
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

var connectionIDs atomic.Uint64

// Connection is one ordered stream to the game server.
//
// Requests carry no id. The server answers requests of one stream in the order
// they were received, so the oldest outstanding request owns the next reply.
// Any reply that does not fit that order, a timeout or a transport failure
// closes the connection and fails every outstanding request.
//
// Connection is safe for concurrent use.
type Connection struct {
	id        uint64
	config    common.ClientConfig
	transport transport.IMessageTransport
	listeners ListenerTable
	events    *dispatch.Dispatcher

	state atomic.Int32

	// sendMu is held across enqueue and write so queue order equals wire order
	sendMu sync.Mutex

	// mu guards pending and closeErr
	mu       sync.Mutex
	pending  pendingQueue
	closeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection connects t and returns a ready connection.
// Inbound events with a listener in listeners are submitted to events, keyed by
// command, so events of one command are handled in arrival order. events may be
// nil when listeners is empty.
func NewConnection(config common.ClientConfig, t transport.IMessageTransport, listeners ListenerTable, events *dispatch.Dispatcher) (*Connection, error) {
	if t == nil {
		return nil, errors.New("transport must not be nil")
	}
	if len(listeners) > 0 && events == nil {
		return nil, errors.New("listeners require a dispatcher")
	}

	c := &Connection{
		id:        connectionIDs.Add(1),
		config:    config.WithDefaults(),
		transport: t,
		listeners: listeners.clone(),
		events:    events,
		closed:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	if err := t.Connect(c.config, connReceiver{c}); err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", c.config.Address(), err)
		c.shutdown(err)
		return nil, err
	}

	// the stream may already have failed while connecting
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.config.Address(), c.Err())
	}

	connsOpened.Inc()
	Logger.Debugf("Connection %d to %s ready", c.id, c.config.Address())
	return c, nil
}

// ID returns a process wide unique connection id
func (c *Connection) ID() uint64 {
	return c.id
}

// State returns the current lifecycle state
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Err returns the error the connection was closed with. It is
// ErrConnectionClosed after a plain Close and nil while the connection is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != StateClosed {
		return nil
	}
	return common.ClosedBy(c.closeErr)
}

// Pending returns the number of requests waiting for a reply
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.len()
}

// Ask sends a request and waits for its reply.
//
// A Response yields its body. An Exception yields a *common.RemoteError and
// leaves the connection usable. If no reply arrives within timeout (the
// configured CallTimeout when timeout <= 0) or ctx is done first, the
// connection is closed, this caller gets common.ErrTimeout or the context
// error, and every other outstanding caller gets common.ErrConnectionClosed.
func (c *Connection) Ask(ctx context.Context, command uint32, body common.Body, timeout time.Duration) (common.Body, error) {
	if timeout <= 0 {
		timeout = c.config.CallTimeout
	}
	start := time.Now()

	call := newPendingCall(command)
	if err := c.send(common.NewRequest(command, body), call); err != nil {
		observeAsk(start, err)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res callResult
	select {
	case res = <-call.done:
	case <-timer.C:
		res = c.abandon(call, fmt.Errorf("%w: command 0x%04x after %s", common.ErrTimeout, command, timeout))
	case <-ctx.Done():
		res = c.abandon(call, fmt.Errorf("command 0x%04x: %w", command, ctx.Err()))
	}

	observeAsk(start, res.err)
	return res.body, res.err
}

// abandon closes the connection because call gave up waiting.
// A reply that won the race is still returned.
func (c *Connection) abandon(call *pendingCall, err error) callResult {
	select {
	case res := <-call.done:
		return res
	default:
	}
	c.shutdown(err)
	res := <-call.done
	if errors.Is(res.err, common.ErrConnectionClosed) {
		res.err = err
	}
	return res
}

// Notify sends a one-way event. It does not wait for anything from the server.
func (c *Connection) Notify(command uint32, body common.Body) error {
	if err := c.send(common.NewEvent(command, body), nil); err != nil {
		return err
	}
	notifiesTotal.Inc()
	return nil
}

// Close closes the connection. Outstanding requests fail with
// common.ErrConnectionClosed. Close is idempotent.
func (c *Connection) Close() error {
	c.shutdown(nil)
	return nil
}

// send writes msg. If call is not nil it is enqueued before the write, under
// the same lock, so the queue mirrors the wire.
func (c *Connection) send(msg common.Message, call *pendingCall) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.State() != StateReady {
		err := common.ClosedBy(c.closeErr)
		c.mu.Unlock()
		return err
	}
	if call != nil {
		c.pending.push(call)
	}
	c.mu.Unlock()

	if err := c.transport.Send(msg); err != nil {
		err = fmt.Errorf("failed to send %s 0x%04x: %w", msg.Kind, msg.Command, err)
		c.shutdown(err)
		return common.ClosedBy(err)
	}
	return nil
}

// shutdown closes the connection once and fails every outstanding call with
// cause. A nil cause is a regular close.
func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		c.closeErr = cause
		calls := c.pending.drain()
		c.mu.Unlock()

		if err := c.transport.Close(); err != nil {
			Logger.Debugf("Connection %d: closing transport: %v", c.id, err)
		}

		failErr := common.ClosedBy(cause)
		for _, call := range calls {
			call.fail(failErr)
		}
		close(c.closed)
		connsClosed.Inc()

		if cause != nil {
			Logger.Warningf("Connection %d to %s closed with %d pending: %v", c.id, c.config.Address(), len(calls), cause)
		} else {
			Logger.Debugf("Connection %d to %s closed", c.id, c.config.Address())
		}
	})
}

// --------------------------------------------------------------------------
// Inbound side, called from the transport's reader goroutine
// --------------------------------------------------------------------------

func (c *Connection) onMessage(msg common.Message) {
	switch msg.Kind {
	case common.KindResponse, common.KindException:
		c.resolve(msg)
	case common.KindEvent:
		c.dispatchEvent(msg)
	case common.KindRequest:
		c.shutdown(fmt.Errorf("%w: unexpected inbound request 0x%04x", common.ErrProtocolViolation, msg.Command))
	default:
		c.shutdown(fmt.Errorf("%w: unknown message kind %s", common.ErrProtocolViolation, msg.Kind))
	}
}

// resolve hands a reply to the oldest outstanding call
func (c *Connection) resolve(msg common.Message) {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return
	}
	head := c.pending.peek()
	if head == nil {
		c.mu.Unlock()
		c.shutdown(fmt.Errorf("%w: unsolicited %s 0x%04x", common.ErrProtocolViolation, msg.Kind, msg.Command))
		return
	}
	if head.command != msg.Command {
		c.mu.Unlock()
		c.shutdown(fmt.Errorf("%w: %s 0x%04x does not match pending request 0x%04x",
			common.ErrProtocolViolation, msg.Kind, msg.Command, head.command))
		return
	}
	c.pending.pop()
	c.mu.Unlock()

	if msg.Kind == common.KindException {
		head.fail(common.NewRemoteError(msg))
		return
	}
	head.succeed(msg.Body)
}

func (c *Connection) dispatchEvent(msg common.Message) {
	eventsReceived.Inc()
	listener, ok := c.listeners[msg.Command]
	if !ok {
		eventsDropped.Inc()
		Logger.Debugf("Connection %d: no listener for event 0x%04x, dropped", c.id, msg.Command)
		return
	}
	body := msg.Body
	if !c.events.Submit(msg.Command, func() error { return listener(body) }) {
		eventsDropped.Inc()
		Logger.Debugf("Connection %d: dispatcher closed, event 0x%04x dropped", c.id, msg.Command)
	}
}

// connReceiver keeps the transport callbacks off the public API
type connReceiver struct {
	c *Connection
}

func (r connReceiver) OnMessage(msg common.Message) {
	r.c.onMessage(msg)
}

func (r connReceiver) OnError(err error) {
	r.c.shutdown(fmt.Errorf("transport failure: %w", err))
}
