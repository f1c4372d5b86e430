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
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/ValentinKolb/dLink/rpc/transport/tcp"
	"github.com/jpillora/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var poolLogger = logger.GetLogger("pool")

// Pool is the client facade for one game server.
//
// Requests run on pooled synchronous connections, one request per connection
// at a time. Idle connections are closed by a reaper once they were unused for
// IdleTTL. Events are sent on a single dedicated event connection, which is
// also the only connection whose inbound events reach the listeners.
//
// Pool is safe for concurrent use.
type Pool struct {
	config       common.ClientConfig
	newTransport transport.Factory
	listeners    ListenerTable
	events       *dispatch.Dispatcher
	limiter      *rate.Limiter

	mu     sync.Mutex
	idle   *idleSet
	closed bool

	eventMu   sync.Mutex
	eventConn *Connection

	created atomic.Uint64
	reaped  atomic.Uint64

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// PoolStats is a snapshot of pool counters
type PoolStats struct {
	Idle           int
	Created        uint64
	Reaped         uint64
	EventConnReady bool
	Events         dispatch.Stats
}

func (s PoolStats) String() string {
	return fmt.Sprintf("idle=%d created=%d reaped=%d event_conn_ready=%t events=(%s)",
		s.Idle, s.Created, s.Reaped, s.EventConnReady, s.Events)
}

// NewPool opens the event connection and starts the reaper. factory is called
// once per connection. listeners may be nil.
func NewPool(config common.ClientConfig, factory transport.Factory, listeners ListenerTable) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("transport factory must not be nil")
	}
	config = config.WithDefaults()

	p := &Pool{
		config:       config,
		newTransport: factory,
		listeners:    listeners.clone(),
		events:       dispatch.New(fmt.Sprintf("events@%s", config.Address())),
		idle:         newIdleSet(),
		stopReaper:   make(chan struct{}),
		reaperDone:   make(chan struct{}),
	}
	if config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(1, config.RateBurst))
	}

	conn, err := p.dial(context.Background(), p.listeners)
	if err != nil {
		p.events.Close()
		return nil, fmt.Errorf("failed to open event connection: %w", err)
	}
	p.eventConn = conn

	go p.runReaper()

	poolLogger.Infof("Pool for %s ready (idle_ttl=%s, reaper=%s, listeners=%d)",
		config.Address(), config.IdleTTL, config.ReaperInterval, len(p.listeners))
	return p, nil
}

// Ask sends a request on a pooled connection and waits for its reply.
// See Connection.Ask for the error semantics. Connections that failed are
// discarded, the pool never retries a request.
func (p *Pool) Ask(ctx context.Context, command uint32, body common.Body, timeout time.Duration) (common.Body, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Ask(ctx, command, body, timeout)
	p.checkin(conn)
	return resp, err
}

// Notify sends a one-way event on the event connection, reconnecting it first
// if it was lost.
func (p *Pool) Notify(command uint32, body common.Body) error {
	conn, err := p.eventConnection()
	if err != nil {
		return err
	}
	return conn.Notify(command, body)
}

// Close stops the reaper and closes every connection. Connections still
// checked out are closed when they are returned. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle.drain()
	p.mu.Unlock()

	close(p.stopReaper)
	<-p.reaperDone

	var g errgroup.Group
	for _, conn := range idle {
		g.Go(conn.Close)
	}
	p.eventMu.Lock()
	if p.eventConn != nil {
		g.Go(p.eventConn.Close)
	}
	p.eventMu.Unlock()
	err := g.Wait()

	p.events.Close()
	poolLogger.Infof("Pool for %s closed", p.config.Address())
	return err
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle := p.idle.len()
	p.mu.Unlock()

	p.eventMu.Lock()
	ready := p.eventConn != nil && p.eventConn.State() == StateReady
	p.eventMu.Unlock()

	return PoolStats{
		Idle:           idle,
		Created:        p.created.Load(),
		Reaped:         p.reaped.Load(),
		EventConnReady: ready,
		Events:         p.events.Stats(),
	}
}

// Config returns the effective configuration
func (p *Pool) Config() common.ClientConfig {
	return p.config
}

// --------------------------------------------------------------------------
// Checkout / Checkin
// --------------------------------------------------------------------------

// checkout returns an idle ready connection or dials a new one
func (p *Pool) checkout(ctx context.Context) (*Connection, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, common.ErrPoolClosed
		}
		conn := p.idle.takeNewest()
		p.mu.Unlock()

		if conn == nil {
			break
		}
		if conn.State() == StateReady {
			checkoutsIdle.Inc()
			return conn, nil
		}
		connsDiscarded.Inc()
		poolLogger.Debugf("Discarding idle connection %d: %v", conn.ID(), conn.Err())
	}

	conn, err := p.dial(ctx, nil)
	if err != nil {
		return nil, err
	}
	checkoutsNew.Inc()
	return conn, nil
}

// checkin returns conn to the idle set, closed connections are dropped
func (p *Pool) checkin(conn *Connection) {
	if conn.State() != StateReady {
		connsDiscarded.Inc()
		poolLogger.Debugf("Dropping connection %d: %v", conn.ID(), conn.Err())
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.idle.put(conn, time.Now().Add(p.config.IdleTTL))
	p.mu.Unlock()
}

// dial opens a connection, retrying with exponential backoff
func (p *Pool) dial(ctx context.Context, listeners ListenerTable) (*Connection, error) {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := NewConnection(p.config, p.newTransport(), listeners, p.events)
		if err == nil {
			p.created.Add(1)
			return conn, nil
		}
		lastErr = err
		if attempt >= p.config.DialRetries {
			break
		}

		wait := b.Duration()
		poolLogger.Debugf("Dial attempt %d to %s failed, retrying in %s: %v", attempt, p.config.Address(), wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", p.config.Address(), ctx.Err())
		}
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", p.config.Address(), p.config.DialRetries, lastErr)
}

// --------------------------------------------------------------------------
// Event connection
// --------------------------------------------------------------------------

// eventConnection returns the event connection, redialing it if it is closed
func (p *Pool) eventConnection() (*Connection, error) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	if p.isClosed() {
		return nil, common.ErrPoolClosed
	}
	if p.eventConn != nil && p.eventConn.State() == StateReady {
		return p.eventConn, nil
	}

	if p.eventConn != nil {
		poolLogger.Warningf("Event connection %d lost, reconnecting: %v", p.eventConn.ID(), p.eventConn.Err())
	}
	conn, err := p.dial(context.Background(), p.listeners)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen event connection: %w", err)
	}
	eventReconnects.Inc()
	p.eventConn = conn
	return conn, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// --------------------------------------------------------------------------
// Reaper
// --------------------------------------------------------------------------

func (p *Pool) runReaper() {
	defer close(p.reaperDone)

	ticker := time.NewTicker(p.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case now := <-ticker.C:
			p.reapExpired(now)
			p.restoreEventConnection()
		}
	}
}

// reapExpired closes every idle connection that expired at or before now
func (p *Pool) reapExpired(now time.Time) int {
	p.mu.Lock()
	expired := p.idle.popExpired(now)
	p.mu.Unlock()

	for _, conn := range expired {
		_ = conn.Close()
	}
	if n := len(expired); n > 0 {
		p.reaped.Add(uint64(n))
		connsReaped.Add(n)
		poolLogger.Debugf("Reaped %d idle connections to %s", n, p.config.Address())
	}
	return len(expired)
}

// restoreEventConnection reopens a lost event connection when listeners are
// registered, so inbound events keep flowing without waiting for a Notify
func (p *Pool) restoreEventConnection() {
	if len(p.listeners) == 0 {
		return
	}
	p.eventMu.Lock()
	lost := p.eventConn == nil || p.eventConn.State() != StateReady
	p.eventMu.Unlock()
	if !lost {
		return
	}
	if _, err := p.eventConnection(); err != nil && !errors.Is(err, common.ErrPoolClosed) {
		poolLogger.Warningf("Event connection to %s still down: %v", p.config.Address(), err)
	}
}

// --------------------------------------------------------------------------
// Dial
// --------------------------------------------------------------------------

type dialOptions struct {
	config     common.ClientConfig
	serializer serializer.IRPCSerializer
	factory    transport.Factory
}

// Option customizes Dial
type Option func(*dialOptions)

// WithIdleTTL sets how long a connection may stay idle before it is reaped
func WithIdleTTL(ttl time.Duration) Option {
	return func(o *dialOptions) { o.config.IdleTTL = ttl }
}

// WithReaperInterval sets how often idle connections are checked
func WithReaperInterval(interval time.Duration) Option {
	return func(o *dialOptions) { o.config.ReaperInterval = interval }
}

// WithCallTimeout sets the default reply timeout of Ask
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *dialOptions) { o.config.CallTimeout = timeout }
}

// WithRateLimit limits Ask to perSecond requests with the given burst
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *dialOptions) {
		o.config.RateLimit = perSecond
		o.config.RateBurst = burst
	}
}

// WithSerializer sets the wire encoding, the default is the binary serializer
func WithSerializer(s serializer.IRPCSerializer) Option {
	return func(o *dialOptions) { o.serializer = s }
}

// WithTransport replaces the TCP transport, the serializer option is then ignored
func WithTransport(factory transport.Factory) Option {
	return func(o *dialOptions) { o.factory = factory }
}

// Dial creates a pool for host:port over TCP with the binary serializer
func Dial(host string, port int, listeners ListenerTable, opts ...Option) (*Pool, error) {
	o := &dialOptions{
		config:     common.DefaultClientConfig(host, port),
		serializer: serializer.NewBinarySerializer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.factory == nil {
		o.factory = tcp.NewTCPTransportFactory(o.serializer)
	}
	return NewPool(o.config, o.factory, listeners)
}
