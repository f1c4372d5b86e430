package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/registry"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

var (
	sessionsOpened = metrics.NewCounter(`dlink_server_sessions_opened_total`)
	sessionsClosed = metrics.NewCounter(`dlink_server_sessions_closed_total`)
	eventsHandled  = metrics.NewCounter(`dlink_server_events_total{handled="true"}`)
	eventsDropped  = metrics.NewCounter(`dlink_server_events_total{handled="false"}`)
	broadcasts     = metrics.NewCounter(`dlink_server_broadcasts_total`)
	requestTime    = metrics.NewHistogram(`dlink_server_request_duration_seconds`)
)

// Server is a game server answering requests through a Router.
// Requests of one connection are handled one after another, so replies leave
// in request order.
//
// Usage:
//
//	s := server.NewServer(
//		config,
//		tcp.NewTCPServerTransport(serializer.NewBinarySerializer()),
//		server.NewRouter(server.DemoRoutes()),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
type Server struct {
	config    common.ServerConfig
	transport transport.IMessageServerTransport
	router    *Router
	sessions  *xsync.MapOf[uint64, *Session]
	registry  *registry.EtcdRegistry
}

// NewServer creates a server, nothing is started yet
func NewServer(config common.ServerConfig, t transport.IMessageServerTransport, router *Router) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		config:    config,
		transport: t,
		router:    router,
		sessions:  xsync.NewMapOf[uint64, *Session](),
	}
	t.RegisterHandler(s)
	return s
}

// Start binds the endpoint, accepts clients in the background and registers
// the server in etcd if registry endpoints are configured
func (s *Server) Start() error {
	Logger.Infof(s.config.String())

	if err := s.transport.Listen(s.config); err != nil {
		return err
	}

	if len(s.config.RegistryEndpoints) > 0 {
		if err := s.register(); err != nil {
			_ = s.transport.Shutdown()
			return err
		}
	}
	return nil
}

// Stop deregisters the server, disconnects every client and waits for the
// handlers to return
func (s *Server) Stop() error {
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.registry.Deregister(ctx, s.config.ServiceName, s.Addr()); err != nil {
			Logger.Warningf("Failed to deregister: %v", err)
		}
		cancel()
		if err := s.registry.Close(); err != nil {
			Logger.Warningf("Failed to close registry: %v", err)
		}
		s.registry = nil
	}
	return s.transport.Shutdown()
}

// Serve starts the server and blocks until ctx is done or the process
// receives SIGINT or SIGTERM, then stops it
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	Logger.Infof("Shutting down server on %s", s.Addr())
	return s.Stop()
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.transport.Addr()
}

// SessionCount returns the number of connected clients
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

// Broadcast pushes an event to every connected client and returns the number
// of clients it was written to
func (s *Server) Broadcast(command uint32, body common.Body) int {
	broadcasts.Inc()
	sent := 0
	s.sessions.Range(func(id uint64, sess *Session) bool {
		if err := sess.Push(command, body); err != nil {
			Logger.Debugf("Broadcast 0x%04x to session %d failed: %v", command, id, err)
			return true
		}
		sent++
		return true
	})
	return sent
}

func (s *Server) register() error {
	ttl := s.config.RegistryTTLSecond
	if ttl <= 0 {
		ttl = 10
	}
	service := s.config.ServiceName
	if service == "" {
		service = "game"
		s.config.ServiceName = service
	}

	reg, err := registry.NewEtcdRegistry(s.config.RegistryEndpoints, 5*time.Second)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.Register(ctx, service, registry.Instance{Addr: s.Addr()}, ttl); err != nil {
		_ = reg.Close()
		return fmt.Errorf("failed to register %s: %w", service, err)
	}
	s.registry = reg
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerHandler)
// --------------------------------------------------------------------------

func (s *Server) OnConnect(conn transport.IServerConn) {
	s.sessions.Store(conn.ID(), newSession(conn, s))
	sessionsOpened.Inc()
	Logger.Debugf("Session %d from %s opened", conn.ID(), conn.RemoteAddr())
}

func (s *Server) OnMessage(conn transport.IServerConn, msg common.Message) {
	sess, ok := s.sessions.Load(conn.ID())
	if !ok {
		sess = newSession(conn, s)
	}

	switch msg.Kind {
	case common.KindRequest:
		start := time.Now()
		reply := s.router.handleRequest(sess, msg)
		requestTime.Update(time.Since(start).Seconds())
		metrics.GetOrCreateCounter(fmt.Sprintf(`dlink_server_requests_total{kind=%q}`, reply.Kind)).Inc()
		if err := conn.Send(reply); err != nil {
			Logger.Warningf("Session %d: failed to send %s 0x%04x: %v", conn.ID(), reply.Kind, reply.Command, err)
		}
	case common.KindEvent:
		if s.router.handleEvent(sess, msg) {
			eventsHandled.Inc()
		} else {
			eventsDropped.Inc()
			Logger.Debugf("Session %d: no handler for event 0x%04x", conn.ID(), msg.Command)
		}
	default:
		Logger.Warningf("Session %d: ignoring unexpected %s 0x%04x", conn.ID(), msg.Kind, msg.Command)
	}
}

func (s *Server) OnDisconnect(conn transport.IServerConn, err error) {
	s.sessions.Delete(conn.ID())
	sessionsClosed.Inc()
	if err != nil {
		Logger.Infof("Session %d closed: %v", conn.ID(), err)
		return
	}
	Logger.Debugf("Session %d closed", conn.ID())
}
