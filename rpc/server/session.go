package server

import (
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// Session is the server side state of one client connection
type Session struct {
	conn   transport.IServerConn
	server *Server
	values *xsync.MapOf[string, any]
}

func newSession(conn transport.IServerConn, server *Server) *Session {
	return &Session{
		conn:   conn,
		server: server,
		values: xsync.NewMapOf[string, any](),
	}
}

// ID returns the connection id
func (s *Session) ID() uint64 {
	return s.conn.ID()
}

// RemoteAddr returns the client address
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Set stores a value for the lifetime of the session
func (s *Session) Set(key string, value any) {
	s.values.Store(key, value)
}

// Get returns a stored value
func (s *Session) Get(key string) (any, bool) {
	return s.values.Load(key)
}

// Delete removes a stored value
func (s *Session) Delete(key string) {
	s.values.Delete(key)
}

// Push sends an event to this client
func (s *Session) Push(command uint32, body common.Body) error {
	return s.conn.Send(common.NewEvent(command, body))
}

// Close disconnects the client
func (s *Session) Close() error {
	return s.conn.Close()
}

// Server returns the server the session belongs to
func (s *Session) Server() *Server {
	return s.server
}
