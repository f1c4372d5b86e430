package transport

import (
	"github.com/ValentinKolb/dLink/rpc/common"
)

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IReceiver receives the inbound side of a client transport.
// All calls come from a single reader goroutine, in arrival order.
type IReceiver interface {
	// OnMessage is called for every decoded inbound message
	OnMessage(msg common.Message)
	// OnError is called at most once when the stream fails (disconnect, decode error).
	// No message is delivered afterwards. It is not called after Close.
	OnError(err error)
}

// IMessageTransport is an ordered, full-duplex message channel to one server
type IMessageTransport interface {
	// Connect establishes the stream and starts delivering inbound messages to receiver
	Connect(config common.ClientConfig, receiver IReceiver) error
	// Send writes one message. Messages are written in the order Send is called.
	Send(msg common.Message) error
	// Close closes the stream. It is safe to call from inside the receiver.
	Close() error
}

// Factory creates a new, unconnected transport. A pool calls it once per connection.
type Factory func() IMessageTransport

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IServerConn is the server side of one client stream
type IServerConn interface {
	// ID is unique per server transport
	ID() uint64
	// Send writes one message to the client, safe for concurrent use
	Send(msg common.Message) error
	// Close closes the stream
	Close() error
	// RemoteAddr returns the client address
	RemoteAddr() string
}

// IServerHandler is notified about server side streams.
// OnMessage is called from the stream's reader goroutine, so messages of one
// stream are handled sequentially and in arrival order.
type IServerHandler interface {
	OnConnect(conn IServerConn)
	OnMessage(conn IServerConn, msg common.Message)
	OnDisconnect(conn IServerConn, err error)
}

// IMessageServerTransport accepts client streams
type IMessageServerTransport interface {
	// RegisterHandler sets the handler, must be called before Listen
	RegisterHandler(handler IServerHandler)
	// Listen binds the endpoint and starts accepting in the background
	Listen(config common.ServerConfig) error
	// Addr returns the bound address (useful with port 0)
	Addr() string
	// Shutdown stops accepting, closes every stream and waits for the handlers to return
	Shutdown() error
}
