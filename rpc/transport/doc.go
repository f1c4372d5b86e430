// Package transport defines the boundary between the dLink client core and the
// network. A transport carries whole messages over one ordered, full-duplex
// stream: messages are written in Send order and inbound messages are handed
// to a single receiver one at a time, in arrival order. The request/response
// correlator relies on exactly this guarantee.
//
// Key Components:
//
//   - IMessageTransport / IReceiver: client side stream and its inbound callback.
//
//   - Factory: creates one transport per pooled connection.
//
//   - IMessageServerTransport / IServerHandler / IServerConn: server side, used by
//     the mock game server.
//
// Implementations live in the base (framing and stream handling), tcp and unix
// subpackages.
package transport
