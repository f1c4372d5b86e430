// Package tcp implements the dLink transport over TCP sockets. It supplies the
// connectors for the base package, which does framing and stream handling.
//
// Key Components:
//
//   - clientConnector: dials with a timeout and applies socket options
//     (TCP_NODELAY, buffer sizes, keep-alive, linger)
//
//   - serverConnector: listens on a TCP endpoint and applies the same options
//     to accepted connections
//
//   - NewTCPTransportFactory: the transport.Factory a connection pool uses to
//     create one transport per connection
package tcp
