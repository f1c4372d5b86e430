// Package rpc provides the client side RPC layer of a game client together
// with a small game server to talk to. Requests carry no request id: replies
// on a connection arrive in the order the requests were sent, and events
// pushed by the server are dispatched to registered listeners.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, errors, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: Connections with FIFO reply correlation, ordered event dispatch,
//     and a connection pool with an idle reaper and a dedicated event connection.
//
//   - server: A game server that answers requests per session in order and
//     pushes events, including demo routes used by the CLI and the tests.
//
//   - registry: Service registration and discovery in etcd.
package rpc
