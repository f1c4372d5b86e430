// Package unix implements the dLink transport over Unix domain sockets, for a
// game server running on the same machine (e.g. local development with
// `dlink serve --transport unix --endpoint /tmp/dlink.sock`).
//
// Key Components:
//
//   - clientConnector: dials the socket path and applies buffer sizes
//
//   - serverConnector: removes a stale socket file, then listens on the path
package unix
