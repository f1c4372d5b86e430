// Package common provides the data structures shared by every part of the
// dLink RPC layer.
//
// Key Components:
//
//   - Message: the single frame type exchanged with the game server. It is a
//     tagged union (Request, Response, Event, Exception) carrying a numeric
//     command code and either an opaque Body or, for exceptions, the server's
//     error text.
//
//   - Errors: the failure taxonomy of the client. RemoteError is the only
//     recoverable kind; ErrProtocolViolation, ErrTimeout and transport failures
//     close the connection, and every caller still waiting on it receives
//     ErrConnectionClosed wrapping the cause.
//
//   - ClientConfig / ServerConfig: timing, dialing and socket options for the
//     connection pool and the mock game server.
//
//   - Logger: a custom dragonboat ILogger with consistent formatting, installed
//     through InitLoggers.
package common
