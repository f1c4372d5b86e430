// Package server implements a mock game server for the dLink protocol.
// It answers requests through a static command table and pushes events to
// connected clients, which makes it useful for testing clients and for load
// tests with the dlink CLI.
//
// The package focuses on:
//   - Routing requests and events by command code (Router)
//   - Per connection state and server push (Session)
//   - Serving, broadcasting and optional etcd registration (Server)
//
// Key Components:
//
//   - NewRouter: Builds the command table from Routes. A RequestHandler error
//     is answered with an Exception, an unknown request command with an
//     Exception "unknown command 0x....". Unknown events are dropped.
//
//   - Session: Created for every accepted connection. Handlers keep state
//     with Set/Get/Delete and push events with Push.
//
//   - NewServer: Creates a server for a transport and router. Requests of one
//     connection are handled sequentially, so replies leave in request order.
//
//   - DemoRoutes: The routes served by `dlink serve`.
//
// Usage Example:
//
//	config := common.ServerConfig{Endpoint: "127.0.0.1:9600", TimeoutSecond: 5}
//	s := server.NewServer(
//	  config,
//	  tcp.NewTCPServerTransport(serializer.NewBinarySerializer()),
//	  server.NewRouter(server.DemoRoutes()),
//	)
//	if err := s.Start(); err != nil {
//	  return err
//	}
//	defer s.Stop()
//
//	s.Broadcast(server.EvtChatBroadcast, common.Body{"from": "admin", "text": "hello"})
package server
