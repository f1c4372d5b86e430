// Package client implements the client side of the game server protocol.
// Requests carry no id: replies of one connection are correlated with the
// requests in the order they were sent.
//
// The package focuses on:
//   - Correlating replies with requests on one ordered stream (Connection)
//   - Pooling synchronous connections and closing them once idle (Pool)
//   - Delivering inbound events to listeners, in order per command
//
// Key Components:
//
//   - Connection: One stream to the server. Ask enqueues a pending call and
//     writes the request under the same lock, the oldest pending call owns the
//     next reply. A reply that does not match, a timeout or a transport failure
//     closes the connection and fails every pending call with
//     common.ErrConnectionClosed. An Exception reply only fails its own call
//     with a *common.RemoteError.
//
//   - Pool: The facade used by applications. Ask checks out an idle connection
//     (or dials a new one), waits for the reply and returns the connection.
//     A reaper closes connections that stayed idle for IdleTTL. Notify always
//     uses one dedicated event connection, which also receives the events
//     handed to the listeners.
//
// Usage Example:
//
//	pool, err := client.Dial("127.0.0.1", 9600, client.ListenerTable{
//	  0x0202: func(body common.Body) error {
//	    fmt.Println("chat:", body["text"])
//	    return nil
//	  },
//	})
//	if err != nil {
//	  return err
//	}
//	defer pool.Close()
//
//	resp, err := pool.Ask(ctx, 0x0101, common.Body{"playerId": "p1"}, 0)
//	var remote *common.RemoteError
//	if errors.As(err, &remote) {
//	  // rejected by the server, nothing else happened
//	}
//
//	_ = pool.Notify(0x0201, common.Body{"text": "hello"})
//
// Thread Safety:
//
//	Connection and Pool are safe for concurrent use. Listeners of one command
//	never run concurrently, listeners of different commands may.
package client
