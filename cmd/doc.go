// Package cmd implements the command-line interface of dLink. It provides
// commands for running the mock game server and for talking to a game server
// as a client.
//
// The package is organized into several subpackages:
//
//   - call: Client commands (ask, notify, listen, perf)
//   - serve: Starts the mock game server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dlink -help for a list of all commands.
package cmd
