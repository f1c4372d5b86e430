// Package call implements the client commands of the dlink CLI: ask, notify,
// listen and perf. Every command opens its own pool from the shared client
// flags (see util.SetupClientFlags) and closes it when done.
package call
