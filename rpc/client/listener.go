package client

import (
	"sort"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// Listener handles the body of one inbound event.
// A returned error is logged and does not affect the connection.
type Listener func(body common.Body) error

// ListenerTable maps event command codes to listeners.
// A connection copies the table on construction and never modifies it.
type ListenerTable map[uint32]Listener

// clone returns a private copy of the table
func (t ListenerTable) clone() ListenerTable {
	out := make(ListenerTable, len(t))
	for command, l := range t {
		if l != nil {
			out[command] = l
		}
	}
	return out
}

// Commands returns the registered command codes in ascending order
func (t ListenerTable) Commands() []uint32 {
	out := make([]uint32, 0, len(t))
	for command := range t {
		out = append(out, command)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
