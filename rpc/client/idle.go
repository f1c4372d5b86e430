package client

import (
	"math"
	"time"

	"github.com/ValentinKolb/dLink/lib/util"
)

// idleSet holds the idle connections of a pool, indexed twice by connection id:
// once by expiry for the reaper and once by recency for checkout.
// Not safe for concurrent use.
type idleSet struct {
	byExpiry  *util.MapHeap[*Connection] // soonest expiry first
	byRecency *util.MapHeap[*Connection] // most recently returned first
}

func newIdleSet() *idleSet {
	return &idleSet{
		byExpiry:  util.NewMapHeap[*Connection](),
		byRecency: util.NewMapHeap[*Connection](),
	}
}

// put adds conn, it expires at expiresAt
func (s *idleSet) put(conn *Connection, expiresAt time.Time) {
	at := uint64(expiresAt.UnixNano())
	s.byExpiry.AddItem(conn.ID(), at, conn)
	s.byRecency.AddItem(conn.ID(), math.MaxUint64-at, conn)
}

// takeNewest removes and returns the most recently returned connection, or nil.
// Older connections are left to expire when demand drops.
func (s *idleSet) takeNewest() *Connection {
	e := s.byRecency.PopItem()
	if e == nil {
		return nil
	}
	s.byExpiry.RemoveByKey(e.Key)
	return e.Value
}

// popExpired removes and returns every connection whose expiry is not after now
func (s *idleSet) popExpired(now time.Time) []*Connection {
	limit := uint64(now.UnixNano())
	var out []*Connection
	for {
		e, ok := s.byExpiry.Peek()
		if !ok || e.Priority > limit {
			return out
		}
		s.byExpiry.PopItem()
		s.byRecency.RemoveByKey(e.Key)
		out = append(out, e.Value)
	}
}

// drain removes and returns every connection
func (s *idleSet) drain() []*Connection {
	entries := s.byExpiry.Drain()
	s.byRecency.Drain()
	out := make([]*Connection, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out
}

func (s *idleSet) contains(id uint64) bool {
	return s.byExpiry.Contains(id)
}

func (s *idleSet) len() int {
	return s.byExpiry.Len()
}
