// Package util
//
// This file provides a keyed priority queue used for expiry tracking.
//
// The implementation combines a binary heap with a hash map: the heap keeps the
// entry with the lowest priority (the soonest deadline) at the front while the
// map gives direct access by key. Every entry carries a value, so the queue can
// hold the tracked object itself (e.g. an idle connection) next to its deadline.
//
// Time Complexity:
//   - O(log n) for Push, Pop, Update and RemoveByKey
//   - O(1) for Peek, Contains and GetByKey
//
// Concurrency: not thread-safe, callers must synchronize externally.
//
// Example usage:
//
//	idle := NewMapHeap[*conn]()
//
//	// track a connection until its deadline
//	idle.AddItem(c.ID(), uint64(time.Now().Add(ttl).UnixNano()), c)
//
//	// evict everything that expired
//	now := uint64(time.Now().UnixNano())
//	for e, ok := idle.Peek(); ok && e.Priority <= now; e, ok = idle.Peek() {
//	    idle.PopItem().Value.Close()
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Entry is a single element of a MapHeap
type Entry[V any] struct {
	Key      uint64 // Unique identifier for the entry
	Priority uint64 // Ordering value, lowest first
	Value    V      // Payload tracked by the entry
	index    int    // Index in the heap, maintained by heap package
}

func (e *Entry[V]) String() string {
	return "{Key: " + strconv.FormatUint(e.Key, 10) + ", Priority: " + strconv.FormatUint(e.Priority, 10) + "}"
}

// MapHeap is a min-heap of entries ordered by priority with key-based access
type MapHeap[V any] struct {
	entries []*Entry[V]          // The actual heap slice
	byKey   map[uint64]*Entry[V] // Map for O(1) access by key
}

// NewMapHeap creates a new empty MapHeap
func NewMapHeap[V any]() *MapHeap[V] {
	return &MapHeap[V]{
		entries: make([]*Entry[V], 0),
		byKey:   make(map[uint64]*Entry[V]),
	}
}

// Len returns the number of entries (part of heap.Interface)
func (h *MapHeap[V]) Len() int { return len(h.entries) }

// Less orders entries by priority (part of heap.Interface)
func (h *MapHeap[V]) Less(i, j int) bool {
	return h.entries[i].Priority < h.entries[j].Priority
}

// Swap exchanges entries at positions i and j (part of heap.Interface)
func (h *MapHeap[V]) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

// Push adds an entry to the heap (part of heap.Interface, use AddItem instead)
func (h *MapHeap[V]) Push(x interface{}) {
	e := x.(*Entry[V])
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
	h.byKey[e.Key] = e
}

// Pop removes the last entry of the heap slice (part of heap.Interface, use PopItem instead)
func (h *MapHeap[V]) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // Avoid memory leak
	e.index = -1
	h.entries = old[:n-1]
	delete(h.byKey, e.Key)
	return e
}

// AddItem adds a new entry or updates priority and value of an existing one
func (h *MapHeap[V]) AddItem(key, priority uint64, value V) {
	if e, exists := h.byKey[key]; exists {
		e.Priority = priority
		e.Value = value
		heap.Fix(h, e.index)
		return
	}

	heap.Push(h, &Entry[V]{
		Key:      key,
		Priority: priority,
		Value:    value,
	})
}

// PopItem removes and returns the entry with the lowest priority.
// It returns nil if the heap is empty.
func (h *MapHeap[V]) PopItem() *Entry[V] {
	if len(h.entries) == 0 {
		return nil
	}
	return heap.Pop(h).(*Entry[V])
}

// RemoveByKey removes an entry by its key
func (h *MapHeap[V]) RemoveByKey(key uint64) (*Entry[V], bool) {
	e, exists := h.byKey[key]
	if !exists {
		return nil, false
	}
	heap.Remove(h, e.index)
	return e, true
}

// Peek returns the entry with the lowest priority without removing it
func (h *MapHeap[V]) Peek() (*Entry[V], bool) {
	if len(h.entries) == 0 {
		return nil, false
	}
	return h.entries[0], true
}

// Contains checks if a key exists in the heap
func (h *MapHeap[V]) Contains(key uint64) bool {
	_, exists := h.byKey[key]
	return exists
}

// GetByKey retrieves an entry by its key without removing it
func (h *MapHeap[V]) GetByKey(key uint64) (*Entry[V], bool) {
	e, exists := h.byKey[key]
	return e, exists
}

// Drain removes all entries and returns them in heap order
func (h *MapHeap[V]) Drain() []*Entry[V] {
	out := make([]*Entry[V], 0, len(h.entries))
	for len(h.entries) > 0 {
		out = append(out, heap.Pop(h).(*Entry[V]))
	}
	return out
}
