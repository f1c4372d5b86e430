package client

import (
	"sync"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// callResult is the outcome of one request
type callResult struct {
	body common.Body
	err  error
}

// pendingCall is one request waiting for its reply. It resolves exactly once.
type pendingCall struct {
	command uint32
	done    chan callResult
	once    sync.Once
}

func newPendingCall(command uint32) *pendingCall {
	return &pendingCall{
		command: command,
		done:    make(chan callResult, 1),
	}
}

func (p *pendingCall) succeed(body common.Body) {
	p.resolve(callResult{body: body})
}

func (p *pendingCall) fail(err error) {
	p.resolve(callResult{err: err})
}

func (p *pendingCall) resolve(r callResult) {
	p.once.Do(func() {
		p.done <- r
	})
}

// pendingQueue holds outstanding calls in the order their requests were written.
// Not safe for concurrent use.
type pendingQueue struct {
	calls []*pendingCall
}

func (q *pendingQueue) push(c *pendingCall) {
	q.calls = append(q.calls, c)
}

func (q *pendingQueue) peek() *pendingCall {
	if len(q.calls) == 0 {
		return nil
	}
	return q.calls[0]
}

func (q *pendingQueue) pop() *pendingCall {
	if len(q.calls) == 0 {
		return nil
	}
	c := q.calls[0]
	q.calls[0] = nil
	q.calls = q.calls[1:]
	return c
}

// drain removes and returns every call, oldest first
func (q *pendingQueue) drain() []*pendingCall {
	calls := q.calls
	q.calls = nil
	return calls
}

func (q *pendingQueue) len() int {
	return len(q.calls)
}
