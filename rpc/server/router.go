package server

import (
	"fmt"
	"runtime/debug"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// RequestHandler answers a request. A returned error is sent to the client as
// an Exception carrying the error text.
type RequestHandler func(s *Session, body common.Body) (common.Body, error)

// EventHandler handles a one-way event from a client
type EventHandler func(s *Session, body common.Body)

// Routes lists the handlers of a Router
type Routes struct {
	Requests map[uint32]RequestHandler
	Events   map[uint32]EventHandler
}

// Router is a static command table. It is built once and never modified.
type Router struct {
	requests map[uint32]RequestHandler
	events   map[uint32]EventHandler
}

// NewRouter creates a router from routes, nil handlers are ignored
func NewRouter(routes Routes) *Router {
	r := &Router{
		requests: make(map[uint32]RequestHandler, len(routes.Requests)),
		events:   make(map[uint32]EventHandler, len(routes.Events)),
	}
	for command, h := range routes.Requests {
		if h != nil {
			r.requests[command] = h
		}
	}
	for command, h := range routes.Events {
		if h != nil {
			r.events[command] = h
		}
	}
	return r
}

// handleRequest runs the request handler of msg.Command and returns the reply
func (r *Router) handleRequest(s *Session, msg common.Message) (reply common.Message) {
	h, ok := r.requests[msg.Command]
	if !ok {
		return common.NewException(msg.Command, fmt.Sprintf("unknown command 0x%04x", msg.Command))
	}

	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("Handler for 0x%04x panicked: %v\n%s", msg.Command, p, debug.Stack())
			reply = common.NewException(msg.Command, "internal server error")
		}
	}()

	body, err := h(s, msg.Body)
	if err != nil {
		return common.NewException(msg.Command, err.Error())
	}
	return common.NewResponse(msg.Command, body)
}

// handleEvent runs the event handler of msg.Command, unknown events are dropped
func (r *Router) handleEvent(s *Session, msg common.Message) bool {
	h, ok := r.events[msg.Command]
	if !ok {
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("Event handler for 0x%04x panicked: %v", msg.Command, p)
		}
	}()

	h(s, msg.Body)
	return true
}
