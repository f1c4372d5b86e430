package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Body is the opaque payload of a message. The RPC layer never inspects it.
type Body map[string]any

// Message is a single frame exchanged with the game server.
// Kind selects which fields are meaningful:
//   - Request, Response, Event: Command and Body
//   - Exception: Command and Err
type Message struct {
	Kind    MessageKind `json:"kind"`
	Command uint32      `json:"cmd"`
	Body    Body        `json:"body,omitempty"`
	Err     string      `json:"err,omitempty"`
}

func (m Message) String() string {
	if m.Kind == KindException {
		return fmt.Sprintf("%s(0x%04x, %q)", m.Kind, m.Command, m.Err)
	}
	return fmt.Sprintf("%s(0x%04x, %v)", m.Kind, m.Command, m.Body)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request for the given command
func NewRequest(command uint32, body Body) Message {
	return Message{Kind: KindRequest, Command: command, Body: body}
}

// NewResponse creates a new successful response for the given command
func NewResponse(command uint32, body Body) Message {
	return Message{Kind: KindResponse, Command: command, Body: body}
}

// NewEvent creates a new one-way event
func NewEvent(command uint32, body Body) Message {
	return Message{Kind: KindEvent, Command: command, Body: body}
}

// NewException creates a new exception reply carrying the server's error info
func NewException(command uint32, info string) Message {
	return Message{Kind: KindException, Command: command, Err: info}
}

// --------------------------------------------------------------------------
// Message Kind
// --------------------------------------------------------------------------

// MessageKind is the tag of the Message union
type MessageKind uint8

const (
	KindUnknown   MessageKind = iota
	KindRequest               // client -> server, expects exactly one Response or Exception
	KindResponse              // server -> client, successful reply
	KindEvent                 // either direction, one-way
	KindException             // server -> client, failed reply
)

// IsReply reports whether the kind answers a request
func (k MessageKind) IsReply() bool {
	return k == KindResponse || k == KindException
}

// String returns the string representation of the kind
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindException:
		return "exception"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind as a string
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes the kind from its string form
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "request":
		*k = KindRequest
	case "response":
		*k = KindResponse
	case "event":
		*k = KindEvent
	case "exception":
		*k = KindException
	case "unknown":
		*k = KindUnknown
	default:
		return fmt.Errorf("unknown message kind: %s", s)
	}
	return nil
}
