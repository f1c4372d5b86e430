package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
)

// Commands served by DemoRoutes
const (
	CmdPing     uint32 = 0x0001
	CmdLogin    uint32 = 0x0101
	CmdWhoAmI   uint32 = 0x0102
	CmdEcho     uint32 = 0x0103
	CmdSlowEcho uint32 = 0x0104

	EvtChat          uint32 = 0x0201 // client to server
	EvtChatBroadcast uint32 = 0x0202 // server to every client
)

const maxSlowEchoDelay = 10 * time.Second

var errPlayerNotFound = errors.New("player not found")

// DemoRoutes returns the routes of the mock game server:
//
//	0x0001 ping       {} -> {"pong": true, "time": unix millis}
//	0x0101 login      {"playerId"} -> {"ok": true}, remembered by the session
//	0x0102 whoami     {} -> {"playerId"}, or "player not found" before login
//	0x0103 echo       body -> body
//	0x0104 slow echo  {"delayMs", ...} -> body after delayMs
//	0x0201 chat event {"text"} -> 0x0202 {"from", "text"} to every client
func DemoRoutes() Routes {
	return Routes{
		Requests: map[uint32]RequestHandler{
			CmdPing:     handlePing,
			CmdLogin:    handleLogin,
			CmdWhoAmI:   handleWhoAmI,
			CmdEcho:     handleEcho,
			CmdSlowEcho: handleSlowEcho,
		},
		Events: map[uint32]EventHandler{
			EvtChat: handleChat,
		},
	}
}

func handlePing(_ *Session, _ common.Body) (common.Body, error) {
	return common.Body{"pong": true, "time": time.Now().UnixMilli()}, nil
}

func handleLogin(s *Session, body common.Body) (common.Body, error) {
	id, _ := body["playerId"].(string)
	if id == "" {
		return nil, errors.New("playerId required")
	}
	s.Set("playerId", id)
	return common.Body{"ok": true}, nil
}

func handleWhoAmI(s *Session, _ common.Body) (common.Body, error) {
	id, ok := s.Get("playerId")
	if !ok {
		return nil, errPlayerNotFound
	}
	return common.Body{"playerId": id}, nil
}

func handleEcho(_ *Session, body common.Body) (common.Body, error) {
	return body, nil
}

func handleSlowEcho(_ *Session, body common.Body) (common.Body, error) {
	ms, ok := toInt64(body["delayMs"])
	if !ok || ms < 0 {
		return nil, fmt.Errorf("delayMs must be a non negative number, got %v", body["delayMs"])
	}
	delay := min(time.Duration(ms)*time.Millisecond, maxSlowEchoDelay)
	time.Sleep(delay)
	return body, nil
}

func handleChat(s *Session, body common.Body) {
	from, ok := s.Get("playerId")
	if !ok {
		from = fmt.Sprintf("session-%d", s.ID())
	}
	s.Server().Broadcast(EvtChatBroadcast, common.Body{"from": from, "text": body["text"]})
}

// toInt64 accepts the number types the serializers produce
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
