package chat

import (
	"encoding/json"
	"errors"

	"chatgateway/tools/errs"
)

// Client-to-server event names. These are the compatibility contract with
// deployed clients; renaming one is a breaking change.
const (
	EvAuthVerify        = "auth-verify"
	EvJoinConversation  = "join-conversation"
	EvLeaveConversation = "leave-conversation"
	EvTypingStart       = "typing-start"
	EvTypingStop        = "typing-stop"
)

// Server-to-client event names.
const (
	EvAuthSuccess         = "auth-success"
	EvAuthError           = "auth-error"
	EvError               = "error"
	EvMessageReceived     = "message-received"
	EvConversationUpdated = "conversation-updated"
	EvUserTyping          = "user-typing"
	EvUserStoppedTyping   = "user-stopped-typing"
	EvConversationCreated = "conversation-created"
	EvMemberAdded         = "member-added"
	EvMemberRemoved       = "member-removed"
	EvNameUpdated         = "name-updated"
)

// ClientFrame is the inbound envelope: {"event": "...", "data": {...}}.
type ClientFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// ServerFrame is the outbound envelope.
type ServerFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	f := &ClientFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrArgs.WithDetail("unmarshal frame: " + err.Error())
	}
	if f.Event == "" {
		return nil, errs.ErrArgs.WithDetail("frame missing event")
	}
	return f, nil
}

// AuthPayload is the data of an auth-verify frame.
type AuthPayload struct {
	Token string `json:"token"`
}

// ConversationPayload is the data of join/leave/typing frames.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is what auth-error / error frames carry.
type ErrorPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// TypingPayload is broadcast with user-typing events.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
}

func errorFrame(event string, err error) ServerFrame {
	var ce *errs.CodeError
	if !errors.As(err, &ce) {
		ce = errs.ErrInternal
	}
	return ServerFrame{Event: event, Data: ErrorPayload{Code: ce.Code, Reason: ce.Msg}}
}
