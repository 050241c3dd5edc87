package handlers

import (
	"chatgateway/logger"
	"chatgateway/service/chat"
	"chatgateway/tools/decode"
	"chatgateway/tools/errs"
)

func conversationID(f *chat.ClientFrame) (string, error) {
	payload, err := decode.DecodeMap[chat.ConversationPayload](f.Data)
	if err != nil {
		return "", err
	}
	if payload.ConversationID == "" {
		return "", errs.ErrArgs.WithDetail("missing conversationId")
	}
	return payload.ConversationID, nil
}

// JoinConversationHandler adds the connection to a conversation room. An
// unauthenticated connection gets an explicit auth-error, never a silent
// drop.
type JoinConversationHandler struct{}

func NewJoinConversationHandler() chat.Handler { return &JoinConversationHandler{} }

func (h *JoinConversationHandler) Event() string { return chat.EvJoinConversation }

func (h *JoinConversationHandler) Handle(ctx *chat.Context, f *chat.ClientFrame) error {
	id, err := conversationID(f)
	if err != nil {
		return err
	}
	if ctx.Conn.Identity() == nil {
		ctx.SendError(chat.EvAuthError, errs.ErrAuthInvalid.WithDetail("not authenticated"))
		return nil
	}
	if err := ctx.S.Registry().Join(ctx.Conn.ID, chat.ConversationRoom(id)); err != nil {
		return err
	}
	logger.Infof("[room] conn=%s joined conversation=%s", ctx.Conn.ID, id)
	return nil
}

// LeaveConversationHandler removes the membership; leaving a room the
// connection never joined is a no-op.
type LeaveConversationHandler struct{}

func NewLeaveConversationHandler() chat.Handler { return &LeaveConversationHandler{} }

func (h *LeaveConversationHandler) Event() string { return chat.EvLeaveConversation }

func (h *LeaveConversationHandler) Handle(ctx *chat.Context, f *chat.ClientFrame) error {
	id, err := conversationID(f)
	if err != nil {
		return err
	}
	if ctx.Conn.Identity() == nil {
		ctx.SendError(chat.EvAuthError, errs.ErrAuthInvalid.WithDetail("not authenticated"))
		return nil
	}
	ctx.S.Registry().Leave(ctx.Conn.ID, chat.ConversationRoom(id))
	logger.Infof("[room] conn=%s left conversation=%s", ctx.Conn.ID, id)
	return nil
}
