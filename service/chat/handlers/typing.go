package handlers

import (
	"chatgateway/service/chat"
	"chatgateway/tools/errs"
)

// TypingStartHandler feeds typing-start signals into the tracker, which
// debounces repeats and broadcasts user-typing to everyone else in the
// conversation.
type TypingStartHandler struct{}

func NewTypingStartHandler() chat.Handler { return &TypingStartHandler{} }

func (h *TypingStartHandler) Event() string { return chat.EvTypingStart }

func (h *TypingStartHandler) Handle(ctx *chat.Context, f *chat.ClientFrame) error {
	id, err := conversationID(f)
	if err != nil {
		return err
	}
	ident := ctx.Conn.Identity()
	if ident == nil {
		ctx.SendError(chat.EvAuthError, errs.ErrAuthInvalid.WithDetail("not authenticated"))
		return nil
	}
	ctx.S.Typing().Start(id, ident, ctx.Conn.ID)
	return nil
}

// TypingStopHandler handles the explicit stop; stopping while idle is a
// no-op.
type TypingStopHandler struct{}

func NewTypingStopHandler() chat.Handler { return &TypingStopHandler{} }

func (h *TypingStopHandler) Event() string { return chat.EvTypingStop }

func (h *TypingStopHandler) Handle(ctx *chat.Context, f *chat.ClientFrame) error {
	id, err := conversationID(f)
	if err != nil {
		return err
	}
	ident := ctx.Conn.Identity()
	if ident == nil {
		ctx.SendError(chat.EvAuthError, errs.ErrAuthInvalid.WithDetail("not authenticated"))
		return nil
	}
	ctx.S.Typing().Stop(id, ident.UserID, ctx.Conn.ID)
	return nil
}
