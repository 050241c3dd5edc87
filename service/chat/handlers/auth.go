package handlers

import (
	"chatgateway/logger"
	"chatgateway/service/chat"
	"chatgateway/tools/decode"
	"chatgateway/tools/errs"
)

// AuthVerifyHandler serves auth-verify frames: initial authentication for
// connections that supplied no handshake credential, and mid-session
// re-verification with a fresh or identical token. A failed re-verify
// reports auth-error but keeps the connection (and its memberships) alive.
type AuthVerifyHandler struct{}

func NewAuthVerifyHandler() chat.Handler { return &AuthVerifyHandler{} }

func (h *AuthVerifyHandler) Event() string { return chat.EvAuthVerify }

func (h *AuthVerifyHandler) Handle(ctx *chat.Context, f *chat.ClientFrame) error {
	payload, err := decode.DecodeMap[chat.AuthPayload](f.Data)
	if err != nil || payload.Token == "" {
		ctx.SendError(chat.EvAuthError, errs.ErrAuthInvalid.WithDetail("no token provided"))
		return nil
	}

	ident, err := ctx.S.Authenticate(ctx.Conn, payload.Token)
	if err != nil {
		logger.Infof("[auth] verify failed conn=%s err=%v", ctx.Conn.ID, err)
		ctx.SendError(chat.EvAuthError, err)
		return nil
	}

	logger.Infof("[auth] verified conn=%s user=%s", ctx.Conn.ID, ident.UserID)
	ctx.Send(chat.ServerFrame{Event: chat.EvAuthSuccess, Data: ident})
	return nil
}
