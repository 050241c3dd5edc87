package handlers

import (
	"chatgateway/service/chat"
)

// RegisterAll wires every client event handler into the server's
// dispatcher. Called once from main() before the HTTP server starts.
func RegisterAll(s *chat.Server) {
	s.Disp().Register(NewAuthVerifyHandler())
	s.Disp().Register(NewJoinConversationHandler())
	s.Disp().Register(NewLeaveConversationHandler())
	s.Disp().Register(NewTypingStartHandler())
	s.Disp().Register(NewTypingStopHandler())
}
