package chat

import (
	"encoding/json"
	"net/http"

	"chatgateway/tools/errs"

	"github.com/gin-gonic/gin"
)

// Internal publish surface. The out-of-scope HTTP application calls these
// after it has authorized and durably persisted the write; the gateway only
// fans out. Routes sit behind the bearer-auth middleware.

type publishMessageReq struct {
	SenderID string          `json:"senderId" binding:"required"`
	Message  json.RawMessage `json:"message" binding:"required"`
}

type conversationUpdatedPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

// HandlePublishMessage fans a freshly persisted message out to the
// conversation room: message-received (excluding every connection of the
// sender, who already has the message from its own request/response) and
// then conversation-updated to the same room.
func (s *Server) HandlePublishMessage(c *gin.Context) {
	conversationID := c.Param("id")
	var req publishMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}

	room := ConversationRoom(conversationID)
	reached := s.engine.Publish(Event{
		Room:        room,
		Name:        EvMessageReceived,
		Payload:     req.Message,
		ExcludeUser: req.SenderID,
	})
	s.engine.Publish(Event{
		Room: room,
		Name: EvConversationUpdated,
		Payload: conversationUpdatedPayload{
			ConversationID: conversationID,
			Message:        req.Message,
		},
	})

	c.JSON(http.StatusOK, gin.H{"reached": reached})
}

type publishEventReq struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

var userEventAllowlist = map[string]struct{}{
	EvConversationCreated: {},
	EvMemberAdded:         {},
	EvMemberRemoved:       {},
}

// HandlePublishUserEvent delivers a group-management event to every live
// connection of one user (their identity-scoped room).
func (s *Server) HandlePublishUserEvent(c *gin.Context) {
	userID := c.Param("id")
	var req publishEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	if _, ok := userEventAllowlist[req.Event]; !ok {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("event not allowed: "+req.Event))
		return
	}

	reached := s.engine.Publish(Event{
		Room:    UserRoom(userID),
		Name:    req.Event,
		Payload: req.Data,
	})
	c.JSON(http.StatusOK, gin.H{"reached": reached})
}

var conversationEventAllowlist = map[string]struct{}{
	EvNameUpdated: {},
}

// HandlePublishConversationEvent delivers a conversation-scoped management
// event (currently only name-updated) to the conversation room.
func (s *Server) HandlePublishConversationEvent(c *gin.Context) {
	conversationID := c.Param("id")
	var req publishEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	if _, ok := conversationEventAllowlist[req.Event]; !ok {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("event not allowed: "+req.Event))
		return
	}

	reached := s.engine.Publish(Event{
		Room:    ConversationRoom(conversationID),
		Name:    req.Event,
		Payload: req.Data,
	})
	c.JSON(http.StatusOK, gin.H{"reached": reached})
}
