package chat

import (
	"strings"

	"chatgateway/tools/errs"
)

// RoomKind tags the two broadcast namespaces. Keeping the kind in the type
// makes the user-room ownership check a switch on Kind instead of a string
// prefix comparison.
type RoomKind uint8

const (
	// RoomConversation is membership-scoped: any authenticated participant
	// of the conversation may join.
	RoomConversation RoomKind = iota + 1
	// RoomUser is identity-scoped: only the matching user's own
	// connections may join. Used for out-of-band per-user events.
	RoomUser
)

func (k RoomKind) String() string {
	switch k {
	case RoomConversation:
		return "conversation"
	case RoomUser:
		return "user"
	default:
		return "unknown"
	}
}

// Room names a broadcast group.
type Room struct {
	Kind RoomKind
	ID   string
}

func ConversationRoom(conversationID string) Room {
	return Room{Kind: RoomConversation, ID: conversationID}
}

func UserRoom(userID string) Room {
	return Room{Kind: RoomUser, ID: userID}
}

// String renders the wire/key form, e.g. "conversation:42" or "user:alice".
func (r Room) String() string {
	return r.Kind.String() + ":" + r.ID
}

func (r Room) IsZero() bool { return r.Kind == 0 }

// ParseRoom parses the wire form back into a typed Room.
func ParseRoom(s string) (Room, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Room{}, errs.ErrArgs.WithDetail("bad room key: " + s)
	}
	switch kind {
	case "conversation":
		return ConversationRoom(id), nil
	case "user":
		return UserRoom(id), nil
	default:
		return Room{}, errs.ErrArgs.WithDetail("unknown room kind: " + kind)
	}
}
