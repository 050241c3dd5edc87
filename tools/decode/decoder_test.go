package decode

import (
	"testing"
)

type samplePayload struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit"`
}

func TestDecodeMap(t *testing.T) {
	got, err := DecodeMap[samplePayload](map[string]any{
		"token":          "abc",
		"conversationId": "42",
		"limit":          float64(10), // json numbers arrive as float64
	})
	if err != nil {
		t.Fatalf("DecodeMap: %v", err)
	}
	if got.Token != "abc" || got.ConversationID != "42" || got.Limit != 10 {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestDecodeMapWeakTyping(t *testing.T) {
	got, err := DecodeMap[samplePayload](map[string]any{"limit": "7"})
	if err != nil {
		t.Fatalf("DecodeMap: %v", err)
	}
	if got.Limit != 7 {
		t.Errorf("weak typing: got %d", got.Limit)
	}
}

func TestDecodeMapNil(t *testing.T) {
	if _, err := DecodeMap[samplePayload](nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
}
