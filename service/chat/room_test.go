package chat

import "testing"

func TestRoomString(t *testing.T) {
	if got := ConversationRoom("42").String(); got != "conversation:42" {
		t.Errorf("conversation room: %q", got)
	}
	if got := UserRoom("alice").String(); got != "user:alice" {
		t.Errorf("user room: %q", got)
	}
}

func TestParseRoom(t *testing.T) {
	cases := []struct {
		in   string
		want Room
		ok   bool
	}{
		{"conversation:42", ConversationRoom("42"), true},
		{"user:alice", UserRoom("alice"), true},
		{"conversation:a:b", ConversationRoom("a:b"), true},
		{"conversation:", Room{}, false},
		{"nope:42", Room{}, false},
		{"justastring", Room{}, false},
		{"", Room{}, false},
	}
	for _, tc := range cases {
		got, err := ParseRoom(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseRoom(%q) err=%v want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseRoom(%q) = %+v want %+v", tc.in, got, tc.want)
		}
	}
}
