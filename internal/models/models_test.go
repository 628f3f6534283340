package models

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseRoom(t *testing.T) {
	tests := []struct {
		room   string
		kind   RoomKind
		target string
		ok     bool
	}{
		{UserRoom("u1"), RoomKindUser, "u1", true},
		{ConversationRoom("c1"), RoomKindConversation, "c1", true},
		{OrderRoom("o1"), RoomKindOrder, "o1", true},
		{RestaurantRoom("r1"), RoomKindRestaurant, "r1", true},
		{DashboardRoom("ops"), RoomKindDashboard, "ops", true},
		{AdminRoom, RoomKindAdmin, "", true},
		{"user:", "", "", false},
		{"lobby", "", "", false},
	}
	for _, tt := range tests {
		kind, target, ok := ParseRoom(tt.room)
		if kind != tt.kind || target != tt.target || ok != tt.ok {
			t.Fatalf("ParseRoom(%q) = %q, %q, %v", tt.room, kind, target, ok)
		}
	}
}

func TestDirectKeyIgnoresOrder(t *testing.T) {
	if DirectKey("b", "a") != DirectKey("a", "b") {
		t.Fatal("expected unordered key")
	}
	if DirectKey("a", "b") != "a:b" {
		t.Fatalf("unexpected key %q", DirectKey("a", "b"))
	}
}

func TestIsActiveAt(t *testing.T) {
	past := t0.Add(-time.Minute)
	future := t0.Add(time.Hour)

	tests := []struct {
		name string
		conv Conversation
		want bool
	}{
		{"plain", Conversation{Type: ConversationDirect}, true},
		{"archived", Conversation{Type: ConversationDirect, ArchivedAt: &past}, false},
		{"deleted", Conversation{Type: ConversationGroup, DeletedAt: &past}, false},
		{"expired", Conversation{Type: ConversationSupport, ExpiresAt: &past}, false},
		{"expires exactly now", Conversation{Type: ConversationSupport, ExpiresAt: &t0}, false},
		{"active order", Conversation{Type: ConversationOrder, ExpiresAt: &future, Metadata: ConversationMetadata{Order: &OrderMetadata{Status: OrderChatActive}}}, true},
		{"completed order", Conversation{Type: ConversationOrder, ExpiresAt: &future, Metadata: ConversationMetadata{Order: &OrderMetadata{Status: OrderChatCompleted}}}, false},
		{"order without metadata", Conversation{Type: ConversationOrder}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conv.IsActiveAt(t0); got != tt.want {
				t.Fatalf("IsActiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMutedAt(t *testing.T) {
	later := t0.Add(time.Hour)
	earlier := t0.Add(-time.Hour)

	if (NotificationSettings{}).MutedAt(t0) {
		t.Fatal("unmuted settings reported muted")
	}
	if !(NotificationSettings{Mute: true}).MutedAt(t0) {
		t.Fatal("open-ended mute not honoured")
	}
	if !(NotificationSettings{Mute: true, MuteUntil: &later}).MutedAt(t0) {
		t.Fatal("mute window not honoured")
	}
	if (NotificationSettings{Mute: true, MuteUntil: &earlier}).MutedAt(t0) {
		t.Fatal("elapsed mute still active")
	}
}

func textMessage(sender, text string) *Message {
	return &Message{
		ID:       "m1",
		SenderID: &sender,
		Type:     MessageText,
		Content:  TextContent{Text: text},
	}
}

func TestReceiptsAreWrittenOnce(t *testing.T) {
	m := textMessage("u1", "hi")

	if !m.MarkRead("u2", t0) || m.MarkRead("u2", t0.Add(time.Second)) {
		t.Fatal("expected only the first read to be recorded")
	}
	if !m.MarkDelivered("u2", t0) || m.MarkDelivered("u2", t0) {
		t.Fatal("expected only the first delivery to be recorded")
	}
	if len(m.Delivery.ReadBy) != 1 || !m.Delivery.ReadBy[0].At.Equal(t0) {
		t.Fatalf("unexpected read receipts: %+v", m.Delivery.ReadBy)
	}
	if m.IsUnreadFor("u2") || m.IsUnreadFor("u1") || !m.IsUnreadFor("u3") {
		t.Fatal("unexpected unread state")
	}
}

func TestReactReplacesAndUnreactRemoves(t *testing.T) {
	m := textMessage("u1", "hi")
	m.React("u2", "👍", t0)
	m.React("u3", "🔥", t0)
	m.React("u2", "🎉", t0.Add(time.Second))

	if len(m.Reactions) != 2 {
		t.Fatalf("expected one reaction per user, got %+v", m.Reactions)
	}
	if last := m.Reactions[1]; last.User != "u2" || last.Emoji != "🎉" {
		t.Fatalf("expected latest u2 reaction last, got %+v", last)
	}
	if !m.Unreact("u2") || m.Unreact("u2") {
		t.Fatal("expected a single removal")
	}
	if len(m.Reactions) != 1 || m.Reactions[0].User != "u3" {
		t.Fatalf("unexpected reactions: %+v", m.Reactions)
	}
}

func TestApplyEditCapsHistory(t *testing.T) {
	m := textMessage("u1", "v0")
	for i := 1; i <= MaxEditHistory+2; i++ {
		m.ApplyEdit(TextContent{Text: fmt.Sprintf("v%d", i)}, t0.Add(time.Duration(i)*time.Second))
	}

	if m.Edited.EditCount != MaxEditHistory+2 || !m.Edited.IsEdited {
		t.Fatalf("unexpected edit info: %+v", m.Edited)
	}
	if len(m.Edited.History) != MaxEditHistory {
		t.Fatalf("expected %d history entries, got %d", MaxEditHistory, len(m.Edited.History))
	}
	if oldest := m.Edited.History[0].Content.(TextContent); oldest.Text != "v2" {
		t.Fatalf("expected oldest kept entry v2, got %q", oldest.Text)
	}
	if m.Edited.LastEditedAt == nil || !m.Edited.LastEditedAt.Equal(t0.Add(12*time.Second)) {
		t.Fatalf("unexpected last edit time %v", m.Edited.LastEditedAt)
	}
}

func TestDecodeContent(t *testing.T) {
	content, err := DecodeContent(MessageLocation, json.RawMessage(`{"lat":1.5,"lng":2.5}`))
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if loc, ok := content.(LocationContent); !ok || loc.Lat != 1.5 || loc.Lng != 2.5 {
		t.Fatalf("unexpected content %#v", content)
	}
	if !ContentMatches(MessageLocation, content) || ContentMatches(MessageText, content) {
		t.Fatal("ContentMatches disagrees with DecodeContent")
	}
	if _, err := DecodeContent("poll", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected unknown type to fail")
	}
	if _, err := DecodeContent(MessageText, json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}

func TestMessageJSONKeepsTypedContent(t *testing.T) {
	m := textMessage("u1", "v1")
	m.ApplyEdit(TextContent{Text: "v2"}, t0)

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if text, ok := decoded.Content.(TextContent); !ok || text.Text != "v2" {
		t.Fatalf("unexpected content %#v", decoded.Content)
	}
	if prior, ok := decoded.Edited.History[0].Content.(TextContent); !ok || prior.Text != "v1" {
		t.Fatalf("unexpected history %#v", decoded.Edited.History)
	}
}

func TestGroupHelpers(t *testing.T) {
	c := Conversation{
		Type:         ConversationGroup,
		Participants: []string{"u1", "u2", "u3"},
		Metadata:     ConversationMetadata{Group: &GroupMetadata{Admins: []string{"u1"}}},
	}
	if !c.IsGroupAdmin("u1") || c.IsGroupAdmin("u2") {
		t.Fatal("unexpected admin check")
	}
	others := c.OtherParticipants("u2")
	if len(others) != 2 || others[0] != "u1" || others[1] != "u3" {
		t.Fatalf("unexpected others %v", others)
	}
	c.Type = ConversationDirect
	if c.IsGroupAdmin("u1") {
		t.Fatal("only groups have admins")
	}
}
