package models

import "strings"

const (
	roomUser         = "user:"
	roomConversation = "conversation:"
	roomOrder        = "order:"
	roomRestaurant   = "restaurant:"
	roomDashboard    = "dashboard:"

	AdminRoom = "admins"
)

func UserRoom(userID string) string                 { return roomUser + userID }
func ConversationRoom(conversationID string) string { return roomConversation + conversationID }
func OrderRoom(orderID string) string               { return roomOrder + orderID }
func RestaurantRoom(restaurantID string) string     { return roomRestaurant + restaurantID }
func DashboardRoom(name string) string              { return roomDashboard + name }

type RoomKind string

const (
	RoomKindUser         RoomKind = "user"
	RoomKindConversation RoomKind = "conversation"
	RoomKindOrder        RoomKind = "order"
	RoomKindRestaurant   RoomKind = "restaurant"
	RoomKindAdmin        RoomKind = "admin"
	RoomKindDashboard    RoomKind = "dashboard"
)

// ParseRoom splits a room name into its kind and target id. ok is false for
// names that do not follow one of the known layouts.
func ParseRoom(room string) (kind RoomKind, target string, ok bool) {
	if room == AdminRoom {
		return RoomKindAdmin, "", true
	}
	prefixes := []struct {
		prefix string
		kind   RoomKind
	}{
		{roomUser, RoomKindUser},
		{roomConversation, RoomKindConversation},
		{roomOrder, RoomKindOrder},
		{roomRestaurant, RoomKindRestaurant},
		{roomDashboard, RoomKindDashboard},
	}
	for _, p := range prefixes {
		if rest, found := strings.CutPrefix(room, p.prefix); found && rest != "" {
			return p.kind, rest, true
		}
	}
	return "", "", false
}
