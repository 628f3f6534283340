package chatws

import (
	"context"
	"errors"
	"fmt"

	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
)

var (
	ErrRoomForbidden = errors.New("not allowed to join room")
	ErrUnknownRoom   = errors.New("unknown room")
)

// Identity is the authenticated owner of a connection.
type Identity struct {
	UserID string
	Role   string
}

type RoomAuthorizer interface {
	CanJoin(ctx context.Context, identity Identity, room string) error
}

type conversationLookup interface {
	GetByIDForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error)
}

type orderLookup interface {
	GetSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error)
}

type restaurantLookup interface {
	RestaurantOwner(ctx context.Context, restaurantID string) (string, error)
}

// Authorizer ties room subscriptions to the identity's role and its
// relationship to the room's resource.
type Authorizer struct {
	conversations conversationLookup
	orders        orderLookup
	restaurants   restaurantLookup
}

func NewAuthorizer(conversations conversationLookup, orders orderLookup, restaurants restaurantLookup) *Authorizer {
	return &Authorizer{conversations: conversations, orders: orders, restaurants: restaurants}
}

func (a *Authorizer) CanJoin(ctx context.Context, identity Identity, room string) error {
	kind, target, ok := models.ParseRoom(room)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, room)
	}
	isAdmin := identity.Role == models.RoleAdmin

	switch kind {
	case models.RoomKindUser:
		return allow(target == identity.UserID, room)
	case models.RoomKindAdmin, models.RoomKindDashboard:
		return allow(isAdmin, room)
	case models.RoomKindConversation:
		conversation, err := a.conversations.GetByIDForParticipant(ctx, target, identity.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return deny(room)
		}
		if err != nil {
			return err
		}
		return allow(conversation.DeletedAt == nil, room)
	case models.RoomKindOrder:
		if isAdmin {
			return nil
		}
		order, err := a.orders.GetSnapshot(ctx, target)
		if errors.Is(err, repository.ErrNotFound) {
			return deny(room)
		}
		if err != nil {
			return err
		}
		return allow(orderParty(order, identity.UserID), room)
	case models.RoomKindRestaurant:
		if isAdmin {
			return nil
		}
		if identity.Role != models.RoleRestaurantOwner {
			return deny(room)
		}
		owner, err := a.restaurants.RestaurantOwner(ctx, target)
		if errors.Is(err, repository.ErrNotFound) {
			return deny(room)
		}
		if err != nil {
			return err
		}
		return allow(owner == identity.UserID, room)
	}
	return deny(room)
}

func orderParty(order *models.OrderSnapshot, userID string) bool {
	if order.UserID == userID {
		return true
	}
	if order.DriverID != nil && *order.DriverID == userID {
		return true
	}
	return order.RestaurantOwnerID != nil && *order.RestaurantOwnerID == userID
}

func allow(ok bool, room string) error {
	if ok {
		return nil
	}
	return deny(room)
}

func deny(room string) error {
	return fmt.Errorf("%w: %s", ErrRoomForbidden, room)
}
