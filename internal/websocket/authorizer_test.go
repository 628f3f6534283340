package chatws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
)

type stubLookups struct {
	members map[string][]string
	deleted map[string]bool
	orders  map[string]*models.OrderSnapshot
	owners  map[string]string
	err     error
}

func (s stubLookups) GetByIDForParticipant(_ context.Context, id, userID string) (*models.Conversation, error) {
	if s.err != nil {
		return nil, s.err
	}
	conv := &models.Conversation{ID: id, Participants: s.members[id]}
	if !conv.HasParticipant(userID) {
		return nil, repository.ErrNotFound
	}
	if s.deleted[id] {
		at := time.Now()
		conv.DeletedAt = &at
	}
	return conv, nil
}

func (s stubLookups) GetSnapshot(_ context.Context, orderID string) (*models.OrderSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	order, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return order, nil
}

func (s stubLookups) RestaurantOwner(_ context.Context, restaurantID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	owner, ok := s.owners[restaurantID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return owner, nil
}

func TestAuthorizerCanJoin(t *testing.T) {
	driver := "d1"
	lookups := stubLookups{
		members: map[string][]string{"c1": {"u1", "u2"}, "c2": {"u1", "u2"}},
		deleted: map[string]bool{"c2": true},
		orders:  map[string]*models.OrderSnapshot{"o1": {ID: "o1", UserID: "u1", DriverID: &driver}},
		owners:  map[string]string{"r1": "owner1"},
	}
	auth := NewAuthorizer(lookups, lookups, lookups)

	customer := Identity{UserID: "u1", Role: models.RoleCustomer}
	stranger := Identity{UserID: "u9", Role: models.RoleCustomer}
	driverID := Identity{UserID: "d1", Role: models.RoleDriver}
	owner := Identity{UserID: "owner1", Role: models.RoleRestaurantOwner}
	ops := Identity{UserID: "a1", Role: models.RoleAdmin}

	tests := []struct {
		name     string
		identity Identity
		room     string
		want     error
	}{
		{"own user room", customer, models.UserRoom("u1"), nil},
		{"other user room", customer, models.UserRoom("u2"), ErrRoomForbidden},
		{"admin room for admins", ops, models.AdminRoom, nil},
		{"admin room for customers", customer, models.AdminRoom, ErrRoomForbidden},
		{"dashboard for admins", ops, models.DashboardRoom("orders"), nil},
		{"dashboard for drivers", driverID, models.DashboardRoom("orders"), ErrRoomForbidden},
		{"conversation participant", customer, models.ConversationRoom("c1"), nil},
		{"conversation outsider", stranger, models.ConversationRoom("c1"), ErrRoomForbidden},
		{"deleted conversation", customer, models.ConversationRoom("c2"), ErrRoomForbidden},
		{"order customer", customer, models.OrderRoom("o1"), nil},
		{"order driver", driverID, models.OrderRoom("o1"), nil},
		{"order outsider", stranger, models.OrderRoom("o1"), ErrRoomForbidden},
		{"unknown order", customer, models.OrderRoom("o9"), ErrRoomForbidden},
		{"order for admins", ops, models.OrderRoom("o9"), nil},
		{"restaurant owner", owner, models.RestaurantRoom("r1"), nil},
		{"restaurant other owner", Identity{UserID: "owner2", Role: models.RoleRestaurantOwner}, models.RestaurantRoom("r1"), ErrRoomForbidden},
		{"restaurant customer", customer, models.RestaurantRoom("r1"), ErrRoomForbidden},
		{"unknown layout", customer, "lobby", ErrUnknownRoom},
		{"empty target", customer, "order:", ErrUnknownRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.CanJoin(context.Background(), tt.identity, tt.room)
			if tt.want == nil && err != nil {
				t.Fatalf("expected join allowed, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthorizerSurfacesLookupErrors(t *testing.T) {
	boom := errors.New("db down")
	auth := NewAuthorizer(stubLookups{err: boom}, stubLookups{err: boom}, stubLookups{err: boom})
	customer := Identity{UserID: "u1", Role: models.RoleCustomer}

	for _, room := range []string{models.ConversationRoom("c1"), models.OrderRoom("o1")} {
		if err := auth.CanJoin(context.Background(), customer, room); !errors.Is(err, boom) {
			t.Fatalf("expected lookup error for %s, got %v", room, err)
		}
	}
}
