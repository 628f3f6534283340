package repository

import (
	"context"

	"github.com/saeid-a/DeliveryChat/internal/models"
)

// OrderRepository exposes the order snapshot used for chat creation and room
// authorization. Orders themselves are managed elsewhere.
type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error) {
	query := `
		SELECT o.id, o.user_id, o.driver_id, o.restaurant_id, rs.owner_id
		FROM orders o
		LEFT JOIN restaurants rs ON rs.id = o.restaurant_id
		WHERE o.id = $1
	`
	var order models.OrderSnapshot
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.UserID,
		&order.DriverID,
		&order.RestaurantID,
		&order.RestaurantOwnerID,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *OrderRepository) RestaurantOwner(ctx context.Context, restaurantID string) (string, error) {
	var ownerID string
	err := r.db.QueryRow(ctx, `SELECT owner_id FROM restaurants WHERE id = $1`, restaurantID).Scan(&ownerID)
	if err != nil {
		return "", notFound(err)
	}
	return ownerID, nil
}
