package models

const (
	RoleCustomer        = "user"
	RoleDriver          = "driver"
	RoleRestaurantOwner = "restaurant_owner"
	RoleAdmin           = "admin"
)

type User struct {
	ID             string `json:"id"`
	Role           string `json:"role"`
	IsSupportAgent bool   `json:"is_support_agent"`
}

// OrderSnapshot is the slice of an order this core consumes.
type OrderSnapshot struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	DriverID          *string `json:"driver_id,omitempty"`
	RestaurantID      *string `json:"restaurant_id,omitempty"`
	RestaurantOwnerID *string `json:"restaurant_owner_id,omitempty"`
}
