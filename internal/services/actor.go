package services

import "github.com/saeid-a/DeliveryChat/internal/models"

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}
