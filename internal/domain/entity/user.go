package entity

import "time"

// User is an already-authenticated actor known to the system. The engine
// receives identity, role and tenant as input; sessions and credentials are
// handled elsewhere.
type User struct {
	ID        string    `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
