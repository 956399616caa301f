package models

// Principal : l'appelant authentifié extrait du JWT.
type Principal struct {
	ID      string `json:"user_id"`
	Email   string `json:"email"`
	Role    string `json:"role,omitempty"`
	IsStaff bool   `json:"is_staff"`
}

func (p Principal) CanManageOrders() bool {
	return p.IsStaff || p.Role == "admin" || p.Role == "staff"
}
