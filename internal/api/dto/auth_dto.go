package dto

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a back-office user.
type UserResponse struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	IsAgent   bool   `json:"is_agent"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token string `json:"token"`
}
