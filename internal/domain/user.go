package domain

// UserDetails describes the signed-in user sent when opening a session.
type UserDetails struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
