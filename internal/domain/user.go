package domain

import "time"

// User represents an account that owns history entries.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"displayName"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	FirebaseUID  string     `json:"firebaseUid,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	Active       bool       `json:"active"`
}

// Public strips credentials before the user leaves the process.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
