package models

// User is the record stored at users/{id}. The id is the normalized slug
// of the display name; a user record is never hard-deleted.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	Email       string `json:"email,omitempty"`
	Online      bool   `json:"online"`
	LastOnline  int64  `json:"lastOnline"`
}
