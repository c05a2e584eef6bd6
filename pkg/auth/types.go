package auth

import "time"

// Account is the persisted identity record. The password digest never
// leaves the process: it is excluded from every JSON representation.
type Account struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	Bio               string    `json:"bio"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Identity is the authenticated caller attached to the request context by
// the auth middleware.
type Identity struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

// Activity is an append-only audit entry. Records are immutable once
// written and may reference a since-deleted account.
type Activity struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Action    string                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Action tags recorded in the activity log. The column is free-form text;
// future tags do not require a schema change.
const (
	ActionUserRegistered = "USER_REGISTERED"
	ActionUserLogin      = "USER_LOGIN"
	ActionUserLogout     = "USER_LOGOUT"
	ActionUserCreated    = "USER_CREATED"
	ActionUserUpdated    = "USER_UPDATED"
)
