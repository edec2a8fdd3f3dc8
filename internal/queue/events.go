package queue

import "time"

// RoutingKeyUserRegistered is the topic key for registration events.
const RoutingKeyUserRegistered = "user.registered"

// UserRegistered is published after a user has been durably created. The
// external subject is intentionally not part of the event payload.
type UserRegistered struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
