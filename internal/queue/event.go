// Package queue defines message payloads exchanged over the message broker.
package queue

// AuthQueueName is the durable queue auth events are published to.
const AuthQueueName = "auth.events"

// Auth event types.
const (
	EventLogin           = "login"
	EventLoginFailed     = "login_failed"
	EventRegister        = "register"
	EventRefresh         = "refresh"
	EventRefreshRejected = "refresh_rejected"
	EventLogout          = "logout"
	EventLogoutAll       = "logout_all"
	EventPasswordChanged = "password_changed"
)

// AuthEvent is published for every security-relevant token operation. It
// carries no secrets: never a password or a raw token.
type AuthEvent struct {
	Type   string `json:"type"`
	UserID uint64 `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	IP     string `json:"ip,omitempty"`
	Count  int64  `json:"count,omitempty"`
	At     string `json:"at"`
}
