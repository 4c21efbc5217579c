package events

import "time"

// Type classifies a security signal sent by an upstream producer.
type Type string

const (
	TypeSecurityAlert    Type = "security_alert"
	TypePermissionDenied Type = "permission_denied"
	TypeRateLimited      Type = "rate_limited"
	TypeCommandFallback  Type = "command_fallback"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSecurityAlert, TypePermissionDenied, TypeRateLimited, TypeCommandFallback:
		return true
	}
	return false
}

// TargetType names the dimension a burst of events is attributed to.
type TargetType string

const (
	TargetSender  TargetType = "sender"
	TargetChannel TargetType = "channel"
)

func (t TargetType) Valid() bool {
	return t == TargetSender || t == TargetChannel
}

// Event is a single security signal. Events are ephemeral: they live only
// inside the correlation window and are never persisted individually.
type Event struct {
	Type      Type                   `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Sender    string                 `json:"sender"`
	Channel   string                 `json:"channel"`
	Details   map[string]interface{} `json:"details,omitempty"`
	DedupeKey string                 `json:"dedupe_key,omitempty"`
}
