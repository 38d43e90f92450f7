package realtime

import "encoding/json"

// Lifecycle events published through the registry by the channel itself.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventReconnect    = "reconnect"
)

// Auth handshake events.
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventAuthError     = "auth-error"
)

// Domain events the wellness server pushes.
const (
	EventMoodUpdate             = "mood-update"
	EventHabitCompleted         = "habit-completed"
	EventHabitReminder          = "habit-reminder"
	EventStreakMilestone        = "streak-milestone"
	EventCrisisAlert            = "crisis-alert"
	EventCrisisSupportAvailable = "crisis-support-available"
	EventWellnessInsight        = "wellness-insight"
	EventNotification           = "notification"
	EventUserUpdated            = "user-updated"
	EventSettingsSync           = "settings-sync"
)

// Message is the wire format for realtime frames in both directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// authPayload is the client half of the handshake.
type authPayload struct {
	Token string `json:"token"`
}

// authErrorPayload is the server's rejection of the handshake.
type authErrorPayload struct {
	Message string `json:"message"`
}
