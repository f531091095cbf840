package domain

import "time"

// Chat event levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// ChatEvent is one line in the supervisor's chat/audit feed.
type ChatEvent struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"` // "supervisor" | "watchdog" | "analyst" | "operator"
	Level   string    `json:"level"`
	Message string    `json:"message"`
}
