package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	Finalized   bool       `json:"finalized"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
}
