// Package domain contains core domain types for fsagent.
package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem carries the tool protocol instructions.
	RoleSystem Role = "system"
	// RoleUser carries the task and tool results.
	RoleUser Role = "user"
	// RoleAssistant carries model replies.
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is an archived conversation message.
type StoredMessage struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
