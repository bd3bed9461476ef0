package domain

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps a client supplied role onto a known one. Anything
// unrecognized is treated as a user turn.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSystem, RoleAssistant:
		return Role(s)
	default:
		return RoleUser
	}
}

// Image is an inline attachment sent with a question.
type Image struct {
	MIME string
	Data string // base64, no data: prefix
}

// DataURL renders the attachment in the form multimodal providers accept.
func (i *Image) DataURL() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + i.Data
}

// Message 会話メッセージ
type Message struct {
	Role    Role
	Content string
	Image   *Image
}

type TaskKind string

const (
	TaskExplain TaskKind = "explain"
	TaskChat    TaskKind = "chat"
	TaskDigest  TaskKind = "digest"
)

// Profile is optional student metadata appended to the system prompt.
type Profile struct {
	Name  string
	Grade string
	Goal  string
}

func (p *Profile) Empty() bool {
	return p == nil || (p.Name == "" && p.Grade == "" && p.Goal == "")
}

// PendingItem is a todo or routine handed to the digest task.
type PendingItem struct {
	Title string
	Due   *time.Time
}
