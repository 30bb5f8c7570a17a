package types

import (
	"strings"
	"time"
)

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Group struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerId   string    `json:"owner_id"`
	Members   []string  `json:"members"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Contact struct {
	OwnerId   string    `json:"owner_id"`
	ContactId string    `json:"contact_id"`
	Alias     string    `json:"alias,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Attachment is an opaque reference to an uploaded document carried
// alongside a message. Conversion and storage of the blob itself is
// handled outside the chat server.
type Attachment struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type Message struct {
	Id             string      `json:"id"`
	ConversationId string      `json:"conversation_id"`
	SenderId       string      `json:"sender_id"`
	GroupId        string      `json:"group_id,omitempty"`
	RecipientId    string      `json:"recipient_id,omitempty"`
	Content        string      `json:"content"`
	Locked         bool        `json:"locked,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// SeenMark records how far a user has read in a conversation. For a
// given (user, conversation) pair exactly one current mark exists and
// updates are monotonic by timestamp.
type SeenMark struct {
	UserId         string    `json:"user_id"`
	ConversationId string    `json:"conversation_id"`
	MessageId      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Newer reports whether m supersedes other under the
// newer-timestamp-wins merge rule.
func (m SeenMark) Newer(other SeenMark) bool {
	return m.Timestamp.After(other.Timestamp)
}

// DirectConversationId derives the canonical conversation id for a
// direct exchange between two users. The id is identical regardless of
// which side sends.
func DirectConversationId(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}
