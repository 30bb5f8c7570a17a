package database

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type accountDoc struct {
	Id           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	EmailAddress string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

type groupDoc struct {
	Id        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	OwnerId   string             `bson:"owner_id"`
	Members   []string           `bson:"members"`
	Version   int64              `bson:"version"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type attachmentDoc struct {
	Id       string `bson:"id"`
	Name     string `bson:"name"`
	MimeType string `bson:"mime_type"`
	Size     int64  `bson:"size"`
}

type messageDoc struct {
	Id             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationId string             `bson:"conversation_id"`
	SenderId       string             `bson:"sender_id"`
	GroupId        string             `bson:"group_id,omitempty"`
	RecipientId    string             `bson:"recipient_id,omitempty"`
	Content        string             `bson:"content"`
	// PasswordHash gates the message content when non-empty. The hash
	// never leaves the store; clients unlock through the API.
	PasswordHash string         `bson:"password_hash,omitempty"`
	Attachment   *attachmentDoc `bson:"attachment,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

type seenMarkDoc struct {
	UserId         string    `bson:"user_id"`
	ConversationId string    `bson:"conversation_id"`
	MessageId      string    `bson:"message_id"`
	Timestamp      time.Time `bson:"timestamp"`
}

type contactDoc struct {
	OwnerId   string    `bson:"owner_id"`
	ContactId string    `bson:"contact_id"`
	Alias     string    `bson:"alias,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}
