package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-chatserver/internal/types"
)

// ErrNotFound is returned by lookups when no matching document exists.
var ErrNotFound = errors.New("not found")

// MembershipStore is the read-only view of group membership the
// delivery path depends on.
type MembershipStore interface {
	FetchMembers(ctx context.Context, groupId string) ([]string, error)
	FetchMembershipVersion(ctx context.Context, groupId string) (int64, error)
}

// MessageStore persists messages and serves history queries for
// reconnecting clients.
type MessageStore interface {
	PersistMessage(ctx context.Context, msg *types.Message, gateHash string) (string, error)
	QueryHistory(ctx context.Context, conversationId, sinceId string, limit int) ([]types.Message, error)
	GetMessage(ctx context.Context, messageId string) (types.Message, error)
}

// SeenStore holds the durable seen marks written by the reconciliation
// job.
type SeenStore interface {
	GetSeenMark(ctx context.Context, userId, conversationId string) (types.SeenMark, error)
	PutSeenMarks(ctx context.Context, batch []types.SeenMark) error
}

// ChatRepository is the full storage surface of the chat server. The
// realtime core only depends on the narrow interfaces above; the API
// layer uses the rest.
type ChatRepository interface {
	MembershipStore
	MessageStore
	SeenStore

	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (types.User, error)
	GetAccountById(ctx context.Context, accountId string) (types.User, error)
	GetAccountByEmail(ctx context.Context, email string) (types.User, error)
	CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error)
	GetGroup(ctx context.Context, groupId string) (types.Group, error)
	AddGroupMember(ctx context.Context, groupId, accountId string) error
	ListGroupsForAccount(ctx context.Context, accountId string) ([]types.Group, error)
	ListContacts(ctx context.Context, ownerId string) ([]types.Contact, error)
	AddContact(ctx context.Context, contact types.Contact) error
	// GetGatedMessage returns the message with its content intact plus
	// the bcrypt gate hash, empty when the message is not gated.
	GetGatedMessage(ctx context.Context, messageId string) (types.Message, string, error)
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateGroupParams struct {
	Name    string
	OwnerId string
	Members []string
}
