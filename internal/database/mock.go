package database

import (
	"context"

	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (types.User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, accountId string) (types.User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (types.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (types.Group, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Group), args.Error(1)
}
func (m *MockChatRepository) GetGroup(ctx context.Context, groupId string) (types.Group, error) {
	args := m.Called(ctx, groupId)
	return args.Get(0).(types.Group), args.Error(1)
}
func (m *MockChatRepository) AddGroupMember(ctx context.Context, groupId, accountId string) error {
	args := m.Called(ctx, groupId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) ListGroupsForAccount(ctx context.Context, accountId string) ([]types.Group, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).([]types.Group), args.Error(1)
}
func (m *MockChatRepository) FetchMembers(ctx context.Context, groupId string) ([]string, error) {
	args := m.Called(ctx, groupId)
	if members, ok := args.Get(0).([]string); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) FetchMembershipVersion(ctx context.Context, groupId string) (int64, error) {
	args := m.Called(ctx, groupId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockChatRepository) PersistMessage(ctx context.Context, msg *types.Message, gateHash string) (string, error) {
	args := m.Called(ctx, msg, gateHash)
	return args.String(0), args.Error(1)
}
func (m *MockChatRepository) QueryHistory(ctx context.Context, conversationId, sinceId string, limit int) ([]types.Message, error) {
	args := m.Called(ctx, conversationId, sinceId, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId string) (types.Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetGatedMessage(ctx context.Context, messageId string) (types.Message, string, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(types.Message), args.String(1), args.Error(2)
}
func (m *MockChatRepository) GetSeenMark(ctx context.Context, userId, conversationId string) (types.SeenMark, error) {
	args := m.Called(ctx, userId, conversationId)
	return args.Get(0).(types.SeenMark), args.Error(1)
}
func (m *MockChatRepository) PutSeenMarks(ctx context.Context, batch []types.SeenMark) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}
func (m *MockChatRepository) ListContacts(ctx context.Context, ownerId string) ([]types.Contact, error) {
	args := m.Called(ctx, ownerId)
	if contacts, ok := args.Get(0).([]types.Contact); ok {
		return contacts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddContact(ctx context.Context, contact types.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}
