package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func authedRequest(method, target, body, userId string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(WithUserId(r.Context(), userId))
}

func TestCreateAccount(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("CreateAccount", mock.Anything, mock.MatchedBy(func(p database.CreateAccountParams) bool {
		return p.Username == "alice" &&
			p.EmailAddress == "alice@example.com" &&
			checkPassword(p.PasswordHash, "s3cret")
	})).Return(types.User{Id: "user-1", Username: "alice"}, nil).Once()

	rr := httptest.NewRecorder()
	app.createAccount(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"alice@example.com","username":"alice","password":"s3cret"}`)))

	assert.Equal(t, http.StatusCreated, rr.Code)

	var user types.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	assert.Equal(t, "user-1", user.Id)
}

func TestCreateAccountMissingFields(t *testing.T) {
	app, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	app.createAccount(rr, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"alice@example.com"}`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogin(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	hash, err := hashPassword("s3cret")
	require.NoError(t, err)

	user := types.User{Id: "user-1", Username: "alice", EmailAddress: "alice@example.com", Password: hash}
	db.On("GetAccountByEmail", mock.Anything, "alice@example.com").Return(user, nil).Times(2)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.login(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"alice@example.com","password":"s3cret"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1, "expected a session cookie on login")
		assert.Equal(t, tokenCookieKey, cookies[0].Name)

		userId, err := app.extractUserIdFromToken(cookies[0].Value)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userId)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.login(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"alice@example.com","password":"wrong"}`)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("unknown email", func(t *testing.T) {
		db.On("GetAccountByEmail", mock.Anything, "bob@example.com").
			Return(types.User{}, database.ErrNotFound).Once()

		rr := httptest.NewRecorder()
		app.login(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"bob@example.com","password":"s3cret"}`)))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestCreateGroup(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("CreateGroup", mock.Anything, database.CreateGroupParams{
		Name:    "team",
		OwnerId: "user-1",
		Members: []string{"user-2"},
	}).Return(types.Group{Id: "group-1", Name: "team"}, nil).Once()

	rr := httptest.NewRecorder()
	app.createGroup(rr, authedRequest(http.MethodPost, "/api/groups",
		`{"name":"team","members":["user-2"]}`, "user-1"))

	assert.Equal(t, http.StatusCreated, rr.Code)

	var group types.Group
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&group))
	assert.Equal(t, "group-1", group.Id)
}

func TestCreateGroupMissingName(t *testing.T) {
	app, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	app.createGroup(rr, authedRequest(http.MethodPost, "/api/groups", `{}`, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetGroups(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	groups := []types.Group{{Id: "group-1", Name: "team"}}
	db.On("ListGroupsForAccount", mock.Anything, "user-1").Return(groups, nil).Once()

	rr := httptest.NewRecorder()
	app.getGroups(rr, authedRequest(http.MethodGet, "/api/groups", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Group
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, groups, got)
}

func TestAddGroupMember(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetGroup", mock.Anything, "group-1").
		Return(types.Group{Id: "group-1", Members: []string{"user-1"}}, nil).Once()
	db.On("AddGroupMember", mock.Anything, "group-1", "user-2").Return(nil).Once()

	// the membership cache is warmed first so the handler's staleness
	// hint can be observed as a refetch
	db.On("FetchMembers", mock.Anything, "group-1").Return([]string{"user-1"}, nil).Once()
	db.On("FetchMembers", mock.Anything, "group-1").Return([]string{"user-1", "user-2"}, nil).Once()

	members, err := app.cs.Membership.MembersOf(context.Background(), "group-1")
	require.NoError(t, err)
	require.Len(t, members, 1)

	rr := httptest.NewRecorder()
	app.addGroupMember(rr, authedRequest(http.MethodPost, "/api/groups/members",
		`{"group_id":"group-1","account_id":"user-2"}`, "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	members, err = app.cs.Membership.MembersOf(context.Background(), "group-1")
	require.NoError(t, err)
	assert.Len(t, members, 2, "expected the handler to invalidate cached membership")
}

func TestAddGroupMemberForbidden(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetGroup", mock.Anything, "group-1").
		Return(types.Group{Id: "group-1", Members: []string{"user-2"}}, nil).Once()

	rr := httptest.NewRecorder()
	app.addGroupMember(rr, authedRequest(http.MethodPost, "/api/groups/members",
		`{"group_id":"group-1","account_id":"user-3"}`, "user-1"))

	assert.Equal(t, http.StatusForbidden, rr.Code, "expected non-members to be refused")
}

func TestAddGroupMemberUnknownGroup(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetGroup", mock.Anything, "missing").Return(types.Group{}, database.ErrNotFound).Once()

	rr := httptest.NewRecorder()
	app.addGroupMember(rr, authedRequest(http.MethodPost, "/api/groups/members",
		`{"group_id":"missing","account_id":"user-2"}`, "user-1"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAddContact(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetAccountById", mock.Anything, "user-2").Return(types.User{Id: "user-2"}, nil).Once()
	db.On("AddContact", mock.Anything, types.Contact{
		OwnerId:   "user-1",
		ContactId: "user-2",
		Alias:     "bob",
	}).Return(nil).Once()

	rr := httptest.NewRecorder()
	app.addContact(rr, authedRequest(http.MethodPost, "/api/contacts",
		`{"contact_id":"user-2","alias":"bob"}`, "user-1"))

	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestAddContactUnknownAccount(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetAccountById", mock.Anything, "missing").Return(types.User{}, database.ErrNotFound).Once()

	rr := httptest.NewRecorder()
	app.addContact(rr, authedRequest(http.MethodPost, "/api/contacts",
		`{"contact_id":"missing"}`, "user-1"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetContacts(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	contacts := []types.Contact{{OwnerId: "user-1", ContactId: "user-2", Alias: "bob"}}
	db.On("ListContacts", mock.Anything, "user-1").Return(contacts, nil).Once()

	rr := httptest.NewRecorder()
	app.getContacts(rr, authedRequest(http.MethodGet, "/api/contacts", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Contact
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, contacts, got)
}

func TestGetMessages(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	msgs := []types.Message{{Id: "msg-1", ConversationId: "conv-1", SenderId: "user-2", Content: "hello"}}
	db.On("QueryHistory", mock.Anything, "conv-1", "msg-0", 10).Return(msgs, nil).Once()

	rr := httptest.NewRecorder()
	app.getMessages(rr, authedRequest(http.MethodGet,
		"/api/messages?conversation_id=conv-1&since=msg-0&limit=10", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Message
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, msgs, got)
}

func TestGetMessagesValidation(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("missing conversation id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages", "", "user-1"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet,
			"/api/messages?conversation_id=conv-1&limit=zero", "", "user-1"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestUnlockMessage(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	hash, err := hashPassword("s3cret")
	require.NoError(t, err)

	gated := types.Message{Id: "msg-1", ConversationId: "conv-1", SenderId: "user-2", Content: "classified"}
	db.On("GetGatedMessage", mock.Anything, "msg-1").Return(gated, hash, nil).Times(2)

	t.Run("correct password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.unlockMessage(rr, authedRequest(http.MethodPost, "/api/messages/unlock",
			`{"message_id":"msg-1","password":"s3cret"}`, "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)

		var got types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "classified", got.Content, "expected the gated content to be released")
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.unlockMessage(rr, authedRequest(http.MethodPost, "/api/messages/unlock",
			`{"message_id":"msg-1","password":"wrong"}`, "user-1"))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestGetSeenMark(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	seen := types.SeenMark{
		UserId:         "user-1",
		ConversationId: "conv-1",
		MessageId:      "msg-5",
		Timestamp:      time.Now().UTC().Round(time.Millisecond),
	}
	db.On("GetSeenMark", mock.Anything, "user-1", "conv-1").Return(seen, nil).Once()

	rr := httptest.NewRecorder()
	app.getSeenMark(rr, authedRequest(http.MethodGet, "/api/seen?conversation_id=conv-1", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got types.SeenMark
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, seen, got)
}

func TestGetSeenMarkNotFound(t *testing.T) {
	app, db := newTestApp(t)
	defer db.AssertExpectations(t)

	db.On("GetSeenMark", mock.Anything, "user-1", "conv-1").
		Return(types.SeenMark{}, database.ErrNotFound).Once()

	rr := httptest.NewRecorder()
	app.getSeenMark(rr, authedRequest(http.MethodGet, "/api/seen?conversation_id=conv-1", "", "user-1"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
