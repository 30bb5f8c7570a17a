package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/types"
)

const defaultHistoryLimit = 50

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func decodeJson(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *ChatApp) createGroup(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateGroupRequest
	if err := decodeJson(r, &req); err != nil || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.CreateGroup(r.Context(), database.CreateGroupParams{
		Name:    req.Name,
		OwnerId: userId,
		Members: req.Members,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, group)
}

func (s *ChatApp) getGroups(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	groups, err := s.db.ListGroupsForAccount(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, groups)
}

type AddGroupMemberRequest struct {
	GroupId   string `json:"group_id"`
	AccountId string `json:"account_id"`
}

func (s *ChatApp) addGroupMember(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req AddGroupMemberRequest
	if err := decodeJson(r, &req); err != nil || req.GroupId == "" || req.AccountId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroup(r.Context(), req.GroupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !slices.Contains(group.Members, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddGroupMember(r.Context(), req.GroupId, req.AccountId); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// hint the realtime core that cached membership is stale
	s.cs.InvalidateMembership(req.GroupId)

	s.writeJson(w, http.StatusOK, nil)
}

func (s *ChatApp) getContacts(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	contacts, err := s.db.ListContacts(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, contacts)
}

type AddContactRequest struct {
	ContactId string `json:"contact_id"`
	Alias     string `json:"alias"`
}

func (s *ChatApp) addContact(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req AddContactRequest
	if err := decodeJson(r, &req); err != nil || req.ContactId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountById(r.Context(), req.ContactId); err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddContact(r.Context(), types.Contact{
		OwnerId:   userId,
		ContactId: req.ContactId,
		Alias:     req.Alias,
	}); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, nil)
}

// getMessages serves conversation history for reconnecting clients.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	conversationId := r.URL.Query().Get("conversation_id")
	if conversationId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = parsed
	}

	msgs, err := s.db.QueryHistory(r.Context(), conversationId, r.URL.Query().Get("since"), limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

type UnlockMessageRequest struct {
	MessageId string `json:"message_id"`
	Password  string `json:"password"`
}

// unlockMessage releases the content of a password-gated message when
// the supplied password matches the gate.
func (s *ChatApp) unlockMessage(w http.ResponseWriter, r *http.Request) {
	var req UnlockMessageRequest
	if err := decodeJson(r, &req); err != nil || req.MessageId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, gateHash, err := s.db.GetGatedMessage(r.Context(), req.MessageId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if gateHash != "" && !checkPassword(gateHash, req.Password) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatApp) getSeenMark(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	conversationId := r.URL.Query().Get("conversation_id")
	if conversationId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	mark, err := s.db.GetSeenMark(r.Context(), userId, conversationId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, mark)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := server.NewClient(user, conn, s.cs, s.log)
	if err != nil {
		s.log.Println("error creating client:", err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
