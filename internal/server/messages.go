package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is one inbound protocol frame. Exactly one of the
// operation fields is set.
type ClientMessage struct {
	BaseMessage
	Publish     *Publish     `json:"publish,omitempty"`
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	AckSeen     *AckSeen     `json:"ack_seen,omitempty"`
}

type Publish struct {
	GroupId     string            `json:"group_id,omitempty"`
	RecipientId string            `json:"recipient_id,omitempty"`
	Content     string            `json:"content"`
	Password    string            `json:"password,omitempty"`
	Attachment  *types.Attachment `json:"attachment,omitempty"`
}

type Subscribe struct {
	ConversationId string `json:"conversation_id"`
}

type Unsubscribe struct {
	ConversationId string `json:"conversation_id"`
}

type AckSeen struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

// ServerMessage is one outbound protocol frame: a response to a client
// request, a delivered message, or a seen-state notification.
type ServerMessage struct {
	BaseMessage
	Response   *Response      `json:"response,omitempty"`
	Message    *types.Message `json:"message,omitempty"`
	SeenUpdate *SeenUpdate    `json:"seen_update,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type SeenUpdate struct {
	UserId         string    `json:"user_id"`
	ConversationId string    `json:"conversation_id"`
	MessageId      string    `json:"message_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrTargetNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "target not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
