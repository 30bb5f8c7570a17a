package server

import (
	"context"
	"log"
	"strings"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
)

// DeliveryRouter resolves the live sessions a message must reach and
// pushes it to each of them. Push failures are isolated per session:
// one broken connection never aborts delivery to the rest.
type DeliveryRouter struct {
	log        *log.Logger
	stats      stats.StatsProvider
	registry   *SessionRegistry
	membership *MembershipIndex
	buffer     *SeenBuffer
	// suppressEcho excludes the sender's own sessions from fan-out.
	// Off by default so the sender's other devices stay in sync.
	suppressEcho bool
}

func NewDeliveryRouter(logger *log.Logger, su stats.StatsProvider, registry *SessionRegistry, membership *MembershipIndex, buffer *SeenBuffer, suppressEcho bool) *DeliveryRouter {
	su.RegisterMetric(metricMessagesRouted)
	su.RegisterMetric(metricPushFailures)

	return &DeliveryRouter{
		log:          logger,
		stats:        su,
		registry:     registry,
		membership:   membership,
		buffer:       buffer,
		suppressEcho: suppressEcho,
	}
}

// Route fans the message out to every live session of its recipients.
// Delivery is best-effort: disconnected recipients pick the message up
// from history on their next connect, and per-session push failures
// are recorded but never propagated.
func (dr *DeliveryRouter) Route(ctx context.Context, msg *types.Message) {
	recipients, err := dr.recipients(ctx, msg)
	if err != nil {
		dr.log.Printf("resolve recipients for message %q: %v", msg.Id, err)
		return
	}

	out := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
		Message:     msg,
	}

	seen := make(map[string]struct{})
	for _, userId := range recipients {
		if dr.suppressEcho && userId == msg.SenderId {
			continue
		}

		for _, session := range dr.registry.SessionsFor(userId) {
			if _, dup := seen[session.Id]; dup {
				continue
			}
			seen[session.Id] = struct{}{}

			if !session.Queue(out) {
				dr.stats.Incr(metricPushFailures)
				dr.log.Printf("push to session %q failed", session.Id)
				continue
			}

			// a session already viewing the conversation has seen the
			// message at delivery time, no client round-trip needed
			if session.Subscribed(msg.ConversationId) && session.UserId != msg.SenderId {
				dr.buffer.Stage(types.SeenMark{
					UserId:         session.UserId,
					ConversationId: msg.ConversationId,
					MessageId:      msg.Id,
					Timestamp:      msg.Timestamp,
				})
			}
		}
	}

	dr.stats.Incr(metricMessagesRouted)
}

// AckSeen stages a client acknowledgement and notifies the other
// participants' live sessions that the user's seen state advanced.
func (dr *DeliveryRouter) AckSeen(ctx context.Context, mark types.SeenMark) {
	dr.buffer.Stage(mark)

	participants, err := dr.participantsOf(ctx, mark.ConversationId)
	if err != nil {
		dr.log.Printf("resolve participants for conversation %q: %v", mark.ConversationId, err)
		return
	}

	update := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		SeenUpdate: &SeenUpdate{
			UserId:         mark.UserId,
			ConversationId: mark.ConversationId,
			MessageId:      mark.MessageId,
			Timestamp:      mark.Timestamp,
		},
	}

	for _, userId := range participants {
		if userId == mark.UserId {
			continue
		}
		for _, session := range dr.registry.SessionsFor(userId) {
			if !session.Queue(update) {
				dr.stats.Incr(metricPushFailures)
			}
		}
	}
}

func (dr *DeliveryRouter) recipients(ctx context.Context, msg *types.Message) ([]string, error) {
	if msg.GroupId != "" {
		return dr.membership.MembersOf(ctx, msg.GroupId)
	}
	return []string{msg.RecipientId, msg.SenderId}, nil
}

// participantsOf resolves the users in a conversation. Direct
// conversation ids are the canonical "low:high" user id pair; anything
// else is a group id.
func (dr *DeliveryRouter) participantsOf(ctx context.Context, conversationId string) ([]string, error) {
	if a, b, ok := strings.Cut(conversationId, ":"); ok {
		return []string{a, b}, nil
	}
	return dr.membership.MembersOf(ctx, conversationId)
}
