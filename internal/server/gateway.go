package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"slices"
	"sync"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidTarget  = errors.New("message must address exactly one user or group")
	ErrUnknownTarget  = errors.New("target does not exist")
	ErrNotGroupMember = errors.New("sender is not a member of the group")
)

const conversationLockStripes = 64

// GatewayStore is the storage surface the gateway needs: message
// persistence plus target-existence checks.
type GatewayStore interface {
	database.MessageStore
	GetAccountById(ctx context.Context, accountId string) (types.User, error)
	GetGroup(ctx context.Context, groupId string) (types.Group, error)
}

// MessageGateway is the entry point for outbound sends: validate the
// target, persist the message, then hand it to the router. Fan-out is
// never attempted for a message that failed to persist, and a
// partially failed fan-out still counts as a successful send since
// durability, not live delivery, is the completion contract.
type MessageGateway struct {
	log    *log.Logger
	stats  stats.StatsProvider
	store  GatewayStore
	router *DeliveryRouter

	// convLocks serializes persist+route per conversation so messages
	// reach every session in durable write order
	convLocks [conversationLockStripes]sync.Mutex
}

func NewMessageGateway(logger *log.Logger, su stats.StatsProvider, store GatewayStore, router *DeliveryRouter) *MessageGateway {
	su.RegisterMetric(metricMessagesSent)
	su.RegisterMetric(metricSendFailures)

	return &MessageGateway{
		log:    logger,
		stats:  su,
		store:  store,
		router: router,
	}
}

// Send validates the publish request, persists the message and fans it
// out. It returns the persisted message.
func (g *MessageGateway) Send(ctx context.Context, senderId string, pub *Publish) (*types.Message, error) {
	msg, err := g.buildMessage(ctx, senderId, pub)
	if err != nil {
		g.stats.Incr(metricSendFailures)
		return nil, err
	}

	var gateHash string
	if pub.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pub.Password), bcrypt.DefaultCost)
		if err != nil {
			g.stats.Incr(metricSendFailures)
			return nil, fmt.Errorf("hash message password: %w", err)
		}
		gateHash = string(hash)
	}

	lock := g.conversationLock(msg.ConversationId)
	lock.Lock()
	defer lock.Unlock()

	id, err := g.store.PersistMessage(ctx, msg, gateHash)
	if err != nil {
		g.stats.Incr(metricSendFailures)
		return nil, fmt.Errorf("persist message: %w", err)
	}
	msg.Id = id

	routed := *msg
	if gateHash != "" {
		// gated content is only released through the unlock endpoint
		routed.Locked = true
		routed.Content = ""
	}

	g.router.Route(ctx, &routed)
	g.stats.Incr(metricMessagesSent)

	return msg, nil
}

func (g *MessageGateway) buildMessage(ctx context.Context, senderId string, pub *Publish) (*types.Message, error) {
	if (pub.GroupId == "") == (pub.RecipientId == "") {
		return nil, ErrInvalidTarget
	}

	msg := &types.Message{
		SenderId:   senderId,
		Content:    pub.Content,
		Attachment: pub.Attachment,
		Timestamp:  Now(),
	}

	if pub.GroupId != "" {
		group, err := g.store.GetGroup(ctx, pub.GroupId)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrUnknownTarget
			}
			return nil, fmt.Errorf("validate group: %w", err)
		}
		if !slices.Contains(group.Members, senderId) {
			return nil, ErrNotGroupMember
		}

		msg.GroupId = pub.GroupId
		msg.ConversationId = pub.GroupId
		return msg, nil
	}

	if _, err := g.store.GetAccountById(ctx, pub.RecipientId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnknownTarget
		}
		return nil, fmt.Errorf("validate recipient: %w", err)
	}

	msg.RecipientId = pub.RecipientId
	msg.ConversationId = types.DirectConversationId(senderId, pub.RecipientId)
	return msg, nil
}

func (g *MessageGateway) conversationLock(conversationId string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationId))
	return &g.convLocks[h.Sum32()%conversationLockStripes]
}
