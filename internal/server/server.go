package server

import (
	"context"
	"log"
	"time"

	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/stats"
)

const (
	metricActiveSessions        = "ActiveSessions"
	metricMessagesSent          = "MessagesSent"
	metricSendFailures          = "SendFailures"
	metricMessagesRouted        = "MessagesRouted"
	metricPushFailures          = "PushFailures"
	metricReconcileCycles       = "ReconcileCycles"
	metricReconcileRetries      = "ReconcileRetries"
	metricMembershipCacheHits   = "MembershipCacheHits"
	metricMembershipCacheMisses = "MembershipCacheMisses"
)

const sweepInterval = 30 * time.Second

// ChatServer owns the realtime core: the session registry, membership
// index, delivery router, seen buffer, reconciliation job and the
// message gateway.
type ChatServer struct {
	log   *log.Logger
	db    database.ChatRepository
	stats stats.StatsProvider

	Registry   *SessionRegistry
	Membership *MembershipIndex
	Buffer     *SeenBuffer
	Router     *DeliveryRouter
	Gateway    *MessageGateway
	reconciler *SeenReconciler

	idleTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	registry := NewSessionRegistry(logger, su)
	membership := NewMembershipIndex(logger, su, db, cfg.MembershipCacheTTL, cfg.MembershipTimeout)
	buffer := NewSeenBuffer()
	router := NewDeliveryRouter(logger, su, registry, membership, buffer, cfg.SuppressEcho)
	gateway := NewMessageGateway(logger, su, db, router)
	reconciler := NewSeenReconciler(logger, su, buffer, db, cfg.ReconcileInterval)

	return &ChatServer{
		log:         logger,
		db:          db,
		stats:       su,
		Registry:    registry,
		Membership:  membership,
		Buffer:      buffer,
		Router:      router,
		Gateway:     gateway,
		reconciler:  reconciler,
		idleTimeout: cfg.IdleSessionTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Run starts the reconciliation job and the idle-session sweeper and
// blocks until Shutdown is called.
func (cs *ChatServer) Run() {
	go cs.reconciler.Run()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, s := range cs.Registry.SweepIdle(cs.idleTimeout) {
				s.transport.Close()
			}
		case <-cs.stop:
			cs.reconciler.Stop()
			close(cs.done)
			return
		}
	}
}

// Shutdown stops the sweeper and the reconciliation job, flushing any
// staged seen marks first.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InvalidateMembership is the membership-changed hint from the API
// layer; the next group fan-out refetches the member set.
func (cs *ChatServer) InvalidateMembership(groupId string) {
	cs.Membership.Invalidate(groupId)
}
