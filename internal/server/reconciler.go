package server

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
)

// SeenReconciler periodically drains the seen buffer and merges the
// staged marks into durable storage as one batch write. Merging is
// monotonic: a candidate only lands if its timestamp is strictly newer
// than the stored mark, so replaying or reordering batches never
// regresses seen state.
type SeenReconciler struct {
	log      *log.Logger
	stats    stats.StatsProvider
	buffer   *SeenBuffer
	store    database.SeenStore
	interval time.Duration

	running atomic.Bool
	// retry holds a batch whose durable write failed, merged into the
	// next cycle's drain. Only the cycle goroutine touches it.
	retry []types.SeenMark

	stop chan struct{}
	done chan struct{}
}

func NewSeenReconciler(logger *log.Logger, su stats.StatsProvider, buffer *SeenBuffer, store database.SeenStore, interval time.Duration) *SeenReconciler {
	su.RegisterMetric(metricReconcileCycles)
	su.RegisterMetric(metricReconcileRetries)

	return &SeenReconciler{
		log:      logger,
		stats:    su,
		buffer:   buffer,
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run fires a reconciliation cycle on every tick until Stop is called.
// A failed cycle never stops the schedule.
func (j *SeenReconciler) Run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.runCycle(context.Background())
		case <-j.stop:
			// flush whatever is staged before shutting down, waiting
			// out an in-flight cycle so the reentrancy guard cannot
			// skip the final drain
			for !j.runCycle(context.Background()) {
				time.Sleep(10 * time.Millisecond)
			}
			close(j.done)
			return
		}
	}
}

func (j *SeenReconciler) Stop() {
	close(j.stop)
	<-j.done
}

// runCycle performs one drain/merge/write pass and reports whether it
// ran. If the previous cycle is still running the trigger is skipped,
// never run concurrently: two simultaneous cycles would drain the same
// buffer.
func (j *SeenReconciler) runCycle(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Println("reconciliation cycle still running, skipping trigger")
		return false
	}
	defer j.running.Store(false)

	j.stats.Incr(metricReconcileCycles)

	drained := j.buffer.DrainAll()
	if len(drained) == 0 && len(j.retry) == 0 {
		return true
	}

	// the retained batch goes first so freshly drained marks win
	// timestamp ties in drain order
	batch := mergeMarks(j.retry, drained)
	j.retry = nil

	var toWrite, failed []types.SeenMark
	for _, mark := range batch {
		current, err := j.store.GetSeenMark(ctx, mark.UserId, mark.ConversationId)
		switch {
		case errors.Is(err, database.ErrNotFound):
			toWrite = append(toWrite, mark)
		case err != nil:
			j.log.Printf("read seen mark (%s, %s): %v", mark.UserId, mark.ConversationId, err)
			failed = append(failed, mark)
		case mark.Newer(current):
			toWrite = append(toWrite, mark)
		}
	}

	if len(toWrite) > 0 {
		if err := j.store.PutSeenMarks(ctx, toWrite); err != nil {
			j.log.Printf("write seen marks batch of %d: %v", len(toWrite), err)
			j.stats.Incr(metricReconcileRetries)
			failed = append(failed, toWrite...)
		}
	}

	j.retry = failed
	return true
}

// mergeMarks collapses the batches to one mark per (user, conversation)
// key under the newer-timestamp-wins rule. Later entries win exact
// timestamp ties.
func mergeMarks(batches ...[]types.SeenMark) []types.SeenMark {
	merged := make(map[seenKey]types.SeenMark)
	var order []seenKey

	for _, batch := range batches {
		for _, mark := range batch {
			key := seenKey{userId: mark.UserId, conversationId: mark.ConversationId}
			existing, ok := merged[key]
			if !ok {
				order = append(order, key)
				merged[key] = mark
				continue
			}
			if !existing.Newer(mark) {
				merged[key] = mark
			}
		}
	}

	out := make([]types.SeenMark, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}
