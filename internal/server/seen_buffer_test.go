package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mark(user, conv, msgId string, ts time.Time) types.SeenMark {
	return types.SeenMark{
		UserId:         user,
		ConversationId: conv,
		MessageId:      msgId,
		Timestamp:      ts,
	}
}

func TestStageNewerWins(t *testing.T) {
	now := time.Now()
	older := mark("user-1", "conv-1", "msg-1", now)
	newer := mark("user-1", "conv-1", "msg-2", now.Add(time.Second))

	t.Run("newer staged after older", func(t *testing.T) {
		b := NewSeenBuffer()
		b.Stage(older)
		b.Stage(newer)

		drained := b.DrainAll()
		require.Len(t, drained, 1)
		assert.Equal(t, "msg-2", drained[0].MessageId)
	})

	t.Run("newer staged before older", func(t *testing.T) {
		b := NewSeenBuffer()
		b.Stage(newer)
		b.Stage(older)

		drained := b.DrainAll()
		require.Len(t, drained, 1)
		assert.Equal(t, "msg-2", drained[0].MessageId, "expected a late-arriving older mark to be ignored")
	})
}

func TestStageEqualTimestampLastWriteWins(t *testing.T) {
	now := time.Now()

	b := NewSeenBuffer()
	b.Stage(mark("user-1", "conv-1", "msg-1", now))
	b.Stage(mark("user-1", "conv-1", "msg-2", now))

	drained := b.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, "msg-2", drained[0].MessageId, "expected the later write to win an exact timestamp tie")
}

func TestStageDistinctKeys(t *testing.T) {
	now := time.Now()

	b := NewSeenBuffer()
	b.Stage(mark("user-1", "conv-1", "msg-1", now))
	b.Stage(mark("user-1", "conv-2", "msg-2", now))
	b.Stage(mark("user-2", "conv-1", "msg-3", now))

	assert.Equal(t, 3, b.Len(), "expected one entry per (user, conversation) key")
	assert.Len(t, b.DrainAll(), 3)
}

func TestDrainAllEmptiesBuffer(t *testing.T) {
	b := NewSeenBuffer()
	b.Stage(mark("user-1", "conv-1", "msg-1", time.Now()))

	first := b.DrainAll()
	assert.Len(t, first, 1)

	second := b.DrainAll()
	assert.Empty(t, second, "expected a second drain with no staging in between to be empty")
	assert.Equal(t, 0, b.Len())
}

func TestConcurrentStageAndDrain(t *testing.T) {
	const writers = 8
	const perWriter = 100

	b := NewSeenBuffer()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Stage(mark(
					fmt.Sprintf("user-%d", w),
					fmt.Sprintf("conv-%d", i),
					"msg",
					time.Now(),
				))
			}
		}(w)
	}

	var drained []types.SeenMark
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			drained = append(drained, b.DrainAll()...)
		}
	}()

	wg.Wait()
	<-done
	drained = append(drained, b.DrainAll()...)

	// no entry may be lost or duplicated across drains
	keys := make(map[seenKey]int)
	for _, m := range drained {
		keys[seenKey{userId: m.UserId, conversationId: m.ConversationId}]++
	}

	assert.Len(t, keys, writers*perWriter, "expected every key to be drained exactly once")
	for key, count := range keys {
		assert.Equalf(t, 1, count, "key %v drained %d times", key, count)
	}
}
