package server

import (
	"hash/fnv"
	"sync"

	"github.com/npezzotti/go-chatserver/internal/types"
)

const seenBufferShards = 16

type seenKey struct {
	userId         string
	conversationId string
}

type seenShard struct {
	lock    sync.Mutex
	pending map[seenKey]types.SeenMark
}

// SeenBuffer stages pending seen-mark updates between reconciliation
// cycles so high-frequency client acknowledgements never translate
// one-to-one into storage writes. Entries are keyed per
// (user, conversation) and sharded so staging for different keys does
// not contend on one lock.
type SeenBuffer struct {
	shards [seenBufferShards]*seenShard
}

func NewSeenBuffer() *SeenBuffer {
	b := &SeenBuffer{}
	for i := range b.shards {
		b.shards[i] = &seenShard{pending: make(map[seenKey]types.SeenMark)}
	}
	return b
}

func (b *SeenBuffer) shardFor(key seenKey) *seenShard {
	h := fnv.New32a()
	h.Write([]byte(key.userId))
	h.Write([]byte{0})
	h.Write([]byte(key.conversationId))
	return b.shards[h.Sum32()%seenBufferShards]
}

// Stage records a candidate seen mark, keeping whichever of the staged
// and candidate marks has the newer timestamp. Arrival order does not
// matter; on an exact timestamp tie the later write wins.
func (b *SeenBuffer) Stage(mark types.SeenMark) {
	key := seenKey{userId: mark.UserId, conversationId: mark.ConversationId}
	shard := b.shardFor(key)

	shard.lock.Lock()
	defer shard.lock.Unlock()

	if staged, ok := shard.pending[key]; ok && staged.Newer(mark) {
		return
	}
	shard.pending[key] = mark
}

// DrainAll removes and returns every staged entry, leaving the buffer
// empty. Each shard's map is swapped whole, so an entry staged
// concurrently with a drain either lands fully in this drain's result
// or is deferred whole to the next cycle.
func (b *SeenBuffer) DrainAll() []types.SeenMark {
	var out []types.SeenMark
	for _, shard := range b.shards {
		shard.lock.Lock()
		pending := shard.pending
		shard.pending = make(map[seenKey]types.SeenMark)
		shard.lock.Unlock()

		for _, mark := range pending {
			out = append(out, mark)
		}
	}
	return out
}

// Len returns the number of staged entries.
func (b *SeenBuffer) Len() int {
	n := 0
	for _, shard := range b.shards {
		shard.lock.Lock()
		n += len(shard.pending)
		shard.lock.Unlock()
	}
	return n
}
