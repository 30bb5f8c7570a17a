package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"golang.org/x/sync/singleflight"
)

type membershipEntry struct {
	members   []string
	fetchedAt time.Time
}

// MembershipIndex is a read-through cache of group membership. Misses
// and expired entries trigger a single upstream fetch shared by all
// concurrent callers for the same group. When the fetch fails the last
// known member set is served so a flaky membership store degrades
// delivery instead of failing it.
type MembershipIndex struct {
	log   *log.Logger
	stats stats.StatsProvider
	store database.MembershipStore

	ttl          time.Duration
	fetchTimeout time.Duration

	lock    sync.RWMutex
	entries map[string]membershipEntry
	group   singleflight.Group
}

func NewMembershipIndex(logger *log.Logger, su stats.StatsProvider, store database.MembershipStore, ttl, fetchTimeout time.Duration) *MembershipIndex {
	su.RegisterMetric(metricMembershipCacheHits)
	su.RegisterMetric(metricMembershipCacheMisses)

	return &MembershipIndex{
		log:          logger,
		stats:        su,
		store:        store,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		entries:      make(map[string]membershipEntry),
	}
}

// MembersOf returns the member set for the group, refreshing from the
// membership store when the cached entry is missing or expired.
func (mi *MembershipIndex) MembersOf(ctx context.Context, groupId string) ([]string, error) {
	if members, ok := mi.cached(groupId); ok {
		mi.stats.Incr(metricMembershipCacheHits)
		return members, nil
	}

	mi.stats.Incr(metricMembershipCacheMisses)

	v, err, _ := mi.group.Do(groupId, func() (any, error) {
		// re-check under the flight: a concurrent caller may have
		// refreshed while we waited for the flight slot
		if members, ok := mi.cached(groupId); ok {
			return members, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, mi.fetchTimeout)
		defer cancel()

		members, err := mi.store.FetchMembers(fetchCtx, groupId)
		if err != nil {
			return nil, err
		}

		mi.lock.Lock()
		mi.entries[groupId] = membershipEntry{members: members, fetchedAt: time.Now()}
		mi.lock.Unlock()

		return members, nil
	})

	if err != nil {
		// fall back to the stale entry if one exists
		if members, ok := mi.stale(groupId); ok {
			mi.log.Printf("membership fetch for group %q failed, serving stale members: %v", groupId, err)
			return members, nil
		}
		return nil, err
	}

	return v.([]string), nil
}

// Invalidate forces the next read for the group to refetch. It is a
// best-effort hint: staleness up to one TTL remains acceptable. The
// entry is expired rather than deleted so it can still serve as the
// stale fallback if the refetch fails.
func (mi *MembershipIndex) Invalidate(groupId string) {
	mi.lock.Lock()
	defer mi.lock.Unlock()

	if entry, ok := mi.entries[groupId]; ok {
		entry.fetchedAt = time.Time{}
		mi.entries[groupId] = entry
	}
}

func (mi *MembershipIndex) cached(groupId string) ([]string, bool) {
	mi.lock.RLock()
	defer mi.lock.RUnlock()

	entry, ok := mi.entries[groupId]
	if !ok || time.Since(entry.fetchedAt) > mi.ttl {
		return nil, false
	}
	return entry.members, true
}

// stale returns the cached entry regardless of age.
func (mi *MembershipIndex) stale(groupId string) ([]string, bool) {
	mi.lock.RLock()
	defer mi.lock.RUnlock()

	entry, ok := mi.entries[groupId]
	if !ok {
		return nil, false
	}
	return entry.members, true
}
