package sessions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ferrybot/ferry/internal/observability"
	"github.com/ferrybot/ferry/pkg/agent"
	"github.com/rs/zerolog"
)

// Key identifies one logical conversation.
type Key struct {
	UserID int64
	ChatID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.UserID, k.ChatID)
}

type entry struct {
	session  agent.Session
	lastUsed time.Time
	seq      uint64 // insertion order, breaks lastUsed ties deterministically
}

// Store is a bounded cache of live sessions. Entries expire after ttl and
// the least-recently-used ones are evicted once max is exceeded; both
// invariants hold immediately after every Set.
type Store struct {
	max int
	ttl time.Duration

	mu      sync.Mutex
	entries map[Key]*entry
	seq     uint64

	onDelete func(Key)
	now      func() time.Time
	logger   zerolog.Logger
}

// NewStore creates a session store holding at most max entries, each for at
// most ttl since last use.
func NewStore(max int, ttl time.Duration, logger zerolog.Logger) *Store {
	observability.EnsureRegistered()

	return &Store{
		max:     max,
		ttl:     ttl,
		entries: make(map[Key]*entry),
		now:     time.Now,
		logger:  logger.With().Str("component", "sessions").Logger(),
	}
}

// OnDelete registers a hook invoked after every entry removal, whatever
// triggered it. Dependent caches clean themselves up here.
func (s *Store) OnDelete(fn func(Key)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = fn
}

// Get returns the live session for key, refreshing its last-used time.
func (s *Store) Get(key Key) (agent.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e.lastUsed = s.now()
	return e.session, true
}

// Set inserts or replaces the session for key and runs an eviction pass. A
// replaced session is disposed before the new one takes its place.
func (s *Store) Set(key Key, session agent.Session) {
	s.mu.Lock()

	if old, ok := s.entries[key]; ok {
		s.dispose(key, old)
	}

	s.seq++
	s.entries[key] = &entry{session: session, lastUsed: s.now(), seq: s.seq}
	removed := s.evictLocked()
	size := len(s.entries)
	hook, hooked := s.deleteHooks(removed)
	s.mu.Unlock()

	runHooks(hook, hooked)
	observability.SetActiveSessions(size)
	s.logger.Debug().Str("key", key.String()).Int("size", size).Msg("Session stored")
}

// Delete disposes and removes the session for key, if present.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.dispose(key, e)
		delete(s.entries, key)
	}
	var hook func(Key)
	var hooked []Key
	if ok {
		hook, hooked = s.deleteHooks([]Key{key})
	}
	size := len(s.entries)
	s.mu.Unlock()

	runHooks(hook, hooked)
	if ok {
		observability.RecordSessionEvicted("deleted")
		observability.SetActiveSessions(size)
	}
}

// Evict runs the TTL-then-LRU sweep. The daemon also runs this on a fixed
// cadence so idle conversations are reclaimed without further traffic.
func (s *Store) Evict() {
	s.mu.Lock()
	removed := s.evictLocked()
	hook, hooked := s.deleteHooks(removed)
	size := len(s.entries)
	s.mu.Unlock()

	runHooks(hook, hooked)
	observability.SetActiveSessions(size)
}

// evictLocked removes expired entries, then the least-recently-used ones
// until the size bound holds. Caller holds s.mu.
func (s *Store) evictLocked() []Key {
	var removed []Key
	now := s.now()

	for key, e := range s.entries {
		if s.ttl > 0 && now.Sub(e.lastUsed) > s.ttl {
			s.dispose(key, e)
			delete(s.entries, key)
			removed = append(removed, key)
			observability.RecordSessionEvicted("ttl")
			s.logger.Debug().Str("key", key.String()).Msg("Session expired")
		}
	}

	if s.max > 0 && len(s.entries) > s.max {
		type candidate struct {
			key Key
			e   *entry
		}
		candidates := make([]candidate, 0, len(s.entries))
		for key, e := range s.entries {
			candidates = append(candidates, candidate{key, e})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].e.lastUsed.Equal(candidates[j].e.lastUsed) {
				return candidates[i].e.lastUsed.Before(candidates[j].e.lastUsed)
			}
			return candidates[i].e.seq < candidates[j].e.seq
		})

		for _, c := range candidates[:len(s.entries)-s.max] {
			s.dispose(c.key, c.e)
			delete(s.entries, c.key)
			removed = append(removed, c.key)
			observability.RecordSessionEvicted("lru")
			s.logger.Debug().Str("key", c.key.String()).Msg("Session evicted (LRU)")
		}
	}

	return removed
}

// Clear disposes and removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for key, e := range s.entries {
		s.dispose(key, e)
		delete(s.entries, key)
		keys = append(keys, key)
	}
	hook, hooked := s.deleteHooks(keys)
	s.mu.Unlock()

	runHooks(hook, hooked)
	observability.SetActiveSessions(0)
	s.logger.Info().Int("count", len(keys)).Msg("Session store cleared")
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// dispose releases a session's resources. Disposal fails silently: the
// error is logged and execution continues.
func (s *Store) dispose(key Key, e *entry) {
	if err := e.session.Close(); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Session disposal failed")
	}
}

// deleteHooks captures the registered hook alongside the removed keys.
// Caller holds s.mu; the returned pair is safe to run after unlock.
func (s *Store) deleteHooks(keys []Key) (func(Key), []Key) {
	if s.onDelete == nil || len(keys) == 0 {
		return nil, nil
	}
	return s.onDelete, keys
}

func runHooks(fn func(Key), keys []Key) {
	if fn == nil {
		return
	}
	for _, key := range keys {
		fn(key)
	}
}
