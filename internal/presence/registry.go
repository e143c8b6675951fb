// Package presence tracks which users are reachable right now.
//
// The registry maps each online user to their single live presence channel.
// It is the source of truth for "is user X online"; the durable store only
// mirrors the flag and is never consulted for routing.
//
// Locking is two-level: a registry-wide mutex guards only the map buckets
// (O(1) pointer work), while each user's entry carries its own mutex that
// serializes channel replacement, sends, and eviction for that user. Work on
// unrelated users never contends.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/talkwire/internal/event"
)

// Lease identifies one registration of a channel. Disconnect requires the
// lease returned by Connect so that a slow teardown of a replaced connection
// cannot evict its successor.
type Lease uint64

// Registry is the live presence map. The zero value is not usable; create
// one with [NewRegistry]. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	closed  bool

	nextLease atomic.Uint64

	// onChange is invoked outside all registry locks after every
	// online/offline transition, including evictions from failed sends.
	onChange func(userID int64, online bool)
}

type entry struct {
	mu    sync.Mutex
	ch    event.Channel
	lease Lease
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

// SetOnChange installs the transition hook. Must be called during wiring,
// before the first Connect.
func (r *Registry) SetOnChange(fn func(userID int64, online bool)) {
	r.onChange = fn
}

// Connect registers ch as userID's sole live presence connection, replacing
// and closing any prior one (last connection wins), and triggers an online
// transition. The returned lease must be passed to Disconnect when the
// connection closes.
func (r *Registry) Connect(userID int64, ch event.Channel) Lease {
	lease := Lease(r.nextLease.Add(1))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ch.Close()
		return lease
	}
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	old := e.ch
	e.ch = ch
	e.lease = lease
	e.mu.Unlock()

	// A concurrent disconnect may have deleted the bucket between the two
	// critical sections above; reinstate it so the user stays routable.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ch.Close()
		return lease
	}
	if cur, ok := r.entries[userID]; !ok || cur != e {
		r.entries[userID] = e
	}
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
		slog.Debug("presence: replaced live connection", "user_id", userID)
	}
	r.notify(userID, true)
	return lease
}

// Disconnect removes userID's registration if it still belongs to lease,
// closes the channel, and triggers an offline transition. It reports whether
// this call performed the removal: repeated calls, calls for an unregistered
// user, and calls with a superseded lease are no-ops returning false, which
// gives every close path exactly-once teardown semantics.
func (r *Registry) Disconnect(userID int64, lease Lease) bool {
	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.ch == nil || e.lease != lease {
		e.mu.Unlock()
		return false
	}
	ch := e.ch
	e.ch = nil
	e.mu.Unlock()

	r.remove(userID, e)
	_ = ch.Close()
	r.notify(userID, false)
	return true
}

// IsOnline reports whether userID has a live presence connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch != nil
}

// Send attempts best-effort delivery of ev to userID. It returns false when
// the user is offline or delivery fails; a failed delivery also evicts the
// stale entry and triggers an offline transition. Send never returns an
// error; presence delivery is always best-effort.
func (r *Registry) Send(ctx context.Context, userID int64, ev event.Event) bool {
	r.mu.RLock()
	e, ok := r.entries[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	ch := e.ch
	if ch == nil {
		e.mu.Unlock()
		return false
	}
	err := ch.Send(ctx, ev)
	if err != nil {
		e.ch = nil
	}
	e.mu.Unlock()

	if err != nil {
		slog.Warn("presence: send failed, evicting stale connection",
			"user_id", userID, "kind", ev.Kind(), "err", err)
		r.remove(userID, e)
		_ = ch.Close()
		r.notify(userID, false)
		return false
	}
	return true
}

// Online returns the number of users with a live connection.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close shuts the registry down: all live channels are closed and further
// Connects are refused. Transition hooks do not fire during shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[int64]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		ch := e.ch
		e.ch = nil
		e.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
	}
	return nil
}

// remove deletes the map bucket for userID if it is still e and is empty.
func (r *Registry) remove(userID int64, e *entry) {
	r.mu.Lock()
	if cur, ok := r.entries[userID]; ok && cur == e {
		e.mu.Lock()
		empty := e.ch == nil
		e.mu.Unlock()
		if empty {
			delete(r.entries, userID)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) notify(userID int64, online bool) {
	if r.onChange != nil {
		r.onChange(userID, online)
	}
}
