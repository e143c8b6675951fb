package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/pkg/store"
)

// Graph authorizes user pairings. Implemented by the connection graph
// gateway; lookups fail closed.
type Graph interface {
	AreConnected(ctx context.Context, a, b int64) (bool, error)
}

// Notifier delivers events on behalf of the registry's side effects.
// Implemented by the notification router.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, ev event.Event) bool
	BroadcastToCall(ctx context.Context, callID int64, ev event.Event) error
}

// Records is the slice of the durable store the registry mirrors into.
type Records interface {
	CreateCall(ctx context.Context, callerID, calleeID int64, roomName string) (store.Call, error)
	GetCall(ctx context.Context, id int64) (store.Call, error)
	SetCallStatus(ctx context.Context, id int64, status store.CallStatus) error
	FinishCall(ctx context.Context, id int64, endedAt time.Time, duration *int64) error
}

// Users resolves user records for authorization and display.
type Users interface {
	GetUser(ctx context.Context, id int64) (store.User, error)
}

// RegistryConfig holds the dependencies for a [Registry].
type RegistryConfig struct {
	Graph   Graph
	Records Records
	Users   Users
}

// Registry owns every live call session. All exported methods are safe for
// concurrent use.
type Registry struct {
	graph   Graph
	records Records
	users   Users

	// notifier is set during wiring via SetNotifier; the router and the
	// registry reference each other through interfaces.
	notifier Notifier

	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewRegistry creates a Registry with the given dependencies.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		graph:    cfg.Graph,
		records:  cfg.Records,
		users:    cfg.Users,
		sessions: make(map[int64]*Session),
	}
}

// SetNotifier installs the event sink used for call side effects. Must be
// called during wiring, before the first Create.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Create initiates a call from callerID to calleeID. The caller becomes the
// host; the callee is the sole invited participant. When roomName is empty a
// fresh unique label is generated. The callee's presence channel receives an
// incoming_call notice best-effort.
//
// Fails with [ErrNotAllowed] when the pair shares no connection edge, and
// fails closed when the connection graph is unreachable.
func (r *Registry) Create(ctx context.Context, callerID, calleeID int64, roomName string) (*Session, error) {
	connected, err := r.graph.AreConnected(ctx, callerID, calleeID)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	if !connected {
		return nil, fmt.Errorf("create call: caller %d and callee %d: %w", callerID, calleeID, ErrNotAllowed)
	}

	caller, err := r.users.GetUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("create call: resolve caller: %w", mapStoreErr(err))
	}

	if roomName == "" {
		roomName = "call-" + uuid.NewString()[:8]
	}

	rec, err := r.records.CreateCall(ctx, callerID, calleeID, roomName)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}

	sess := newSession(rec.ID, roomName, callerID, calleeID, rec.StartedAt)
	r.mu.Lock()
	r.sessions[rec.ID] = sess
	r.mu.Unlock()

	callerName := caller.DisplayName
	if callerName == "" {
		callerName = caller.Name
	}
	delivered := r.notifier.NotifyUser(ctx, calleeID, event.IncomingCall{
		CallID:     rec.ID,
		CallerID:   callerID,
		CallerName: callerName,
		RoomName:   roomName,
	})
	slog.Info("call created",
		"call_id", rec.ID,
		"caller_id", callerID,
		"callee_id", calleeID,
		"room", roomName,
		"callee_notified", delivered,
	)
	return sess, nil
}

// Get returns the live session for callID, or [ErrNotFound] if the call is
// not currently in memory.
func (r *Registry) Get(callID int64) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %d: %w", callID, ErrNotFound)
	}
	return sess, nil
}

// Lookup returns the durable record for callID, preferring the live session
// when one exists.
func (r *Registry) Lookup(ctx context.Context, callID int64) (store.Call, error) {
	rec, err := r.records.GetCall(ctx, callID)
	if err != nil {
		return store.Call{}, fmt.Errorf("lookup call: %w", mapStoreErr(err))
	}
	if sess, err := r.Get(callID); err == nil {
		rec.Status = store.CallStatus(sess.State())
	}
	return rec, nil
}

// Invite adds userID to the call as a plain participant. Re-inviting an
// existing participant is an idempotent success. The invitee must share a
// connection edge with at least one current participant; the check is
// symmetric and fails closed when the graph is unreachable.
func (r *Registry) Invite(ctx context.Context, callID, userID int64) error {
	sess, err := r.Get(callID)
	if err != nil {
		return err
	}

	if _, err := r.users.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("invite user %d: %w", userID, mapStoreErr(err))
	}

	if sess.HasParticipant(userID) {
		return nil
	}

	allowed := false
	for peer := range sess.Participants() {
		if peer == userID {
			continue
		}
		connected, err := r.graph.AreConnected(ctx, userID, peer)
		if err != nil {
			return fmt.Errorf("invite user %d: %w", userID, err)
		}
		if connected {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invite user %d to call %d: %w", userID, callID, ErrNotAllowed)
	}

	sess.mu.Lock()
	// Re-check under the lock; a concurrent invite may have won.
	if _, ok := sess.participants[userID]; !ok {
		sess.participants[userID] = RoleParticipant
	}
	sess.mu.Unlock()

	slog.Info("call participant invited", "call_id", callID, "user_id", userID)
	return nil
}

// Answer performs the INITIATED → PICKED_UP transition. Repeated answers are
// idempotent successes; exactly one call_answered broadcast fires per actual
// state change, strictly after the transition commits. Answering an ended
// call fails with [ErrInvalidState].
func (r *Registry) Answer(ctx context.Context, callID int64) error {
	sess, err := r.Get(callID)
	if err != nil {
		return r.answerEvicted(ctx, callID)
	}

	changed, err := sess.answer()
	if err != nil {
		return fmt.Errorf("answer call %d: %w", callID, err)
	}
	if !changed {
		return nil
	}

	if err := r.records.SetCallStatus(ctx, callID, store.CallPickedUp); err != nil {
		slog.Warn("call: status mirror failed", "call_id", callID, "err", err)
	}
	if err := r.notifier.BroadcastToCall(ctx, callID, event.CallAnswered{CallID: callID}); err != nil {
		slog.Warn("call: answered broadcast failed", "call_id", callID, "err", err)
	}
	slog.Info("call answered", "call_id", callID)
	return nil
}

// answerEvicted resolves an answer against the durable record when no live
// session exists: an already picked-up call is an idempotent success, an
// ended call is a state error, anything else is not found.
func (r *Registry) answerEvicted(ctx context.Context, callID int64) error {
	rec, err := r.records.GetCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("answer call %d: %w", callID, mapStoreErr(err))
	}
	switch rec.Status {
	case store.CallPickedUp:
		return nil
	case store.CallEnded:
		return fmt.Errorf("answer call %d: already ended: %w", callID, ErrInvalidState)
	default:
		return fmt.Errorf("answer call %d: no live session: %w", callID, ErrNotFound)
	}
}

// End transitions the call to ENDED from any non-terminal state and returns
// the duration in seconds. Side effects (relay teardown, channel closure,
// record persistence, eviction) run strictly after the transition commits
// and exactly once. Ending an already-ended call returns the previously
// computed duration with no further side effects.
func (r *Registry) End(ctx context.Context, callID int64) (*int64, error) {
	sess, err := r.Get(callID)
	if err != nil {
		return r.endEvicted(ctx, callID)
	}

	now := time.Now().UTC()
	duration, changed, stoppers, channels := sess.end(now)
	if !changed {
		return duration, nil
	}

	// Relay teardown persists any buffered transcript before we report
	// the call ended.
	for _, stop := range stoppers {
		stop(ctx)
	}
	if err := r.records.FinishCall(ctx, callID, now, duration); err != nil {
		slog.Warn("call: finish mirror failed", "call_id", callID, "err", err)
	}
	for _, ch := range channels {
		_ = ch.Close()
	}
	r.evictIfDrained(sess)

	slog.Info("call ended", "call_id", callID, "duration_s", derefSeconds(duration))
	return duration, nil
}

// endEvicted resolves an end against the durable record when no live session
// exists. An already-ended record is the idempotent repeat case; a dangling
// non-terminal record (e.g. after a restart) is finished in place.
func (r *Registry) endEvicted(ctx context.Context, callID int64) (*int64, error) {
	rec, err := r.records.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("end call %d: %w", callID, mapStoreErr(err))
	}
	if rec.Status == store.CallEnded {
		return rec.DurationSeconds, nil
	}
	now := time.Now().UTC()
	var duration *int64
	if !rec.StartedAt.IsZero() {
		secs := int64(now.Sub(rec.StartedAt) / time.Second)
		duration = &secs
	}
	if err := r.records.FinishCall(ctx, callID, now, duration); err != nil {
		return nil, fmt.Errorf("end call %d: %w", callID, mapStoreErr(err))
	}
	return duration, nil
}

// AttachChannel registers a live call channel with the session. The returned
// detach func is idempotent and must be called when the connection closes;
// once an ended session has no attached channels it is evicted from memory.
func (r *Registry) AttachChannel(callID int64, ch event.Channel) (detach func(), err error) {
	sess, err := r.Get(callID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.state == StateEnded {
		sess.mu.Unlock()
		return nil, fmt.Errorf("attach to call %d: %w", callID, ErrInvalidState)
	}
	sess.channels[ch] = struct{}{}
	sess.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sess.mu.Lock()
			delete(sess.channels, ch)
			sess.mu.Unlock()
			r.evictIfDrained(sess)
		})
	}, nil
}

// OnEnd registers a teardown hook that runs when the call ends. If the call
// has already ended the hook runs immediately.
func (r *Registry) OnEnd(callID int64, stop func(context.Context)) error {
	sess, err := r.Get(callID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	ended := sess.state == StateEnded
	if !ended {
		sess.stoppers = append(sess.stoppers, stop)
	}
	sess.mu.Unlock()
	if ended {
		stop(context.Background())
	}
	return nil
}

// Channels returns a snapshot of the live channels attached to callID.
func (r *Registry) Channels(callID int64) ([]event.Channel, error) {
	sess, err := r.Get(callID)
	if err != nil {
		return nil, err
	}
	return sess.liveChannels(), nil
}

// Live returns the number of in-memory call sessions.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close ends every live session, used for process shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if _, err := r.End(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evictIfDrained removes an ended session with no attached channels.
func (r *Registry) evictIfDrained(sess *Session) {
	sess.mu.Lock()
	drained := sess.state == StateEnded && len(sess.channels) == 0
	sess.mu.Unlock()
	if !drained {
		return
	}
	r.mu.Lock()
	if cur, ok := r.sessions[sess.id]; ok && cur == sess {
		delete(r.sessions, sess.id)
	}
	r.mu.Unlock()
}

// mapStoreErr translates store sentinels into the call error taxonomy.
func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func derefSeconds(d *int64) int64 {
	if d == nil {
		return 0
	}
	return *d
}
