// Package call owns the live representation of active calls: the session
// registry, the per-call state machine, and participant tracking.
//
// A session exists in memory from initiation until it is ended and its side
// effects (persistence, channel teardown) have completed; after that only the
// durable record in the store survives. State transitions are serialized by a
// per-session mutex; the registry-wide mutex guards only the session map.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/talkwire/internal/event"
)

// ErrNotFound is returned when the named call or user does not exist.
var ErrNotFound = errors.New("call: not found")

// ErrNotAllowed is returned when the connection graph does not authorize the
// requested pairing.
var ErrNotAllowed = errors.New("call: not allowed")

// ErrInvalidState is returned for illegal state transitions that are not a
// tolerated idempotent repeat.
var ErrInvalidState = errors.New("call: invalid state")

// State is the lifecycle state of a call.
type State string

const (
	StateInitiated State = "initiated"
	StatePickedUp  State = "picked_up"
	StateEnded     State = "ended"
)

// Role tags a participant within a call.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Session is one live call. All exported methods are safe for concurrent
// use. Sessions are created by [Registry.Create] and mutated only through
// the registry's operations.
type Session struct {
	id       int64
	roomName string

	mu           sync.Mutex
	state        State
	participants map[int64]Role
	startedAt    time.Time
	endedAt      time.Time
	duration     *int64 // seconds, set on end

	seq       int
	fragments []string

	channels map[event.Channel]struct{}
	stoppers []func(context.Context)
}

func newSession(id int64, roomName string, callerID, calleeID int64, startedAt time.Time) *Session {
	return &Session{
		id:       id,
		roomName: roomName,
		state:    StateInitiated,
		participants: map[int64]Role{
			callerID: RoleHost,
			calleeID: RoleParticipant,
		},
		startedAt: startedAt,
		channels:  make(map[event.Channel]struct{}),
	}
}

// ID returns the call identifier.
func (s *Session) ID() int64 { return s.id }

// RoomName returns the call's room label.
func (s *Session) RoomName() string { return s.roomName }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns the session creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// HasParticipant reports whether userID belongs to the call.
func (s *Session) HasParticipant(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[userID]
	return ok
}

// Participants returns a copy of the participant set with roles.
func (s *Session) Participants() map[int64]Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Role, len(s.participants))
	for id, role := range s.participants {
		out[id] = role
	}
	return out
}

// AppendFinal appends a finalized transcript fragment and returns its
// monotonic sequence position within the call.
func (s *Session) AppendFinal(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.fragments = append(s.fragments, text)
	return s.seq
}

// Transcript joins all finalized fragments in sequence order with single
// spaces.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.fragments {
		n += len(f) + 1
	}
	b := make([]byte, 0, n)
	for i, f := range s.fragments {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, f...)
	}
	return string(b)
}

// liveChannels returns a snapshot of the attached call channels.
func (s *Session) liveChannels() []event.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// answer performs INITIATED → PICKED_UP. It reports whether this call
// changed the state; a repeat while already PICKED_UP is an idempotent
// success with changed=false.
func (s *Session) answer() (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateInitiated:
		s.state = StatePickedUp
		return true, nil
	case StatePickedUp:
		return false, nil
	default:
		return false, ErrInvalidState
	}
}

// end performs the transition to ENDED from any non-terminal state and
// computes the duration. A repeat on an already-ended session returns the
// previously computed duration with changed=false. The returned teardown
// hooks and channels must be run by the caller after the mutation commits;
// they are cleared so teardown runs exactly once.
func (s *Session) end(now time.Time) (duration *int64, changed bool, stoppers []func(context.Context), channels []event.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return s.duration, false, nil, nil
	}
	s.state = StateEnded
	s.endedAt = now
	if !s.startedAt.IsZero() {
		secs := int64(now.Sub(s.startedAt) / time.Second)
		s.duration = &secs
	}
	stoppers = s.stoppers
	s.stoppers = nil
	channels = make([]event.Channel, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	return s.duration, true, stoppers, channels
}
