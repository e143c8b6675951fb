// Package store defines the durable storage interfaces for Talkwire: users,
// connection edges, calls, transcripts, and analyses.
//
// The live routing core never consults the store for routing decisions; the
// in-memory registries are authoritative for presence and call channels. The
// store is the system of record that survives the process: user profiles, the
// connection graph, call records with final durations, committed transcripts,
// and analysis results.
//
// Implementations must be safe for concurrent use. The canonical production
// implementation is [github.com/MrWong99/talkwire/pkg/store/postgres]; tests
// use [github.com/MrWong99/talkwire/pkg/store/mock].
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a uniqueness constraint would be violated,
// e.g. adding a connection edge that already exists in either orientation.
var ErrDuplicate = errors.New("store: already exists")

// ErrUnavailable is returned when the backing store cannot be reached.
// Authorization checks built on the store must fail closed when they see it.
var ErrUnavailable = errors.New("store: unavailable")

// CallStatus mirrors the live call state machine in the durable record.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallPickedUp  CallStatus = "picked_up"
	CallEnded     CallStatus = "ended"
)

// User is a registered account.
type User struct {
	ID          int64
	Email       string
	Name        string
	DisplayName string

	// ConnectionCode is the short-lived code other users redeem to add this
	// user as a connection. Empty when no code is active.
	ConnectionCode string

	// ConnectionCodeExpiresAt bounds the code's validity.
	ConnectionCodeExpiresAt time.Time

	CreatedAt time.Time
}

// CodeValid reports whether the user's connection code is usable at t.
func (u User) CodeValid(t time.Time) bool {
	return u.ConnectionCode != "" && t.Before(u.ConnectionCodeExpiresAt)
}

// Connection is one stored edge of the mutual-authorization graph. The pair
// is unordered: an edge in either orientation authorizes both users.
type Connection struct {
	UserID          int64
	ConnectedUserID int64
	CreatedAt       time.Time
}

// Call is the durable record of a call session.
type Call struct {
	ID        int64
	CallerID  int64
	CalleeID  int64
	RoomName  string
	Status    CallStatus
	StartedAt time.Time

	// EndedAt is set when the call reaches the ended state.
	EndedAt *time.Time

	// DurationSeconds is set on end when StartedAt was known.
	DurationSeconds *int64
}

// Transcript is the committed transcript of a call. One per call,
// last-write-wins.
type Transcript struct {
	CallID    int64
	Content   string
	CreatedAt time.Time
}

// Analysis is the stored result of a post-call transcript analysis.
type Analysis struct {
	CallID         int64
	Interpretation string
	Result         string
	CreatedAt      time.Time
}

// UserStore persists accounts, profiles, and connection codes.
type UserStore interface {
	// CreateUser inserts u (ID ignored) and returns the stored record with
	// its assigned ID. Fails with ErrDuplicate if the email is taken.
	CreateUser(ctx context.Context, u User) (User, error)

	// GetUser fetches a user by ID, or ErrNotFound.
	GetUser(ctx context.Context, id int64) (User, error)

	// GetUserByEmail fetches a user by email, or ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// GetUserByCode fetches the user whose active connection code is code.
	// Expiry is the caller's concern; the lookup is exact-match only.
	GetUserByCode(ctx context.Context, code string) (User, error)

	// UpdateDisplayName sets the user's display name.
	UpdateDisplayName(ctx context.Context, id int64, displayName string) error

	// SetConnectionCode replaces the user's connection code and its expiry.
	SetConnectionCode(ctx context.Context, id int64, code string, expiresAt time.Time) error
}

// ConnectionStore persists the mutual-authorization graph. All lookups are
// symmetric over edge orientation.
type ConnectionStore interface {
	// AreConnected reports whether an edge exists between a and b in either
	// orientation.
	AreConnected(ctx context.Context, a, b int64) (bool, error)

	// ConnectionsOf returns the deduplicated set of users sharing an edge
	// with userID, regardless of orientation.
	ConnectionsOf(ctx context.Context, userID int64) ([]int64, error)

	// AddConnection creates an edge between a and b. Fails with ErrDuplicate
	// if one exists in either orientation.
	AddConnection(ctx context.Context, a, b int64) (Connection, error)

	// RemoveConnection deletes the edge between a and b in whichever
	// orientation it exists, or ErrNotFound.
	RemoveConnection(ctx context.Context, a, b int64) error
}

// CallStore persists call records.
type CallStore interface {
	// CreateCall inserts a new call in the initiated state and returns the
	// record with its assigned ID.
	CreateCall(ctx context.Context, callerID, calleeID int64, roomName string) (Call, error)

	// GetCall fetches a call by ID, or ErrNotFound.
	GetCall(ctx context.Context, id int64) (Call, error)

	// SetCallStatus mirrors a live state transition into the record.
	SetCallStatus(ctx context.Context, id int64, status CallStatus) error

	// FinishCall marks the call ended with the given end time and, when
	// duration is non-nil, its computed duration.
	FinishCall(ctx context.Context, id int64, endedAt time.Time, duration *int64) error
}

// TranscriptStore persists committed transcripts with replace semantics.
type TranscriptStore interface {
	// ReplaceTranscript upserts the transcript for callID. Repeated calls
	// with the same content are idempotent; the last write wins.
	ReplaceTranscript(ctx context.Context, callID int64, content string) error

	// GetTranscript fetches the transcript for callID, or ErrNotFound.
	GetTranscript(ctx context.Context, callID int64) (Transcript, error)
}

// AnalysisStore persists analysis results, one per call, last-write-wins.
type AnalysisStore interface {
	// SaveAnalysis upserts the analysis for a.CallID.
	SaveAnalysis(ctx context.Context, a Analysis) error

	// GetAnalysis fetches the analysis for callID, or ErrNotFound.
	GetAnalysis(ctx context.Context, callID int64) (Analysis, error)
}

// PresenceStore mirrors live online state into the durable record. The mirror
// is informational; routing never reads it.
type PresenceStore interface {
	// SetOnline records the user's online flag and bumps last-seen.
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// Store bundles every persistence concern behind one handle.
type Store interface {
	UserStore
	ConnectionStore
	CallStore
	TranscriptStore
	AnalysisStore
	PresenceStore
}
