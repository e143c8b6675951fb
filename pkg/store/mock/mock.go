// Package mock provides a functional in-memory implementation of
// [store.Store] for tests.
//
// Unlike a pure call-recording double, the mock keeps real state so that
// registry and gateway tests exercise genuine semantics (symmetric edges,
// upsert transcripts, idempotent presence). The exported [Store.FailWith]
// field forces every subsequent operation to fail, which is how tests
// exercise fail-closed behavior.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/talkwire/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory [store.Store]. The zero value is ready to use.
// All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// FailWith, when non-nil, is returned (wrapped) by every operation.
	// Set it to store.ErrUnavailable to simulate an unreachable backend.
	FailWith error

	users       map[int64]store.User
	nextUserID  int64
	edges       []store.Connection
	calls       map[int64]store.Call
	nextCallID  int64
	transcripts map[int64]store.Transcript
	analyses    map[int64]store.Analysis
	online      map[int64]bool
}

func (m *Store) init() {
	if m.users == nil {
		m.users = make(map[int64]store.User)
		m.calls = make(map[int64]store.Call)
		m.transcripts = make(map[int64]store.Transcript)
		m.analyses = make(map[int64]store.Analysis)
		m.online = make(map[int64]bool)
	}
}

func (m *Store) fail(op string) error {
	if m.FailWith != nil {
		return fmt.Errorf("%s: %w", op, m.FailWith)
	}
	return nil
}

// AddUser seeds a user with a fixed ID, for test setup.
func (m *Store) AddUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.users[u.ID] = u
	if u.ID > m.nextUserID {
		m.nextUserID = u.ID
	}
}

// AddEdge seeds a connection edge, for test setup.
func (m *Store) AddEdge(a, b int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.edges = append(m.edges, store.Connection{UserID: a, ConnectedUserID: b, CreatedAt: time.Now()})
}

// Transcript returns the stored transcript content for callID, or "".
func (m *Store) Transcript(callID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.transcripts[callID].Content
}

// CreateUser implements [store.UserStore].
func (m *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("create user"); err != nil {
		return store.User{}, err
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.User{}, fmt.Errorf("create user: %w", store.ErrDuplicate)
		}
	}
	m.nextUserID++
	u.ID = m.nextUserID
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return u, nil
}

// GetUser implements [store.UserStore].
func (m *Store) GetUser(_ context.Context, id int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get user"); err != nil {
		return store.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("get user: %w", store.ErrNotFound)
	}
	return u, nil
}

// GetUserByEmail implements [store.UserStore].
func (m *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get user by email"); err != nil {
		return store.User{}, err
	}
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, fmt.Errorf("get user by email: %w", store.ErrNotFound)
}

// GetUserByCode implements [store.UserStore].
func (m *Store) GetUserByCode(_ context.Context, code string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get user by code"); err != nil {
		return store.User{}, err
	}
	for _, u := range m.users {
		if u.ConnectionCode != "" && u.ConnectionCode == code {
			return u, nil
		}
	}
	return store.User{}, fmt.Errorf("get user by code: %w", store.ErrNotFound)
}

// UpdateDisplayName implements [store.UserStore].
func (m *Store) UpdateDisplayName(_ context.Context, id int64, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("update display name"); err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("update display name: %w", store.ErrNotFound)
	}
	u.DisplayName = displayName
	m.users[id] = u
	return nil
}

// SetConnectionCode implements [store.UserStore].
func (m *Store) SetConnectionCode(_ context.Context, id int64, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("set connection code"); err != nil {
		return err
	}
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("set connection code: %w", store.ErrNotFound)
	}
	u.ConnectionCode = code
	u.ConnectionCodeExpiresAt = expiresAt
	m.users[id] = u
	return nil
}

// AreConnected implements [store.ConnectionStore].
func (m *Store) AreConnected(_ context.Context, a, b int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("are connected"); err != nil {
		return false, err
	}
	return m.edgeExists(a, b), nil
}

func (m *Store) edgeExists(a, b int64) bool {
	for _, e := range m.edges {
		if (e.UserID == a && e.ConnectedUserID == b) || (e.UserID == b && e.ConnectedUserID == a) {
			return true
		}
	}
	return false
}

// ConnectionsOf implements [store.ConnectionStore].
func (m *Store) ConnectionsOf(_ context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("connections of"); err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var peers []int64
	for _, e := range m.edges {
		var peer int64
		switch userID {
		case e.UserID:
			peer = e.ConnectedUserID
		case e.ConnectedUserID:
			peer = e.UserID
		default:
			continue
		}
		if !seen[peer] {
			seen[peer] = true
			peers = append(peers, peer)
		}
	}
	return peers, nil
}

// AddConnection implements [store.ConnectionStore].
func (m *Store) AddConnection(_ context.Context, a, b int64) (store.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("add connection"); err != nil {
		return store.Connection{}, err
	}
	if m.edgeExists(a, b) {
		return store.Connection{}, fmt.Errorf("add connection: %w", store.ErrDuplicate)
	}
	conn := store.Connection{UserID: a, ConnectedUserID: b, CreatedAt: time.Now()}
	m.edges = append(m.edges, conn)
	return conn, nil
}

// RemoveConnection implements [store.ConnectionStore].
func (m *Store) RemoveConnection(_ context.Context, a, b int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("remove connection"); err != nil {
		return err
	}
	for i, e := range m.edges {
		if (e.UserID == a && e.ConnectedUserID == b) || (e.UserID == b && e.ConnectedUserID == a) {
			m.edges = append(m.edges[:i], m.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove connection: %w", store.ErrNotFound)
}

// CreateCall implements [store.CallStore].
func (m *Store) CreateCall(_ context.Context, callerID, calleeID int64, roomName string) (store.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("create call"); err != nil {
		return store.Call{}, err
	}
	m.nextCallID++
	c := store.Call{
		ID:        m.nextCallID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		RoomName:  roomName,
		Status:    store.CallInitiated,
		StartedAt: time.Now(),
	}
	m.calls[c.ID] = c
	return c, nil
}

// GetCall implements [store.CallStore].
func (m *Store) GetCall(_ context.Context, id int64) (store.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get call"); err != nil {
		return store.Call{}, err
	}
	c, ok := m.calls[id]
	if !ok {
		return store.Call{}, fmt.Errorf("get call: %w", store.ErrNotFound)
	}
	return c, nil
}

// SetCallStatus implements [store.CallStore].
func (m *Store) SetCallStatus(_ context.Context, id int64, status store.CallStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("set call status"); err != nil {
		return err
	}
	c, ok := m.calls[id]
	if !ok {
		return fmt.Errorf("set call status: %w", store.ErrNotFound)
	}
	c.Status = status
	m.calls[id] = c
	return nil
}

// FinishCall implements [store.CallStore].
func (m *Store) FinishCall(_ context.Context, id int64, endedAt time.Time, duration *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("finish call"); err != nil {
		return err
	}
	c, ok := m.calls[id]
	if !ok {
		return fmt.Errorf("finish call: %w", store.ErrNotFound)
	}
	c.Status = store.CallEnded
	c.EndedAt = &endedAt
	c.DurationSeconds = duration
	m.calls[id] = c
	return nil
}

// ReplaceTranscript implements [store.TranscriptStore].
func (m *Store) ReplaceTranscript(_ context.Context, callID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("replace transcript"); err != nil {
		return err
	}
	m.transcripts[callID] = store.Transcript{CallID: callID, Content: content, CreatedAt: time.Now()}
	return nil
}

// GetTranscript implements [store.TranscriptStore].
func (m *Store) GetTranscript(_ context.Context, callID int64) (store.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get transcript"); err != nil {
		return store.Transcript{}, err
	}
	t, ok := m.transcripts[callID]
	if !ok {
		return store.Transcript{}, fmt.Errorf("get transcript: %w", store.ErrNotFound)
	}
	return t, nil
}

// SaveAnalysis implements [store.AnalysisStore].
func (m *Store) SaveAnalysis(_ context.Context, a store.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("save analysis"); err != nil {
		return err
	}
	a.CreatedAt = time.Now()
	m.analyses[a.CallID] = a
	return nil
}

// GetAnalysis implements [store.AnalysisStore].
func (m *Store) GetAnalysis(_ context.Context, callID int64) (store.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("get analysis"); err != nil {
		return store.Analysis{}, err
	}
	a, ok := m.analyses[callID]
	if !ok {
		return store.Analysis{}, fmt.Errorf("get analysis: %w", store.ErrNotFound)
	}
	return a, nil
}

// SetOnline implements [store.PresenceStore].
func (m *Store) SetOnline(_ context.Context, userID int64, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if err := m.fail("set online"); err != nil {
		return err
	}
	m.online[userID] = online
	return nil
}

// Online reports the mirrored online flag for userID, for test assertions.
func (m *Store) Online(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.online[userID]
}
