package call_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/event"
	eventmock "github.com/MrWong99/talkwire/internal/event/mock"
	"github.com/MrWong99/talkwire/internal/graph"
	"github.com/MrWong99/talkwire/pkg/store"
	storemock "github.com/MrWong99/talkwire/pkg/store/mock"
)

type personalNote struct {
	userID int64
	ev     event.Event
}

// notifyRecorder captures the registry's outbound side effects.
type notifyRecorder struct {
	mu         sync.Mutex
	personal   []personalNote
	broadcasts []event.Event
	delivered  bool
}

func (n *notifyRecorder) NotifyUser(_ context.Context, userID int64, ev event.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.personal = append(n.personal, personalNote{userID: userID, ev: ev})
	return n.delivered
}

func (n *notifyRecorder) BroadcastToCall(_ context.Context, _ int64, ev event.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, ev)
	return nil
}

func (n *notifyRecorder) broadcastCount(kind event.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, ev := range n.broadcasts {
		if ev.Kind() == kind {
			count++
		}
	}
	return count
}

func newTestRegistry(t *testing.T) (*call.Registry, *storemock.Store, *notifyRecorder) {
	t.Helper()
	st := &storemock.Store{}
	st.AddUser(store.User{ID: 1, Name: "alice", DisplayName: "Alice"})
	st.AddUser(store.User{ID: 2, Name: "bob"})
	st.AddUser(store.User{ID: 3, Name: "carol"})
	st.AddEdge(1, 2)

	reg := call.NewRegistry(call.RegistryConfig{
		Graph:   graph.New(st),
		Records: st,
		Users:   st,
	})
	rec := &notifyRecorder{delivered: true}
	reg.SetNotifier(rec)
	return reg, st, rec
}

func TestCreateNotifiesCallee(t *testing.T) {
	t.Parallel()
	reg, _, rec := newTestRegistry(t)

	sess, err := reg.Create(context.Background(), 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := sess.State(); got != call.StateInitiated {
		t.Errorf("State() = %q, want %q", got, call.StateInitiated)
	}
	if !strings.HasPrefix(sess.RoomName(), "call-") {
		t.Errorf("RoomName() = %q, want call- prefix", sess.RoomName())
	}

	if len(rec.personal) != 1 {
		t.Fatalf("got %d personal notices, want 1", len(rec.personal))
	}
	note := rec.personal[0]
	if note.userID != 2 {
		t.Errorf("notified user %d, want 2", note.userID)
	}
	incoming, ok := note.ev.(event.IncomingCall)
	if !ok {
		t.Fatalf("notice is %T, want event.IncomingCall", note.ev)
	}
	if incoming.CallID != sess.ID() || incoming.RoomName != sess.RoomName() {
		t.Errorf("incoming_call = %+v, does not match session %d/%q", incoming, sess.ID(), sess.RoomName())
	}
	if incoming.CallerName != "Alice" {
		t.Errorf("CallerName = %q, want display name", incoming.CallerName)
	}
}

func TestCreateRequiresConnection(t *testing.T) {
	t.Parallel()
	reg, st, rec := newTestRegistry(t)

	// 1 and 3 share no edge.
	if _, err := reg.Create(context.Background(), 1, 3, ""); !errors.Is(err, call.ErrNotAllowed) {
		t.Fatalf("Create() error = %v, want ErrNotAllowed", err)
	}
	if got := reg.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
	if _, err := st.GetCall(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("a call record was persisted for a denied initiation")
	}
	if len(rec.personal) != 0 {
		t.Errorf("callee was notified about a denied call")
	}
}

func TestCreateFailsClosedOnGraphOutage(t *testing.T) {
	t.Parallel()
	reg, st, _ := newTestRegistry(t)
	st.FailWith = errors.New("connection refused")

	if _, err := reg.Create(context.Background(), 1, 2, ""); !errors.Is(err, graph.ErrUnavailable) {
		t.Fatalf("Create() error = %v, want graph.ErrUnavailable", err)
	}
}

func TestAnswerIsIdempotent(t *testing.T) {
	t.Parallel()
	reg, st, rec := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := reg.Answer(ctx, sess.ID()); err != nil {
			t.Fatalf("Answer() #%d error = %v", i+1, err)
		}
	}
	if got := sess.State(); got != call.StatePickedUp {
		t.Errorf("State() = %q, want %q", got, call.StatePickedUp)
	}
	if got := rec.broadcastCount(event.KindCallAnswered); got != 1 {
		t.Errorf("got %d call_answered broadcasts, want exactly 1", got)
	}
	stored, err := st.GetCall(ctx, sess.ID())
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if stored.Status != store.CallPickedUp {
		t.Errorf("stored status = %q, want %q", stored.Status, store.CallPickedUp)
	}
}

func TestAnswerEndedCall(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := reg.End(ctx, sess.ID()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := reg.Answer(ctx, sess.ID()); !errors.Is(err, call.ErrInvalidState) {
		t.Fatalf("Answer() after end error = %v, want ErrInvalidState", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var stops int
	if err := reg.OnEnd(sess.ID(), func(context.Context) { stops++ }); err != nil {
		t.Fatalf("OnEnd() error = %v", err)
	}
	ch := &eventmock.Channel{}
	detach, err := reg.AttachChannel(sess.ID(), ch)
	if err != nil {
		t.Fatalf("AttachChannel() error = %v", err)
	}

	first, err := reg.End(ctx, sess.ID())
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	second, err := reg.End(ctx, sess.ID())
	if err != nil {
		t.Fatalf("End() repeat error = %v", err)
	}
	if first == nil || second == nil || *first != *second {
		t.Errorf("repeated End durations differ: %v vs %v", first, second)
	}
	if stops != 1 {
		t.Errorf("teardown hook ran %d times, want 1", stops)
	}
	if !ch.Closed() {
		t.Errorf("attached channel was not closed on end")
	}

	stored, err := st.GetCall(ctx, sess.ID())
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if stored.Status != store.CallEnded || stored.EndedAt == nil {
		t.Errorf("stored call = %+v, want ended with timestamp", stored)
	}

	// The last detach drains the ended session out of memory; a third End
	// must still answer from the durable record.
	detach()
	if got := reg.Live(); got != 0 {
		t.Errorf("Live() = %d after final detach, want 0", got)
	}
	third, err := reg.End(ctx, sess.ID())
	if err != nil {
		t.Fatalf("End() on evicted call error = %v", err)
	}
	if third == nil || *third != *first {
		t.Errorf("End() on evicted call = %v, want %v", third, first)
	}
}

func TestInviteIsIdempotentAndAuthorized(t *testing.T) {
	t.Parallel()
	reg, st, _ := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Carol shares no edge with either participant.
	if err := reg.Invite(ctx, sess.ID(), 3); !errors.Is(err, call.ErrNotAllowed) {
		t.Fatalf("Invite() error = %v, want ErrNotAllowed", err)
	}

	st.AddEdge(2, 3)
	if err := reg.Invite(ctx, sess.ID(), 3); err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	if err := reg.Invite(ctx, sess.ID(), 3); err != nil {
		t.Fatalf("repeat Invite() error = %v", err)
	}
	parts := sess.Participants()
	if len(parts) != 3 {
		t.Fatalf("got %d participants, want 3", len(parts))
	}
	if parts[3] != call.RoleParticipant {
		t.Errorf("invitee role = %q, want %q", parts[3], call.RoleParticipant)
	}

	if err := reg.Invite(ctx, sess.ID(), 99); !errors.Is(err, call.ErrNotFound) {
		t.Errorf("Invite(unknown user) error = %v, want ErrNotFound", err)
	}
}

func TestAttachToEndedCall(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Hold one channel so the session survives End for the assertion.
	detach, err := reg.AttachChannel(sess.ID(), &eventmock.Channel{})
	if err != nil {
		t.Fatalf("AttachChannel() error = %v", err)
	}
	defer detach()

	if _, err := reg.End(ctx, sess.ID()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := reg.AttachChannel(sess.ID(), &eventmock.Channel{}); !errors.Is(err, call.ErrInvalidState) {
		t.Fatalf("AttachChannel() after end error = %v, want ErrInvalidState", err)
	}
}
