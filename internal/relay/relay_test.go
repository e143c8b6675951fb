package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/internal/relay"
	sttmock "github.com/MrWong99/talkwire/pkg/provider/stt/mock"
)

// broadcastRecorder captures every call-wide event the relay emits.
type broadcastRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *broadcastRecorder) BroadcastToCall(_ context.Context, _ int64, ev event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *broadcastRecorder) snapshot() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event.Event(nil), b.events...)
}

func (b *broadcastRecorder) count(kind event.Kind) int {
	n := 0
	for _, ev := range b.snapshot() {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// transcriptRecorder counts persisted transcripts per call.
type transcriptRecorder struct {
	mu    sync.Mutex
	saved map[int64][]string
}

func (t *transcriptRecorder) ReplaceTranscript(_ context.Context, callID int64, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.saved == nil {
		t.saved = make(map[int64][]string)
	}
	t.saved[callID] = append(t.saved[callID], content)
	return nil
}

func (t *transcriptRecorder) writes(callID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.saved[callID]...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStopJoinsFinalsWithSingleSpaces(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	bc := &broadcastRecorder{}
	tr := &transcriptRecorder{}

	var finalsMu sync.Mutex
	var observed []string
	r := relay.New(relay.RelayConfig{
		Provider:    &sttmock.Provider{Session: sess},
		Broadcast:   bc,
		Transcripts: tr,
		OnFinal: func(_ int64, text string) {
			finalsMu.Lock()
			observed = append(observed, text)
			finalsMu.Unlock()
		},
	})

	ctx := context.Background()
	if err := r.Start(ctx, 7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.PushAudio(7, []byte{1, 2, 3}); err != nil {
		t.Fatalf("PushAudio() error = %v", err)
	}

	sess.EmitPartial("hel")
	sess.EmitPartial("hello")
	sess.EmitFinal("Hello")
	sess.EmitFinal("world")

	// Partials and finals alike reach the call channels live.
	waitFor(t, func() bool { return bc.count(event.KindTranscript) == 4 }, "live fragment broadcasts")

	text, err := r.Stop(ctx, 7)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if text != "Hello world" {
		t.Errorf("Stop() = %q, want %q", text, "Hello world")
	}
	if writes := tr.writes(7); len(writes) != 1 || writes[0] != "Hello world" {
		t.Errorf("persisted %v, want exactly one write of %q", writes, "Hello world")
	}

	finalsMu.Lock()
	defer finalsMu.Unlock()
	if len(observed) != 2 || observed[0] != "Hello" || observed[1] != "world" {
		t.Errorf("OnFinal observed %v, want [Hello world] in order", observed)
	}
	if got := r.Active(); got != 0 {
		t.Errorf("Active() = %d after stop, want 0", got)
	}
	if sess.CloseCallCount == 0 {
		t.Error("provider session was not closed")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	tr := &transcriptRecorder{}
	r := relay.New(relay.RelayConfig{
		Provider:    &sttmock.Provider{Session: sess},
		Broadcast:   &broadcastRecorder{},
		Transcripts: tr,
	})

	ctx := context.Background()
	if err := r.Start(ctx, 7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess.EmitFinal("solo")

	if _, err := r.Stop(ctx, 7); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := r.Stop(ctx, 7); err != nil {
		t.Fatalf("repeat Stop() error = %v", err)
	}
	if writes := tr.writes(7); len(writes) != 1 {
		t.Errorf("got %d transcript writes, want exactly 1", len(writes))
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	provider := &sttmock.Provider{Session: sttmock.NewSession()}
	r := relay.New(relay.RelayConfig{
		Provider:  provider,
		Broadcast: &broadcastRecorder{},
	})

	ctx := context.Background()
	if err := r.Start(ctx, 7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(ctx, 7); err != nil {
		t.Fatalf("repeat Start() error = %v", err)
	}
	if got := len(provider.Calls()); got != 1 {
		t.Errorf("provider saw %d StartStream calls, want 1", got)
	}
	if got := r.Active(); got != 1 {
		t.Errorf("Active() = %d, want 1", got)
	}
}

func TestStartProviderFailure(t *testing.T) {
	t.Parallel()
	r := relay.New(relay.RelayConfig{
		Provider:  &sttmock.Provider{StartStreamErr: errors.New("401 unauthorized")},
		Broadcast: &broadcastRecorder{},
	})

	if err := r.Start(context.Background(), 7); err == nil {
		t.Fatal("Start() succeeded with a failing provider")
	}
	if got := r.Active(); got != 0 {
		t.Errorf("Active() = %d after failed start, want 0", got)
	}
}

func TestAbruptProviderDeathFlushesOnce(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	bc := &broadcastRecorder{}
	tr := &transcriptRecorder{}
	r := relay.New(relay.RelayConfig{
		Provider:    &sttmock.Provider{Session: sess},
		Broadcast:   bc,
		Transcripts: tr,
	})

	ctx := context.Background()
	if err := r.Start(ctx, 9); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess.EmitFinal("one")
	sess.EmitFinal("two")

	// The provider dies without Stop being called.
	_ = sess.Close()

	waitFor(t, func() bool { return r.Active() == 0 }, "abrupt teardown")
	if writes := tr.writes(9); len(writes) != 1 || writes[0] != "one two" {
		t.Errorf("persisted %v, want exactly one write of %q", writes, "one two")
	}
	if got := bc.count(event.KindError); got != 1 {
		t.Errorf("got %d error events, want exactly 1", got)
	}

	if err := r.PushAudio(9, []byte{1}); !errors.Is(err, relay.ErrNotStreaming) {
		t.Errorf("PushAudio() after teardown error = %v, want ErrNotStreaming", err)
	}
}

func TestPushAudioReachesProvider(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	r := relay.New(relay.RelayConfig{
		Provider:  &sttmock.Provider{Session: sess},
		Broadcast: &broadcastRecorder{},
	})

	ctx := context.Background()
	if err := r.Start(ctx, 7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.PushAudio(7, []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("PushAudio() error = %v", err)
	}
	waitFor(t, func() bool { return len(sess.AudioChunks()) == 1 }, "audio delivery")

	if err := r.PushAudio(42, []byte{1}); !errors.Is(err, relay.ErrNotStreaming) {
		t.Errorf("PushAudio(unknown call) error = %v, want ErrNotStreaming", err)
	}
}
