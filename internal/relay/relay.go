// Package relay bridges call audio into a speech-to-text provider and fans
// the resulting fragments back out over the call's channels.
//
// Each call has at most one live stream. Interim fragments are broadcast
// immediately and never persisted; committed fragments are buffered in
// arrival order and flushed as one space-joined transcript when the stream
// stops, replacing any earlier transcript for the call. The flush runs
// exactly once whether the stream ends by request, by call teardown or by
// the provider dying underneath it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/talkwire/internal/event"
	"github.com/MrWong99/talkwire/pkg/provider/stt"
)

// ErrNotStreaming is returned by PushAudio when the call has no live stream.
var ErrNotStreaming = errors.New("relay: no live transcription stream")

const defaultQueueSize = 256

// Broadcaster delivers events to every channel attached to a call.
// Implemented by the notification router.
type Broadcaster interface {
	BroadcastToCall(ctx context.Context, callID int64, ev event.Event) error
}

// Transcripts persists flushed call transcripts with replace semantics.
type Transcripts interface {
	ReplaceTranscript(ctx context.Context, callID int64, content string) error
}

// RelayConfig holds the dependencies for a [Relay].
type RelayConfig struct {
	Provider    stt.Provider
	Stream      stt.StreamConfig
	Broadcast   Broadcaster
	Transcripts Transcripts

	// OnFinal, when non-nil, observes every committed fragment as it
	// arrives. Wired to the call session's live transcript buffer.
	OnFinal func(callID int64, text string)

	// QueueSize bounds the per-stream audio queue; chunks beyond it are
	// dropped. Zero means a sensible default.
	QueueSize int
}

// Relay owns every live transcription stream. All exported methods are safe
// for concurrent use.
type Relay struct {
	provider    stt.Provider
	streamCfg   stt.StreamConfig
	broadcast   Broadcaster
	transcripts Transcripts
	onFinal     func(callID int64, text string)
	queueSize   int

	mu      sync.Mutex
	streams map[int64]*stream
}

// New creates a Relay with the given dependencies.
func New(cfg RelayConfig) *Relay {
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	return &Relay{
		provider:    cfg.Provider,
		streamCfg:   cfg.Stream,
		broadcast:   cfg.Broadcast,
		transcripts: cfg.Transcripts,
		onFinal:     cfg.OnFinal,
		queueSize:   qs,
		streams:     make(map[int64]*stream),
	}
}

// stream is one live call-to-provider pipe.
type stream struct {
	callID int64
	handle stt.SessionHandle
	audio  chan []byte

	// consumed closes when the fragment consumer has drained both provider
	// channels.
	consumed chan struct{}

	mu       sync.Mutex
	stopping bool
	finals   []string
	dropped  int

	flushOnce sync.Once
	flushText string
	flushErr  error
}

func (s *stream) markStopping() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
}

func (s *stream) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *stream) addFinal(text string) {
	s.mu.Lock()
	s.finals = append(s.finals, text)
	s.mu.Unlock()
}

func (s *stream) joinedFinals() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.finals, " ")
}

// Start opens a transcription stream for callID. Starting an already
// streaming call is an idempotent success.
func (r *Relay) Start(ctx context.Context, callID int64) error {
	r.mu.Lock()
	if _, ok := r.streams[callID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	handle, err := r.provider.StartStream(ctx, r.streamCfg)
	if err != nil {
		return fmt.Errorf("relay: start stream for call %d: %w", callID, err)
	}

	s := &stream{
		callID:   callID,
		handle:   handle,
		audio:    make(chan []byte, r.queueSize),
		consumed: make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.streams[callID]; ok {
		// Lost the race to a concurrent Start.
		r.mu.Unlock()
		_ = handle.Close()
		return nil
	}
	r.streams[callID] = s
	r.mu.Unlock()

	go r.pump(s)
	go r.consume(s)

	slog.Info("relay: stream started", "call_id", callID)
	return nil
}

// PushAudio queues an audio chunk for the call's stream. When the queue is
// full the chunk is dropped rather than blocking the caller's read loop.
func (r *Relay) PushAudio(callID int64, chunk []byte) error {
	r.mu.Lock()
	s, ok := r.streams[callID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("call %d: %w", callID, ErrNotStreaming)
	}

	select {
	case s.audio <- chunk:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%100 == 0 {
			slog.Warn("relay: audio queue full, dropping", "call_id", callID, "dropped", n)
		}
	}
	return nil
}

// Stop closes the call's stream, waits for the provider to flush, persists
// the joined transcript and returns it. Stopping a call with no live stream
// is an idempotent success returning the empty string.
func (r *Relay) Stop(ctx context.Context, callID int64) (string, error) {
	r.mu.Lock()
	s, ok := r.streams[callID]
	r.mu.Unlock()
	if !ok {
		return "", nil
	}

	s.markStopping()
	_ = s.handle.Close()
	<-s.consumed
	return r.flush(ctx, s)
}

// Active returns the number of live transcription streams.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// pump moves queued audio into the provider session. A send failure stops
// the pump; the provider then closes its fragment channels and the consumer
// handles teardown.
func (r *Relay) pump(s *stream) {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.handle.SendAudio(chunk); err != nil {
				return
			}
		case <-s.consumed:
			return
		}
	}
}

// consume drains the provider's fragment channels until both close. When the
// closure was not requested via Stop, the provider died and the consumer
// performs the abrupt teardown itself.
func (r *Relay) consume(s *stream) {
	defer close(s.consumed)
	ctx := context.Background()
	partials, finals := s.handle.Partials(), s.handle.Finals()

	for partials != nil || finals != nil {
		select {
		case f, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.send(ctx, s.callID, event.Transcript{Text: f.Text, IsFinal: false})
		case f, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.addFinal(f.Text)
			if r.onFinal != nil {
				r.onFinal(s.callID, f.Text)
			}
			r.send(ctx, s.callID, event.Transcript{Text: f.Text, IsFinal: true})
		}
	}

	if !s.isStopping() {
		if _, err := r.flush(ctx, s); err != nil {
			slog.Error("relay: abrupt flush failed", "call_id", s.callID, "err", err)
		}
		r.send(ctx, s.callID, event.Error{
			Code:    event.CodeUnavailable,
			Message: "transcription stream lost",
		})
	}
}

// flush persists the stream's joined finals exactly once and retires the
// stream. Later calls return the first flush's result.
func (r *Relay) flush(ctx context.Context, s *stream) (string, error) {
	s.flushOnce.Do(func() {
		r.mu.Lock()
		if cur, ok := r.streams[s.callID]; ok && cur == s {
			delete(r.streams, s.callID)
		}
		r.mu.Unlock()

		text := s.joinedFinals()
		s.flushText = text
		if text != "" && r.transcripts != nil {
			if err := r.transcripts.ReplaceTranscript(ctx, s.callID, text); err != nil {
				s.flushErr = fmt.Errorf("relay: persist transcript for call %d: %w", s.callID, err)
			}
		}
		slog.Info("relay: stream flushed", "call_id", s.callID, "finals", len(s.finals), "chars", len(text))
	})
	return s.flushText, s.flushErr
}

func (r *Relay) send(ctx context.Context, callID int64, ev event.Event) {
	if err := r.broadcast.BroadcastToCall(ctx, callID, ev); err != nil {
		slog.Debug("relay: broadcast skipped", "call_id", callID, "type", ev.Kind(), "err", err)
	}
}
