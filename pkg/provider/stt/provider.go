// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle:
// once opened, a session accepts raw audio chunks and emits two streams of
// [types.Fragment] values: low-latency partials for live display and
// authoritative finals for the durable call transcript.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/talkwire/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session. All fields must be compatible with what the underlying
// provider supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browser microphone capture
	// typically arrives at 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// WordBoost is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as product names.
	WordBoost []string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed; failing to
// do so leaks goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim fragments as the
	// provider revises its guess for the utterance in flight. Partials must
	// never be written to the durable transcript. The channel is closed when
	// the session ends.
	Partials() <-chan types.Fragment

	// Finals returns a read-only channel emitting committed fragments, in
	// utterance order. These are the values that belong in the durable call
	// transcript. The channel is closed when the session ends.
	Finals() <-chan types.Fragment

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously, one per active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately. The caller owns the handle and
	// must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
