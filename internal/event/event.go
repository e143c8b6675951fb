// Package event defines the closed set of events delivered over live presence
// and call channels, plus the Channel sink that carries them.
//
// Every outbound payload is one of the concrete types below. The wire form is
// a flat JSON object with a "type" discriminator injected by [Marshal], so
// consumers decode the discriminator once and then match exhaustively.
package event

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindIncomingCall   Kind = "incoming_call"
	KindNewConnection  Kind = "new_connection"
	KindPresenceUpdate Kind = "presence_update"
	KindHeartbeat      Kind = "heartbeat"
	KindCallAnswered   Kind = "call_answered"
	KindTranscript     Kind = "transcript"
	KindStatus         Kind = "status"
	KindError          Kind = "error"
)

// Event is implemented by every outbound payload.
type Event interface {
	// Kind returns the wire discriminator for this payload.
	Kind() Kind
}

// Channel is the outbound half of one live duplex connection. Implementations
// must preserve the order of successive Send calls on the same channel and
// must not block indefinitely on slow peers; a full outbound buffer is a
// delivery failure, not a stall.
//
// The owning registry holds the only reference to a Channel; once Send
// reports an error the registry evicts the entry and calls Close.
type Channel interface {
	// Send enqueues ev for delivery. It returns an error if the channel is
	// closed or its outbound buffer is full.
	Send(ctx context.Context, ev Event) error

	// Close releases the underlying connection. Calling Close more than once
	// is safe.
	Close() error
}

// UserSummary is the compact user representation embedded in events.
type UserSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// IncomingCall tells a callee's presence channel that someone is calling.
type IncomingCall struct {
	CallID     int64  `json:"call_id"`
	CallerID   int64  `json:"caller_id"`
	CallerName string `json:"caller_name"`
	RoomName   string `json:"room_name"`
}

func (IncomingCall) Kind() Kind { return KindIncomingCall }

// NewConnection tells a user's presence channel that another user added them
// as a connection.
type NewConnection struct {
	User UserSummary `json:"user"`
}

func (NewConnection) Kind() Kind { return KindNewConnection }

// PresenceUpdate announces a user's online/offline transition to their
// connected peers.
type PresenceUpdate struct {
	UserID   int64 `json:"user_id"`
	IsOnline bool  `json:"is_online"`
}

func (PresenceUpdate) Kind() Kind { return KindPresenceUpdate }

// Heartbeat is the periodic ping sent on presence channels to detect silently
// dead peers.
type Heartbeat struct{}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// CallAnswered announces the INITIATED → PICKED_UP transition to all
// participants of a call.
type CallAnswered struct {
	CallID int64 `json:"call_id"`
}

func (CallAnswered) Kind() Kind { return KindCallAnswered }

// Transcript carries one transcription fragment to a call's channels.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func (Transcript) Kind() Kind { return KindTranscript }

// Status is a human-readable progress notice on a call channel.
type Status struct {
	Message string `json:"message"`
}

func (Status) Kind() Kind { return KindStatus }

// Error codes distinguish "not found" from "not allowed" from "wrong state"
// in structured error events.
const (
	CodeNotFound     = "not_found"
	CodeNotAllowed   = "not_allowed"
	CodeInvalidState = "invalid_state"
	CodeUnavailable  = "unavailable"
	CodeBadRequest   = "bad_request"
)

// Error is a structured failure notice delivered to the channel whose request
// caused it. The channel stays open.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) Kind() Kind { return KindError }

// Marshal encodes ev as a flat JSON object with the "type" discriminator
// injected alongside the payload fields.
func Marshal(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", ev.Kind(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("event: %s is not an object: %w", ev.Kind(), err)
	}
	kind, err := json.Marshal(ev.Kind())
	if err != nil {
		return nil, fmt.Errorf("event: marshal kind: %w", err)
	}
	fields["type"] = kind
	return json.Marshal(fields)
}
