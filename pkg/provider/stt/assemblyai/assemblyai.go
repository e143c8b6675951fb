// Package assemblyai provides an AssemblyAI-backed STT provider using the
// AssemblyAI real-time streaming WebSocket API. It implements the
// stt.Provider interface.
package assemblyai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkwire/pkg/provider/stt"
	"github.com/MrWong99/talkwire/pkg/types"
)

const (
	assemblyaiEndpoint = "wss://api.assemblyai.com/v2/realtime/ws"
	defaultSampleRate  = 16000
)

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithSampleRate sets the provider-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL, used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the AssemblyAI real-time API.
type Provider struct {
	apiKey     string
	endpoint   string
	sampleRate int
}

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   assemblyaiEndpoint,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with AssemblyAI.
// It respects cfg.SampleRate and cfg.WordBoost.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan types.Fragment, 64),
		finals:   make(chan types.Fragment, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	if len(cfg.WordBoost) > 0 {
		boost, err := json.Marshal(cfg.WordBoost)
		if err != nil {
			return "", err
		}
		q.Set("word_boost", string(boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// realtimeMessage is the JSON structure AssemblyAI sends for transcript and
// lifecycle events.
type realtimeMessage struct {
	MessageType string  `json:"message_type"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	AudioStart  int     `json:"audio_start"`
	AudioEnd    int     `json:"audio_end"`
	Error       string  `json:"error"`
}

// audioFrame is the JSON envelope for outbound audio chunks.
type audioFrame struct {
	AudioData string `json:"audio_data"`
}

// session is a live AssemblyAI streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan types.Fragment
	finals   chan types.Fragment
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	seq int
}

// SendAudio queues a raw audio chunk for delivery to AssemblyAI.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	}
}

// Partials returns the channel of interim fragments.
func (s *session) Partials() <-chan types.Fragment { return s.partials }

// Finals returns the channel of committed fragments.
func (s *session) Finals() <-chan types.Fragment { return s.finals }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask AssemblyAI to flush pending audio and end the session.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"terminate_session":true}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends base64-wrapped frames.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.writeChunk(ctx, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.writeChunk(ctx, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *session) writeChunk(ctx context.Context, chunk []byte) error {
	frame, err := json.Marshal(audioFrame{AudioData: base64.StdEncoding.EncodeToString(chunk)})
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// readLoop receives JSON messages from AssemblyAI and dispatches them to the
// partials and finals channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		f, final, ok := parseRealtimeMessage(msg)
		if !ok {
			continue
		}

		if final {
			s.seq++
			f.Seq = s.seq
			select {
			case s.finals <- f:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- f:
			case <-s.done:
			}
		}
	}
}

// parseRealtimeMessage parses a raw AssemblyAI WebSocket message. It returns
// (fragment, isFinal, true) for transcript events, or ok=false for lifecycle
// messages and empty partials that should be ignored.
func parseRealtimeMessage(data []byte) (types.Fragment, bool, bool) {
	var msg realtimeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.Fragment{}, false, false
	}

	switch msg.MessageType {
	case "PartialTranscript":
		if strings.TrimSpace(msg.Text) == "" {
			return types.Fragment{}, false, false
		}
		return types.Fragment{Text: msg.Text, Confidence: msg.Confidence}, false, true
	case "FinalTranscript":
		if strings.TrimSpace(msg.Text) == "" {
			return types.Fragment{}, false, false
		}
		return types.Fragment{Text: msg.Text, IsFinal: true, Confidence: msg.Confidence}, true, true
	default:
		// SessionBegins, SessionTerminated and error frames carry no text.
		return types.Fragment{}, false, false
	}
}
