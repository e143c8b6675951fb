package ws_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkwire/internal/auth"
	authmock "github.com/MrWong99/talkwire/internal/auth/mock"
	"github.com/MrWong99/talkwire/internal/call"
	"github.com/MrWong99/talkwire/internal/graph"
	"github.com/MrWong99/talkwire/internal/presence"
	"github.com/MrWong99/talkwire/internal/relay"
	"github.com/MrWong99/talkwire/internal/router"
	"github.com/MrWong99/talkwire/internal/ws"
	sttmock "github.com/MrWong99/talkwire/pkg/provider/stt/mock"
	"github.com/MrWong99/talkwire/pkg/store"
	storemock "github.com/MrWong99/talkwire/pkg/store/mock"
)

// harness wires a full in-memory server: mock auth, mock store, mock STT and
// the real registries, router and relay between them.
type harness struct {
	srv      *httptest.Server
	store    *storemock.Store
	presence *presence.Registry
	calls    *call.Registry
	relay    *relay.Relay
	sttSess  *sttmock.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := &storemock.Store{}
	st.AddUser(store.User{ID: 1, Name: "alice"})
	st.AddUser(store.User{ID: 2, Name: "bob"})
	st.AddUser(store.User{ID: 3, Name: "mallory"})
	st.AddEdge(1, 2)

	authn := &authmock.Authenticator{}
	authn.Grant("tok-alice", auth.Principal{UserID: 1, Name: "alice"})
	authn.Grant("tok-bob", auth.Principal{UserID: 2, Name: "bob"})
	authn.Grant("tok-mallory", auth.Principal{UserID: 3, Name: "mallory"})

	gw := graph.New(st)
	presenceReg := presence.NewRegistry()
	callReg := call.NewRegistry(call.RegistryConfig{Graph: gw, Records: st, Users: st})
	rt := router.New(router.RouterConfig{Presence: presenceReg, Calls: callReg, Audience: gw})
	callReg.SetNotifier(rt)
	presenceReg.SetOnChange(func(userID int64, online bool) {
		rt.BroadcastPresence(context.Background(), userID, online)
	})

	sttSess := sttmock.NewSession()
	rl := relay.New(relay.RelayConfig{
		Provider:    &sttmock.Provider{Session: sttSess},
		Broadcast:   rt,
		Transcripts: st,
		OnFinal: func(callID int64, text string) {
			if sess, err := callReg.Get(callID); err == nil {
				sess.AppendFinal(text)
			}
		},
	})

	mux := http.NewServeMux()
	mux.Handle("GET /ws/presence", ws.NewPresenceHandler(ws.PresenceHandlerConfig{
		Auth:              authn,
		Registry:          presenceReg,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  500 * time.Millisecond,
	}))
	mux.Handle("GET /ws/call/{callID}", ws.NewCallHandler(ws.CallHandlerConfig{
		Auth:  authn,
		Calls: callReg,
		Relay: rl,
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = presenceReg.Close() })

	return &harness{
		srv:      srv,
		store:    st,
		presence: presenceReg,
		calls:    callReg,
		relay:    rl,
		sttSess:  sttSess,
	}
}

func (h *harness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
}

func dial(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", rawURL, err)
	}
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readEvent reads frames until one of the wanted types arrives, skipping
// heartbeats and other chatter.
func readEvent(t *testing.T, conn *websocket.Conn, wantTypes ...string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %v: %v", wantTypes, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		typ, _ := msg["type"].(string)
		for _, want := range wantTypes {
			if typ == want {
				return msg
			}
		}
	}
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

func TestPresenceRejectsBadToken(t *testing.T) {
	h := newHarness(t)

	conn := dial(t, h.wsURL("/ws/presence?token=forged"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("server kept an unauthenticated presence socket open")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", got)
	}
	if h.presence.Online() != 0 {
		t.Error("unauthenticated socket left presence state behind")
	}
}

func TestPresenceLifecycle(t *testing.T) {
	h := newHarness(t)

	conn := dial(t, h.wsURL("/ws/presence?token=tok-alice"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { return h.presence.IsOnline(1) }, "alice online")

	// The server pings on its interval; answer once like a real client.
	readEvent(t, conn, "heartbeat")
	sendJSON(t, conn, map[string]string{"type": "heartbeat_response"})

	sendJSON(t, conn, map[string]string{"type": "disconnect"})
	waitFor(t, func() bool { return !h.presence.IsOnline(1) }, "alice offline")
}

func TestPresencePeersSeeEachOther(t *testing.T) {
	h := newHarness(t)

	aliceConn := dial(t, h.wsURL("/ws/presence?token=tok-alice"))
	defer aliceConn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return h.presence.IsOnline(1) }, "alice online")

	bobConn := dial(t, h.wsURL("/ws/presence?token=tok-bob"))
	defer bobConn.Close(websocket.StatusNormalClosure, "")

	// Alice and Bob share an edge, so Alice hears Bob come online.
	msg := readEvent(t, aliceConn, "presence_update")
	if uid, _ := msg["user_id"].(float64); int64(uid) != 2 {
		t.Errorf("presence_update user_id = %v, want 2", msg["user_id"])
	}
	if online, _ := msg["is_online"].(bool); !online {
		t.Error("presence_update is_online = false, want true")
	}
}

func TestIncomingCallReachesCallee(t *testing.T) {
	h := newHarness(t)

	bobConn := dial(t, h.wsURL("/ws/presence?token=tok-bob"))
	defer bobConn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return h.presence.IsOnline(2) }, "bob online")

	sess, err := h.calls.Create(context.Background(), 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	msg := readEvent(t, bobConn, "incoming_call")
	if id, _ := msg["call_id"].(float64); int64(id) != sess.ID() {
		t.Errorf("incoming_call call_id = %v, want %d", msg["call_id"], sess.ID())
	}
	if room, _ := msg["room_name"].(string); room != sess.RoomName() {
		t.Errorf("incoming_call room_name = %q, want %q", room, sess.RoomName())
	}
}

func TestCallChannelRejectsNonParticipant(t *testing.T) {
	h := newHarness(t)

	sess, err := h.calls.Create(context.Background(), 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	conn := dial(t, h.wsURL("/ws/call/"+strconv.FormatInt(sess.ID(), 10)+"?token=tok-mallory"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", got)
	}
}

func TestCallTranscriptionRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.calls.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	callPath := "/ws/call/" + strconv.FormatInt(sess.ID(), 10)

	conn := dial(t, h.wsURL(callPath+"?token=tok-alice"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendJSON(t, conn, map[string]string{"type": "start_transcription"})
	status := readEvent(t, conn, "status")
	if got, _ := status["message"].(string); got != "Transcription started" {
		t.Errorf("status = %q, want %q", got, "Transcription started")
	}

	sendJSON(t, conn, map[string]string{
		"type": "audio",
		"data": base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}),
	})
	waitFor(t, func() bool { return len(h.sttSess.AudioChunks()) == 1 }, "audio at provider")

	h.sttSess.EmitPartial("hel")
	partial := readEvent(t, conn, "transcript")
	if final, _ := partial["is_final"].(bool); final {
		t.Error("first transcript event is final, want partial")
	}

	h.sttSess.EmitFinal("Hello")
	h.sttSess.EmitFinal("world")
	readEvent(t, conn, "transcript")
	readEvent(t, conn, "transcript")

	sendJSON(t, conn, map[string]string{"type": "stop_transcription"})
	status = readEvent(t, conn, "status")
	if got, _ := status["message"].(string); got != "Transcription stopped and saved" {
		t.Errorf("status = %q, want %q", got, "Transcription stopped and saved")
	}
	if got := h.store.Transcript(sess.ID()); got != "Hello world" {
		t.Errorf("persisted transcript = %q, want %q", got, "Hello world")
	}
	if got := sess.Transcript(); got != "Hello world" {
		t.Errorf("session transcript = %q, want %q", got, "Hello world")
	}
}

func TestCallEndBroadcastsToChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess, err := h.calls.Create(ctx, 1, 2, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	callPath := "/ws/call/" + strconv.FormatInt(sess.ID(), 10)

	conn := dial(t, h.wsURL(callPath+"?token=tok-bob"))
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server a beat to attach before answering.
	waitFor(t, func() bool {
		chs, err := h.calls.Channels(sess.ID())
		return err == nil && len(chs) == 1
	}, "channel attach")

	if err := h.calls.Answer(ctx, sess.ID()); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	msg := readEvent(t, conn, "call_answered")
	if id, _ := msg["call_id"].(float64); int64(id) != sess.ID() {
		t.Errorf("call_answered call_id = %v, want %d", msg["call_id"], sess.ID())
	}
}
