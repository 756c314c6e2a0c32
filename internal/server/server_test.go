package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skillbridge/liveroom/internal/config"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/session"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() *config.Server {
	return &config.Server{
		Addr: "127.0.0.1:0",
		Auth: config.Auth{UserHeader: "X-User-ID"},
		Room: config.Room{
			GracePeriod:   time.Minute,
			SweepInterval: time.Second,
			MaxPoints:     100,
			MaxStrokes:    100,
			MaxChatLength: 50,
			ChatHistory:   10,
		},
		Session: config.Session{
			Duration:       20 * time.Minute,
			Store:          "memory",
			RetryAttempts:  2,
			RetryBackoff:   time.Millisecond,
			PersistTimeout: time.Second,
		},
		WebSocket: config.WebSocket{
			MaxMessageSize: 64 * 1024,
			SendBuffer:     64,
			WriteWait:      time.Second,
			PongWait:       10 * time.Second,
		},
	}
}

type fixture struct {
	srv   *Server
	http  *httptest.Server
	store *session.MemoryStore
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	store := session.NewMemoryStore(true)
	srv := New(testConfig(), store, Options{Now: clk.Now})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub.Close()
		hs.Close()
	})
	return &fixture{srv: srv, http: hs, store: store, clock: clk}
}

type peer struct {
	t     *testing.T
	user  string
	conn  *websocket.Conn
	codec protocol.Codec
}

func (f *fixture) dial(t *testing.T, user string, codec protocol.Codec) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	dialer := websocket.Dialer{Subprotocols: []string{codec.Subprotocol()}, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{"X-User-ID": []string{user}})
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	if resp.Header.Get("Sec-WebSocket-Protocol") != codec.Subprotocol() {
		t.Fatalf("negotiated %q, want %q", resp.Header.Get("Sec-WebSocket-Protocol"), codec.Subprotocol())
	}
	t.Cleanup(func() { conn.Close() })
	return &peer{t: t, user: user, conn: conn, codec: codec}
}

func (p *peer) send(msg *protocol.Message) {
	p.t.Helper()
	data, err := p.codec.Marshal(msg)
	if err != nil {
		p.t.Fatalf("marshal: %v", err)
	}
	frame := websocket.TextMessage
	if p.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	if err := p.conn.WriteMessage(frame, data); err != nil {
		p.t.Fatalf("%s write: %v", p.user, err)
	}
}

// next reads the next message, whatever its type.
func (p *peer) next() *protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("%s read: %v", p.user, err)
	}
	var msg protocol.Message
	if err := p.codec.Unmarshal(data, &msg); err != nil {
		p.t.Fatalf("%s unmarshal: %v", p.user, err)
	}
	return &msg
}

// expect reads until a message of type typ arrives, skipping others.
func (p *peer) expect(typ protocol.Type) *protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.t.Fatalf("%s waiting for %s: %v", p.user, typ, err)
		}
		var msg protocol.Message
		if err := p.codec.Unmarshal(data, &msg); err != nil {
			p.t.Fatalf("%s unmarshal: %v", p.user, err)
		}
		if msg.Type == typ {
			return &msg
		}
	}
}

func (p *peer) join(roomID string) *protocol.Message {
	p.t.Helper()
	p.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: roomID})
	return p.expect(protocol.TypeRoomJoined)
}

func TestOfferAnswerRoutedPointToPoint(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.Msgpack} {
		t.Run(codec.Subprotocol(), func(t *testing.T) {
			f := newFixture(t)
			a := f.dial(t, "A", codec)
			b := f.dial(t, "B", codec)

			if ack := a.join("r1"); len(ack.Peers) != 0 || ack.Timer == nil || ack.Timer.Started {
				t.Fatalf("A ack=%+v", ack)
			}
			if ack := b.join("r1"); len(ack.Peers) != 1 || ack.Peers[0] != "A" {
				t.Fatalf("B ack peers=%v", ack.Peers)
			}
			if got := a.expect(protocol.TypeUserConnected); got.UserID != "B" {
				t.Fatalf("user-connected=%+v", got)
			}
			if tm := a.expect(protocol.TypeTimer).Timer; tm == nil || !tm.Started || tm.RemainingSeconds != 1200 {
				t.Fatalf("A timer=%+v", tm)
			}

			// Caller is rewritten from the connection identity.
			a.send(&protocol.Message{Type: protocol.TypeOffer, RoomID: "r1", Target: "B", Caller: "Z", SDP: protocol.Payload(`{"type":"offer","sdp":"v=0"}`)})
			offer := b.expect(protocol.TypeOffer)
			if offer.Caller != "A" || string(offer.SDP) != `{"type":"offer","sdp":"v=0"}` {
				t.Fatalf("offer=%+v sdp=%s", offer, offer.SDP)
			}

			b.send(&protocol.Message{Type: protocol.TypeAnswer, Target: "A", SDP: protocol.Payload(`{"type":"answer","sdp":"v=0"}`)})
			if answer := a.expect(protocol.TypeAnswer); answer.Caller != "B" {
				t.Fatalf("answer=%+v", answer)
			}

			b.send(&protocol.Message{Type: protocol.TypeICECandidate, Target: "A", Candidate: protocol.Payload(`{"candidate":"c1"}`)})
			if cand := a.expect(protocol.TypeICECandidate); string(cand.Candidate) != `{"candidate":"c1"}` {
				t.Fatalf("candidate=%s", cand.Candidate)
			}

			// Absent target is dropped without telling the sender.
			a.send(&protocol.Message{Type: protocol.TypeOffer, Target: "nobody", SDP: protocol.Payload(`{}`)})
			a.send(&protocol.Message{Type: protocol.TypeGetTimer})
			a.expect(protocol.TypeTimer)

			m := f.srv.Metrics()
			if got := testutil.ToFloat64(m.Signals.WithLabelValues("offer", "delivered")); got != 1 {
				t.Fatalf("delivered offers=%v", got)
			}
			if got := testutil.ToFloat64(m.Signals.WithLabelValues("offer", "dropped")); got != 1 {
				t.Fatalf("dropped offers=%v", got)
			}
		})
	}
}

func TestThirdParticipantGetsRoomFull(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "A", protocol.JSON).join("r1")
	f.dial(t, "B", protocol.JSON).join("r1")

	c := f.dial(t, "C", protocol.JSON)
	c.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: "r1"})
	if e := c.expect(protocol.TypeError); e.Error.Code != protocol.CodeRoomFull {
		t.Fatalf("error=%+v", e.Error)
	}
	if got := testutil.ToFloat64(f.srv.Metrics().Joins.WithLabelValues(protocol.CodeRoomFull)); got != 1 {
		t.Fatalf("room_full joins=%v", got)
	}
}

func TestWhiteboardAndChatForLateJoiner(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A", protocol.JSON)
	a.join("r1")

	s1 := protocol.Stroke{Points: []protocol.Point{{X: 1, Y: 1}}, Color: "#000", Width: 2}
	a.send(&protocol.Message{Type: protocol.TypeDrawStroke, Stroke: &s1})
	a.send(&protocol.Message{Type: protocol.TypeSendMessage, Chat: &protocol.ChatMessage{Text: "hello"}})
	// A round trip guarantees both were processed.
	a.send(&protocol.Message{Type: protocol.TypeGetWhiteboard})
	if st := a.expect(protocol.TypeWhiteboardState); len(st.Strokes) != 1 {
		t.Fatalf("A state=%+v", st.Strokes)
	}

	b := f.dial(t, "B", protocol.Msgpack)
	ack := b.join("r1")
	if len(ack.History) != 1 || ack.History[0].Text != "hello" || ack.History[0].SenderID != "A" {
		t.Fatalf("history=%+v", ack.History)
	}
	b.send(&protocol.Message{Type: protocol.TypeGetWhiteboard})
	st := b.expect(protocol.TypeWhiteboardState)
	if len(st.Strokes) != 1 || st.Strokes[0].Color != "#000" {
		t.Fatalf("B state=%+v", st.Strokes)
	}

	b.send(&protocol.Message{Type: protocol.TypeSendMessage, Chat: &protocol.ChatMessage{Text: "hi back"}})
	if got := a.expect(protocol.TypeReceiveMessage); got.Chat.Text != "hi back" || got.Chat.SenderID != "B" {
		t.Fatalf("chat=%+v", got.Chat)
	}

	b.send(&protocol.Message{Type: protocol.TypeClearBoard})
	a.expect(protocol.TypeClearBoard)
	b.expect(protocol.TypeClearBoard)

	b.send(&protocol.Message{Type: protocol.TypeSendMessage, Chat: &protocol.ChatMessage{Text: strings.Repeat("x", 51)}})
	if e := b.expect(protocol.TypeError); e.Error.Code != protocol.CodeMessageTooLong {
		t.Fatalf("error=%+v", e.Error)
	}
}

func TestDisconnectNotifiesPeer(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A", protocol.JSON)
	b := f.dial(t, "B", protocol.JSON)
	a.join("r1")
	b.join("r1")
	a.expect(protocol.TypeUserConnected)

	b.conn.Close()
	if got := a.expect(protocol.TypeUserDisconnected); got.UserID != "B" {
		t.Fatalf("user-disconnected=%+v", got)
	}

	// B reconnects into the freed slot and A is told once.
	b2 := f.dial(t, "B", protocol.JSON)
	b2.join("r1")
	if got := a.expect(protocol.TypeUserConnected); got.UserID != "B" {
		t.Fatalf("user-connected=%+v", got)
	}
}

func TestSessionEndsWhenTimeRunsOut(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A", protocol.JSON)
	b := f.dial(t, "B", protocol.Msgpack)
	a.join("r1")
	b.join("r1")
	// Both participants get the clock pushed when the second one arrives.
	a.expect(protocol.TypeTimer)
	b.expect(protocol.TypeTimer)

	f.clock.Advance(19 * time.Minute)
	f.srv.Hub.Tick()
	a.send(&protocol.Message{Type: protocol.TypeGetTimer})
	if tm := a.expect(protocol.TypeTimer).Timer; tm.RemainingSeconds != 60 {
		t.Fatalf("remaining=%d, want 60", tm.RemainingSeconds)
	}

	f.clock.Advance(time.Minute + time.Second)
	f.srv.Hub.Tick()
	f.srv.Hub.Tick()
	for _, p := range []*peer{a, b} {
		if ended := p.expect(protocol.TypeSessionEnded); ended.Timer == nil || ended.Timer.RemainingSeconds != 0 {
			t.Fatalf("%s session-ended=%+v", p.user, ended)
		}
	}
	if got := testutil.ToFloat64(f.srv.Metrics().SessionsTerminated); got != 1 {
		t.Fatalf("terminated=%v, want 1", got)
	}

	f.srv.Hub.Close() // waits for the status write
	rec, _ := f.store.GetSession(context.Background(), "r1")
	if rec.Status != session.StatusCompleted {
		t.Fatalf("status=%s, want completed", rec.Status)
	}

	late := f.dial(t, "A", protocol.JSON)
	late.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: "r1"})
	if e := late.expect(protocol.TypeError); e.Error.Code != protocol.CodeSessionEnded {
		t.Fatalf("error=%+v", e.Error)
	}
}

func TestMessagesNeedAJoin(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A", protocol.JSON)
	a.send(&protocol.Message{Type: protocol.TypeDrawStroke, Stroke: &protocol.Stroke{}})
	if e := a.next(); e.Type != protocol.TypeError || e.Error.Code != protocol.CodeNotJoined {
		t.Fatalf("got %+v", e)
	}

	a.join("r1")
	a.send(&protocol.Message{Type: protocol.TypeDrawStroke, RoomID: "other", Stroke: &protocol.Stroke{}})
	if e := a.expect(protocol.TypeError); e.Error.Code != protocol.CodeUnknownRoom {
		t.Fatalf("error=%+v", e.Error)
	}
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: "r1", UserID: "B"})
	if e := a.expect(protocol.TypeError); e.Error.Code != protocol.CodeUnauthorized {
		t.Fatalf("error=%+v", e.Error)
	}
}

func TestMisroutedNegotiationIsDropped(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, "A", protocol.JSON)

	// Before joining: no reply, the next message is the join ack.
	a.send(&protocol.Message{Type: protocol.TypeOffer, Target: "B", SDP: protocol.Payload(`{}`)})
	a.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: "r1"})
	if m := a.next(); m.Type != protocol.TypeRoomJoined {
		t.Fatalf("got %s, want room-joined", m.Type)
	}

	// Addressed to another room: dropped the same way.
	a.send(&protocol.Message{Type: protocol.TypeICECandidate, RoomID: "other", Target: "B", Candidate: protocol.Payload(`{}`)})
	a.send(&protocol.Message{Type: protocol.TypeGetTimer})
	if m := a.next(); m.Type != protocol.TypeTimer {
		t.Fatalf("got %s, want timer", m.Type)
	}

	signals := f.srv.Metrics().Signals
	if got := testutil.ToFloat64(signals.WithLabelValues("offer", "dropped")); got != 1 {
		t.Fatalf("dropped offers=%v, want 1", got)
	}
	if got := testutil.ToFloat64(signals.WithLabelValues("candidate", "dropped")); got != 1 {
		t.Fatalf("dropped candidates=%v, want 1", got)
	}
}

func TestUpgradeRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial without identity succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v", resp)
	}
}

func TestHealthAndRooms(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "A", protocol.JSON).join("r1")

	resp, err := http.Get(f.http.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health=%v err=%v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(f.http.URL + "/rooms")
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	defer resp.Body.Close()
	var rooms []RoomView
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" || len(rooms[0].Participants) != 1 || rooms[0].Timer == nil {
		t.Fatalf("rooms=%+v", rooms)
	}

	resp, err = http.Get(f.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?userId=q", nil)
	if _, _, err := (HeaderAuthenticator{}).Authenticate(r); err == nil {
		t.Fatalf("query id accepted without AllowAnonymous")
	}
	id, _, err := (HeaderAuthenticator{AllowAnonymous: true}).Authenticate(r)
	if err != nil || id != "q" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	r.Header.Set("X-User-ID", "h")
	if id, _, _ := (HeaderAuthenticator{AllowAnonymous: true}).Authenticate(r); id != "h" {
		t.Fatalf("header should win, got %q", id)
	}
}

func TestCheckOrigin(t *testing.T) {
	up := Upgrader([]string{"https://app.example/"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://app.example")
	if !up.CheckOrigin(r) {
		t.Fatalf("allowed origin rejected")
	}
	r.Header.Set("Origin", "https://evil.example")
	if up.CheckOrigin(r) {
		t.Fatalf("foreign origin accepted")
	}
}
