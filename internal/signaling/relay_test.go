package signaling

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skillbridge/liveroom/internal/metrics"
	"github.com/skillbridge/liveroom/internal/protocol"
	"github.com/skillbridge/liveroom/internal/room"
)

type recorder struct {
	id, user string

	mu   sync.Mutex
	msgs []*protocol.Message
}

func (c *recorder) ID() string     { return c.id }
func (c *recorder) UserID() string { return c.user }
func (c *recorder) Close()         {}

func (c *recorder) Deliver(msg *protocol.Message) bool {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return true
}

func (c *recorder) negotiations() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Message
	for _, m := range c.msgs {
		if _, ok := protocol.NegotiationFrom(m); ok {
			out = append(out, m)
		}
	}
	return out
}

func newTestRelay(t *testing.T) (*Relay, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewRelay(room.NewRegistry(room.Options{}), m, nil), m
}

func joinPair(t *testing.T, r *Relay) (*recorder, *recorder) {
	t.Helper()
	a, b := &recorder{id: "c1", user: "A"}, &recorder{id: "c2", user: "B"}
	for _, c := range []*recorder{a, b} {
		if _, err := r.Join("r1", c, nil); err != nil {
			t.Fatalf("join %s: %v", c.user, err)
		}
	}
	return a, b
}

func signals(m *metrics.Metrics, kind, outcome string) float64 {
	return testutil.ToFloat64(m.Signals.WithLabelValues(kind, outcome))
}

func TestRelayPointToPoint(t *testing.T) {
	r, m := newTestRelay(t)
	a, b := joinPair(t, r)

	if err := r.SendOffer("r1", a, "B", protocol.Payload(`{"type":"offer"}`)); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	if err := r.SendAnswer("r1", b, "A", protocol.Payload(`{"type":"answer"}`)); err != nil {
		t.Fatalf("SendAnswer: %v", err)
	}
	if err := r.SendIceCandidate("r1", b, "A", protocol.Payload(`{"candidate":"c"}`)); err != nil {
		t.Fatalf("SendIceCandidate: %v", err)
	}

	got := b.negotiations()
	if len(got) != 1 || got[0].Type != protocol.TypeOffer || got[0].Caller != "A" || got[0].Target != "B" {
		t.Fatalf("B got %+v", got)
	}
	if string(got[0].SDP) != `{"type":"offer"}` {
		t.Fatalf("payload changed in transit: %s", got[0].SDP)
	}
	got = a.negotiations()
	if len(got) != 2 || got[0].Type != protocol.TypeAnswer || got[1].Type != protocol.TypeICECandidate {
		t.Fatalf("A got %+v", got)
	}
	if v := signals(m, "offer", metrics.Delivered); v != 1 {
		t.Fatalf("delivered offers=%v, want 1", v)
	}
}

func TestRelayKeepsSenderOrder(t *testing.T) {
	r, _ := newTestRelay(t)
	a, b := joinPair(t, r)

	for i := 0; i < 100; i++ {
		if err := r.SendIceCandidate("r1", a, "B", protocol.Payload(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("candidate %d: %v", i, err)
		}
	}
	got := b.negotiations()
	if len(got) != 100 {
		t.Fatalf("B got %d candidates, want 100", len(got))
	}
	for i, msg := range got {
		if want := fmt.Sprintf(`{"n":%d}`, i); string(msg.Candidate) != want {
			t.Fatalf("candidate %d = %s, want %s", i, msg.Candidate, want)
		}
	}
}

func TestRelayDropsForAbsentTarget(t *testing.T) {
	r, m := newTestRelay(t)
	a := &recorder{id: "c1", user: "A"}
	r.Join("r1", a, nil)

	if err := r.SendOffer("r1", a, "B", protocol.Payload(`{}`)); !errors.Is(err, ErrTargetAbsent) {
		t.Fatalf("err=%v, want ErrTargetAbsent", err)
	}
	if err := r.SendOffer("r1", a, "A", protocol.Payload(`{}`)); !errors.Is(err, ErrTargetAbsent) {
		t.Fatalf("self-addressed err=%v", err)
	}
	if got := a.negotiations(); len(got) != 0 {
		t.Fatalf("sender received %+v", got)
	}
	if v := signals(m, "offer", metrics.Dropped); v != 2 {
		t.Fatalf("dropped offers=%v, want 2", v)
	}
}

func TestRelayUnknownRoomIsNoop(t *testing.T) {
	r, m := newTestRelay(t)
	a := &recorder{id: "c1", user: "A"}

	if err := r.SendAnswer("nowhere", a, "B", protocol.Payload(`{}`)); !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("err=%v, want room.ErrNotFound", err)
	}
	if v := signals(m, "answer", metrics.UnknownRoom); v != 1 {
		t.Fatalf("unknown_room answers=%v, want 1", v)
	}
	if _, ok := r.rooms.Get("nowhere"); ok {
		t.Fatalf("forwarding created a room")
	}
}

func TestRelayRejectsSenderOutsideRoom(t *testing.T) {
	r, m := newTestRelay(t)
	a, b := joinPair(t, r)

	outsider := &recorder{id: "c9", user: "Z"}
	if err := r.SendOffer("r1", outsider, "B", protocol.Payload(`{}`)); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("outsider err=%v", err)
	}

	// A reconnects; the evicted connection keeps its user id but not the slot.
	fresh := &recorder{id: "c3", user: "A"}
	if _, err := r.Join("r1", fresh, nil); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := r.SendOffer("r1", a, "B", protocol.Payload(`{}`)); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("evicted err=%v", err)
	}
	if got := b.negotiations(); len(got) != 0 {
		t.Fatalf("B got %+v", got)
	}
	if err := r.SendOffer("r1", fresh, "B", protocol.Payload(`{}`)); err != nil {
		t.Fatalf("current connection: %v", err)
	}
	if v := signals(m, "offer", metrics.Dropped); v != 2 {
		t.Fatalf("dropped offers=%v, want 2", v)
	}
}

func TestRelayLeave(t *testing.T) {
	r, _ := newTestRelay(t)
	a, b := joinPair(t, r)

	stale := &recorder{id: "c7", user: "B"}
	if r.Leave("r1", stale) {
		t.Fatalf("a connection that never joined left the room")
	}
	if !r.Leave("r1", b) {
		t.Fatalf("Leave reported nothing detached")
	}

	a.mu.Lock()
	last := a.msgs[len(a.msgs)-1]
	a.mu.Unlock()
	if last.Type != protocol.TypeUserDisconnected || last.UserID != "B" {
		t.Fatalf("A last message=%+v", last)
	}
	if err := r.SendOffer("r1", a, "B", protocol.Payload(`{}`)); !errors.Is(err, ErrTargetAbsent) {
		t.Fatalf("offer after leave err=%v", err)
	}
}
