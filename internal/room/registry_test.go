package room

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/skillbridge/liveroom/internal/protocol"
)

type recorder struct {
	id     string
	user   string
	mu     sync.Mutex
	msgs   []*protocol.Message
	closed bool
}

func newRecorder(id, user string) *recorder { return &recorder{id: id, user: user} }

func (c *recorder) ID() string     { return c.id }
func (c *recorder) UserID() string { return c.user }

func (c *recorder) Deliver(msg *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *recorder) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recorder) count(typ protocol.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (c *recorder) types() []protocol.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Type, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Type
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestJoinNotifiesFirstParticipantOnce(t *testing.T) {
	reg := NewRegistry(Options{})
	a, b := newRecorder("c1", "A"), newRecorder("c2", "B")

	res, err := reg.Join("r1", a, nil)
	if err != nil {
		t.Fatalf("Join A: %v", err)
	}
	if res.Peer != "" || !res.Created {
		t.Fatalf("first join=%+v", res)
	}

	res, err = reg.Join("r1", b, nil)
	if err != nil {
		t.Fatalf("Join B: %v", err)
	}
	if res.Peer != "A" {
		t.Fatalf("Peer=%q, want A", res.Peer)
	}
	if got := a.count(protocol.TypeUserConnected); got != 1 {
		t.Fatalf("A user-connected=%d, want 1", got)
	}
	if got := b.count(protocol.TypeUserConnected); got != 0 {
		t.Fatalf("B user-connected=%d, want 0", got)
	}
	if a.msgs[0].UserID != "B" {
		t.Fatalf("user-connected names %q, want B", a.msgs[0].UserID)
	}
}

func TestThirdParticipantRejected(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.Join("r1", newRecorder("c1", "A"), nil)
	reg.Join("r1", newRecorder("c2", "B"), nil)

	_, err := reg.Join("r1", newRecorder("c3", "C"), nil)
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("Join C err=%v, want ErrRoomFull", err)
	}
	if got := reg.ListParticipants("r1"); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("participants=%v", got)
	}
}

func TestRejoinReplacesAttachment(t *testing.T) {
	reg := NewRegistry(Options{})
	a1, b := newRecorder("c1", "A"), newRecorder("c2", "B")
	reg.Join("r1", a1, nil)
	reg.Join("r1", b, nil)

	a2 := newRecorder("c3", "A")
	res, err := reg.Join("r1", a2, nil)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.Replaced || res.Peer != "B" {
		t.Fatalf("rejoin=%+v", res)
	}
	if !a1.closed {
		t.Fatalf("old attachment still open")
	}
	want := []protocol.Type{protocol.TypeUserDisconnected, protocol.TypeUserConnected}
	if got := b.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("B saw %v, want %v", got, want)
	}

	// The stale connection closing late must not evict the new one.
	if reg.Detach("r1", a1) {
		t.Fatalf("stale Detach removed the new attachment")
	}
	if got := reg.ListParticipants("r1"); len(got) != 2 {
		t.Fatalf("participants=%v", got)
	}
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	reg := NewRegistry(Options{GracePeriod: time.Minute})
	a, b := newRecorder("c1", "A"), newRecorder("c2", "B")
	reg.Join("r1", a, nil)
	reg.Join("r1", b, nil)

	if !reg.Leave("r1", "B") {
		t.Fatalf("Leave B=false")
	}
	if got := a.count(protocol.TypeUserDisconnected); got != 1 {
		t.Fatalf("A user-disconnected=%d, want 1", got)
	}
	if reg.Leave("r1", "B") {
		t.Fatalf("second Leave B=true")
	}
	if reg.Leave("nope", "A") {
		t.Fatalf("Leave on unknown room=true")
	}
}

func TestJoinAdmitRunsBeforePeerNotified(t *testing.T) {
	reg := NewRegistry(Options{})
	a := newRecorder("c1", "A")
	reg.Join("r1", a, nil)

	b := newRecorder("c2", "B")
	var seenByA int
	reg.Join("r1", b, func(st *State) {
		seenByA = a.count(protocol.TypeUserConnected)
		st.SendTo("B", &protocol.Message{Type: protocol.TypeRoomJoined})
	})
	if seenByA != 0 {
		t.Fatalf("A notified before admit ran")
	}
	if got := b.types(); len(got) != 1 || got[0] != protocol.TypeRoomJoined {
		t.Fatalf("B saw %v", got)
	}
}

func TestGracePeriodSweep(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	reg := NewRegistry(Options{GracePeriod: 2 * time.Minute, Now: clk.Now})

	a := newRecorder("c1", "A")
	reg.Join("r1", a, nil)
	r, _ := reg.Get("r1")
	r.Do(func(st *State) { st.Strokes = append(st.Strokes, protocol.Stroke{Color: "#000"}) })
	reg.Leave("r1", "A")

	clk.Add(time.Minute)
	if swept := reg.Sweep(); len(swept) != 0 {
		t.Fatalf("swept early: %v", swept)
	}

	// Reconnect within the grace period keeps the board.
	reg.Join("r1", newRecorder("c2", "A"), nil)
	r2, _ := reg.Get("r1")
	if r2 != r {
		t.Fatalf("room was recreated")
	}
	reg.Leave("r1", "A")

	clk.Add(2 * time.Minute)
	if swept := reg.Sweep(); len(swept) != 1 || swept[0] != "r1" {
		t.Fatalf("swept=%v, want [r1]", swept)
	}
	if reg.Len() != 0 {
		t.Fatalf("Len=%d after sweep", reg.Len())
	}
}

func TestZeroGraceRemovesImmediately(t *testing.T) {
	reg := NewRegistry(Options{})
	reg.Join("r1", newRecorder("c1", "A"), nil)
	reg.Leave("r1", "A")
	if _, ok := reg.Get("r1"); ok {
		t.Fatalf("room survived last leave with zero grace")
	}

	// A fresh join starts from an empty room.
	res, err := reg.Join("r1", newRecorder("c2", "A"), nil)
	if err != nil || !res.Created {
		t.Fatalf("Join=%+v err=%v", res, err)
	}
}

func TestEndClosesAndRejects(t *testing.T) {
	reg := NewRegistry(Options{GracePeriod: time.Minute})
	a, b := newRecorder("c1", "A"), newRecorder("c2", "B")
	reg.Join("r1", a, nil)
	reg.Join("r1", b, nil)

	if !reg.End("r1", &protocol.Message{Type: protocol.TypeSessionEnded}) {
		t.Fatalf("End=false")
	}
	if reg.End("r1", &protocol.Message{Type: protocol.TypeSessionEnded}) {
		t.Fatalf("second End=true")
	}
	for _, c := range []*recorder{a, b} {
		if c.count(protocol.TypeSessionEnded) != 1 || !c.closed {
			t.Fatalf("%s: ended=%d closed=%v", c.user, c.count(protocol.TypeSessionEnded), c.closed)
		}
	}
	if _, err := reg.Join("r1", newRecorder("c3", "A"), nil); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Join after End err=%v", err)
	}
}

func TestInvalidJoin(t *testing.T) {
	reg := NewRegistry(Options{})
	if _, err := reg.Join("", newRecorder("c1", "A"), nil); !errors.Is(err, ErrInvalidJoin) {
		t.Fatalf("err=%v", err)
	}
	if _, err := reg.Join("r1", newRecorder("c1", ""), nil); !errors.Is(err, ErrInvalidJoin) {
		t.Fatalf("err=%v", err)
	}
}

// TestCapacityHoldsUnderChurn drives random joins, rejoins and leaves from
// several goroutines and checks that no room ever holds more than two
// distinct participants.
func TestCapacityHoldsUnderChurn(t *testing.T) {
	reg := NewRegistry(Options{GracePeriod: time.Hour})
	users := []string{"A", "B", "C", "D"}
	rooms := []string{"r1", "r2"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				roomID := rooms[rng.Intn(len(rooms))]
				user := users[rng.Intn(len(users))]
				if rng.Intn(3) == 0 {
					reg.Leave(roomID, user)
					continue
				}
				reg.Join(roomID, newRecorder(fmt.Sprintf("%d-%d", seed, i), user), func(st *State) {
					if n := len(st.Participants()); n > Capacity {
						t.Errorf("room %s has %d participants", roomID, n)
					}
				})
			}
		}(int64(w))
	}
	wg.Wait()

	for _, roomID := range rooms {
		ids := reg.ListParticipants(roomID)
		if len(ids) > Capacity {
			t.Fatalf("room %s ended with %v", roomID, ids)
		}
		seen := map[string]bool{}
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("room %s lists %s twice", roomID, id)
			}
			seen[id] = true
		}
	}
}

func TestSnapshot(t *testing.T) {
	reg := NewRegistry(Options{GracePeriod: time.Minute})
	reg.Join("b", newRecorder("c1", "A"), nil)
	reg.Join("a", newRecorder("c2", "B"), nil)

	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(snap[1].Participants) != 1 || snap[1].Participants[0] != "A" {
		t.Fatalf("participants=%v", snap[1].Participants)
	}
}

func TestRepeatedJoinOnSameConnection(t *testing.T) {
	reg := NewRegistry(Options{})
	a, b := newRecorder("c1", "A"), newRecorder("c2", "B")
	reg.Join("r1", a, nil)
	reg.Join("r1", b, nil)

	res, err := reg.Join("r1", b, nil)
	if err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	if res.Replaced || res.Peer != "A" || b.closed {
		t.Fatalf("repeat join=%+v closed=%v", res, b.closed)
	}
	if got := a.count(protocol.TypeUserConnected); got != 1 {
		t.Fatalf("A user-connected=%d, want 1", got)
	}
}
