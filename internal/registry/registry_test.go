package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
)

// recorderConn records delivered payloads and can be flipped to fail sends.
type recorderConn struct {
	mu       sync.Mutex
	payloads [][]byte
	dead     bool
}

func (c *recorderConn) TrySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	c.payloads = append(c.payloads, payload)
	return true
}

func (c *recorderConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestRegisterReplaceReturnsPrevious(t *testing.T) {
	r := New(0)

	first := &recorderConn{}
	replaced, ok := r.Register("alice", first)
	if !ok || replaced != nil {
		t.Fatalf("Register(first) = (%v, %v), want (nil, true)", replaced, ok)
	}

	second := &recorderConn{}
	replaced, ok = r.Register("alice", second)
	if !ok {
		t.Fatalf("Register(second) not ok")
	}
	if replaced != Conn(first) {
		t.Fatalf("Register(second) replaced = %v, want first handle", replaced)
	}

	// Future sends reach the new handle only.
	if !r.SendTo("alice", []byte("x")) {
		t.Fatalf("SendTo failed after replacement")
	}
	if first.count() != 0 || second.count() != 1 {
		t.Fatalf("delivery counts = (%d, %d), want (0, 1)", first.count(), second.count())
	}
}

func TestRegisterConnectionCap(t *testing.T) {
	r := New(1)

	if _, ok := r.Register("alice", &recorderConn{}); !ok {
		t.Fatalf("first Register rejected")
	}
	if _, ok := r.Register("bob", &recorderConn{}); ok {
		t.Fatalf("Register over cap accepted")
	}
	// Replacement of an existing identifier does not count against the cap.
	if _, ok := r.Register("alice", &recorderConn{}); !ok {
		t.Fatalf("same-identifier Register rejected at cap")
	}
}

func TestJoinRoomReturnsPreJoinSnapshot(t *testing.T) {
	r := New(0)

	if existing := r.JoinRoom("r1", "alice"); len(existing) != 0 {
		t.Fatalf("first join snapshot = %v, want empty", existing)
	}
	if existing := r.JoinRoom("r1", "bob"); !reflect.DeepEqual(existing, []string{"alice"}) {
		t.Fatalf("second join snapshot = %v, want [alice]", existing)
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	r := New(0)

	r.JoinRoom("r1", "alice")
	r.JoinRoom("r1", "alice")

	if got := r.Members("r1"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("members after duplicate join = %v, want [alice]", got)
	}
}

func TestMembersPreserveJoinOrder(t *testing.T) {
	r := New(0)

	for _, id := range []string{"c", "a", "b"} {
		r.JoinRoom("r1", id)
	}
	if got := r.Members("r1"); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("members = %v, want join order [c a b]", got)
	}
}

func TestRoomExistsIffNonEmpty(t *testing.T) {
	r := New(0)

	ops := []struct {
		join   bool
		roomID string
		userID string
	}{
		{true, "r1", "a"},
		{true, "r1", "b"},
		{false, "r1", "a"},
		{true, "r2", "a"},
		{false, "r1", "b"},
		{false, "r2", "a"},
		{true, "r2", "b"},
	}

	present := map[string]map[string]bool{}
	for i, op := range ops {
		if op.join {
			r.JoinRoom(op.roomID, op.userID)
			if present[op.roomID] == nil {
				present[op.roomID] = map[string]bool{}
			}
			present[op.roomID][op.userID] = true
		} else {
			r.LeaveRoom(op.roomID, op.userID)
			delete(present[op.roomID], op.userID)
		}

		want := map[string]int{}
		for roomID, members := range present {
			if len(members) > 0 {
				want[roomID] = len(members)
			}
		}
		got := map[string]int{}
		for _, info := range r.Rooms() {
			if info.Count < 1 {
				t.Fatalf("op %d: room %q listed with count %d", i, info.ID, info.Count)
			}
			got[info.ID] = info.Count
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("op %d: rooms = %v, want %v", i, got, want)
		}
	}
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	r := New(0)

	r.JoinRoom("r1", "alice")
	r.LeaveRoom("r1", "alice")

	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms after last leave = %v, want none", rooms)
	}
	// No-ops.
	r.LeaveRoom("r1", "alice")
	r.LeaveRoom("missing", "alice")
}

func TestUnregisterRemovesFromAllRooms(t *testing.T) {
	r := New(0)

	conn := &recorderConn{}
	r.Register("alice", conn)
	r.JoinRoom("r1", "alice")
	r.JoinRoom("r2", "alice")
	r.JoinRoom("r2", "bob")

	left := r.Unregister("alice", conn)
	sort.Strings(left)
	if !reflect.DeepEqual(left, []string{"r1", "r2"}) {
		t.Fatalf("rooms left = %v, want [r1 r2]", left)
	}
	if r.Connected("alice") {
		t.Fatalf("alice still connected after unregister")
	}
	if got := r.Members("r2"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("r2 members = %v, want [bob]", got)
	}
	if r.Members("r1") != nil {
		t.Fatalf("r1 survived with zero members")
	}

	// Second unregister is a no-op returning nothing.
	if left := r.Unregister("alice", conn); left != nil {
		t.Fatalf("second unregister = %v, want nil", left)
	}
}

func TestUnregisterReplacedHandleKeepsSuccessor(t *testing.T) {
	r := New(0)

	old := &recorderConn{}
	r.Register("alice", old)
	r.JoinRoom("r1", "alice")

	replacement := &recorderConn{}
	r.Register("alice", replacement)

	// The replaced loop tears down with its own handle; the successor's
	// registration and room membership must survive.
	if left := r.Unregister("alice", old); left != nil {
		t.Fatalf("unregister of replaced handle = %v, want nil", left)
	}
	if !r.Connected("alice") {
		t.Fatalf("successor connection lost")
	}
	if got := r.Members("r1"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("r1 members = %v, want [alice]", got)
	}
}

func TestSendToUnknownUserDrops(t *testing.T) {
	r := New(0)
	if r.SendTo("nobody", []byte("x")) {
		t.Fatalf("SendTo unknown user reported success")
	}
}

func TestBroadcastExcludesSenderAndSkipsDeadHandles(t *testing.T) {
	r := New(0)

	sender := &recorderConn{}
	alive := &recorderConn{}
	dead := &recorderConn{dead: true}

	r.Register("sender", sender)
	r.Register("alive", alive)
	r.Register("dead", dead)
	r.JoinRoom("r1", "sender")
	r.JoinRoom("r1", "alive")
	r.JoinRoom("r1", "dead")
	r.JoinRoom("r1", "ghost") // member with no live handle

	delivered := r.BroadcastToRoom("r1", []byte("x"), "sender")
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if sender.count() != 0 {
		t.Fatalf("sender received its own broadcast")
	}
	if alive.count() != 1 {
		t.Fatalf("alive member did not receive broadcast")
	}
}

func TestBroadcastToUnknownRoom(t *testing.T) {
	r := New(0)
	if delivered := r.BroadcastToRoom("missing", []byte("x"), ""); delivered != 0 {
		t.Fatalf("delivered = %d, want 0", delivered)
	}
}

// reentrantConn joins a room from inside TrySend to exercise the
// snapshot-before-iterate rule.
type reentrantConn struct {
	r    *Registry
	once sync.Once
}

func (c *reentrantConn) TrySend(payload []byte) bool {
	c.once.Do(func() {
		c.r.JoinRoom("r1", "late")
	})
	return true
}

func TestBroadcastSnapshotsMembership(t *testing.T) {
	r := New(0)

	r.Register("a", &reentrantConn{r: r})
	r.Register("b", &recorderConn{})
	r.JoinRoom("r1", "a")
	r.JoinRoom("r1", "b")

	// Delivery side effects mutate the room mid-broadcast; the broadcast
	// must complete over the original membership without deadlock.
	if delivered := r.BroadcastToRoom("r1", []byte("x"), ""); delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	if got := len(r.Members("r1")); got != 3 {
		t.Fatalf("members after reentrant join = %d, want 3", got)
	}
}

func TestConcurrentChurnKeepsInvariants(t *testing.T) {
	r := New(0)

	const users = 16
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i)
			conn := &recorderConn{}
			for iter := 0; iter < 200; iter++ {
				r.Register(userID, conn)
				r.JoinRoom("shared", userID)
				r.JoinRoom(fmt.Sprintf("solo-%d", i%4), userID)
				r.BroadcastToRoom("shared", []byte("x"), userID)
				r.LeaveRoom("shared", userID)
				r.Unregister(userID, conn)
			}
		}(i)
	}
	wg.Wait()

	for _, info := range r.Rooms() {
		if info.Count < 1 {
			t.Fatalf("room %q left behind with count %d", info.ID, info.Count)
		}
	}
	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("rooms after full churn = %v, want none", rooms)
	}
}
