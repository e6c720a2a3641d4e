package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	failed bool
	closed bool
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed || f.closed {
		return errors.New("connection is dead")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// waitFrames polls until conn has at least n frames or the deadline hits.
func waitFrames(t *testing.T, conn *fakeConn, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := conn.snapshot()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(2 * time.Millisecond)
	}
	frames := conn.snapshot()
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(frames))
	return frames
}

func decodeFrame(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("undecodable frame %q: %v", raw, err)
	}
	return m
}

func TestSendPreservesPerClientOrdering(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register("c1", conn)
	defer r.Unregister("c1")

	const n = 50
	for i := 0; i < n; i++ {
		r.Send("c1", map[string]any{"seq": i})
	}

	frames := waitFrames(t, conn, n)
	for i := 0; i < n; i++ {
		m := decodeFrame(t, frames[i])
		if int(m["seq"].(float64)) != i {
			t.Fatalf("frame %d carries seq %v, ordering violated", i, m["seq"])
		}
	}
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	r.Register("c1", old)

	replacement := &fakeConn{}
	r.Register("c1", replacement)
	defer r.Unregister("c1")

	if !old.isClosed() {
		t.Error("replaced connection should be closed")
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1", r.Count())
	}

	r.Send("c1", map[string]any{"type": "test"})
	waitFrames(t, replacement, 1)
	if len(old.snapshot()) != 0 {
		t.Error("message delivered to the replaced connection")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", &fakeConn{})

	r.Unregister("c1")
	r.Unregister("c1") // second call must be a no-op
	r.Unregister("never-registered")

	// Send to an absent client never raises.
	r.Send("c1", map[string]any{"type": "test"})
	r.Send("ghost", map[string]any{"type": "test"})

	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	dead := &fakeConn{}
	live := &fakeConn{}
	r.Register("dead", dead)
	r.Register("live", live)
	defer r.Unregister("live")
	defer r.Unregister("dead")

	dead.fail()
	for i := 0; i < 3; i++ {
		r.Broadcast(map[string]any{"type": "announce", "seq": i})
	}

	frames := waitFrames(t, live, 3)
	for i, raw := range frames[:3] {
		m := decodeFrame(t, raw)
		if m["type"] != "announce" {
			t.Errorf("frame %d type = %v", i, m["type"])
		}
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	r := NewRegistry()
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		id := fmt.Sprintf("c%d", i)
		r.Register(id, conns[i])
		defer r.Unregister(id)
	}

	r.Broadcast(map[string]any{"type": "announce"})
	for i, conn := range conns {
		frames := waitFrames(t, conn, 1)
		if decodeFrame(t, frames[0])["type"] != "announce" {
			t.Errorf("client %d missed the broadcast", i)
		}
	}
}
