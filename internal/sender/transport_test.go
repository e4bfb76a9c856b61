package sender

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errDial = errors.New("dial failed")

// fakeConn is a natsConn whose Publish blocks forever once started, so the
// pump goroutine gets stuck mid-delivery and the queue in front of it backs
// up exactly the way a dead-slow NATS server would.
type fakeConn struct {
	block  bool
	closed *int32
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.block {
		select {}
	}
	return nil
}

func (c *fakeConn) Close() {
	atomic.AddInt32(c.closed, 1)
}

func TestSendOnFullQueueClosesAndRecreatesSocket(t *testing.T) {
	var dialCount int32
	closed := new(int32)
	dial := func() (natsConn, error) {
		atomic.AddInt32(&dialCount, 1)
		return &fakeConn{block: true, closed: closed}, nil
	}

	const queueSize = 4
	tr, err := newTransport(dial, "entityd.test", zerolog.Nop(), queueSize)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if got := atomic.LoadInt32(&dialCount); got != 1 {
		t.Fatalf("expected 1 dial on construction, got %d", got)
	}

	// The pump immediately pulls the first frame into its permanently
	// blocked publish call, then the queue itself fills to queueSize, so
	// sending well beyond that overflows the buffer at least once.
	for i := 0; i < queueSize*3; i++ {
		tr.Send([]byte("payload"))
	}

	if got := atomic.LoadInt32(closed); got < 1 {
		t.Fatalf("expected buffer-full to close the socket at least once, got %d closes", got)
	}
	if got := atomic.LoadInt32(&dialCount); got < 2 {
		t.Fatalf("expected a fresh socket to be dialed after buffer-full, got %d dials", got)
	}

	// Property 10 / scenario S6: the very next send after a buffer-full
	// either already reconnected as part of the flood above, or reconnects
	// now if the transport was left pointing at a nil connection.
	tr.mu.Lock()
	needsReconnect := tr.conn == nil
	tr.mu.Unlock()
	if needsReconnect {
		before := atomic.LoadInt32(&dialCount)
		tr.Send([]byte("payload"))
		time.Sleep(10 * time.Millisecond)
		if got := atomic.LoadInt32(&dialCount); got <= before {
			t.Fatalf("expected Send to dial a fresh socket when conn was nil, dial count stayed at %d", got)
		}
	}
}

func TestSendDropsMessageWhenReconnectFails(t *testing.T) {
	calls := 0
	dial := func() (natsConn, error) {
		calls++
		if calls == 1 {
			return &fakeConn{closed: new(int32)}, nil
		}
		return nil, errDial
	}

	tr, err := newTransport(dial, "entityd.test", zerolog.Nop(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	tr.mu.Lock()
	tr.conn = nil
	tr.mu.Unlock()

	// Should not panic or block even though every reconnect attempt fails.
	tr.Send([]byte("payload"))

	tr.mu.Lock()
	conn := tr.conn
	tr.mu.Unlock()
	if conn != nil {
		t.Fatalf("expected conn to remain nil after a failed reconnect")
	}
}
