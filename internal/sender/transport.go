package sender

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

// HighWaterMark bounds the outbound queue depth, standing in for a ZeroMQ
// PUSH socket's SNDHWM, which NATS's client has no direct equivalent of.
const HighWaterMark = 500

// lingerDuration is how long Close waits for the queue to drain before
// giving up on the remainder, matching a 500ms ZMQ_LINGER.
const lingerDuration = 500 * time.Millisecond

// Keys are the NKey-derived credentials loaded from a key directory,
// standing in for the Curve key pair the original transport used. NATS has
// no server-identity-pinning analogue to CURVE_SERVERKEY, so modeldPublic
// is retained only to confirm keyDir was provisioned with both files.
type Keys struct {
	entitydSeed   []byte
	entitydPublic string
	modeldPublic  string
}

// LoadKeys reads entityd.key_secret (this agent's NKey seed) and
// modeld.key (the destination's public key, checked for presence only)
// from keyDir.
func LoadKeys(keyDir string) (*Keys, error) {
	seed, err := os.ReadFile(filepath.Join(keyDir, "entityd.key_secret"))
	if err != nil {
		return nil, fmt.Errorf("%w: reading entityd.key_secret: %v", entityerr.ErrConfiguration, err)
	}
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing entityd.key_secret: %v", entityerr.ErrConfiguration, err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: deriving entityd public key: %v", entityerr.ErrConfiguration, err)
	}
	modeldPublic, err := os.ReadFile(filepath.Join(keyDir, "modeld.key"))
	if err != nil {
		return nil, fmt.Errorf("%w: reading modeld.key: %v", entityerr.ErrConfiguration, err)
	}
	return &Keys{entitydSeed: seed, entitydPublic: pub, modeldPublic: string(modeldPublic)}, nil
}

type frame struct {
	payload []byte
}

// natsConn is the subset of *nats.Conn the transport needs, abstracted so
// tests can substitute a fake socket instead of dialing a real server.
type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Transport is a fire-and-forget publisher to a single NATS subject. Per
// spec.md §4.F / scenario S6, it never blocks the collection cycle on a
// slow or unreachable destination: when the bounded outbound queue fills
// up, the socket is closed and every message still queued is discarded,
// and the next Send re-creates the connection from scratch rather than
// retrying against the same one.
type Transport struct {
	mu      sync.Mutex
	conn    natsConn
	dial    func() (natsConn, error)
	subject string
	log     zerolog.Logger

	queue chan frame
	done  chan struct{}
	wg    sync.WaitGroup
}

// Connect dials dest, authenticating with keys if non-nil, and returns a
// Transport that publishes to subject.
func Connect(dest, subject string, keys *Keys, log zerolog.Logger) (*Transport, error) {
	dial := func() (natsConn, error) {
		opts := []nats.Option{
			nats.Name("entityd"),
			nats.ReconnectWait(2 * time.Second),
			nats.MaxReconnects(-1),
		}
		if keys != nil {
			kp, err := nkeys.FromSeed(keys.entitydSeed)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", entityerr.ErrConfiguration, err)
			}
			opts = append(opts, nats.Nkey(keys.entitydPublic, kp.Sign))
		}
		conn, err := nats.Connect(dest, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: connecting to %s: %v", entityerr.ErrTransport, dest, err)
		}
		return conn, nil
	}
	return newTransport(dial, subject, log, HighWaterMark)
}

// newTransport builds a Transport around dial, performing the initial
// connection eagerly so a startup failure is reported before the pump
// starts. Separated from Connect so tests can inject a fake dial func and a
// smaller queueSize than the production HighWaterMark.
func newTransport(dial func() (natsConn, error), subject string, log zerolog.Logger, queueSize int) (*Transport, error) {
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	t := &Transport{
		conn:    conn,
		dial:    dial,
		subject: subject,
		log:     log,
		queue:   make(chan frame, queueSize),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.pump()
	return t, nil
}

// Send enqueues payload for delivery, reconnecting first if a previous
// buffer-full discarded the connection. If the queue is still full after
// that, per spec.md §4.F the socket is closed and every currently queued
// message is dropped; Send itself never blocks and this message is
// dropped along with the rest, with the connection recreated on the next
// call.
func (t *Transport) Send(payload []byte) {
	t.mu.Lock()
	if t.conn == nil {
		if err := t.reconnectLocked(); err != nil {
			t.mu.Unlock()
			t.log.Warn().Err(err).Msg("reconnect failed, message dropped")
			return
		}
	}
	t.mu.Unlock()

	select {
	case t.queue <- frame{payload: payload}:
		return
	default:
	}

	t.log.Warn().Msg("outbound buffer full, closing socket and dropping queued messages")
	t.resetConnection()
}

// resetConnection closes the current socket and discards every frame
// still sitting in the queue, per spec.md §4.F. The next Send lazily
// re-creates the connection.
func (t *Transport) resetConnection() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	for {
		select {
		case <-t.queue:
		default:
			return
		}
	}
}

// reconnectLocked dials a fresh connection. Callers must hold t.mu.
func (t *Transport) reconnectLocked() error {
	conn, err := t.dial()
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) pump() {
	defer t.wg.Done()
	for {
		select {
		case f := <-t.queue:
			t.publish(f)
		case <-t.done:
			t.drain()
			return
		}
	}
}

func (t *Transport) drain() {
	for {
		select {
		case f := <-t.queue:
			t.publish(f)
		default:
			return
		}
	}
}

func (t *Transport) publish(f frame) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		t.log.Warn().Msg("no connection, message dropped")
		return
	}

	msg := make([]byte, 0, len(ProtocolVersion)+len(f.payload))
	msg = append(msg, ProtocolVersion...)
	msg = append(msg, f.payload...)
	if err := conn.Publish(t.subject, msg); err != nil {
		t.log.Warn().Err(err).Msg("publish failed, message discarded")
	}
}

// Close stops accepting new sends, drains whatever is already queued (up
// to lingerDuration), and closes the underlying connection.
func (t *Transport) Close() error {
	close(t.done)
	drained := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(lingerDuration):
		t.log.Warn().Msg("linger expired with messages still queued")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}
