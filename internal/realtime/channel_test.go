package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/order"
)

type fakeConn struct {
	mu     sync.Mutex
	in     chan []byte
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{in: make(chan []byte, 16)} }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-f.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, b, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

func (f *fakeConn) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.writes))
	for _, w := range f.writes {
		var env Envelope
		if err := json.Unmarshal(w, &env); err == nil {
			out = append(out, env.Event)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChannel(d *fakeDialer) *Channel {
	ch := NewChannel(Config{URL: "ws://authority", ReconnectDelay: 5 * time.Millisecond, MaxReconnectAttempts: 2}, quietLogger())
	ch.SetDialer(d.dial)
	return ch
}

func envelope(t *testing.T, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestConnectTwiceKeepsOneConnection(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)
	id := Identity{Role: RoleFulfiller, ID: "d1"}

	if err := ch.Connect(context.Background(), id); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := ch.Connect(context.Background(), id); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if len(d.conns) != 2 {
		t.Fatalf("expected 2 dials, got %d", len(d.conns))
	}
	first, second := d.conns[0], d.conns[1]
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("first connection should have been torn down")
	}
	// exactly one presence announcement on the surviving connection
	events := second.sentEvents()
	presence := 0
	for _, e := range events {
		if e == EventDriverOnline {
			presence++
		}
	}
	if presence != 1 {
		t.Fatalf("expected exactly 1 presence announcement, got %d (%v)", presence, events)
	}
	ch.Disconnect()
}

func TestOfferAndStatusEventsFanOut(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)
	offers, offOffers := ch.Offers.Subscribe(4)
	defer offOffers()
	updates, offUpdates := ch.Orders.Subscribe(4)
	defer offUpdates()

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err != nil {
		t.Fatal(err)
	}
	defer ch.Disconnect()
	conn := d.conns[0]

	conn.in <- envelope(t, EventOrderOffer, order.Order{ID: "o1", Status: order.StatusOffered})
	conn.in <- envelope(t, EventOrderStatus, order.Order{ID: "o1", Status: order.StatusAccepted})

	select {
	case o := <-offers:
		if o.ID != "o1" || o.Status != order.StatusOffered {
			t.Fatalf("unexpected offer: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("offer not delivered")
	}
	select {
	case o := <-updates:
		if o.Status != order.StatusAccepted {
			t.Fatalf("unexpected update: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("status update not delivered")
	}
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)
	updates, off := ch.Orders.Subscribe(4)
	defer off()

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err != nil {
		t.Fatal(err)
	}
	defer ch.Disconnect()
	conn := d.conns[0]

	conn.in <- []byte(`not json at all`)
	conn.in <- []byte(`{"event":"order:status","data":"not an order"}`)
	conn.in <- envelope(t, EventOrderStatus, order.Order{ID: "ok", Status: order.StatusAccepted})

	select {
	case o := <-updates:
		// the two corrupt frames must be dropped, not delivered partially
		if o.ID != "ok" {
			t.Fatalf("expected the valid snapshot, got %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("stream died after corrupt frame")
	}
}

func TestReconnectBudgetExhaustedSurfacesDisconnected(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)
	status, off := ch.Status.Subscribe(8)
	defer off()

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err != nil {
		t.Fatal(err)
	}

	// kill the transport and refuse redials
	d.mu.Lock()
	d.fail = true
	d.mu.Unlock()
	d.conns[0].Close()

	deadline := time.After(2 * time.Second)
	var last ConnStatus
	for last != StatusDisconnected {
		select {
		case last = <-status:
		case <-deadline:
			t.Fatalf("never reached disconnected, last status %q", last)
		}
	}
}

func TestInitialDialFailureRetriesInBackground(t *testing.T) {
	d := &fakeDialer{fail: true}
	ch := testChannel(d)
	status, off := ch.Status.Subscribe(8)
	defer off()

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err == nil {
		t.Fatal("expected the initial dial to fail")
	}

	// the authority comes back before the retry budget runs out
	d.mu.Lock()
	d.fail = false
	d.mu.Unlock()

	deadline := time.After(2 * time.Second)
	var last ConnStatus
	for last != StatusConnected {
		select {
		case last = <-status:
		case <-deadline:
			t.Fatalf("background retry never connected, last status %q", last)
		}
	}
	d.mu.Lock()
	conn := d.conns[0]
	d.mu.Unlock()
	evs := conn.sentEvents()
	if len(evs) == 0 || evs[0] != EventDriverOnline {
		t.Fatalf("expected presence announcement on the retried connection, got %v", evs)
	}
	ch.Disconnect()
}

func TestInitialDialBudgetExhausted(t *testing.T) {
	d := &fakeDialer{fail: true}
	ch := testChannel(d)
	status, off := ch.Status.Subscribe(8)
	defer off()

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err == nil {
		t.Fatal("expected the initial dial to fail")
	}

	deadline := time.After(2 * time.Second)
	sawReconnecting := false
	var last ConnStatus
	for last != StatusDisconnected {
		select {
		case last = <-status:
			if last == StatusReconnecting {
				sawReconnecting = true
			}
		case <-deadline:
			t.Fatalf("never reached disconnected, last status %q", last)
		}
	}
	if !sawReconnecting {
		t.Fatal("retry budget should have been entered before giving up")
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)

	if err := ch.Connect(context.Background(), Identity{Role: RoleFulfiller, ID: "d1"}); err != nil {
		t.Fatal(err)
	}
	d.conns[0].Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		d.mu.Lock()
		n := len(d.conns)
		d.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reconnect happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// a presence announcement must follow the redial
	deadline = time.Now().Add(time.Second)
	for {
		if evs := d.conns[1].sentEvents(); len(evs) > 0 && evs[0] == EventDriverOnline {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no presence announcement after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch.Disconnect()
}

func TestDisconnectResetsStreams(t *testing.T) {
	d := &fakeDialer{}
	ch := testChannel(d)
	if err := ch.Connect(context.Background(), Identity{Role: RoleRequester, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	ch.Orders.Publish(order.Order{ID: "o1"})
	if _, ok := ch.Orders.Last(); !ok {
		t.Fatal("expected a replay value before disconnect")
	}
	ch.Disconnect()
	ch.Disconnect() // must be safe to repeat
	if _, ok := ch.Orders.Last(); ok {
		t.Fatal("streams should be reset after disconnect")
	}
	if st, ok := ch.Status.Last(); !ok || st != StatusDisconnected {
		t.Fatalf("status should be disconnected, got %v", st)
	}
}

func TestStreamReplayOnSubscribe(t *testing.T) {
	s := NewStream[int]()
	s.Publish(41)
	s.Publish(42)
	ch, off := s.Subscribe(1)
	defer off()
	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("expected last value 42, got %d", v)
		}
	default:
		t.Fatal("expected replay of last value")
	}
}

func TestSendWithoutConnection(t *testing.T) {
	ch := testChannel(&fakeDialer{})
	if err := ch.RequestAccept("o1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
