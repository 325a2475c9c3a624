package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/authority"
	"github.com/example/ride-dispatch/internal/autopilot"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChannel() *realtime.Channel {
	ch := realtime.NewChannel(realtime.Config{
		URL:                  "ws://test.invalid/rt",
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 1,
	}, quietLogger())
	ch.SetDialer(func(ctx context.Context, url string) (realtime.Conn, error) {
		return nil, errors.New("no socket in tests")
	})
	return ch
}

type fakeAuthority struct {
	mu      sync.Mutex
	calls   []string
	respond func(orderID string, status order.Status) *order.Order
}

func (f *fakeAuthority) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAuthority) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAuthority) Accept(ctx context.Context, orderID, fulfillerID string) (*order.Order, error) {
	f.record("accept")
	return f.respond(orderID, order.StatusAccepted), nil
}

func (f *fakeAuthority) Reject(ctx context.Context, orderID, fulfillerID string) (*order.Order, error) {
	f.record("reject")
	return f.respond(orderID, order.StatusOffered), nil
}

func (f *fakeAuthority) UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error) {
	f.record("status:" + string(status))
	return f.respond(orderID, status), nil
}

func (f *fakeAuthority) SubmitFare(ctx context.Context, orderID string, amount int64) (*order.Order, error) {
	f.record("fare")
	return f.respond(orderID, order.StatusDone), nil
}

func snapshot(id string, status order.Status) *order.Order {
	return &order.Order{
		ID:        id,
		Requester: models.Party{ID: "p1"},
		Pickup:    order.Waypoint{Coord: models.Coord{Lat: 40.0, Lon: -74.0}},
		Payment:   models.PaymentCash,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func waitStatus(t *testing.T, orders <-chan order.Order, want order.Status) order.Order {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-orders:
			if o.Status == want {
				return o
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func TestFulfillerOfferDerivesState(t *testing.T) {
	ch := testChannel()
	s := NewFulfillerSession(FulfillerConfig{
		Identity: realtime.Identity{Role: realtime.RoleFulfiller, ID: "d1"},
		Channel:  ch,
		Authority: &fakeAuthority{
			respond: snapshot,
		},
		Logger: quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	states, detach := s.States.Subscribe(8)
	defer detach()
	ch.Offers.Publish(*snapshot("o1", order.StatusOffered))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Kind == autopilot.KindWaitingForAccept {
				return
			}
		case <-deadline:
			t.Fatal("offer never produced a waiting_for_accept state")
		}
	}
}

func TestFulfillerAcceptAppliesConfirmation(t *testing.T) {
	ch := testChannel()
	auth := &fakeAuthority{respond: snapshot}
	s := NewFulfillerSession(FulfillerConfig{
		Identity:  realtime.Identity{Role: realtime.RoleFulfiller, ID: "d1"},
		Channel:   ch,
		Authority: auth,
		Logger:    quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	orders, detach := s.Orders.Subscribe(8)
	defer detach()
	ch.Offers.Publish(*snapshot("o1", order.StatusOffered))
	waitStatus(t, orders, order.StatusOffered)

	if err := s.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitStatus(t, orders, order.StatusAccepted)
	if auth.callCount() != 1 {
		t.Fatalf("expected one authority call, got %d", auth.callCount())
	}
}

// slowFakeAuthority delays its answers past the caller's lifetime.
type slowFakeAuthority struct {
	fakeAuthority
	delay time.Duration
}

func (f *slowFakeAuthority) Accept(ctx context.Context, orderID, fulfillerID string) (*order.Order, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.fakeAuthority.Accept(ctx, orderID, fulfillerID)
}

func TestFulfillerAcceptSurvivesCallerCancel(t *testing.T) {
	ch := testChannel()
	auth := &slowFakeAuthority{fakeAuthority: fakeAuthority{respond: snapshot}, delay: 50 * time.Millisecond}
	s := NewFulfillerSession(FulfillerConfig{
		Identity:  realtime.Identity{Role: realtime.RoleFulfiller, ID: "d1"},
		Channel:   ch,
		Authority: auth,
		Logger:    quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	orders, detach := s.Orders.Subscribe(8)
	defer detach()
	ch.Offers.Publish(*snapshot("o1", order.StatusOffered))
	waitStatus(t, orders, order.StatusOffered)

	// the caller dies immediately after issuing the intent, the way a
	// gateway request context does once the handler returns
	reqCtx, reqCancel := context.WithCancel(context.Background())
	if err := s.Accept(reqCtx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	reqCancel()

	waitStatus(t, orders, order.StatusAccepted)
	if auth.callCount() != 1 {
		t.Fatalf("expected one completed authority call, got %d", auth.callCount())
	}
}

func TestFulfillerGuardRejectsWithoutNetwork(t *testing.T) {
	ch := testChannel()
	auth := &fakeAuthority{respond: snapshot}
	s := NewFulfillerSession(FulfillerConfig{
		Identity:  realtime.Identity{Role: realtime.RoleFulfiller, ID: "d1"},
		Channel:   ch,
		Authority: auth,
		Logger:    quietLogger(),
	})

	// no order at all
	if err := s.Accept(context.Background()); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// wrong source status
	s.Orders.Publish(*snapshot("o1", order.StatusAccepted))
	if err := s.StartTrip(context.Background()); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if auth.callCount() != 0 {
		t.Fatalf("guard rejection must not reach the authority, got %d calls", auth.callCount())
	}
}

func TestFulfillerRestoresActiveOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Save(context.Background(), snapshot("o9", order.StatusOnTrip)); err != nil {
		t.Fatal(err)
	}
	ch := testChannel()
	s := NewFulfillerSession(FulfillerConfig{
		Identity:  realtime.Identity{Role: realtime.RoleFulfiller, ID: "d1"},
		Channel:   ch,
		Authority: &fakeAuthority{respond: snapshot},
		Store:     store,
		Logger:    quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	orders, detach := s.Orders.Subscribe(8)
	defer detach()
	o := waitStatus(t, orders, order.StatusOnTrip)
	if o.ID != "o9" {
		t.Fatalf("restored wrong order: %q", o.ID)
	}
}

type fakeRequesterAuthority struct {
	createErr error
	nearbyErr error
	nearby    []models.CandidateFulfiller
}

func (f *fakeRequesterAuthority) CreateOrder(ctx context.Context, req authority.CreateOrderRequest) (*order.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	o := snapshot("created", order.StatusWaiting)
	o.Requester = req.Requester
	o.Pickup = req.Pickup
	o.Dropoff = req.Dropoff
	o.Payment = req.Payment
	return o, nil
}

func (f *fakeRequesterAuthority) NearbyCandidates(ctx context.Context, at models.Coord, radiusM float64) ([]models.CandidateFulfiller, error) {
	if f.nearbyErr != nil {
		return nil, f.nearbyErr
	}
	return f.nearby, nil
}

func TestRequesterRideRequestAppliesSnapshot(t *testing.T) {
	ch := testChannel()
	s := NewRequesterSession(RequesterConfig{
		Identity:  realtime.Identity{Role: realtime.RoleRequester, ID: "p1"},
		Channel:   ch,
		Authority: &fakeRequesterAuthority{},
		Ranker:    matching.NewRanker(nil, quietLogger()),
		Logger:    quietLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	orders, detach := s.Orders.Subscribe(8)
	defer detach()
	err := s.RequestRide(ctx,
		order.Waypoint{Coord: models.Coord{Lat: 40.0, Lon: -74.0}, Address: "A"},
		&order.Waypoint{Coord: models.Coord{Lat: 40.02, Lon: -74.0}, Address: "B"},
		models.PaymentCash)
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	o := waitStatus(t, orders, order.StatusWaiting)
	if o.ID != "created" {
		t.Fatalf("unexpected order id %q", o.ID)
	}

	// a second request while one is active is rejected synchronously
	if err := s.RequestRide(ctx, order.Waypoint{}, nil, models.PaymentCash); !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRequesterNearbyFallsBackToCache(t *testing.T) {
	cache := geo.NewIndex()
	cache.Upsert(models.CandidateFulfiller{ID: "c1", Loc: models.Coord{Lat: 40.001, Lon: -74.0}})
	cache.Upsert(models.CandidateFulfiller{ID: "c2", Loc: models.Coord{Lat: 40.01, Lon: -74.0}})

	ch := testChannel()
	s := NewRequesterSession(RequesterConfig{
		Identity:  realtime.Identity{Role: realtime.RoleRequester, ID: "p1"},
		Channel:   ch,
		Authority: &fakeRequesterAuthority{nearbyErr: errors.New("authority down")},
		Ranker:    matching.NewRanker(nil, quietLogger()),
		Cache:     cache,
		Logger:    quietLogger(),
	})

	ranked := s.NearbyRanked(context.Background(), models.Coord{Lat: 40.0, Lon: -74.0})
	if len(ranked) != 2 {
		t.Fatalf("expected 2 cached candidates, got %d", len(ranked))
	}
	if ranked[0].ID != "c1" {
		t.Fatalf("closest candidate should rank first, got %q", ranked[0].ID)
	}
	if !ranked[0].Approximate {
		t.Fatal("nil matrix estimates must be marked approximate")
	}
}

func TestRequesterEstimateBracketsFare(t *testing.T) {
	ch := testChannel()
	s := NewRequesterSession(RequesterConfig{
		Identity:  realtime.Identity{Role: realtime.RoleRequester, ID: "p1"},
		Channel:   ch,
		Authority: &fakeRequesterAuthority{},
		Ranker:    matching.NewRanker(nil, quietLogger()),
		Logger:    quietLogger(),
	})
	lo, hi := s.EstimateFare(models.Coord{Lat: 40.0, Lon: -74.0}, models.Coord{Lat: 40.02, Lon: -74.0})
	if lo <= 0 || hi < lo {
		t.Fatalf("degenerate estimate: lo=%d hi=%d", lo, hi)
	}
}
