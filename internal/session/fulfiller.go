package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/autopilot"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/order"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/storage"
)

// FixForwarder forwards fixes outward (Kafka in production).
type FixForwarder interface {
	PublishFix(partyID string, fix models.LocationFix) error
}

// FulfillerSession holds the only mutable order reference on the
// fulfiller side. The channel never mutates the order; it publishes
// immutable snapshots that the session replaces wholesale.
type FulfillerSession struct {
	identity realtime.Identity
	ch       *realtime.Channel
	auth     Authority
	eng      *autopilot.Engine
	store    storage.SnapshotStore
	fwd      FixForwarder
	log      *slog.Logger

	fixes   chan models.LocationFix
	results chan restResult

	mu  sync.Mutex
	gen int

	// Read-only projections for the UI layer.
	Orders *realtime.Stream[order.Order]
	States *realtime.Stream[autopilot.State]
}

type FulfillerConfig struct {
	Identity   realtime.Identity
	Channel    *realtime.Channel
	Authority  Authority
	Thresholds autopilot.Thresholds
	Store      storage.SnapshotStore
	Forwarder  FixForwarder
	Logger     *slog.Logger
}

func NewFulfillerSession(cfg FulfillerConfig) *FulfillerSession {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Thresholds == (autopilot.Thresholds{}) {
		cfg.Thresholds = autopilot.DefaultThresholds()
	}
	return &FulfillerSession{
		identity: cfg.Identity,
		ch:       cfg.Channel,
		auth:     cfg.Authority,
		eng:      autopilot.NewEngine(cfg.Thresholds),
		store:    cfg.Store,
		fwd:      cfg.Forwarder,
		log:      cfg.Logger,
		fixes:    make(chan models.LocationFix, 16),
		results:  make(chan restResult, 8),
		Orders:   realtime.NewStream[order.Order](),
		States:   realtime.NewStream[autopilot.State](),
	}
}

// Run connects the channel and processes events until ctx is
// cancelled. All order mutation happens on this goroutine.
func (s *FulfillerSession) Run(ctx context.Context) error {
	if err := s.ch.Connect(ctx, s.identity); err != nil {
		s.log.Warn("initial channel connect failed", "error", err)
	}
	defer s.teardown()

	// restore last known state before consuming live events
	if o, err := s.store.Active(ctx); err == nil && o != nil {
		s.apply(o)
	}

	offers, detachOffers := s.ch.Offers.Subscribe(8)
	defer detachOffers()
	updates, detachUpdates := s.ch.Orders.Subscribe(8)
	defer detachUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-offers:
			s.apply(&o)
		case o := <-updates:
			s.apply(&o)
		case fix := <-s.fixes:
			s.onFix(ctx, fix)
		case res := <-s.results:
			if res.gen == s.generation() {
				s.apply(res.o)
			}
		}
	}
}

// teardown detaches everything atomically: in-flight REST results are
// stamped with the old generation and ignored from here on.
func (s *FulfillerSession) teardown() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	s.ch.Disconnect()
}

func (s *FulfillerSession) generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SubmitFix feeds one location sample into the event loop. Never
// blocks; under backpressure the oldest pending fix is the one that
// matters least.
func (s *FulfillerSession) SubmitFix(fix models.LocationFix) {
	select {
	case s.fixes <- fix:
	default:
	}
}

func (s *FulfillerSession) CurrentOrder() (order.Order, bool) { return s.Orders.Last() }
func (s *FulfillerSession) CurrentState() (autopilot.State, bool) {
	return s.States.Last()
}

// apply installs a confirmed snapshot: the only way local state moves.
func (s *FulfillerSession) apply(o *order.Order) {
	if o == nil {
		return
	}
	st := s.eng.SetOrder(o)
	s.Orders.Publish(*o)
	s.States.Publish(st)
	if err := s.store.Save(context.Background(), o); err != nil {
		s.log.Warn("snapshot save failed", "order_id", o.ID, "error", err)
	}
}

func (s *FulfillerSession) onFix(ctx context.Context, fix models.LocationFix) {
	if err := s.ch.PushLocation(fix); err != nil {
		s.log.Debug("location push skipped", "error", err)
	}
	if s.fwd != nil {
		if err := s.fwd.PublishFix(s.identity.ID, fix); err != nil {
			s.log.Debug("fix forwarding failed", "error", err)
		}
	}

	st, trig := s.eng.OnFix(fix)
	s.States.Publish(st)

	switch trig {
	case autopilot.TriggerMarkArrived:
		if order.CanMarkArrived(st.Order.Status) {
			observability.AutoTransitions.WithLabelValues(string(order.ActionMarkArrived)).Inc()
			s.requestStatus(ctx, st.Order.ID, order.StatusArrived)
		}
	case autopilot.TriggerEndTrip:
		if order.CanEndTrip(st.Order.Status) {
			observability.AutoTransitions.WithLabelValues(string(order.ActionEndTrip)).Inc()
			s.requestStatus(ctx, st.Order.ID, order.StatusSettling)
		}
	}
}

// Accept accepts the currently offered order. Rejected synchronously
// when the guard is false; otherwise the channel intent goes out
// immediately and the REST confirmation arrives asynchronously.
func (s *FulfillerSession) Accept(ctx context.Context) error {
	o, err := s.guarded(order.ActionAccept)
	if err != nil {
		return err
	}
	_ = s.ch.RequestAccept(o.ID)
	s.call(ctx, func(ctx context.Context) (*order.Order, error) {
		return s.auth.Accept(ctx, o.ID, s.identity.ID)
	})
	return nil
}

func (s *FulfillerSession) Reject(ctx context.Context) error {
	o, err := s.guarded(order.ActionReject)
	if err != nil {
		return err
	}
	_ = s.ch.RequestReject(o.ID)
	s.call(ctx, func(ctx context.Context) (*order.Order, error) {
		return s.auth.Reject(ctx, o.ID, s.identity.ID)
	})
	return nil
}

func (s *FulfillerSession) MarkArrived(ctx context.Context) error {
	return s.requestGuardedStatus(ctx, order.ActionMarkArrived, order.StatusArrived)
}

func (s *FulfillerSession) StartTrip(ctx context.Context) error {
	return s.requestGuardedStatus(ctx, order.ActionStartTrip, order.StatusOnTrip)
}

// EndTrip is the manual escape hatch for trips without a destination.
func (s *FulfillerSession) EndTrip(ctx context.Context) error {
	return s.requestGuardedStatus(ctx, order.ActionEndTrip, order.StatusSettling)
}

func (s *FulfillerSession) SubmitFare(ctx context.Context, amount int64) error {
	o, err := s.guarded(order.ActionSettle)
	if err != nil {
		return err
	}
	s.call(ctx, func(ctx context.Context) (*order.Order, error) {
		return s.auth.SubmitFare(ctx, o.ID, amount)
	})
	return nil
}

func (s *FulfillerSession) requestGuardedStatus(ctx context.Context, a order.Action, target order.Status) error {
	o, err := s.guarded(a)
	if err != nil {
		return err
	}
	s.requestStatus(ctx, o.ID, target)
	return nil
}

func (s *FulfillerSession) guarded(a order.Action) (order.Order, error) {
	o, ok := s.Orders.Last()
	if !ok {
		observability.GuardRejections.WithLabelValues(string(a)).Inc()
		return order.Order{}, order.ErrInvalidTransition
	}
	if err := order.Guard(o.Status, a); err != nil {
		observability.GuardRejections.WithLabelValues(string(a)).Inc()
		return order.Order{}, err
	}
	return o, nil
}

func (s *FulfillerSession) requestStatus(ctx context.Context, orderID string, target order.Status) {
	s.call(ctx, func(ctx context.Context) (*order.Order, error) {
		return s.auth.UpdateStatus(ctx, orderID, target)
	})
	_ = s.ch.PushStatus(target)
}

// call runs one REST operation off the loop goroutine and feeds the
// confirmation snapshot back in, stamped with the current generation.
// The operation runs on its own deadline, not the caller's context.
func (s *FulfillerSession) call(ctx context.Context, fn func(context.Context) (*order.Order, error)) {
	gen := s.generation()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), authorityCallTimeout)
	go func() {
		defer cancel()
		o, err := fn(callCtx)
		if err != nil {
			s.log.Warn("authority call failed", "error", err)
			return
		}
		select {
		case s.results <- restResult{gen: gen, o: o}:
		case <-callCtx.Done():
		}
	}()
}
