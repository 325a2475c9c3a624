package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/authority"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/storage"
)

// RequesterAuthority is the subset of the REST client the requester
// side drives.
type RequesterAuthority interface {
	CreateOrder(ctx context.Context, req authority.CreateOrderRequest) (*order.Order, error)
	NearbyCandidates(ctx context.Context, at models.Coord, radiusM float64) ([]models.CandidateFulfiller, error)
}

// Settler places, captures and releases payment holds. Card orders
// only; cash settles out of band.
type Settler interface {
	HoldFare(ctx context.Context, breakdown models.FareBreakdown, customerID string) (string, error)
	CaptureFare(ctx context.Context, paymentIntentID string) error
	ReleaseFare(ctx context.Context, paymentIntentID string) error
}

// RequesterSession mirrors the fulfiller loop for the passenger role:
// order snapshots arrive over the channel or as REST confirmations and
// are applied from a single goroutine. It additionally keeps a local
// candidate cache fed by nearby broadcasts, used as a degraded source
// when the authority's nearby query fails.
type RequesterSession struct {
	identity realtime.Identity
	ch       *realtime.Channel
	auth     RequesterAuthority
	ranker   *matching.Ranker
	cache    geo.Geo
	tariff   fare.Tariff
	pay      Settler
	store    storage.SnapshotStore
	log      *slog.Logger

	results chan restResult

	mu       sync.Mutex
	gen      int
	holdID   string
	customer string

	Orders     *realtime.Stream[order.Order]
	Candidates *realtime.Stream[[]models.RankedCandidate]
	Fares      *realtime.Stream[models.FareBreakdown]
}

type RequesterConfig struct {
	Identity  realtime.Identity
	Channel   *realtime.Channel
	Authority RequesterAuthority
	Ranker    *matching.Ranker
	Cache     geo.Geo
	Tariff    fare.Tariff
	Payments  Settler
	Customer  string // payment customer id, empty for cash-only use
	Store     storage.SnapshotStore
	Logger    *slog.Logger
}

func NewRequesterSession(cfg RequesterConfig) *RequesterSession {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = geo.NewIndex()
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Tariff == (fare.Tariff{}) {
		cfg.Tariff = fare.DefaultTariff()
	}
	return &RequesterSession{
		identity:   cfg.Identity,
		ch:         cfg.Channel,
		auth:       cfg.Authority,
		ranker:     cfg.Ranker,
		cache:      cfg.Cache,
		tariff:     cfg.Tariff,
		pay:        cfg.Payments,
		customer:   cfg.Customer,
		store:      cfg.Store,
		log:        cfg.Logger,
		results:    make(chan restResult, 8),
		Orders:     realtime.NewStream[order.Order](),
		Candidates: realtime.NewStream[[]models.RankedCandidate](),
		Fares:      realtime.NewStream[models.FareBreakdown](),
	}
}

// Run connects the channel and applies order snapshots until ctx is
// cancelled.
func (s *RequesterSession) Run(ctx context.Context) error {
	if err := s.ch.Connect(ctx, s.identity); err != nil {
		s.log.Warn("initial channel connect failed", "error", err)
	}
	defer s.teardown()

	if o, err := s.store.Active(ctx); err == nil && o != nil {
		s.apply(o)
	}

	updates, detachUpdates := s.ch.Orders.Subscribe(8)
	defer detachUpdates()
	nearby, detachNearby := s.ch.Nearby.Subscribe(8)
	defer detachNearby()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-updates:
			s.apply(&o)
		case batch := <-nearby:
			for _, n := range batch {
				s.cache.Upsert(n.CandidateFulfiller)
			}
		case res := <-s.results:
			if res.gen == s.generation() {
				s.apply(res.o)
			}
		}
	}
}

func (s *RequesterSession) teardown() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	s.ch.Disconnect()
}

func (s *RequesterSession) generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *RequesterSession) CurrentOrder() (order.Order, bool) { return s.Orders.Last() }

func (s *RequesterSession) apply(o *order.Order) {
	if o == nil {
		return
	}
	s.Orders.Publish(*o)
	if err := s.store.Save(context.Background(), o); err != nil {
		s.log.Warn("snapshot save failed", "order_id", o.ID, "error", err)
	}
	if o.Dropoff != nil {
		dist := geo.HaversineCoord(o.Pickup.Coord, o.Dropoff.Coord)
		s.Fares.Publish(s.tariff.ComputeAt(dist, time.Now()))
	}
	if o.Status == order.StatusSettling {
		s.settle(context.Background(), o)
	}
}

// RequestRide submits a new order. The confirmation snapshot (status
// waiting) flows back through the event loop.
func (s *RequesterSession) RequestRide(ctx context.Context, pickup order.Waypoint, dropoff *order.Waypoint, payment models.PaymentMethod) error {
	if o, ok := s.Orders.Last(); ok && !order.Terminal(o.Status) {
		return order.ErrInvalidTransition
	}
	gen := s.generation()
	// detached from the caller's context; see authorityCallTimeout
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), authorityCallTimeout)
	go func() {
		defer cancel()
		o, err := s.auth.CreateOrder(callCtx, authority.CreateOrderRequest{
			Requester: models.Party{ID: s.identity.ID, Name: s.identity.Name},
			Pickup:    pickup,
			Dropoff:   dropoff,
			Payment:   payment,
		})
		if err != nil {
			s.log.Warn("order creation failed", "error", err)
			return
		}
		select {
		case s.results <- restResult{gen: gen, o: o}:
		case <-callCtx.Done():
		}
	}()
	return nil
}

// EstimateFare brackets the fare for a pickup/dropoff pair. The bounds
// absorb route-versus-great-circle error and the unknown night state.
func (s *RequesterSession) EstimateFare(pickup, dropoff models.Coord) (lo, hi int64) {
	dist := geo.HaversineCoord(pickup, dropoff)
	return s.tariff.EstimateRange(dist, dist*1.5)
}

// NearbyRanked fetches candidates around at and ranks them by travel
// time. When the authority query fails the local cache serves instead,
// so the caller always gets a (possibly empty, possibly stale) list.
func (s *RequesterSession) NearbyRanked(ctx context.Context, at models.Coord) []models.RankedCandidate {
	radius := s.ranker.PrefilterRadiusM
	cands, err := s.auth.NearbyCandidates(ctx, at, radius)
	if err != nil {
		s.log.Warn("nearby query failed, serving cached candidates", "error", err)
		cands = s.cache.Nearby(at.Lat, at.Lon, 20)
	}
	ranked := s.ranker.Rank(ctx, at, cands)
	s.Candidates.Publish(ranked)
	return ranked
}

// settle places the payment hold when a card order enters settlement.
// Cash orders settle out of band.
func (s *RequesterSession) settle(ctx context.Context, o *order.Order) {
	if s.pay == nil || o.Payment != models.PaymentCard || o.Fare == nil {
		return
	}
	s.mu.Lock()
	held := s.holdID != ""
	s.mu.Unlock()
	if held {
		return
	}
	breakdown := models.FareBreakdown{Total: *o.Fare}
	id, err := s.pay.HoldFare(ctx, breakdown, s.customer)
	if err != nil {
		s.log.Warn("payment hold failed", "order_id", o.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.holdID = id
	s.mu.Unlock()
}

// FinishPayment captures (done) or releases (cancelled) the hold once
// the order reaches a terminal status.
func (s *RequesterSession) FinishPayment(ctx context.Context) error {
	s.mu.Lock()
	id := s.holdID
	s.holdID = ""
	s.mu.Unlock()
	if id == "" || s.pay == nil {
		return nil
	}
	o, ok := s.Orders.Last()
	if ok && o.Status == order.StatusCancelled {
		return s.pay.ReleaseFare(ctx, id)
	}
	return s.pay.CaptureFare(ctx, id)
}
