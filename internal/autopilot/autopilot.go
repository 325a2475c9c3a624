// Package autopilot derives display state and transition triggers
// from raw location fixes. It never mutates the order itself: a
// trigger is a request to the authority, and only the confirmed
// snapshot moves the order forward.
package autopilot

import (
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
)

type Kind string

const (
	KindNoOrder            Kind = "no_order"
	KindWaitingForAccept   Kind = "waiting_for_accept"
	KindNavigatingToPickup Kind = "navigating_to_pickup"
	KindArrivedAtPickup    Kind = "arrived_at_pickup"
	KindOnTrip             Kind = "on_trip"
	KindWaitingForPayment  Kind = "waiting_for_payment"
)

// State is the derived projection over the current order and the most
// recent fix. Not authoritative; discarded and rebuilt on every order
// transition.
type State struct {
	Kind  Kind         `json:"kind"`
	Order *order.Order `json:"order,omitempty"`

	DistanceToPickupM float64 `json:"distance_to_pickup_m"`
	NearPickup        bool    `json:"near_pickup"`

	DistanceToDestinationM float64 `json:"distance_to_destination_m"`
	NearDestination        bool    `json:"near_destination"`

	TripStartedAt *time.Time `json:"trip_started_at,omitempty"`
}

type Trigger string

const (
	TriggerNone        Trigger = ""
	TriggerMarkArrived Trigger = "mark_arrived"
	TriggerEndTrip     Trigger = "end_trip"
)

type Thresholds struct {
	ArrivalM     float64
	DestinationM float64
	SpeedKmh     float64
	// Debounce is measured on fix capture timestamps, so a stalled
	// GPS feed never fires an auto action.
	Debounce time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{ArrivalM: 50, DestinationM: 100, SpeedKmh: 5, Debounce: 3 * time.Second}
}

type Engine struct {
	thresholds Thresholds
	state      State

	nearSince    time.Time
	hasNearSince bool
	fired        bool
}

func NewEngine(th Thresholds) *Engine {
	return &Engine{thresholds: th, state: State{Kind: KindNoOrder}}
}

func (e *Engine) State() State { return e.state }

// SetOrder replaces the underlying order wholesale. A snapshot with
// the same id and status is an idempotent confirmation: derived
// distances are kept. Anything else is a transition and the state is
// rebuilt from scratch, with no carry-over of stale distances.
func (e *Engine) SetOrder(o *order.Order) State {
	if o != nil && e.state.Order != nil && o.ID == e.state.Order.ID && o.Status == e.state.Order.Status {
		e.state.Order = o
		return e.state
	}
	e.state = State{Kind: kindFor(o), Order: o}
	if e.state.Kind == KindNoOrder {
		e.state.Order = nil
	}
	if e.state.Kind == KindOnTrip {
		e.state.TripStartedAt = o.StartedAt
	}
	e.nearSince = time.Time{}
	e.hasNearSince = false
	e.fired = false
	return e.state
}

func kindFor(o *order.Order) Kind {
	if o == nil {
		return KindNoOrder
	}
	switch o.Status {
	case order.StatusWaiting, order.StatusOffered:
		return KindWaitingForAccept
	case order.StatusAccepted:
		return KindNavigatingToPickup
	case order.StatusArrived:
		return KindArrivedAtPickup
	case order.StatusOnTrip:
		return KindOnTrip
	case order.StatusSettling:
		return KindWaitingForPayment
	default:
		return KindNoOrder
	}
}

// OnFix recomputes the derived state for one location fix and returns
// at most one transition trigger per threshold crossing.
func (e *Engine) OnFix(fix models.LocationFix) (State, Trigger) {
	switch e.state.Kind {
	case KindNavigatingToPickup:
		d := geo.HaversineCoord(fix.Coord, e.state.Order.Pickup.Coord)
		e.state.DistanceToPickupM = d
		e.state.NearPickup = d <= e.thresholds.ArrivalM
		if e.state.NearPickup && fix.SpeedKmh < e.thresholds.SpeedKmh {
			if e.debounced(fix.CapturedAt) {
				return e.state, TriggerMarkArrived
			}
		} else {
			e.resetWindow()
		}
	case KindOnTrip:
		if e.state.Order.Dropoff == nil {
			// nothing to compare against; the trip must be ended manually
			return e.state, TriggerNone
		}
		d := geo.HaversineCoord(fix.Coord, e.state.Order.Dropoff.Coord)
		e.state.DistanceToDestinationM = d
		near := d <= e.thresholds.DestinationM && fix.SpeedKmh < e.thresholds.SpeedKmh
		e.state.NearDestination = near
		if near {
			if e.debounced(fix.CapturedAt) {
				return e.state, TriggerEndTrip
			}
		} else {
			e.resetWindow()
		}
	}
	return e.state, TriggerNone
}

// debounced tracks how long the trigger condition has held, keyed on
// fix timestamps, and fires once per window.
func (e *Engine) debounced(at time.Time) bool {
	if !e.hasNearSince {
		e.nearSince = at
		e.hasNearSince = true
	}
	if e.fired {
		return false
	}
	if at.Sub(e.nearSince) >= e.thresholds.Debounce {
		e.fired = true
		return true
	}
	return false
}

func (e *Engine) resetWindow() {
	e.hasNearSince = false
	e.fired = false
}
