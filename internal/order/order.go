// Package order holds the canonical order entity and its legal state
// transitions. No transition is applied locally without confirmation
// from the remote authority; the guards here only decide whether a
// request may be issued at all.
package order

import (
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusWaiting   Status = "waiting"
	StatusOffered   Status = "offered"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusOnTrip    Status = "on_trip"
	StatusSettling  Status = "settling"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Waypoint pairs coordinates with a human-readable address.
type Waypoint struct {
	Coord   models.Coord `json:"coord"`
	Address string       `json:"address"`
}

type Order struct {
	ID        string               `json:"id"`
	Requester models.Party         `json:"requester"`
	Fulfiller *models.Party        `json:"fulfiller,omitempty"`
	Pickup    Waypoint             `json:"pickup"`
	Dropoff   *Waypoint            `json:"dropoff,omitempty"`
	Payment   models.PaymentMethod `json:"payment"`
	Fare      *int64               `json:"fare,omitempty"`
	Status    Status               `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CancelledBy *string `json:"cancelled_by,omitempty"`
}

type Action string

const (
	ActionAccept      Action = "accept"
	ActionReject      Action = "reject"
	ActionMarkArrived Action = "mark_arrived"
	ActionStartTrip   Action = "start_trip"
	ActionEndTrip     Action = "end_trip"
	ActionSettle      Action = "settle"
)

// ErrInvalidTransition is returned synchronously when an action is
// requested while its guard is false. No network call is made.
var ErrInvalidTransition = errors.New("order: invalid transition for current status")

// legalSource maps each action to the single status it may be
// requested from.
var legalSource = map[Action]Status{
	ActionAccept:      StatusOffered,
	ActionReject:      StatusOffered,
	ActionMarkArrived: StatusAccepted,
	ActionStartTrip:   StatusArrived,
	ActionEndTrip:     StatusOnTrip,
	ActionSettle:      StatusSettling,
}

func CanTransition(current Status, a Action) bool {
	src, ok := legalSource[a]
	return ok && current == src
}

func CanAccept(s Status) bool      { return s == StatusOffered }
func CanReject(s Status) bool      { return s == StatusOffered }
func CanMarkArrived(s Status) bool { return s == StatusAccepted }
func CanStartTrip(s Status) bool   { return s == StatusArrived }
func CanEndTrip(s Status) bool     { return s == StatusOnTrip }
func CanSettle(s Status) bool      { return s == StatusSettling }

func Terminal(s Status) bool { return s == StatusDone || s == StatusCancelled }

// Guard rejects an action that is illegal for the current status.
func Guard(current Status, a Action) error {
	if !CanTransition(current, a) {
		return ErrInvalidTransition
	}
	return nil
}
