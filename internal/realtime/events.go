package realtime

import (
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Event taxonomy of the push channel. The wire protocol is assumed:
// every frame is a JSON envelope {event, data}.
const (
	EventOrderOffer     = "order:offer"
	EventOrderStatus    = "order:status"
	EventOrderUpdate    = "order:update"
	EventNearbyDrivers  = "nearby:drivers"
	EventDriverLocation = "driver:location"

	EventDriverOnline    = "driver:online"
	EventPassengerOnline = "passenger:online"
	EventDriverStatus    = "driver:status"
	EventOrderAccept     = "order:accept"
	EventOrderReject     = "order:reject"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Role string

const (
	RoleFulfiller Role = "driver"
	RoleRequester Role = "passenger"
)

// Identity names one connected client to the authority.
type Identity struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (i Identity) presenceEvent() string {
	if i.Role == RoleRequester {
		return EventPassengerOnline
	}
	return EventDriverOnline
}

// PeerLocation is the counterpart's live position during a trip.
type PeerLocation struct {
	PartyID string             `json:"party_id"`
	Fix     models.LocationFix `json:"fix"`
}

type NearbyFulfiller struct {
	models.CandidateFulfiller
	Updated time.Time `json:"updated"`
}

type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnected    ConnStatus = "connected"
	StatusReconnecting ConnStatus = "reconnecting"
)
