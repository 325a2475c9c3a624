// Package realtime maintains the persistent push-channel connection
// to the remote authority and fans inbound events out as typed
// streams. Payloads that fail to decode are dropped and logged, never
// propagated downstream.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/order"
)

// Conn is the subset of a websocket connection the channel needs.
// gorilla's *websocket.Conn satisfies it; tests inject fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

// GorillaDial dials with the default gorilla websocket dialer.
func GorillaDial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL string

	// Fixed-delay reconnection with a bounded attempt count. No
	// backoff, no jitter; after the budget is spent the channel
	// surfaces a persistent disconnected status.
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

var ErrNotConnected = errors.New("realtime: not connected")

// Channel is one logical connection per client role. Constructor
// injected and explicitly owned by a session; connect/disconnect is a
// scoped resource acquisition, not a process-wide singleton.
type Channel struct {
	cfg  Config
	dial DialFunc
	log  *slog.Logger

	Status        *Stream[ConnStatus]
	Offers        *Stream[order.Order]
	Orders        *Stream[order.Order]
	PeerLocations *Stream[PeerLocation]
	Nearby        *Stream[[]NearbyFulfiller]

	mu       sync.Mutex
	conn     Conn
	gen      int
	identity Identity

	writeMu sync.Mutex
}

func NewChannel(cfg Config, logger *slog.Logger) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:           cfg,
		dial:          GorillaDial,
		log:           logger,
		Status:        NewStream[ConnStatus](),
		Offers:        NewStream[order.Order](),
		Orders:        NewStream[order.Order](),
		PeerLocations: NewStream[PeerLocation](),
		Nearby:        NewStream[[]NearbyFulfiller](),
	}
}

// SetDialer replaces the dial function. Intended for tests.
func (c *Channel) SetDialer(d DialFunc) { c.dial = d }

// Connect establishes the connection and announces presence. It is
// idempotent: an existing connection is torn down first, with its
// reader detached before the old socket closes so stale events are
// never delivered on a socket being replaced. A failed dial is
// reported to the caller but still enters the background retry
// budget, so a daemon started against a briefly unreachable authority
// comes online without intervention.
func (c *Channel) Connect(ctx context.Context, id Identity) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.identity = id
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.sessionURL(id))
	if err != nil {
		go c.reconnect(gen)
		return fmt.Errorf("realtime dial: %w", err)
	}
	return c.adopt(gen, conn)
}

// adopt installs a freshly dialed connection for generation gen,
// announces presence and starts the reader.
func (c *Channel) adopt(gen int, conn Conn) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.Status.Publish(StatusConnected)
	if err := c.send(c.identity.presenceEvent(), c.identity); err != nil {
		c.log.Warn("presence announcement failed", "error", err)
	} else {
		observability.PresenceAnnounced.Inc()
	}
	go c.readLoop(gen, conn)
	return nil
}

// Disconnect tears the connection down, detaches the reader and
// resets every stream to its initial value. Safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.Offers.Reset()
	c.Orders.Reset()
	c.PeerLocations.Reset()
	c.Nearby.Reset()
	c.Status.Publish(StatusDisconnected)
}

func (c *Channel) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Channel) readLoop(gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.stale(gen) {
				return
			}
			c.log.Warn("push channel read failed", "error", err)
			c.reconnect(gen)
			return
		}
		if c.stale(gen) {
			return
		}
		c.handle(data)
	}
}

// reconnect retries with a fixed delay up to the configured attempt
// budget, then publishes a persistent disconnected status.
func (c *Channel) reconnect(gen int) {
	c.Status.Publish(StatusReconnecting)
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)
		if c.stale(gen) {
			return
		}
		observability.ReconnectAttempts.Inc()
		conn, err := c.dial(context.Background(), c.sessionURL(c.identity))
		if err != nil {
			c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if err := c.adopt(gen, conn); err == nil {
			return
		}
	}
	if !c.stale(gen) {
		c.Status.Publish(StatusDisconnected)
		c.log.Error("reconnect budget exhausted", "attempts", c.cfg.MaxReconnectAttempts)
	}
}

// handle decodes one inbound envelope and publishes the typed value.
// Any decode failure drops the event.
func (c *Channel) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		observability.DecodeFailures.Inc()
		c.log.Warn("dropping undecodable frame", "error", err)
		return
	}
	observability.EventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EventOrderOffer:
		var o order.Order
		if !c.decode(env, &o) {
			return
		}
		c.Offers.Publish(o)
	case EventOrderStatus, EventOrderUpdate:
		var o order.Order
		if !c.decode(env, &o) {
			return
		}
		c.Orders.Publish(o)
	case EventDriverLocation:
		var p PeerLocation
		if !c.decode(env, &p) {
			return
		}
		c.PeerLocations.Publish(p)
	case EventNearbyDrivers:
		var n []NearbyFulfiller
		if !c.decode(env, &n) {
			return
		}
		c.Nearby.Publish(n)
	default:
		// unknown events are ignored rather than crashing the stream
		c.log.Debug("ignoring unknown event", "event", env.Event)
	}
}

func (c *Channel) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		observability.DecodeFailures.Inc()
		c.log.Warn("dropping undecodable payload", "event", env.Event, "error", err)
		return false
	}
	return true
}

// Outbound intents. Fire-and-forget: acknowledgement, if any, arrives
// asynchronously as a separate pushed event.

func (c *Channel) RequestAccept(orderID string) error {
	return c.send(EventOrderAccept, map[string]string{"order_id": orderID})
}

func (c *Channel) RequestReject(orderID string) error {
	return c.send(EventOrderReject, map[string]string{"order_id": orderID})
}

func (c *Channel) PushLocation(fix models.LocationFix) error {
	return c.send(EventDriverLocation, fix)
}

func (c *Channel) PushStatus(status order.Status) error {
	return c.send(EventDriverStatus, map[string]order.Status{"status": status})
}

func (c *Channel) send(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) sessionURL(id Identity) string {
	q := url.Values{}
	q.Set("role", string(id.Role))
	q.Set("id", id.ID)
	return c.cfg.URL + "?" + q.Encode()
}
