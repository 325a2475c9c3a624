// Package gateway exposes the local control surface of a client
// daemon over HTTP: current order and derived state for the UI layer,
// intent endpoints that go through the transition guards, and a
// location ingest endpoint feeding the auto-transition engine.
package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/authority"
	"github.com/example/ride-dispatch/internal/autopilot"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
	"github.com/example/ride-dispatch/internal/session"
)

type Server struct {
	Fulfiller *session.FulfillerSession
	Requester *session.RequesterSession

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer builds the router for whichever role session is present.
// A daemon runs exactly one role; both fields set is allowed but not
// expected outside tests.
func NewServer(logger *slog.Logger, f *session.FulfillerSession, r *session.RequesterSession) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Fulfiller: f, Requester: r, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	if s.Fulfiller != nil {
		s.mux.HandleFunc("/api/v1/order", s.handleFulfillerOrder).Methods(http.MethodGet)
		s.mux.HandleFunc("/api/v1/state", s.handleState).Methods(http.MethodGet)
		s.mux.HandleFunc("/api/v1/intents/{intent}", s.handleIntent).Methods(http.MethodPost)
		s.mux.HandleFunc("/api/v1/fare", s.handleSubmitFare).Methods(http.MethodPost)
		s.mux.HandleFunc("/internal/location", s.handleLocation).Methods(http.MethodPost)
	}
	if s.Requester != nil {
		s.mux.HandleFunc("/api/v1/orders", s.handleRequestRide).Methods(http.MethodPost)
		if s.Fulfiller == nil {
			s.mux.HandleFunc("/api/v1/order", s.handleRequesterOrder).Methods(http.MethodGet)
		}
		s.mux.HandleFunc("/api/v1/candidates", s.handleCandidates).Methods(http.MethodGet)
		s.mux.HandleFunc("/api/v1/fare/estimate", s.handleFareEstimate).Methods(http.MethodGet)
		s.mux.HandleFunc("/api/v1/payment/finish", s.handleFinishPayment).Methods(http.MethodPost)
	}
}

func (s *Server) handleFulfillerOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.Fulfiller.CurrentOrder()
	if !ok {
		writeError(w, http.StatusNotFound, "no_order", "no active order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) handleRequesterOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.Requester.CurrentOrder()
	if !ok {
		writeError(w, http.StatusNotFound, "no_order", "no active order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Fulfiller.CurrentState()
	if !ok {
		st = autopilot.State{Kind: autopilot.KindNoOrder}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mux.Vars(r)["intent"] {
	case "accept":
		err = s.Fulfiller.Accept(r.Context())
	case "reject":
		err = s.Fulfiller.Reject(r.Context())
	case "arrived":
		err = s.Fulfiller.MarkArrived(r.Context())
	case "start":
		err = s.Fulfiller.StartTrip(r.Context())
	case "end":
		err = s.Fulfiller.EndTrip(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unknown_intent", "unknown intent")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmitFare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	if err := s.Fulfiller.SubmitFare(r.Context(), body.Amount); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var fix models.LocationFix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.Fulfiller.SubmitFix(fix)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pickup  order.Waypoint       `json:"pickup"`
		Dropoff *order.Waypoint      `json:"dropoff,omitempty"`
		Payment models.PaymentMethod `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if body.Payment == "" {
		body.Payment = models.PaymentCash
	}
	if err := s.Requester.RequestRide(r.Context(), body.Pickup, body.Dropoff, body.Payment); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	at, err := coordFromQuery(r, "lat", "lon")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ranked := s.Requester.NearbyRanked(r.Context(), at)
	writeJSON(w, http.StatusOK, map[string]any{"candidates": ranked})
}

func (s *Server) handleFareEstimate(w http.ResponseWriter, r *http.Request) {
	pickup, err := coordFromQuery(r, "pickup_lat", "pickup_lon")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	dropoff, err := coordFromQuery(r, "dropoff_lat", "dropoff_lon")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	lo, hi := s.Requester.EstimateFare(pickup, dropoff)
	writeJSON(w, http.StatusOK, map[string]int64{"low": lo, "high": hi})
}

func (s *Server) handleFinishPayment(w http.ResponseWriter, r *http.Request) {
	if err := s.Requester.FinishPayment(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps session failures onto HTTP: guard rejections
// become 409, structured authority failures keep their status, and
// everything else is a 502 because the authority is the upstream.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, order.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
		return
	}
	var apiErr *authority.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message)
		return
	}
	s.logger.Error("gateway request failed", "error", err)
	writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}

func coordFromQuery(r *http.Request, latKey, lonKey string) (models.Coord, error) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get(latKey), 64)
	if err != nil {
		return models.Coord{}, errors.New(latKey + " is required")
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get(lonKey), 64)
	if err != nil {
		return models.Coord{}, errors.New(lonKey + " is required")
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
