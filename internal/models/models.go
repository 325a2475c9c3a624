package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationFix is one instantaneous GPS sample. Fixes are ephemeral:
// consumed once by the autopilot and optionally forwarded outward,
// never persisted.
type LocationFix struct {
	Coord      Coord     `json:"coord"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Bearing    float64   `json:"bearing"`
	CapturedAt time.Time `json:"captured_at"`
}

type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

type CandidateFulfiller struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Loc    Coord   `json:"loc"`
	Rating float64 `json:"rating"` // 0..5
}

// RankedCandidate is a CandidateFulfiller enriched with travel
// estimates. Produced fresh per matching request, never cached.
type RankedCandidate struct {
	CandidateFulfiller
	DistanceMeters float64 `json:"distance_meters"`
	TravelSeconds  float64 `json:"travel_seconds"`
	ETAText        string  `json:"eta_text"`
	Approximate    bool    `json:"approximate"`
}

// FareBreakdown is the output of the fare engine. Amounts are integer
// minor currency units.
type FareBreakdown struct {
	Base              int64   `json:"base"`
	DistanceSurcharge int64   `json:"distance_surcharge"`
	NightSurcharge    int64   `json:"night_surcharge"`
	Total             int64   `json:"total"`
	DistanceMeters    float64 `json:"distance_meters"`
	NightRate         bool    `json:"night_rate"`
}
