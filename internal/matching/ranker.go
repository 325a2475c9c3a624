// Package matching ranks candidate fulfillers by estimated travel
// time to a reference point. The engine always returns a rank-ordered
// result: when the routing collaborator is unavailable it degrades to
// a great-circle approximation instead of surfacing the error.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/routing"
)

// Unreachable is the sentinel distance/duration assigned to matrix
// elements the collaborator marked unroutable. It sorts last so the
// candidate still appears instead of silently vanishing.
const Unreachable = math.MaxFloat64

const (
	defaultPrefilterRadiusM = 10000
	defaultFallbackSpeedMps = 10
)

type Ranker struct {
	Matrix           routing.Matrix
	PrefilterRadiusM float64
	FallbackSpeedMps float64
	Timeout          time.Duration
	Logger           *slog.Logger
}

func NewRanker(m routing.Matrix, logger *slog.Logger) *Ranker {
	return &Ranker{
		Matrix:           m,
		PrefilterRadiusM: defaultPrefilterRadiusM,
		FallbackSpeedMps: defaultFallbackSpeedMps,
		Timeout:          3 * time.Second,
		Logger:           logger,
	}
}

// Rank produces one RankedCandidate per candidate within the hard
// prefilter radius, sorted ascending by travel time. Ties keep input
// order (stable sort).
func (r *Ranker) Rank(ctx context.Context, ref models.Coord, candidates []models.CandidateFulfiller) []models.RankedCandidate {
	kept := make([]models.CandidateFulfiller, 0, len(candidates))
	for _, c := range candidates {
		if geo.HaversineCoord(c.Loc, ref) <= r.prefilterRadius() {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return []models.RankedCandidate{}
	}

	origins := make([]models.Coord, len(kept))
	for i, c := range kept {
		origins[i] = c.Loc
	}
	elems := r.column(r.Estimate(ctx, origins, []models.Coord{ref}))

	out := make([]models.RankedCandidate, len(kept))
	for i, c := range kept {
		e := elems[i]
		rc := models.RankedCandidate{
			CandidateFulfiller: c,
			DistanceMeters:     e.DistanceMeters,
			TravelSeconds:      e.DurationSeconds,
			Approximate:        e.Approximate,
		}
		rc.ETAText = etaText(e.DurationSeconds, e.Approximate)
		out[i] = rc
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TravelSeconds < out[j].TravelSeconds })
	return out
}

type Leg struct {
	DistanceMeters  float64
	DurationSeconds float64
	Approximate     bool
}

// Estimate is the soft-fail M x N primitive. A collaborator failure
// (transport error, malformed response) replaces the whole matrix with
// a synthesized great-circle estimate; a per-element unroutable status
// becomes the Unreachable sentinel.
func (r *Ranker) Estimate(ctx context.Context, origins, destinations []models.Coord) [][]Leg {
	out := make([][]Leg, len(origins))

	if r.Matrix != nil {
		callCtx := ctx
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		observability.MatrixRequests.Inc()
		m, err := r.Matrix.Travel(callCtx, origins, destinations)
		if err == nil {
			for i := range origins {
				row := make([]Leg, len(destinations))
				for j := range destinations {
					e := m[i][j]
					if !e.OK {
						row[j] = Leg{DistanceMeters: Unreachable, DurationSeconds: Unreachable}
						continue
					}
					row[j] = Leg{DistanceMeters: e.DistanceMeters, DurationSeconds: e.DurationSeconds}
				}
				out[i] = row
			}
			return out
		}
		observability.MatrixFallbacks.Inc()
		if r.Logger != nil {
			r.Logger.Warn("routing collaborator failed, using haversine fallback", "error", err)
		}
	}

	speed := r.FallbackSpeedMps
	if speed <= 0 {
		speed = defaultFallbackSpeedMps
	}
	for i, o := range origins {
		row := make([]Leg, len(destinations))
		for j, d := range destinations {
			dist := geo.HaversineCoord(o, d)
			row[j] = Leg{DistanceMeters: dist, DurationSeconds: dist / speed, Approximate: true}
		}
		out[i] = row
	}
	return out
}

func (r *Ranker) column(m [][]Leg) []Leg {
	out := make([]Leg, len(m))
	for i := range m {
		out[i] = m[i][0]
	}
	return out
}

func (r *Ranker) prefilterRadius() float64 {
	if r.PrefilterRadiusM <= 0 {
		return defaultPrefilterRadiusM
	}
	return r.PrefilterRadiusM
}

func etaText(seconds float64, approximate bool) string {
	if seconds == Unreachable {
		return "unreachable"
	}
	minutes := int(math.Ceil(seconds / 60))
	if minutes < 1 {
		minutes = 1
	}
	if approximate {
		return fmt.Sprintf("approx. %d min", minutes)
	}
	return fmt.Sprintf("%d min", minutes)
}
