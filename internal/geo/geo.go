package geo

import (
	"math"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Geo is the minimal candidate-cache interface used by the requester
// session as a degraded-mode source when the authority's nearby query
// is unavailable.
type Geo interface {
	Nearby(lat, lon float64, limit int) []models.CandidateFulfiller
	Upsert(c models.CandidateFulfiller)
}

type Index struct {
	mu         sync.RWMutex
	candidates map[string]models.CandidateFulfiller
}

func NewIndex() *Index {
	return &Index{candidates: make(map[string]models.CandidateFulfiller)}
}

func (g *Index) Upsert(c models.CandidateFulfiller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidates[c.ID] = c
}

// naive scan; fine for the handful of candidates one client sees
func (g *Index) Nearby(lat, lon float64, limit int) []models.CandidateFulfiller {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		c    models.CandidateFulfiller
		dist float64
	}
	arr := make([]pair, 0, len(g.candidates))
	for _, c := range g.candidates {
		arr = append(arr, pair{c, Haversine(lat, lon, c.Loc.Lat, c.Loc.Lon)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.CandidateFulfiller, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].c)
	}
	return out
}

// Haversine returns the great-circle distance in meters. This is a
// proximity heuristic, not a routing computation.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// HaversineCoord is Haversine over Coord values.
func HaversineCoord(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}
