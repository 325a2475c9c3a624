// Package routing provides travel distance/time matrices from an
// external routing collaborator. The primitive is M origins by N
// destinations; single-origin lookups are the 1xN special case.
package routing

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Element is one cell of a travel matrix. OK is false when the
// collaborator marked the origin/destination pair unroutable.
type Element struct {
	DistanceMeters  float64
	DurationSeconds float64
	OK              bool
}

// Matrix computes travel estimates between every origin and every
// destination. Implementations must return either a full
// len(origins) x len(destinations) matrix or an error, never a
// partial result.
type Matrix interface {
	Travel(ctx context.Context, origins, destinations []models.Coord) ([][]Element, error)
}
