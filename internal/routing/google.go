package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
)

// GoogleMatrix computes travel matrices via the Google Distance Matrix
// API. Alternative to OSRM, selected by configuration.
type GoogleMatrix struct {
	client *maps.Client
}

func NewGoogleMatrix(apiKey string) (*GoogleMatrix, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleMatrix{client: c}, nil
}

func (g *GoogleMatrix) Travel(ctx context.Context, origins, destinations []models.Coord) ([][]Element, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:      coordStrings(origins),
		Destinations: coordStrings(destinations),
		Mode:         maps.TravelModeDriving,
	}
	resp, err := g.client.DistanceMatrix(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("distance matrix: %w", err)
	}
	if len(resp.Rows) != len(origins) {
		return nil, fmt.Errorf("distance matrix: got %d rows, want %d", len(resp.Rows), len(origins))
	}

	matrix := make([][]Element, len(origins))
	for i, row := range resp.Rows {
		if len(row.Elements) != len(destinations) {
			return nil, fmt.Errorf("distance matrix: row %d has %d cols, want %d", i, len(row.Elements), len(destinations))
		}
		out := make([]Element, len(destinations))
		for j, e := range row.Elements {
			if e.Status != "OK" {
				out[j] = Element{}
				continue
			}
			out[j] = Element{
				DistanceMeters:  float64(e.Distance.Meters),
				DurationSeconds: e.Duration.Seconds(),
				OK:              true,
			}
		}
		matrix[i] = out
	}
	return matrix, nil
}

func coordStrings(coords []models.Coord) []string {
	out := make([]string, len(coords))
	for i, c := range coords {
		out[i] = fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
	}
	return out
}
