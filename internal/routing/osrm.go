package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// OSRMClient queries the OSRM /table service for travel matrices.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Travel issues one /table request with origins as sources and
// destinations as destinations. Unroutable pairs come back as null
// elements and are reported with OK=false.
func (o *OSRMClient) Travel(ctx context.Context, origins, destinations []models.Coord) ([][]Element, error) {
	// /table/v1/driving/{lon,lat;...}?sources=..&destinations=..
	coords := make([]string, 0, len(origins)+len(destinations))
	for _, c := range append(append([]models.Coord{}, origins...), destinations...) {
		coords = append(coords, fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat))
	}
	srcIdx := make([]string, len(origins))
	for i := range origins {
		srcIdx[i] = strconv.Itoa(i)
	}
	dstIdx := make([]string, len(destinations))
	for i := range destinations {
		dstIdx[i] = strconv.Itoa(len(origins) + i)
	}
	url := fmt.Sprintf("%s/table/v1/driving/%s?sources=%s&destinations=%s&annotations=duration,distance",
		o.Endpoint, strings.Join(coords, ";"), strings.Join(srcIdx, ";"), strings.Join(dstIdx, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Code      string       `json:"code"`
		Durations [][]*float64 `json:"durations"`
		Distances [][]*float64 `json:"distances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" {
		return nil, fmt.Errorf("osrm table: %s", out.Code)
	}
	if len(out.Durations) != len(origins) {
		return nil, fmt.Errorf("osrm table: got %d rows, want %d", len(out.Durations), len(origins))
	}

	matrix := make([][]Element, len(origins))
	for i := range out.Durations {
		if len(out.Durations[i]) != len(destinations) {
			return nil, fmt.Errorf("osrm table: row %d has %d cols, want %d", i, len(out.Durations[i]), len(destinations))
		}
		row := make([]Element, len(destinations))
		for j, dur := range out.Durations[i] {
			var dist *float64
			if i < len(out.Distances) && j < len(out.Distances[i]) {
				dist = out.Distances[i][j]
			}
			if dur == nil || dist == nil {
				row[j] = Element{}
				continue
			}
			row[j] = Element{DistanceMeters: *dist, DurationSeconds: *dur, OK: true}
		}
		matrix[i] = row
	}
	return matrix, nil
}
