package authority

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
)

func TestAcceptReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/v1/orders/o1/accept" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"order":{"id":"o1","status":"accepted"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	o, err := c.Accept(context.Background(), "o1", "d1")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if o.ID != "o1" || o.Status != order.StatusAccepted {
		t.Fatalf("unexpected snapshot: %+v", o)
	}
}

func TestStructuredFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"stale_status","message":"order already accepted"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Accept(context.Background(), "o1", "d1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "stale_status" || apiErr.HTTPStatus != http.StatusConflict {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestNearbyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("radius_m"); got != "5000" {
			t.Errorf("radius_m = %q", got)
		}
		w.Write([]byte(`{"candidates":[{"id":"d1","name":"Ann","loc":{"lat":1,"lon":2},"rating":4.8}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	got, err := c.NearbyCandidates(context.Background(), models.Coord{Lat: 1, Lon: 2}, 5000)
	if err != nil {
		t.Fatalf("NearbyCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "d1" || got[0].Rating != 4.8 {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}
