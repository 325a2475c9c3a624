// Package authority is the REST client for the remote dispatch
// authority. Every state-changing call returns the resulting order
// snapshot; the snapshot (or an equivalent pushed event) is the only
// thing that moves local state.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/order"
)

// APIError is a structured failure returned by the authority.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authority: %s (%s, http %d)", e.Message, e.Code, e.HTTPStatus)
}

type Client struct {
	BaseURL string
	Token   string // opaque bearer credential
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

type CreateOrderRequest struct {
	Requester models.Party         `json:"requester"`
	Pickup    order.Waypoint       `json:"pickup"`
	Dropoff   *order.Waypoint      `json:"dropoff,omitempty"`
	Payment   models.PaymentMethod `json:"payment"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	return c.postOrder(ctx, "/api/v1/orders", req)
}

func (c *Client) Accept(ctx context.Context, orderID, fulfillerID string) (*order.Order, error) {
	return c.postOrder(ctx, "/api/v1/orders/"+orderID+"/accept", map[string]string{"fulfiller_id": fulfillerID})
}

func (c *Client) Reject(ctx context.Context, orderID, fulfillerID string) (*order.Order, error) {
	return c.postOrder(ctx, "/api/v1/orders/"+orderID+"/reject", map[string]string{"fulfiller_id": fulfillerID})
}

// UpdateStatus requests the arrived / trip-started / trip-ended
// transitions. The returned snapshot is the confirmation.
func (c *Client) UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error) {
	return c.postOrder(ctx, "/api/v1/orders/"+orderID+"/status", map[string]order.Status{"status": status})
}

func (c *Client) SubmitFare(ctx context.Context, orderID string, amount int64) (*order.Order, error) {
	return c.postOrder(ctx, "/api/v1/orders/"+orderID+"/fare", map[string]int64{"amount": amount})
}

func (c *Client) NearbyCandidates(ctx context.Context, at models.Coord, radiusM float64) ([]models.CandidateFulfiller, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", at.Lat))
	q.Set("lon", fmt.Sprintf("%.6f", at.Lon))
	q.Set("radius_m", fmt.Sprintf("%.0f", radiusM))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/candidates?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Candidates []models.CandidateFulfiller `json:"candidates"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

func (c *Client) postOrder(ctx context.Context, path string, body any) (*order.Order, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		Order *order.Order `json:"order"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Order == nil {
		return nil, fmt.Errorf("authority: response missing order snapshot")
	}
	return out.Order, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Code: "unknown", Message: resp.Status}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
