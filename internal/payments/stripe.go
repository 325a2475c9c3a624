// Package payments wraps stripe-go for the settlement boundary: a
// manual-capture hold placed when the fare is submitted for a card
// order, captured on authority confirmation, released on cancellation.
package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/models"
)

type StripeClient struct {
	currency string
}

// NewStripeClient sets the global stripe API key. Currency is the
// tariff's minor-unit currency (e.g. "usd").
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{currency: currency}
}

// HoldFare creates a manual-capture PaymentIntent for the computed
// fare total and returns its ID.
func (s *StripeClient) HoldFare(ctx context.Context, breakdown models.FareBreakdown, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(breakdown.Total),
		Currency: stripe.String(s.currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// CaptureFare finalizes a previously held fare.
func (s *StripeClient) CaptureFare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// ReleaseFare drops the hold, e.g. when the order is cancelled during
// settlement.
func (s *StripeClient) ReleaseFare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
