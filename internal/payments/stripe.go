package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/zap"
)

// StripeGateway creates PaymentIntents through the Stripe API
type StripeGateway struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripe builds a gateway for key. A non-empty baseURL points the client
// at a different API host.
func NewStripe(key, baseURL string, logger *zap.Logger) *StripeGateway {
	var backends *stripe.Backends
	if baseURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(baseURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     logger.Sugar(),
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	api := &client.API{}
	api.Init(key, backends)
	return &StripeGateway{api: api, logger: logger}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, in Intent) (PaymentRef, error) {
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyINR)
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(currency),
		Description: stripe.String(in.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.Reference)
	params.AddMetadata("reference", in.Reference)
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return PaymentRef{}, fmt.Errorf("create payment intent: %w", err)
	}
	g.logger.Info("payment intent created",
		zap.String("reference", in.Reference),
		zap.String("payment", pi.ID),
		zap.String("status", string(pi.Status)))
	return PaymentRef{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: mapStatus(pi.Status)}, nil
}

func (g *StripeGateway) Status(ctx context.Context, ref string) (Status, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return "", ErrUnknownPayment
		}
		return "", fmt.Errorf("get payment intent: %w", err)
	}
	return mapStatus(pi.Status), nil
}

func mapStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	}
	return StatusPending
}
