// Package payments creates and checks payment intents for marketplace orders.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrUnknownPayment = errors.New("unknown payment reference")

// Intent asks the gateway to collect Amount (minor units) for an order
type Intent struct {
	Reference   string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// PaymentRef identifies a created intent
type PaymentRef struct {
	ID           string
	ClientSecret string
	Status       Status
}

type Gateway interface {
	CreateIntent(ctx context.Context, in Intent) (PaymentRef, error)
	Status(ctx context.Context, ref string) (Status, error)
}

// New returns a Stripe gateway when a secret key is configured and the
// simulated gateway otherwise.
func New(stripeKey string, logger *zap.Logger) Gateway {
	if strings.TrimSpace(stripeKey) == "" {
		logger.Warn("no stripe key configured, payments are simulated")
		return NewSimulated(logger)
	}
	return NewStripe(stripeKey, "", logger)
}

// SimulatedGateway approves every payment immediately
type SimulatedGateway struct {
	logger *zap.Logger
}

func NewSimulated(logger *zap.Logger) *SimulatedGateway {
	return &SimulatedGateway{logger: logger}
}

const simPrefix = "sim_"

func (g *SimulatedGateway) CreateIntent(_ context.Context, in Intent) (PaymentRef, error) {
	ref := PaymentRef{ID: simPrefix + uuid.NewString(), Status: StatusSucceeded}
	g.logger.Info("simulated payment created",
		zap.String("reference", in.Reference),
		zap.String("payment", ref.ID),
		zap.Int64("amount", in.Amount))
	return ref, nil
}

func (g *SimulatedGateway) Status(_ context.Context, ref string) (Status, error) {
	if !strings.HasPrefix(ref, simPrefix) {
		return "", ErrUnknownPayment
	}
	return StatusSucceeded, nil
}
