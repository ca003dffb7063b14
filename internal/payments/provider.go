package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
)

// Provider is the capability the payment service needs from an external
// money mover. Implementations wrap whichever PSP is configured; the core
// never sees SDK types.
type Provider interface {
	// Charge initiates a charge for the payment and returns the provider's
	// reference for it.
	Charge(ctx context.Context, payment *models.Payment) (string, error)
	// Refund pushes money back to the original instrument and returns the
	// provider's reference for the refund.
	Refund(ctx context.Context, payment *models.Payment, amountCents int64, reason string) (string, error)
}

// NoopProvider approves everything instantly. Used in development and as
// the default when no PSP is configured; cash-on-delivery flows also run
// through it since no provider call is needed.
type NoopProvider struct{}

func (NoopProvider) Charge(ctx context.Context, payment *models.Payment) (string, error) {
	return "noop-charge-" + uuid.NewString(), nil
}

func (NoopProvider) Refund(ctx context.Context, payment *models.Payment, amountCents int64, reason string) (string, error) {
	return "noop-refund-" + uuid.NewString(), nil
}
