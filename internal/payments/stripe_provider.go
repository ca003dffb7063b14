package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	pkgstripe "github.com/gastonanderson039-glitch/supermarketpro/pkg/stripe"
)

const stripeCurrency = "usd"

// stripeAPI is the subset of Stripe operations the provider needs, split out
// so the provider can be tested without network calls.
type stripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeAPIWrapper struct{}

func (stripeAPIWrapper) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}

func (stripeAPIWrapper) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	if params != nil {
		params.Context = ctx
	}
	return refund.New(params)
}

// StripeProvider charges and refunds through Stripe PaymentIntents. Charges
// are created server-side and settle asynchronously; the confirmation
// webhook drives the payment to its final status.
type StripeProvider struct {
	api stripeAPI
}

// NewStripeProvider builds a provider on an initialized Stripe client.
func NewStripeProvider(client *pkgstripe.Client) (*StripeProvider, error) {
	if client == nil || client.API() == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeProvider{api: stripeAPIWrapper{}}, nil
}

func (p *StripeProvider) Charge(ctx context.Context, payment *models.Payment) (string, error) {
	if payment == nil {
		return "", fmt.Errorf("payment required")
	}
	intent, err := p.api.CreatePaymentIntent(ctx, &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(payment.AmountCents),
		Currency: stripe.String(stripeCurrency),
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"order_id":   payment.OrderID.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating payment intent: %w", err)
	}
	return intent.ID, nil
}

func (p *StripeProvider) Refund(ctx context.Context, payment *models.Payment, amountCents int64, reason string) (string, error) {
	if payment == nil {
		return "", fmt.Errorf("payment required")
	}
	if payment.ProviderRef == nil || *payment.ProviderRef == "" {
		return "", fmt.Errorf("payment %s has no provider reference", payment.ID)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(*payment.ProviderRef),
		Amount:        stripe.Int64(amountCents),
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"reason":     reason,
		},
	}
	ref, err := p.api.CreateRefund(ctx, params)
	if err != nil {
		return "", fmt.Errorf("creating refund: %w", err)
	}
	return ref.ID, nil
}
