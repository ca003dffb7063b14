package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
)

type fakeStripeAPI struct {
	intentParams *stripe.PaymentIntentParams
	refundParams *stripe.RefundParams
	intentErr    error
	refundErr    error
}

func (f *fakeStripeAPI) CreatePaymentIntent(_ context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.intentParams = params
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return &stripe.PaymentIntent{ID: "pi_test_123"}, nil
}

func (f *fakeStripeAPI) CreateRefund(_ context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	f.refundParams = params
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &stripe.Refund{ID: "re_test_123"}, nil
}

func TestStripeProviderChargeCreatesPaymentIntent(t *testing.T) {
	api := &fakeStripeAPI{}
	provider := &StripeProvider{api: api}

	payment := &models.Payment{ID: uuid.New(), OrderID: uuid.New(), AmountCents: 2599}
	ref, err := provider.Charge(context.Background(), payment)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if ref != "pi_test_123" {
		t.Fatalf("expected intent id as provider ref, got %q", ref)
	}
	if api.intentParams == nil || api.intentParams.Amount == nil || *api.intentParams.Amount != 2599 {
		t.Fatalf("expected amount 2599 on intent params, got %+v", api.intentParams)
	}
	if got := api.intentParams.Metadata["order_id"]; got != payment.OrderID.String() {
		t.Fatalf("expected order id metadata, got %q", got)
	}
}

func TestStripeProviderRefundRequiresProviderRef(t *testing.T) {
	provider := &StripeProvider{api: &fakeStripeAPI{}}

	payment := &models.Payment{ID: uuid.New(), OrderID: uuid.New(), AmountCents: 1000}
	if _, err := provider.Refund(context.Background(), payment, 500, "damaged item"); err == nil {
		t.Fatal("expected error for payment without provider ref")
	}
}

func TestStripeProviderRefundTargetsOriginalIntent(t *testing.T) {
	api := &fakeStripeAPI{}
	provider := &StripeProvider{api: api}

	intentID := "pi_test_123"
	payment := &models.Payment{ID: uuid.New(), OrderID: uuid.New(), AmountCents: 1000, ProviderRef: &intentID}
	ref, err := provider.Refund(context.Background(), payment, 400, "short shipped")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if ref != "re_test_123" {
		t.Fatalf("expected refund id as provider ref, got %q", ref)
	}
	if api.refundParams == nil || api.refundParams.PaymentIntent == nil || *api.refundParams.PaymentIntent != intentID {
		t.Fatalf("expected refund against %q, got %+v", intentID, api.refundParams)
	}
	if api.refundParams.Amount == nil || *api.refundParams.Amount != 400 {
		t.Fatalf("expected partial amount 400, got %+v", api.refundParams.Amount)
	}
}
