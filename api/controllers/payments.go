package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

// PaymentService is the slice of the payment service the HTTP layer depends on.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, providerRef string) (*models.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amountCents int64, reason string, target enums.RefundTarget) (*models.Refund, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type confirmPaymentRequest struct {
	OrderID     uuid.UUID `json:"order_id" validate:"required"`
	ProviderRef string    `json:"provider_ref" validate:"required"`
}

// PaymentConfirm is the provider webhook path: it flips the payment to paid
// and drives the order to confirmed. Replays of the same confirmation are
// answered with the already-paid record.
func PaymentConfirm(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.ConfirmPayment(r.Context(), payload.OrderID, payload.ProviderRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(record))
	}
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Reason      string `json:"reason" validate:"required"`
	Target      string `json:"target" validate:"required"`
}

// PaymentRefund issues a full or partial refund against a payment.
func PaymentRefund(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.Role != enums.ActorRoleAdmin && actor.Role != enums.ActorRoleSystem {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
			return
		}

		paymentID, err := pathUUID(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseRefundTarget(payload.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund target"))
			return
		}

		refund, err := svc.Refund(r.Context(), paymentID, payload.AmountCents, payload.Reason, target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, refundResponse{
			ID:          refund.ID,
			PaymentID:   refund.PaymentID,
			AmountCents: refund.AmountCents,
			Target:      string(refund.Target),
			Status:      string(refund.Status),
			Reason:      refund.Reason,
			CreatedAt:   refund.CreatedAt,
		})
	}
}

// PaymentByOrder exposes payment state for an order, for support tooling.
func PaymentByOrder(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.Role != enums.ActorRoleAdmin && actor.Role != enums.ActorRoleSystem {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentResponse(record))
	}
}

type paymentResponse struct {
	ID            uuid.UUID        `json:"id"`
	OrderID       uuid.UUID        `json:"order_id"`
	Status        string           `json:"status"`
	Method        string           `json:"method"`
	AmountCents   int64            `json:"amount_cents"`
	RefundedCents int64            `json:"refunded_cents"`
	ProviderRef   *string          `json:"provider_ref,omitempty"`
	Refunds       []refundResponse `json:"refunds,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type refundResponse struct {
	ID          uuid.UUID `json:"id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	Target      string    `json:"target"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPaymentResponse(record *models.Payment) paymentResponse {
	refunds := make([]refundResponse, 0, len(record.Refunds))
	for _, refund := range record.Refunds {
		refunds = append(refunds, refundResponse{
			ID:          refund.ID,
			PaymentID:   refund.PaymentID,
			AmountCents: refund.AmountCents,
			Target:      string(refund.Target),
			Status:      string(refund.Status),
			Reason:      refund.Reason,
			CreatedAt:   refund.CreatedAt,
		})
	}

	return paymentResponse{
		ID:            record.ID,
		OrderID:       record.OrderID,
		Status:        string(record.Status),
		Method:        string(record.Method),
		AmountCents:   record.AmountCents,
		RefundedCents: record.RefundedCents,
		ProviderRef:   record.ProviderRef,
		Refunds:       refunds,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}
