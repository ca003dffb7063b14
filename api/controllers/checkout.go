package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	cartsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	checkoutsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/checkout"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// CheckoutService converts the active cart into per-vendor orders.
type CheckoutService interface {
	Execute(ctx context.Context, owner cartsvc.OwnerRef, input checkoutsvc.CheckoutInput) (*checkoutsvc.CheckoutResult, error)
}

type checkoutRequest struct {
	ShippingAddress types.Address `json:"shipping_address" validate:"required"`
	PaymentMethod   string        `json:"payment_method" validate:"required"`
}

type checkoutFailureResponse struct {
	VendorID   uuid.UUID   `json:"vendor_id"`
	Reason     string      `json:"reason"`
	ProductIDs []uuid.UUID `json:"product_ids,omitempty"`
}

type checkoutResponse struct {
	CheckoutGroupID uuid.UUID                 `json:"checkout_group_id"`
	Orders          []orderResponse           `json:"orders"`
	Failures        []checkoutFailureResponse `json:"failures,omitempty"`
}

// Checkout converts the customer's cart. Partial success is a 201: each
// vendor converts or fails independently and the response reports both.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
			return
		}

		result, err := svc.Execute(r.Context(), owner, checkoutsvc.CheckoutInput{
			ShippingAddress: payload.ShippingAddress,
			PaymentMethod:   method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := checkoutResponse{CheckoutGroupID: result.CheckoutGroupID}
		for i := range result.Orders {
			resp.Orders = append(resp.Orders, newOrderResponse(&result.Orders[i]))
		}
		for _, failure := range result.Failures {
			resp.Failures = append(resp.Failures, checkoutFailureResponse{
				VendorID:   failure.VendorID,
				Reason:     failure.Reason,
				ProductIDs: failure.ProductIDs,
			})
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}
