package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	cartsvc "github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// CartService is the slice of the cart service the HTTP layer depends on.
type CartService interface {
	Get(ctx context.Context, owner cartsvc.OwnerRef) (*models.Cart, error)
	AddItem(ctx context.Context, owner cartsvc.OwnerRef, productID uuid.UUID, quantity int) (*models.Cart, error)
	UpdateItemQuantity(ctx context.Context, owner cartsvc.OwnerRef, productID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, owner cartsvc.OwnerRef, productID uuid.UUID) (*models.Cart, error)
	ApplyDiscount(ctx context.Context, owner cartsvc.OwnerRef, code string) (*models.Cart, error)
	RemoveDiscount(ctx context.Context, owner cartsvc.OwnerRef, code string) (*models.Cart, error)
	Clear(ctx context.Context, owner cartsvc.OwnerRef) error
}

// CartFetch returns the owner's active cart with recomputed totals.
func CartFetch(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// CartAddItem adds a product line or bumps the quantity of an existing one.
func CartAddItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.AddItem(r.Context(), owner, payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// CartUpdateItem sets a line quantity; zero removes the line.
func CartUpdateItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := pathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.UpdateItemQuantity(r.Context(), owner, productID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

// CartRemoveItem drops a product line from the cart.
func CartRemoveItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := pathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.RemoveItem(r.Context(), owner, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

type applyDiscountRequest struct {
	Code string `json:"code" validate:"required"`
}

// CartApplyDiscount resolves a promotion code against the cart contents.
func CartApplyDiscount(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload applyDiscountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.ApplyDiscount(r.Context(), owner, payload.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

// CartRemoveDiscount detaches an applied promotion code.
func CartRemoveDiscount(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		code := chi.URLParam(r, "code")
		if code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "discount code required"))
			return
		}

		record, err := svc.RemoveDiscount(r.Context(), owner, code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(record))
	}
}

// CartClear abandons the active cart.
func CartClear(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := cartOwnerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Clear(r.Context(), owner); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "cleared"})
	}
}

type cartResponse struct {
	ID                uuid.UUID              `json:"id"`
	Status            string                 `json:"status"`
	SubtotalCents     int64                  `json:"subtotal_cents"`
	TaxCents          int64                  `json:"tax_cents"`
	DeliveryFeeCents  int64                  `json:"delivery_fee_cents"`
	PackagingFeeCents int64                  `json:"packaging_fee_cents"`
	ServiceFeeCents   int64                  `json:"service_fee_cents"`
	DiscountCents     int64                  `json:"discount_cents"`
	TotalCents        int64                  `json:"total_cents"`
	AppliedDiscounts  types.AppliedDiscounts `json:"applied_discounts,omitempty"`
	Items             []cartItemResponse     `json:"items"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

type cartItemResponse struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	VendorID       uuid.UUID `json:"vendor_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

func newCartResponse(record *models.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(record.Items))
	for _, item := range record.Items {
		items = append(items, cartItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VendorID:       item.VendorID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}

	return cartResponse{
		ID:                record.ID,
		Status:            string(record.Status),
		SubtotalCents:     record.SubtotalCents,
		TaxCents:          record.TaxCents,
		DeliveryFeeCents:  record.DeliveryFeeCents,
		PackagingFeeCents: record.PackagingFeeCents,
		ServiceFeeCents:   record.ServiceFeeCents,
		DiscountCents:     record.DiscountCents,
		TotalCents:        record.TotalCents,
		AppliedDiscounts:  record.AppliedDiscounts,
		Items:             items,
		UpdatedAt:         record.UpdatedAt,
	}
}
