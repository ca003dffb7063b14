package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	dbtypes "github.com/gastonanderson039-glitch/supermarketpro/pkg/db/types"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

// PromotionService is the admin CRUD surface plus the public code lookup.
type PromotionService interface {
	CreatePromotion(ctx context.Context, promo *models.Promotion) (*models.Promotion, error)
	DeactivatePromotion(ctx context.Context, id uuid.UUID) error
	ListPromotions(ctx context.Context, activeOnly bool, limit int) ([]models.Promotion, error)
	GetByCode(ctx context.Context, code string) (*models.Promotion, error)
}

type createPromotionRequest struct {
	Code                 *string     `json:"code"`
	Type                 string      `json:"type" validate:"required"`
	Scope                string      `json:"scope" validate:"required"`
	VendorID             *uuid.UUID  `json:"vendor_id"`
	PercentBps           int64       `json:"percent_bps"`
	AmountCents          int64       `json:"amount_cents"`
	BuyQty               int         `json:"buy_qty"`
	GetQty               int         `json:"get_qty"`
	StartsAt             time.Time   `json:"starts_at" validate:"required"`
	EndsAt               time.Time   `json:"ends_at" validate:"required"`
	MinPurchaseCents     int64       `json:"min_purchase_cents"`
	MaxDiscountCents     int64       `json:"max_discount_cents"`
	PerCustomerLimit     int         `json:"per_customer_limit"`
	TotalLimit           int         `json:"total_limit"`
	ApplicableProductIDs []uuid.UUID `json:"applicable_product_ids"`
}

// PromotionCreate registers a new discount rule. Admin only.
func PromotionCreate(svc PromotionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createPromotionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		promoType, err := enums.ParsePromotionType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid promotion type"))
			return
		}
		scope, err := enums.ParseDiscountScope(payload.Scope)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discount scope"))
			return
		}

		promo := &models.Promotion{
			Code:                 payload.Code,
			Type:                 promoType,
			Scope:                scope,
			VendorID:             payload.VendorID,
			PercentBps:           payload.PercentBps,
			AmountCents:          payload.AmountCents,
			BuyQty:               payload.BuyQty,
			GetQty:               payload.GetQty,
			StartsAt:             payload.StartsAt,
			EndsAt:               payload.EndsAt,
			MinPurchaseCents:     payload.MinPurchaseCents,
			MaxDiscountCents:     payload.MaxDiscountCents,
			PerCustomerLimit:     payload.PerCustomerLimit,
			TotalLimit:           payload.TotalLimit,
			ApplicableProductIDs: dbtypes.UUIDArray(payload.ApplicableProductIDs),
			Active:               true,
		}

		record, err := svc.CreatePromotion(r.Context(), promo)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newPromotionResponse(record))
	}
}

// PromotionFetch looks up a live promotion by code, for cart UX.
func PromotionFetch(svc PromotionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "promotion code required"))
			return
		}

		record, err := svc.GetByCode(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPromotionResponse(record))
	}
}

// PromotionList returns promotions for the admin console.
func PromotionList(svc PromotionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly := r.URL.Query().Get("active") == "true"

		records, err := svc.ListPromotions(r.Context(), activeOnly, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]promotionResponse, 0, len(records))
		for i := range records {
			items = append(items, newPromotionResponse(&records[i]))
		}
		responses.WriteSuccess(w, items)
	}
}

// PromotionDeactivate retires a promotion without deleting its usage history.
func PromotionDeactivate(svc PromotionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		promotionID, err := pathUUID(r, "promotionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.DeactivatePromotion(r.Context(), promotionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deactivated"})
	}
}

type promotionResponse struct {
	ID                   uuid.UUID   `json:"id"`
	Code                 *string     `json:"code,omitempty"`
	Type                 string      `json:"type"`
	Scope                string      `json:"scope"`
	VendorID             *uuid.UUID  `json:"vendor_id,omitempty"`
	PercentBps           int64       `json:"percent_bps"`
	AmountCents          int64       `json:"amount_cents"`
	BuyQty               int         `json:"buy_qty,omitempty"`
	GetQty               int         `json:"get_qty,omitempty"`
	StartsAt             time.Time   `json:"starts_at"`
	EndsAt               time.Time   `json:"ends_at"`
	MinPurchaseCents     int64       `json:"min_purchase_cents"`
	MaxDiscountCents     int64       `json:"max_discount_cents"`
	PerCustomerLimit     int         `json:"per_customer_limit"`
	TotalLimit           int         `json:"total_limit"`
	UsageCount           int         `json:"usage_count"`
	ApplicableProductIDs []uuid.UUID `json:"applicable_product_ids,omitempty"`
	Active               bool        `json:"active"`
	CreatedAt            time.Time   `json:"created_at"`
}

func newPromotionResponse(record *models.Promotion) promotionResponse {
	return promotionResponse{
		ID:                   record.ID,
		Code:                 record.Code,
		Type:                 string(record.Type),
		Scope:                string(record.Scope),
		VendorID:             record.VendorID,
		PercentBps:           record.PercentBps,
		AmountCents:          record.AmountCents,
		BuyQty:               record.BuyQty,
		GetQty:               record.GetQty,
		StartsAt:             record.StartsAt,
		EndsAt:               record.EndsAt,
		MinPurchaseCents:     record.MinPurchaseCents,
		MaxDiscountCents:     record.MaxDiscountCents,
		PerCustomerLimit:     record.PerCustomerLimit,
		TotalLimit:           record.TotalLimit,
		UsageCount:           record.UsageCount,
		ApplicableProductIDs: []uuid.UUID(record.ApplicableProductIDs),
		Active:               record.Active,
		CreatedAt:            record.CreatedAt,
	}
}
