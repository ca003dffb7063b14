package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
)

// InventoryReservationRequest asks for qty units of a product to be held.
type InventoryReservationRequest struct {
	CartItemID uuid.UUID
	ProductID  uuid.UUID
	Qty        int
}

// InventoryReservationResult reports the outcome for a single request.
type InventoryReservationResult struct {
	CartItemID uuid.UUID
	ProductID  uuid.UUID
	Qty        int
	Reserved   bool
	Reason     string
}

// ReserveInventory moves stock from available to reserved for each request.
// The guarded UPDATE makes the last-unit race safe: two concurrent checkouts
// cannot both decrement past zero. Failed requests are reported per-row, not
// as an error, so callers can decide how to degrade.
func ReserveInventory(ctx context.Context, tx *gorm.DB, requests []InventoryReservationRequest) ([]InventoryReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}

	results := make([]InventoryReservationResult, 0, len(requests))
	for _, req := range requests {
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("reservation qty must be positive (product_id=%s)", req.ProductID))
		}

		update := tx.WithContext(ctx).
			Model(&models.InventoryItem{}).
			Where("product_id = ? AND available_qty >= ?", req.ProductID, req.Qty).
			Updates(map[string]any{
				"available_qty": gorm.Expr("available_qty - ?", req.Qty),
				"reserved_qty":  gorm.Expr("reserved_qty + ?", req.Qty),
			})
		if update.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, update.Error, "reserve inventory")
		}

		result := InventoryReservationResult{
			CartItemID: req.CartItemID,
			ProductID:  req.ProductID,
			Qty:        req.Qty,
			Reserved:   update.RowsAffected > 0,
		}
		if !result.Reserved {
			result.Reason = reservationFailureReason(ctx, tx, req.ProductID)
		}
		results = append(results, result)
	}
	return results, nil
}

func reservationFailureReason(ctx context.Context, tx *gorm.DB, productID uuid.UUID) string {
	var item models.InventoryItem
	err := tx.WithContext(ctx).First(&item, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "product has no inventory record"
	}
	if err != nil {
		return "inventory lookup failed"
	}
	return fmt.Sprintf("insufficient stock (available=%d)", item.AvailableQty)
}

// ReleaseInventory returns reserved stock to available, e.g. when an order
// is cancelled before delivery.
func ReleaseInventory(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "release qty must be positive")
	}

	update := tx.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND reserved_qty >= ?", productID, qty).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty + ?", qty),
			"reserved_qty":  gorm.Expr("reserved_qty - ?", qty),
		})
	if update.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, update.Error, "release inventory")
	}
	if update.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("reserved stock below release qty (product_id=%s qty=%d)", productID, qty))
	}
	return nil
}

// ConsumeReservation burns reserved stock after the order ships, so the
// units never return to the sellable pool.
func ConsumeReservation(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "consume qty must be positive")
	}

	update := tx.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ? AND reserved_qty >= ?", productID, qty).
		Update("reserved_qty", gorm.Expr("reserved_qty - ?", qty))
	if update.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, update.Error, "consume reservation")
	}
	if update.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("reserved stock below consume qty (product_id=%s qty=%d)", productID, qty))
	}
	return nil
}
