package promotions

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	dbtypes "github.com/gastonanderson039-glitch/supermarketpro/pkg/db/types"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

func newPromoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:promotions_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Promotion{}, &models.PromotionRedemption{}); err != nil {
		t.Fatalf("migrate promotions: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func strPtr(s string) *string { return &s }

func liveWindow() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func snapshotWithOneVendor(vendorID uuid.UUID, lineTotals ...int64) CartSnapshot {
	snapshot := CartSnapshot{DeliveryFeeCents: map[uuid.UUID]int64{vendorID: 500}}
	for _, total := range lineTotals {
		snapshot.Items = append(snapshot.Items, SnapshotItem{
			ProductID:      uuid.New(),
			VendorID:       vendorID,
			Quantity:       1,
			UnitPriceCents: total,
			LineTotalCents: total,
		})
	}
	return snapshot
}

func TestResolvePercentageWithCap(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	starts, ends := liveWindow()

	promo := &models.Promotion{
		Code:             strPtr("TEN"),
		Type:             enums.PromotionTypePercentage,
		Scope:            enums.DiscountScopeGlobal,
		PercentBps:       1000,
		StartsAt:         starts,
		EndsAt:           ends,
		MaxDiscountCents: 150,
		Active:           true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	resolved, err := svc.Resolve(ctx, "TEN", snapshotWithOneVendor(uuid.New(), 1800), uuid.New())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// 10% of 1800 is 180, capped at 150.
	if resolved.AmountCents != 150 {
		t.Fatalf("amount = %d, want 150", resolved.AmountCents)
	}
	if resolved.Scope != enums.DiscountScopeGlobal || resolved.VendorID != nil {
		t.Fatalf("unexpected scope tagging: %+v", resolved)
	}
}

func TestResolveFixedAmountNeverExceedsSubtotal(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	starts, ends := liveWindow()

	promo := &models.Promotion{
		Code:        strPtr("FIVEOFF"),
		Type:        enums.PromotionTypeFixedAmount,
		Scope:       enums.DiscountScopeGlobal,
		AmountCents: 500,
		StartsAt:    starts,
		EndsAt:      ends,
		Active:      true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), "FIVEOFF", snapshotWithOneVendor(uuid.New(), 300), uuid.New())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.AmountCents != 300 {
		t.Fatalf("amount = %d, want 300", resolved.AmountCents)
	}
}

func TestResolveVendorScopeMismatch(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	starts, ends := liveWindow()
	promoVendor := uuid.New()

	promo := &models.Promotion{
		Code:       strPtr("VENDORONLY"),
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeVendor,
		VendorID:   &promoVendor,
		PercentBps: 1000,
		StartsAt:   starts,
		EndsAt:     ends,
		Active:     true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	// Cart only carries items from a different vendor.
	_, err := svc.Resolve(context.Background(), "VENDORONLY", snapshotWithOneVendor(uuid.New(), 1000), uuid.New())
	if err == nil {
		t.Fatal("expected scope mismatch error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveValidationFailures(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	starts, ends := liveWindow()
	customerID := uuid.New()

	expired := &models.Promotion{
		Code:       strPtr("EXPIRED"),
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeGlobal,
		PercentBps: 1000,
		StartsAt:   starts.Add(-48 * time.Hour),
		EndsAt:     starts.Add(-24 * time.Hour),
		Active:     true,
	}
	inactive := &models.Promotion{
		Code:       strPtr("INACTIVE"),
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeGlobal,
		PercentBps: 1000,
		StartsAt:   starts,
		EndsAt:     ends,
		Active:     false,
	}
	minPurchase := &models.Promotion{
		Code:             strPtr("BIGSPEND"),
		Type:             enums.PromotionTypePercentage,
		Scope:            enums.DiscountScopeGlobal,
		PercentBps:       1000,
		StartsAt:         starts,
		EndsAt:           ends,
		MinPurchaseCents: 5000,
		Active:           true,
	}
	for _, promo := range []*models.Promotion{expired, inactive, minPurchase} {
		if err := db.Create(promo).Error; err != nil {
			t.Fatalf("seed promotion: %v", err)
		}
	}

	snapshot := snapshotWithOneVendor(uuid.New(), 1000)
	tests := []struct {
		name string
		code string
	}{
		{name: "unknown code", code: "NOPE"},
		{name: "expired window", code: "EXPIRED"},
		{name: "inactive", code: "INACTIVE"},
		{name: "minimum purchase not met", code: "BIGSPEND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Resolve(ctx, tc.code, snapshot, customerID)
			if err == nil {
				t.Fatal("expected error")
			}
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestResolveUsageLimits(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	starts, ends := liveWindow()
	customerID := uuid.New()

	exhausted := &models.Promotion{
		Code:       strPtr("GONE"),
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeGlobal,
		PercentBps: 1000,
		StartsAt:   starts,
		EndsAt:     ends,
		TotalLimit: 3,
		UsageCount: 3,
		Active:     true,
	}
	perCustomer := &models.Promotion{
		Code:             strPtr("ONCEEACH"),
		Type:             enums.PromotionTypePercentage,
		Scope:            enums.DiscountScopeGlobal,
		PercentBps:       1000,
		StartsAt:         starts,
		EndsAt:           ends,
		PerCustomerLimit: 1,
		Active:           true,
	}
	for _, promo := range []*models.Promotion{exhausted, perCustomer} {
		if err := db.Create(promo).Error; err != nil {
			t.Fatalf("seed promotion: %v", err)
		}
	}
	if err := db.Create(&models.PromotionRedemption{
		PromotionID: perCustomer.ID,
		CustomerID:  customerID,
	}).Error; err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	snapshot := snapshotWithOneVendor(uuid.New(), 1000)
	for _, code := range []string{"GONE", "ONCEEACH"} {
		_, err := svc.Resolve(ctx, code, snapshot, customerID)
		if err == nil {
			t.Fatalf("expected usage limit error for %s", code)
		}
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
			t.Fatalf("unexpected error for %s: %v", code, err)
		}
	}
}

func TestResolveBuyXGetY(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	starts, ends := liveWindow()
	productID := uuid.New()
	vendorID := uuid.New()

	promo := &models.Promotion{
		Code:                 strPtr("B2G1"),
		Type:                 enums.PromotionTypeBuyXGetY,
		Scope:                enums.DiscountScopeGlobal,
		BuyQty:               2,
		GetQty:               1,
		StartsAt:             starts,
		EndsAt:               ends,
		ApplicableProductIDs: dbtypes.UUIDArray{productID},
		Active:               true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	snapshot := CartSnapshot{
		Items: []SnapshotItem{
			// 7 units: two full buy-2-get-1 bundles, 2 free units.
			{ProductID: productID, VendorID: vendorID, Quantity: 7, UnitPriceCents: 250, LineTotalCents: 1750},
			// Not covered by the promotion.
			{ProductID: uuid.New(), VendorID: vendorID, Quantity: 3, UnitPriceCents: 100, LineTotalCents: 300},
		},
	}
	resolved, err := svc.Resolve(context.Background(), "B2G1", snapshot, uuid.New())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.AmountCents != 500 {
		t.Fatalf("amount = %d, want 500", resolved.AmountCents)
	}
}

func TestResolveFreeDelivery(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	starts, ends := liveWindow()
	vendorID := uuid.New()

	promo := &models.Promotion{
		Code:     strPtr("SHIPFREE"),
		Type:     enums.PromotionTypeFreeDelivery,
		Scope:    enums.DiscountScopeVendor,
		VendorID: &vendorID,
		StartsAt: starts,
		EndsAt:   ends,
		Active:   true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), "SHIPFREE", snapshotWithOneVendor(vendorID, 1000), uuid.New())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.AmountCents != 500 {
		t.Fatalf("amount = %d, want 500", resolved.AmountCents)
	}
	if resolved.VendorID == nil || *resolved.VendorID != vendorID {
		t.Fatalf("vendor tag missing: %+v", resolved)
	}
}

func TestRedeemRace(t *testing.T) {
	db := newPromoTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	starts, ends := liveWindow()

	promo := &models.Promotion{
		Code:       strPtr("LASTONE"),
		Type:       enums.PromotionTypePercentage,
		Scope:      enums.DiscountScopeGlobal,
		PercentBps: 1000,
		StartsAt:   starts,
		EndsAt:     ends,
		TotalLimit: 1,
		Active:     true,
	}
	if err := db.Create(promo).Error; err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	if err := svc.Redeem(ctx, db, promo.ID, uuid.New(), nil); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	err := svc.Redeem(ctx, db, promo.ID, uuid.New(), nil)
	if err == nil {
		t.Fatal("expected second redeem to hit the limit")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int64
	if err := db.Model(&models.PromotionRedemption{}).Count(&count).Error; err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if count != 1 {
		t.Fatalf("redemptions = %d, want 1", count)
	}
}
