package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
)

// NextOrderNumber reserves the next human-legible order number for a vendor.
// The (vendor, day) counter row is advanced with an upsert-increment inside
// the caller's transaction, so concurrent checkouts never see the same
// sequence value. The vendor fragment keeps numbers globally unique across
// vendors sharing a day.
func NextOrderNumber(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	err := tx.WithContext(ctx).Exec(
		`INSERT INTO order_counters (vendor_id, day, last_seq, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (vendor_id, day) DO UPDATE SET last_seq = order_counters.last_seq + 1, updated_at = ?`,
		vendorID, day, now, now,
	).Error
	if err != nil {
		return "", err
	}

	var counter models.OrderCounter
	err = tx.WithContext(ctx).
		Where("vendor_id = ? AND day = ?", vendorID, day).
		First(&counter).Error
	if err != nil {
		return "", err
	}

	fragment := strings.ToUpper(strings.ReplaceAll(vendorID.String(), "-", "")[:6])
	return fmt.Sprintf("SMP-%s-%s-%04d", day, fragment, counter.LastSeq), nil
}
