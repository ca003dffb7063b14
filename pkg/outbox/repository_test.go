package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
)

func newOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedEvent(t *testing.T, conn *gorm.DB, attempts int, published *time.Time, createdAt time.Time) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		AttemptCount:  attempts,
		PublishedAt:   published,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if err := conn.Model(&models.OutboxEvent{}).Where("id = ?", row.ID).
		Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("backdate event: %v", err)
	}
	row.CreatedAt = createdAt
	return row
}

func TestFetchUnpublishedSkipsTerminalAndOrdersByAge(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	older := seedEvent(t, conn, 0, nil, now.Add(-2*time.Hour))
	newer := seedEvent(t, conn, 0, nil, now.Add(-time.Hour))
	seedEvent(t, conn, 10, nil, now.Add(-3*time.Hour)) // terminal
	publishedAt := now.Add(-time.Minute)
	seedEvent(t, conn, 1, &publishedAt, now.Add(-4*time.Hour))

	got, err := repo.FetchUnpublishedForPublish(conn, 10, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 claimable events, got %d", len(got))
	}
	if got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Fatalf("expected oldest-first ordering, got %v then %v", got[0].ID, got[1].ID)
	}
}

func TestMarkFailedTxIncrementsAttempts(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)

	row := seedEvent(t, conn, 2, nil, time.Now().UTC())
	if err := repo.MarkFailedTx(conn, row.ID, errors.New("publish timeout")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	var reloaded models.OutboxEvent
	if err := conn.First(&reloaded, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.AttemptCount != 3 {
		t.Fatalf("expected attempt count 3, got %d", reloaded.AttemptCount)
	}
	if reloaded.LastError == nil || *reloaded.LastError != "publish timeout" {
		t.Fatalf("expected last error recorded, got %v", reloaded.LastError)
	}
	if reloaded.PublishedAt != nil {
		t.Fatal("failed event must stay unpublished")
	}
}

func TestDeletePublishedBeforeKeepsRecentAndRetryable(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	oldPublish := now.Add(-40 * 24 * time.Hour)
	freshPublish := now.Add(-time.Hour)
	seedEvent(t, conn, 1, &oldPublish, oldPublish) // published long ago, deletable
	kept := seedEvent(t, conn, 1, &freshPublish, freshPublish)
	seedEvent(t, conn, 10, nil, oldPublish) // exhausted, deletable
	retryable := seedEvent(t, conn, 2, nil, oldPublish)

	cutoff := now.Add(-30 * 24 * time.Hour)
	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 5)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", deleted)
	}

	var remaining []models.OutboxEvent
	if err := conn.Find(&remaining).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 rows remaining, got %d", len(remaining))
	}
	ids := map[uuid.UUID]bool{remaining[0].ID: true, remaining[1].ID: true}
	if !ids[kept.ID] || !ids[retryable.ID] {
		t.Fatalf("wrong rows survived: %v", ids)
	}
}
