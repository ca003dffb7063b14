package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads the order with its line items and courier assignment.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Assignment").
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatusGuarded writes the new status only when the row still carries
// the status and version the caller read. Returns false on a lost race.
func (r *Repository) UpdateStatusGuarded(ctx context.Context, order *models.Order, target enums.OrderStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{
		"status":  target,
		"version": order.Version + 1,
	}
	for column, value := range extra {
		updates[column] = value
	}
	result := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND version = ?", order.ID, order.Status, order.Version).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AppendHistory records one transition. History rows are append-only.
func (r *Repository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListHistory returns the order's transitions oldest first.
func (r *Repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// FindPendingBefore returns orders still awaiting payment that were created
// before the cutoff, oldest first. Used by the TTL sweep.
func (r *Repository) FindPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListByCustomer pages the customer's orders newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	return r.list(ctx, "customer_id = ?", customerID, params)
}

// ListByVendor pages the vendor's orders newest first.
func (r *Repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	return r.list(ctx, "vendor_id = ?", vendorID, params)
}

func (r *Repository) list(ctx context.Context, clause string, ownerID uuid.UUID, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where(clause, ownerID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateAssignment binds an agent to the order. The unique index on
// order_id rejects a second live assignment.
func (r *Repository) CreateAssignment(ctx context.Context, assignment *models.OrderAssignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

// FindAssignmentByOrder returns the order's courier assignment, or nil.
func (r *Repository) FindAssignmentByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderAssignment, error) {
	var assignment models.OrderAssignment
	err := r.db.WithContext(ctx).First(&assignment, "order_id = ?", orderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &assignment, nil
}

// UpdateAssignmentGuarded advances the courier sub-state only when the row
// still holds the status the caller saw.
func (r *Repository) UpdateAssignmentGuarded(ctx context.Context, assignmentID uuid.UUID, from, to enums.DeliveryStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for column, value := range extra {
		updates[column] = value
	}
	result := r.db.WithContext(ctx).Model(&models.OrderAssignment{}).
		Where("id = ? AND status = ?", assignmentID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReassignAgent swaps the agent while the assignment is still in the given
// status. Resets the assigned timestamp for the new agent.
func (r *Repository) ReassignAgent(ctx context.Context, assignmentID uuid.UUID, requiredStatus enums.DeliveryStatus, newAgentID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.OrderAssignment{}).
		Where("id = ? AND status = ?", assignmentID, requiredStatus).
		Updates(map[string]any{"agent_id": newAgentID, "assigned_at": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindAgent loads a delivery agent row.
func (r *Repository) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	err := r.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// IncrementAgentDeliveries bumps the agent's completed counter in place.
func (r *Repository) IncrementAgentDeliveries(ctx context.Context, agentID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.DeliveryAgent{}).
		Where("id = ?", agentID).
		Update("completed_deliveries", gorm.Expr("completed_deliveries + 1")).Error
}
