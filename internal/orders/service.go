package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/products"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox/payloads"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// settlementLedger is the slice of the ledger service the delivered
// transition needs.
type settlementLedger interface {
	FinalizeSettlement(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID) error
}

// refundQueuer records a pending full refund when a paid order is cancelled.
// The actual money movement happens in the payments service.
type refundQueuer interface {
	QueueFullRefund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

// GeoMatcher picks the delivery agent for an order. Matching strategy
// (distance, load, zones) lives outside the lifecycle core.
type GeoMatcher interface {
	BestAgent(ctx context.Context, order *models.Order) (uuid.UUID, error)
}

// Actor identifies who is asking for a transition. VendorID is set when the
// role is vendor; agents act through their agent row ID.
type Actor struct {
	UserID   uuid.UUID
	Role     enums.ActorRole
	VendorID uuid.UUID
}

// Page is one cursor page of orders.
type Page struct {
	Orders     []models.Order
	NextCursor string
}

// Service drives the order lifecycle. Every transition is checked against
// the role permission table, guarded by the order's version column, and
// recorded in the status history before any side effect runs.
type Service struct {
	repo    *Repository
	tx      txRunner
	ledger  settlementLedger
	refunds refundQueuer
	matcher GeoMatcher
	outbox  outboxPublisher
	metrics *metrics.DomainMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo *Repository, tx txRunner, ledger settlementLedger, refunds refundQueuer, matcher GeoMatcher, ob outboxPublisher, domainMetrics *metrics.DomainMetrics, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("settlement ledger required")
	}
	if refunds == nil {
		return nil, fmt.Errorf("refund queuer required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:    repo,
		tx:      tx,
		ledger:  ledger,
		refunds: refunds,
		matcher: matcher,
		outbox:  ob,
		metrics: domainMetrics,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the order when the actor owns it or is privileged.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(ctx, s.repo, order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

// ListByCustomer pages the customer's orders newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*Page, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	rows, err := s.repo.ListByCustomer(ctx, customerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer orders")
	}
	return buildPage(rows, params.Limit), nil
}

// ListByVendor pages the vendor's orders newest first.
func (s *Service) ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*Page, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	rows, err := s.repo.ListByVendor(ctx, vendorID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendor orders")
	}
	return buildPage(rows, params.Limit), nil
}

func buildPage(rows []models.Order, requestedLimit int) *Page {
	limit := pagination.NormalizeLimit(requestedLimit)
	page := &Page{Orders: rows}
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page
}

// History returns the order's audit trail, oldest transition first.
func (s *Service) History(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.OrderStatusHistory, error) {
	if _, err := s.Get(ctx, orderID, actor); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}
	return rows, nil
}

// Transition moves the order to the target status on behalf of the actor.
// The write is guarded by the version the order was read at, so two
// concurrent transitions cannot both land.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor Actor, note *string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	if actor.UserID == uuid.Nil || !actor.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, repo, loaded, target, actor, note); err != nil {
			return err
		}
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncOrderTransition(target.String())
	}
	return order, nil
}

// applyTransition performs one guarded status write plus its side effects
// inside the caller's transaction. The order struct is updated in place.
func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order, target enums.OrderStatus, actor Actor, note *string) error {
	// The table is authoritative: statuses with no outgoing edges are
	// terminal, and cancelled/returned expose only the refunded exit.
	if len(transitionTable[order.Status]) == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and accepts no further transitions", order.Status))
	}
	if !EdgeExists(order.Status, target) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, target))
	}
	if !RoleMayTransition(order.Status, target, actor.Role) {
		return pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("%s may not move order from %s to %s", actor.Role, order.Status, target))
	}
	if err := s.checkOwnership(ctx, repo, order, actor); err != nil {
		return err
	}

	if target == enums.OrderStatusConfirmed && order.Status == enums.OrderStatusPending {
		paid := order.PaymentStatus == enums.PaymentStatusPaid
		codByVendor := order.PaymentMethod == enums.PaymentMethodCashOnDelivery &&
			(actor.Role == enums.ActorRoleVendor || actor.Role == enums.ActorRoleAdmin)
		if !paid && !codByVendor {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be confirmed before payment")
		}
	}

	extra := map[string]any{}
	now := s.now()
	switch target {
	case enums.OrderStatusCancelled:
		if note != nil {
			extra["cancellation_reason"] = *note
		}
	case enums.OrderStatusReturned:
		if note != nil {
			extra["return_reason"] = *note
		}
	case enums.OrderStatusDelivered:
		extra["actual_delivery_time"] = now
	}

	landed, err := repo.UpdateStatusGuarded(ctx, order, target, extra)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !landed {
		return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently, retry")
	}

	from := order.Status
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   target,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Note:       note,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
	}

	order.Status = target
	order.Version++
	switch target {
	case enums.OrderStatusCancelled:
		if err := s.onCancelled(ctx, tx, order, actor, note, now); err != nil {
			return err
		}
	case enums.OrderStatusDelivered:
		order.ActualDeliveryTime = &now
		if err := s.onDelivered(ctx, tx, repo, order, actor, now); err != nil {
			return err
		}
	}

	noteText := ""
	if note != nil {
		noteText = *note
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			VendorID:    order.VendorID,
			CustomerID:  order.CustomerID,
			FromStatus:  from,
			ToStatus:    target,
			ActorRole:   actor.Role,
			Note:        noteText,
		},
	})
}

// onCancelled returns reserved stock and, for paid orders, queues the full
// refund. Runs inside the transition's transaction so a failed release
// rolls the cancellation back.
func (s *Service) onCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, note *string, now time.Time) error {
	for _, item := range order.Items {
		if err := products.ReleaseInventory(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	if order.PaymentStatus == enums.PaymentStatusPaid {
		reason := "order cancelled"
		if note != nil && *note != "" {
			reason = *note
		}
		if err := s.refunds.QueueFullRefund(ctx, tx, order.ID, reason); err != nil {
			return err
		}
	}

	reason := ""
	if note != nil {
		reason = *note
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderCancelledEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			VendorID:    order.VendorID,
			CustomerID:  order.CustomerID,
			ActorRole:   actor.Role,
			CancelledAt: now,
			Reason:      reason,
		},
	})
}

// onDelivered burns the reserved stock, bumps the agent counter, finalizes
// the vendor settlement, and emits the delivered event exactly once.
func (s *Service) onDelivered(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order, actor Actor, now time.Time) error {
	for _, item := range order.Items {
		if err := products.ConsumeReservation(ctx, tx, item.ProductID, item.Quantity); err != nil {
			// Stock bookkeeping must not hold the customer's delivery
			// hostage. Reconciliation picks the drift up from this log.
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"product_id": item.ProductID.String(),
			})
			s.logg.Warn(logCtx, "reserved stock consume failed on delivery: "+err.Error())
		}
	}

	assignment, err := repo.FindAssignmentByOrder(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	if assignment != nil {
		if err := repo.IncrementAgentDeliveries(ctx, assignment.AgentID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment agent deliveries")
		}
	}

	if err := s.ledger.FinalizeSettlement(ctx, tx, order, actor.UserID); err != nil {
		return err
	}

	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderDelivered,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderDeliveredEvent{
			OrderID:               order.ID,
			OrderNumber:           order.OrderNumber,
			VendorID:              order.VendorID,
			CustomerID:            order.CustomerID,
			DeliveredAt:           now,
			VendorEarningsCents:   order.VendorEarningsCents,
			DeliveryEarningsCents: order.DeliveryEarningsCents,
			PlatformEarningsCents: order.PlatformEarningsCents,
		},
	})
}

// AssignAgent matches a delivery agent to the order and creates the
// assignment. The order keeps its lifecycle status; only the courier
// sub-state starts tracking.
func (s *Service) AssignAgent(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.OrderAssignment, error) {
	if s.matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "agent matcher not configured")
	}
	if actor.Role != enums.ActorRoleVendor && actor.Role != enums.ActorRoleAdmin && actor.Role != enums.ActorRoleSystem {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors or admins assign agents")
	}

	var assignment *models.OrderAssignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := s.checkOwnership(ctx, repo, order, actor); err != nil {
			return err
		}
		if order.Status != enums.OrderStatusProcessing && order.Status != enums.OrderStatusReadyForPickup {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for an agent")
		}
		existing, err := repo.FindAssignmentByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has an agent")
		}

		agentID, err := s.matcher.BestAgent(ctx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match delivery agent")
		}
		assignment = &models.OrderAssignment{
			OrderID:    order.ID,
			AgentID:    agentID,
			Status:     enums.DeliveryStatusAssigned,
			AssignedAt: s.now(),
		}
		if err := repo.CreateAssignment(ctx, assignment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
		}

		status := enums.DeliveryStatusAssigned
		return tx.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("delivery_status", status).Error
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// ReassignAgent swaps the courier while the parcel has not been picked up.
func (s *Service) ReassignAgent(ctx context.Context, orderID, newAgentID uuid.UUID, actor Actor) error {
	if actor.Role != enums.ActorRoleVendor && actor.Role != enums.ActorRoleAdmin && actor.Role != enums.ActorRoleSystem {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only vendors or admins reassign agents")
	}
	if newAgentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := s.checkOwnership(ctx, repo, order, actor); err != nil {
			return err
		}
		assignment, err := repo.FindAssignmentByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if assignment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order has no agent")
		}
		agent, err := repo.FindAgent(ctx, newAgentID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
		}
		if !agent.Active {
			return pkgerrors.New(pkgerrors.CodeValidation, "agent is not active")
		}

		swapped, err := repo.ReassignAgent(ctx, assignment.ID, enums.DeliveryStatusAssigned, newAgentID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reassign agent")
		}
		if !swapped {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "parcel already picked up, cannot reassign")
		}
		return nil
	})
}

// UpdateDeliveryStatus advances the courier sub-machine on behalf of the
// assigned agent, mapping courier milestones onto the order lifecycle.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, orderID, agentID uuid.UUID, target enums.DeliveryStatus) (*models.Order, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery status")
	}
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}

	var order *models.Order
	var orderTarget *enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		assignment, err := repo.FindAssignmentByOrder(ctx, loaded.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if assignment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order has no agent")
		}
		if assignment.AgentID != agentID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is assigned to another agent")
		}
		if !DeliveryEdgeExists(assignment.Status, target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move delivery from %s to %s", assignment.Status, target))
		}

		now := s.now()
		extra := map[string]any{}
		switch target {
		case enums.DeliveryStatusPickedUp:
			extra["picked_up_at"] = now
		case enums.DeliveryStatusDelivered:
			extra["delivered_at"] = now
		}
		moved, err := repo.UpdateAssignmentGuarded(ctx, assignment.ID, assignment.Status, target, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "assignment was modified concurrently, retry")
		}

		status := target
		if err := tx.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", loaded.ID).
			Update("delivery_status", status).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror delivery status")
		}

		actor := Actor{UserID: agentID, Role: enums.ActorRoleDeliveryAgent}
		switch target {
		case enums.DeliveryStatusPickedUp:
			out := enums.OrderStatusOutForDelivery
			orderTarget = &out
		case enums.DeliveryStatusDelivered:
			delivered := enums.OrderStatusDelivered
			orderTarget = &delivered
		case enums.DeliveryStatusFailed:
			// Failed attempts flag the order; payment history stays intact.
			failed := enums.OrderStatusFailed
			orderTarget = &failed
		}
		if orderTarget != nil {
			if err := s.applyTransition(ctx, tx, repo, loaded, *orderTarget, actor, nil); err != nil {
				return err
			}
		}
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if orderTarget != nil && s.metrics != nil {
		s.metrics.IncOrderTransition(orderTarget.String())
	}
	return order, nil
}

func (s *Service) loadOrder(ctx context.Context, repo *Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// checkOwnership rejects actors touching orders that are not theirs. Admin
// and system bypass the check.
func (s *Service) checkOwnership(ctx context.Context, repo *Repository, order *models.Order, actor Actor) error {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return nil
	case enums.ActorRoleCustomer:
		if order.CustomerID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
		}
	case enums.ActorRoleVendor:
		if order.VendorID != actor.VendorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another vendor")
		}
	case enums.ActorRoleDeliveryAgent:
		assignment, err := repo.FindAssignmentByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if assignment == nil || assignment.AgentID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is assigned to another agent")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "unknown actor role")
	}
	return nil
}
