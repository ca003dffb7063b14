package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	ordersvc "github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/types"
)

// OrderService is the slice of the order service the HTTP layer depends on.
type OrderService interface {
	Get(ctx context.Context, orderID uuid.UUID, actor ordersvc.Actor) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (*ordersvc.Page, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (*ordersvc.Page, error)
	History(ctx context.Context, orderID uuid.UUID, actor ordersvc.Actor) ([]models.OrderStatusHistory, error)
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor ordersvc.Actor, note *string) (*models.Order, error)
	AssignAgent(ctx context.Context, orderID uuid.UUID, actor ordersvc.Actor) (*models.OrderAssignment, error)
	ReassignAgent(ctx context.Context, orderID, newAgentID uuid.UUID, actor ordersvc.Actor) error
	UpdateDeliveryStatus(ctx context.Context, orderID, agentID uuid.UUID, target enums.DeliveryStatus) (*models.Order, error)
}

// OrderList pages the caller's orders: customers see their purchases,
// vendors the orders routed to their storefront.
func OrderList(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")}

		var page *ordersvc.Page
		switch actor.Role {
		case enums.ActorRoleVendor:
			if actor.VendorID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "vendor context missing"))
				return
			}
			page, err = svc.ListByVendor(r.Context(), actor.VendorID, params)
		case enums.ActorRoleCustomer:
			page, err = svc.ListByCustomer(r.Context(), actor.UserID, params)
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list orders"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, 0, len(page.Orders))
		for i := range page.Orders {
			items = append(items, newOrderResponse(&page.Orders[i]))
		}
		responses.WriteSuccess(w, orderPageResponse{Orders: items, NextCursor: page.NextCursor})
	}
}

// OrderDetail returns a single order after an ownership check.
func OrderDetail(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(record))
	}
}

// OrderHistory returns the append-only status trail for an order.
func OrderHistory(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.History(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderHistoryResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, orderHistoryResponse{
				FromStatus: string(row.FromStatus),
				ToStatus:   string(row.ToStatus),
				ActorID:    row.ActorID,
				ActorRole:  string(row.ActorRole),
				Note:       row.Note,
				CreatedAt:  row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, items)
	}
}

type orderTransitionRequest struct {
	Target string  `json:"target" validate:"required"`
	Note   *string `json:"note"`
}

// OrderTransition drives the order state machine on behalf of the caller.
func OrderTransition(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload orderTransitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(payload.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		record, err := svc.Transition(r.Context(), orderID, target, actor, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(record))
	}
}

// OrderAssignAgent picks the best available courier for a prepared order.
func OrderAssignAgent(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		assignment, err := svc.AssignAgent(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, assignmentResponse{
			ID:         assignment.ID,
			OrderID:    assignment.OrderID,
			AgentID:    assignment.AgentID,
			Status:     string(assignment.Status),
			AssignedAt: assignment.AssignedAt,
		})
	}
}

type reassignAgentRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required"`
}

// OrderReassignAgent swaps couriers while the parcel is still at the vendor.
func OrderReassignAgent(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reassignAgentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ReassignAgent(r.Context(), orderID, payload.AgentID, actor); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "reassigned"})
	}
}

type deliveryStatusRequest struct {
	Target string `json:"target" validate:"required"`
}

// OrderDeliveryStatus advances the courier sub-state machine. The acting
// agent is taken from the token, never from the body.
func OrderDeliveryStatus(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if actor.Role != enums.ActorRoleDeliveryAgent {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "delivery agent role required"))
			return
		}

		orderID, err := pathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload deliveryStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseDeliveryStatus(payload.Target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status"))
			return
		}

		record, err := svc.UpdateDeliveryStatus(r.Context(), orderID, actor.UserID, target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(record))
	}
}

type orderPageResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type orderResponse struct {
	ID              uuid.UUID      `json:"id"`
	OrderNumber     string         `json:"order_number"`
	CheckoutGroupID uuid.UUID      `json:"checkout_group_id"`
	CustomerID      uuid.UUID      `json:"customer_id"`
	VendorID        uuid.UUID      `json:"vendor_id"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"payment_status"`
	DeliveryStatus  *string        `json:"delivery_status,omitempty"`
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress *types.Address `json:"shipping_address,omitempty"`

	SubtotalCents     int64 `json:"subtotal_cents"`
	TaxCents          int64 `json:"tax_cents"`
	DeliveryFeeCents  int64 `json:"delivery_fee_cents"`
	PackagingFeeCents int64 `json:"packaging_fee_cents"`
	ServiceFeeCents   int64 `json:"service_fee_cents"`
	DiscountCents     int64 `json:"discount_cents"`
	TotalCents        int64 `json:"total_cents"`

	CancellationReason *string                 `json:"cancellation_reason,omitempty"`
	ReturnReason       *string                 `json:"return_reason,omitempty"`
	ActualDeliveryTime *time.Time              `json:"actual_delivery_time,omitempty"`
	Items              []orderLineItemResponse `json:"items"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

type orderLineItemResponse struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
}

type orderHistoryResponse struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    uuid.UUID `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Note       *string   `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type assignmentResponse struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	AgentID    uuid.UUID `json:"agent_id"`
	Status     string    `json:"status"`
	AssignedAt time.Time `json:"assigned_at"`
}

func newOrderResponse(record *models.Order) orderResponse {
	items := make([]orderLineItemResponse, 0, len(record.Items))
	for _, item := range record.Items {
		items = append(items, orderLineItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			SKU:            item.SKU,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.TotalCents,
		})
	}

	resp := orderResponse{
		ID:                 record.ID,
		OrderNumber:        record.OrderNumber,
		CheckoutGroupID:    record.CheckoutGroupID,
		CustomerID:         record.CustomerID,
		VendorID:           record.VendorID,
		Status:             string(record.Status),
		PaymentStatus:      string(record.PaymentStatus),
		PaymentMethod:      string(record.PaymentMethod),
		ShippingAddress:    record.ShippingAddress,
		SubtotalCents:      record.SubtotalCents,
		TaxCents:           record.TaxCents,
		DeliveryFeeCents:   record.DeliveryFeeCents,
		PackagingFeeCents:  record.PackagingFeeCents,
		ServiceFeeCents:    record.ServiceFeeCents,
		DiscountCents:      record.DiscountCents,
		TotalCents:         record.TotalCents,
		CancellationReason: record.CancellationReason,
		ReturnReason:       record.ReturnReason,
		ActualDeliveryTime: record.ActualDeliveryTime,
		Items:              items,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
	if record.DeliveryStatus != nil {
		status := string(*record.DeliveryStatus)
		resp.DeliveryStatus = &status
	}
	return resp
}
