package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
)

// LeastLoadedMatcher assigns the active agent with the fewest open
// deliveries. Ties go to the agent with the lowest lifetime count so new
// agents pick up work first.
type LeastLoadedMatcher struct {
	db *gorm.DB
}

func NewLeastLoadedMatcher(db *gorm.DB) *LeastLoadedMatcher {
	return &LeastLoadedMatcher{db: db}
}

func (m *LeastLoadedMatcher) BestAgent(ctx context.Context, order *models.Order) (uuid.UUID, error) {
	var agent models.DeliveryAgent
	err := m.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Select("delivery_agents.*").
		Joins(
			"LEFT JOIN order_assignments ON order_assignments.agent_id = delivery_agents.id AND order_assignments.status IN ?",
			[]enums.DeliveryStatus{enums.DeliveryStatusAssigned, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit},
		).
		Where("delivery_agents.active = ?", true).
		Group("delivery_agents.id").
		Order("COUNT(order_assignments.id) ASC").
		Order("delivery_agents.completed_deliveries ASC").
		Order("delivery_agents.id ASC").
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeDependency, "no delivery agents available")
		}
		return uuid.Nil, err
	}
	return agent.ID, nil
}
