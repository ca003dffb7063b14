package cron

import (
	"context"
	"fmt"

	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
)

type cartPruner interface {
	PruneAbandoned(ctx context.Context) (int64, error)
}

type CartSweepJobParams struct {
	Logger *logger.Logger
	Carts  cartPruner
}

// NewCartSweepJob builds the job that expires carts nobody touched past the
// abandonment window.
func NewCartSweepJob(params CartSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart pruner required")
	}
	return &cartSweepJob{logg: params.Logger, carts: params.Carts}, nil
}

type cartSweepJob struct {
	logg  *logger.Logger
	carts cartPruner
}

func (j *cartSweepJob) Name() string { return "cart-sweep" }

func (j *cartSweepJob) Run(ctx context.Context) error {
	pruned, err := j.carts.PruneAbandoned(ctx)
	if err != nil {
		return fmt.Errorf("cart sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"carts_pruned": pruned})
	j.logg.Info(logCtx, "cart sweep complete")
	return nil
}
