package service

import (
	"context"
	"errors"
	"fmt"

	"bakery-service/internal/apperr"
	"bakery-service/internal/availability"
	"bakery-service/internal/ledger"
	"bakery-service/internal/util"

	"go.uber.org/zap"
)

// AvailabilityRequest is one line of an advisory availability check
type AvailabilityRequest struct {
	ProductID    int64 `json:"productId"`
	RequestedQty int64 `json:"requestedQty"`
}

// AvailabilityService answers display-only stock questions. Its answers may
// be stale by the time an order is placed.
type AvailabilityService struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewAvailabilityService creates a new availability service
func NewAvailabilityService(l ledger.Ledger) *AvailabilityService {
	return &AvailabilityService{ledger: l, logger: util.GetLogger()}
}

// CheckAvailability returns the producible quantity of every requested
// product. Unknown, inactive or misconfigured products report 0.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, items []AvailabilityRequest) (map[int64]int64, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.CheckAvailability")
	defer span.End()

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, apperr.Invalid("productId", "product id must be positive")
		}
		ids = append(ids, it.ProductID)
	}

	snap, err := s.ledger.Snapshot(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock: %w", err)
	}

	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		out[id] = s.producible(snap, id)
	}
	util.AvailabilityChecksTotal.Inc()
	return out, nil
}

// ProductAvailability returns how many units of one product can be sold now.
func (s *AvailabilityService) ProductAvailability(ctx context.Context, productID int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.ProductAvailability")
	defer span.End()

	snap, err := s.ledger.Snapshot(ctx, []int64{productID})
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	if _, ok := snap.Products[productID]; !ok {
		return 0, apperr.NotFound("product", productID)
	}
	return s.producible(snap, productID), nil
}

func (s *AvailabilityService) producible(snap *ledger.Snapshot, id int64) int64 {
	p, ok := snap.Products[id]
	if !ok || !p.Active {
		return 0
	}
	n, err := availability.ProducibleQuantity(p, p.Recipe, snap)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidRecipe) {
			s.logger.Error("Product has an invalid recipe", zap.Int64("product_id", id), zap.Error(err))
		} else {
			s.logger.Warn("Cannot compute availability", zap.Int64("product_id", id), zap.Error(err))
		}
		return 0
	}
	return n
}
