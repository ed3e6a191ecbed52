package service

import (
	"context"
	"fmt"

	"bakery-service/internal/apperr"
	"bakery-service/internal/availability"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"
	"bakery-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryService records purchases and maintains recipes
type InventoryService struct {
	ledger  ledger.Ledger
	catalog CatalogRepository
	events  EventLog
	logger  *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(l ledger.Ledger, catalog CatalogRepository, events EventLog) *InventoryService {
	return &InventoryService{
		ledger:  l,
		catalog: catalog,
		events:  events,
		logger:  util.GetLogger(),
	}
}

// RecordPurchase adds purchased stock to an ingredient. A repeated eventID is
// applied once. An empty eventID gets a fresh one.
func (s *InventoryService) RecordPurchase(ctx context.Context, eventID string, ingredientID int64, amount decimal.Decimal) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.RecordPurchase")
	defer span.End()

	if !amount.IsPositive() {
		return apperr.Invalid("amount", "purchase amount must be positive")
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	processed, err := s.events.IsEventProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		s.logger.Info("Purchase already recorded, skipping", zap.String("event_id", eventID))
		return nil
	}

	if err := s.ledger.Increase(ctx, ingredientID, amount); err != nil {
		util.SpanError(span, err)
		return err
	}

	if err := s.events.MarkEventProcessed(ctx, eventID, models.EventTypePurchaseRecorded); err != nil {
		s.logger.Error("Failed to mark purchase processed", zap.String("event_id", eventID), zap.Error(err))
	}

	util.PurchasesRecordedTotal.Inc()
	s.logger.Info("Purchase recorded",
		zap.Int64("ingredient_id", ingredientID),
		zap.String("amount", amount.String()))
	return nil
}

// HandlePurchaseRecorded applies a PurchaseRecorded event from the purchasing feed
func (s *InventoryService) HandlePurchaseRecorded(ctx context.Context, event *models.PurchaseRecordedEvent) error {
	if event.EventID == "" {
		return apperr.Invalid("eventId", "purchase event without id")
	}
	return s.RecordPurchase(ctx, event.EventID, event.IngredientID, event.Amount)
}

// RecipeLineRequest is one bill-of-materials row submitted by an administrator
type RecipeLineRequest struct {
	IngredientID    int64           `json:"ingredientId"`
	QuantityPerUnit decimal.Decimal `json:"quantityPerUnit"`
}

// SetRecipe replaces a product's recipe after validating each line against
// its ingredient's unit.
func (s *InventoryService) SetRecipe(ctx context.Context, caller Caller, productID int64, lines []RecipeLineRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetRecipe")
	defer span.End()

	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if seen[l.IngredientID] {
			return nil, apperr.Invalid("lines", "ingredient %d listed twice", l.IngredientID)
		}
		seen[l.IngredientID] = true
		ids = append(ids, l.IngredientID)
	}

	ingredients, err := s.catalog.GetIngredientsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}

	recipe := make([]models.RecipeLine, 0, len(lines))
	for _, l := range lines {
		ing, ok := ingredients[l.IngredientID]
		if !ok {
			return nil, apperr.NotFound("ingredient", l.IngredientID)
		}
		line := models.RecipeLine{ProductID: productID, IngredientID: l.IngredientID, QuantityPerUnit: l.QuantityPerUnit}
		if err := availability.ValidateRecipeLine(ing, line); err != nil {
			return nil, err
		}
		recipe = append(recipe, line)
	}

	if err := s.catalog.ReplaceRecipe(ctx, productID, recipe); err != nil {
		return nil, fmt.Errorf("failed to save recipe: %w", err)
	}

	s.logger.Info("Recipe updated", zap.Int64("product_id", productID), zap.Int("lines", len(recipe)))
	return s.catalog.GetProduct(ctx, productID)
}
