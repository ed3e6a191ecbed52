package broker

import (
	"context"
	"encoding/json"
	"testing"

	"bakery-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageRoutesPurchase(t *testing.T) {
	event := models.PurchaseRecordedEvent{
		BaseEvent:    NewBaseEvent(models.EventTypePurchaseRecorded),
		IngredientID: 3,
		Amount:       decimal.RequireFromString("12.5"),
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var got *models.PurchaseRecordedEvent
	h := NewEventHandler()
	h.OnPurchaseRecorded(func(ctx context.Context, e *models.PurchaseRecordedEvent) error {
		got = e
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, int64(3), got.IngredientID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	payload, err := json.Marshal(models.OrderCanceledEvent{
		BaseEvent: NewBaseEvent(models.EventTypeOrderCanceled),
		OrderID:   1,
	})
	require.NoError(t, err)

	called := false
	h := NewEventHandler()
	h.OnPurchaseRecorded(func(ctx context.Context, e *models.PurchaseRecordedEvent) error {
		called = true
		return nil
	})

	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	assert.False(t, called)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
}
