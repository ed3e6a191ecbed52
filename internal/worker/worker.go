package worker

import (
	"context"
	"time"

	"bakery-service/internal/broker"
	"bakery-service/internal/models"
	"bakery-service/internal/util"

	"go.uber.org/zap"
)

// MessageSource feeds messages to a handler until its context is done
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PurchaseRecorder applies purchase events to the stock ledger
type PurchaseRecorder interface {
	HandlePurchaseRecorded(ctx context.Context, event *models.PurchaseRecordedEvent) error
}

// PurchaseWorker consumes the purchasing feed and increases ingredient stock
type PurchaseWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPurchaseWorker creates a new purchase worker
func NewPurchaseWorker(consumer MessageSource, recorder PurchaseRecorder) *PurchaseWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPurchaseRecorded(recorder.HandlePurchaseRecorded)

	return &PurchaseWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *PurchaseWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting purchase worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PurchaseWorker) Stop() error {
	w.logger.Info("Stopping purchase worker")
	return w.consumer.Close()
}

// Expirer cancels orders that waited too long for payment
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// ExpiryWorker periodically cancels stale PENDING_PAYMENT orders
type ExpiryWorker struct {
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer Expirer, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{expirer: expirer, interval: interval, logger: util.GetLogger()}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	n, err := w.expirer.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Expiry sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		w.logger.Info("Expired stale orders", zap.Int("count", n))
	}
}
