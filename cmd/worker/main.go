package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/config"
	"github.com/iliyamo/court-reservation/internal/logger"
	"github.com/iliyamo/court-reservation/internal/notify"
)

// The worker consumes reservation.confirmed events and appends them to the
// booking log.  It only needs AMQP_URL and BOOKING_LOG.
func main() {
	cfg := config.LoadWorker()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := notify.NewConsumer(cfg.AMQPURL, cfg.BookingLogPath, log.Named("consumer"))
	log.Info("worker started", zap.String("queue", notify.QueueReservationConfirmed), zap.String("booking_log", cfg.BookingLogPath))
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("consumer stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}
