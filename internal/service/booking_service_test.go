package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/court-reservation/internal/booking"
	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/notify"
	"github.com/iliyamo/court-reservation/internal/repository"
	"github.com/iliyamo/court-reservation/internal/repository/memstore"
)

var (
	_ Store            = (*memstore.Store)(nil)
	_ Store            = (*repository.Store)(nil)
	_ booking.Notifier = (*notify.Publisher)(nil)
	_ booking.Notifier = notify.Nop{}
)

// TestWebFlowToDeposit walks one web booking from hold to the complex's
// deposit for the day.
func TestWebFlowToDeposit(t *testing.T) {
	st := memstore.New()
	cx := st.AddComplex(model.Complex{Name: "Norte"})
	court := st.AddCourt(model.Court{ComplexID: cx.ID, Name: "1", PricePerHour: 10000})
	clk := clock.NewFake(time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC))
	gw := gateway.NewFake("https://pay.test")
	svc := NewBookingService(st, gw, notify.Nop{}, clk, Options{HoldTTL: 20 * time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()
	date := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	h, err := svc.RequestHold(ctx, booking.HoldRequest{
		CourtID:  court.ID,
		Date:     date,
		Range:    model.TimeRange{Start: model.MustTimeOfDay("18:00"), End: model.MustTimeOfDay("19:00")},
		Customer: model.Customer{Name: "Ana", Email: "ana@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(20*time.Minute), h.ExpiresAt)

	open, err := svc.BeginPayment(ctx, h.ID, h.Client.PriceTotal)
	require.NoError(t, err)
	require.NoError(t, gw.Approve(open.Session.Token))

	done, err := svc.CompletePayment(ctx, open.Session.Token)
	require.NoError(t, err)
	require.NotNil(t, done.Reservation)

	got, err := svc.GetReservation(ctx, done.Reservation.Code)
	require.NoError(t, err)
	assert.Equal(t, done.Reservation.ID, got.ID)

	entries, err := svc.LedgerEntries(ctx, cx.ID, date, date)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	d, err := svc.GenerateDeposit(ctx, cx.ID, date)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), d.GrossReservationsTotal)
	assert.Equal(t, int64(350), d.CommissionExclTax)
	assert.Equal(t, int64(67), d.Tax)
	assert.Equal(t, int64(417), d.CommissionTotal)
	assert.Equal(t, int64(9583), d.NetPayable)

	fetched, err := svc.GetDeposit(ctx, cx.ID, date)
	require.NoError(t, err)
	assert.Equal(t, d.ID, fetched.ID)
}
