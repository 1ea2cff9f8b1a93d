package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/commission"
	"github.com/iliyamo/court-reservation/internal/gateway"
	"github.com/iliyamo/court-reservation/internal/ledger"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository/memstore"
)

var _ Store = (*memstore.Store)(nil)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) ReservationConfirmed(_ context.Context, r model.Reservation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, r.Code)
	return n.err
}

func (n *recordingNotifier) codes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type fixture struct {
	store     *memstore.Store
	clock     *clock.Fake
	gw        *gateway.Fake
	notifier  *recordingNotifier
	calendar  *SlotCalendar
	holds     *HoldManager
	committer *Committer
	payments  *PaymentManager
	complex   model.Complex
	court     model.Court
	date      time.Time
}

func newFixture(t *testing.T, cx model.Complex) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		clock:    clock.NewFake(time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)),
		gw:       gateway.NewFake("https://pay.test/init"),
		notifier: &recordingNotifier{},
		date:     time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	}
	log := zaptest.NewLogger(t)
	f.complex = f.store.AddComplex(cx)
	f.court = f.store.AddCourt(model.Court{ComplexID: f.complex.ID, Name: "Cancha 1", PricePerHour: 10000})
	f.calendar = NewSlotCalendar(f.store, f.clock)
	f.holds = NewHoldManager(f.store, f.calendar, f.clock, log)
	f.committer = NewCommitter(f.store, f.calendar, commission.NewCalculator(commission.DefaultTable()), f.clock, log,
		WithLedger(ledger.NewSyncer(f.store, f.clock, log)),
		WithNotifier(f.notifier),
	)
	f.payments = NewPaymentManager(f.store, f.gw, f.holds, f.committer, f.clock, log)
	return f
}

func rng(start, end string) model.TimeRange {
	return model.TimeRange{Start: model.MustTimeOfDay(start), End: model.MustTimeOfDay(end)}
}

func (f *fixture) hold(t *testing.T, start, end string) model.Hold {
	t.Helper()
	h, err := f.holds.Create(context.Background(), f.request(start, end))
	require.NoError(t, err)
	return h
}

func (f *fixture) partialHold(t *testing.T, start, end string, pct int) model.Hold {
	t.Helper()
	req := f.request(start, end)
	req.PrepaidPercentage = pct
	h, err := f.holds.Create(context.Background(), req)
	require.NoError(t, err)
	return h
}

func (f *fixture) request(start, end string) HoldRequest {
	return HoldRequest{
		CourtID:  f.court.ID,
		Date:     f.date,
		Range:    rng(start, end),
		Customer: model.Customer{Name: "Ana", Email: "ana@example.com"},
	}
}

func (f *fixture) open(t *testing.T, h model.Hold) model.PaymentSession {
	t.Helper()
	res, err := f.payments.Open(context.Background(), h.ID, h.Client.PriceTotal)
	require.NoError(t, err)
	return res.Session
}

func TestOverlappingHoldsConcurrently(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ranges := []model.TimeRange{rng("18:00", "19:00"), rng("18:30", "19:30")}

	errs := make([]error, len(ranges))
	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func(i int, r model.TimeRange) {
			defer wg.Done()
			req := f.request("18:00", "19:00")
			req.Range = r
			_, errs[i] = f.holds.Create(context.Background(), req)
		}(i, r)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, ErrSlotConflict) {
			conflicts++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)
}

func TestNoDoubleBookingUnderLoad(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	const workers = 24

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%3 == 0 {
				_, err = f.committer.BookDirect(context.Background(), AdminBooking{
					CourtID:  f.court.ID,
					Date:     f.date,
					Range:    rng("10:00", "11:30"),
					Customer: model.Customer{Name: "Staff walk-in"},
					AdminID:  7,
				})
			} else {
				_, err = f.holds.Create(context.Background(), f.request("10:30", "11:00"))
			}
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSlotConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestTouchingRangesDoNotConflict(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	f.hold(t, "18:00", "19:00")
	f.hold(t, "19:00", "20:00")
	f.hold(t, "17:00", "18:00")

	_, err := f.holds.Create(context.Background(), f.request("18:59", "19:01"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestExpiredHoldCountsAsFree(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	first := f.hold(t, "18:00", "19:00")

	f.clock.Advance(f.holds.TTL())
	// The expired row is still stored but no longer blocks the slot.
	_, err := f.store.GetHold(context.Background(), first.ID)
	require.NoError(t, err)
	f.hold(t, "18:00", "19:00")

	n, err := f.holds.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHoldValidation(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()

	_, err := f.holds.Create(ctx, f.request("19:00", "18:00"))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = f.holds.Create(ctx, f.request("07:00", "08:30"))
	assert.ErrorIs(t, err, ErrInvalidRange)

	past := f.request("10:00", "11:00")
	past.Date = f.date.AddDate(0, 0, -2)
	_, err = f.holds.Create(ctx, past)
	assert.ErrorIs(t, err, ErrInvalidRange)

	missing := f.request("10:00", "11:00")
	missing.CourtID = 999
	_, err = f.holds.Create(ctx, missing)
	assert.ErrorIs(t, err, ErrCourtNotFound)

	h := f.hold(t, "10:00", "11:30")
	assert.Equal(t, int64(15000), h.Client.PriceTotal)
	assert.Equal(t, 100, h.Client.PrepaidPercentage)
	assert.Equal(t, model.ChannelWeb, h.Client.Channel)
}

func TestSlotTimesAreLocalToComplexZone(t *testing.T) {
	scl, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	f := newFixture(t, model.Complex{Name: "Norte"})
	// 19:30 on Sep 30 in Santiago.
	f.clock.Set(time.Date(2025, 9, 30, 22, 30, 0, 0, time.UTC))
	cal := NewSlotCalendar(f.store, f.clock, WithLocation(scl))
	holds := NewHoldManager(f.store, cal, f.clock, zaptest.NewLogger(t))
	ctx := context.Background()

	h, err := holds.Create(ctx, f.request("20:00", "21:00"))
	require.NoError(t, err, "an evening slot later today is bookable")
	assert.Equal(t, f.date, h.Date)

	_, err = holds.Create(ctx, f.request("18:00", "19:00"))
	assert.ErrorIs(t, err, ErrInvalidRange, "ended an hour and a half ago")

	// Read as UTC the same request would be rejected.
	_, err = f.holds.Create(ctx, f.request("21:00", "22:00"))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRenewAndRelease(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.hold(t, "18:00", "19:00")

	f.clock.Advance(10 * time.Minute)
	renewed, err := f.holds.Renew(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(f.holds.TTL()), renewed.ExpiresAt)

	require.NoError(t, f.holds.Release(ctx, h.ID))
	require.NoError(t, f.holds.Release(ctx, h.ID))

	_, err = f.holds.Renew(ctx, h.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)

	expired := f.hold(t, "20:00", "21:00")
	f.clock.Advance(f.holds.TTL() + time.Second)
	_, err = f.holds.Renew(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	f.hold(t, "10:00", "11:00")
	_, err := f.committer.BookDirect(context.Background(), AdminBooking{
		CourtID: f.court.ID, Date: f.date, Range: rng("20:00", "23:00"),
		Customer: model.Customer{Name: "Liga"},
	})
	require.NoError(t, err)

	av, err := f.calendar.Availability(context.Background(), f.court.ID, f.date)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-30", av.Date)
	require.Len(t, av.Busy, 2)
	assert.Equal(t, BusyHold, av.Busy[0].Kind)
	assert.Equal(t, BusyReservation, av.Busy[1].Kind)
	assert.Equal(t, []model.TimeRange{rng("08:00", "10:00"), rng("11:00", "20:00")}, av.Free)

	free, err := f.calendar.IsFree(context.Background(), f.court.ID, f.date, rng("11:00", "12:00"))
	require.NoError(t, err)
	assert.True(t, free)
}

func TestFinalizeTwiceContactsGatewayOnce(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.hold(t, "18:00", "19:00")
	sess := f.open(t, h)
	require.NoError(t, f.gw.Approve(sess.Token))

	first, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, first.Reservation)
	assert.False(t, first.Cached)
	assert.False(t, first.AlreadyCommitted)
	assert.Equal(t, model.PaymentApproved, first.Session.Status)
	assert.Equal(t, sess.ReservationCode, first.Reservation.Code)
	assert.Equal(t, int64(417), first.Reservation.CommissionApplied)
	assert.Equal(t, model.SettlementPaid, first.Reservation.PaymentStatus)
	assert.Equal(t, 100, first.Reservation.PaidPercentage)

	second, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, second.AlreadyCommitted)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)

	_, confirms, statuses := f.gw.Calls()
	assert.Equal(t, int64(1), confirms)
	assert.Equal(t, int64(0), statuses)

	_, err = f.store.GetHold(ctx, h.ID)
	assert.Error(t, err)
	assert.Equal(t, []string{sess.ReservationCode}, f.notifier.codes())

	income, err := f.store.GetLedgerEntry(ctx, first.Reservation.ID, model.LedgerIncome)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), income.Amount)
}

func TestFinalizeFallsBackToStatusAfterRefusedConfirm(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	require.NoError(t, f.gw.Approve(sess.Token))

	// Someone else already confirmed the token with the gateway.
	_, err := f.gw.Confirm(ctx, sess.Token)
	require.NoError(t, err)

	res, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, res.Reservation)
	_, _, statuses := f.gw.Calls()
	assert.Equal(t, int64(1), statuses)
}

func TestCommitIsIdempotent(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))

	_, err := f.committer.Commit(ctx, sess)
	assert.ErrorIs(t, err, ErrNotApproved)

	sess.Status = model.PaymentApproved
	var first CommitResult
	for i := 0; i < 5; i++ {
		res, err := f.committer.Commit(ctx, sess)
		require.NoError(t, err)
		if i == 0 {
			first = res
			assert.False(t, res.AlreadyCommitted)
			continue
		}
		assert.True(t, res.AlreadyCommitted)
		assert.Equal(t, first.Reservation, res.Reservation)
	}
	assert.Len(t, f.notifier.codes(), 1)
}

func TestGatewayDownLeavesPaymentPending(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	require.NoError(t, f.gw.Approve(sess.Token))

	f.gw.SetDown(true)
	_, err := f.payments.Finalize(ctx, sess.Token)
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	view, err := f.payments.Lookup(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, view.Session.Status)
	assert.NotEmpty(t, view.RedirectURL)

	f.gw.SetDown(false)
	res, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	assert.NotNil(t, res.Reservation)
}

func TestRejectedPaymentReleasesHold(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.hold(t, "18:00", "19:00")
	sess := f.open(t, h)
	require.NoError(t, f.gw.Decline(sess.Token))

	_, err := f.payments.Finalize(ctx, sess.Token)
	require.ErrorIs(t, err, ErrPaymentRejected)

	_, err = f.holds.Get(ctx, h.ID)
	assert.ErrorIs(t, err, ErrHoldNotFound)

	// Cached on the second call.
	_, err = f.payments.Finalize(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrPaymentRejected)
	_, confirms, _ := f.gw.Calls()
	assert.Equal(t, int64(1), confirms)

	f.hold(t, "18:00", "19:00")
}

func TestUndecidedPaymentStaysPendingWhileHoldLives(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))

	res, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, res.Session.Status)
	assert.Nil(t, res.Reservation)
}

func TestOpenPaymentRules(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.partialHold(t, "18:00", "19:00", 50)

	_, err := f.payments.Open(ctx, h.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.payments.Open(ctx, h.ID, h.Client.PriceTotal+1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.payments.Open(ctx, h.ID, 4999)
	assert.ErrorIs(t, err, ErrInvalidAmount, "below the 50% prepayment")

	first, err := f.payments.Open(ctx, h.ID, 5000)
	require.NoError(t, err)
	assert.Len(t, first.Session.OrderID, 26)
	assert.Len(t, first.Session.ReservationCode, 6)
	assert.Equal(t, f.gw.RedirectURL(first.Session.Token), first.RedirectURL)

	again, err := f.payments.Open(ctx, h.ID, 5000)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.Session.OrderID, again.Session.OrderID)

	_, err = f.payments.Open(ctx, h.ID, 10000)
	assert.ErrorIs(t, err, ErrPaymentInProgress)

	f.clock.Advance(f.holds.TTL())
	_, err = f.payments.Open(ctx, h.ID, 5000)
	assert.ErrorIs(t, err, ErrHoldExpired)

	_, err = f.payments.Open(ctx, "missing", 5000)
	assert.ErrorIs(t, err, ErrHoldExpired)
}

func TestPrepaidPercentageIsEnforced(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()

	full := f.hold(t, "10:00", "11:00")
	_, err := f.payments.Open(ctx, full.ID, 5000)
	assert.ErrorIs(t, err, ErrInvalidAmount, "the default requires paying in full")

	third := f.partialHold(t, "12:00", "13:30", 33)
	_, err = f.payments.Open(ctx, third.ID, 4949)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	res, err := f.payments.Open(ctx, third.ID, 4950)
	require.NoError(t, err)
	assert.Equal(t, int64(4950), res.Session.Amount)
}

func TestPartialPaymentSettlement(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.partialHold(t, "18:00", "19:00", 50)
	res, err := f.payments.Open(ctx, h.ID, 5000)
	require.NoError(t, err)
	require.NoError(t, f.gw.Approve(res.Session.Token))

	out, err := f.payments.Finalize(ctx, res.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), out.Reservation.AmountPaid)
	assert.Equal(t, 50, out.Reservation.PaidPercentage)
	assert.Equal(t, model.SettlementPartiallyPaid, out.Reservation.PaymentStatus)
	assert.Equal(t, int64(417), out.Reservation.CommissionApplied)
}

func TestGatewayUnavailableOnOpen(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	h := f.hold(t, "18:00", "19:00")
	f.gw.SetDown(true)
	_, err := f.payments.Open(context.Background(), h.ID, h.Client.PriceTotal)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestLateApprovalIsRecordedAndRecoverable(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.hold(t, "18:00", "19:00")
	sess := f.open(t, h)

	f.clock.Advance(f.holds.TTL() + time.Minute)
	require.NoError(t, f.gw.Approve(sess.Token))

	_, err := f.payments.Finalize(ctx, sess.Token)
	require.ErrorIs(t, err, ErrHoldExpired)

	anomalies, err := f.store.ListAnomalies(ctx, true)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, model.AnomalyLateApproval, anomalies[0].Kind)
	assert.Equal(t, sess.OrderID, anomalies[0].OrderID)
	assert.Equal(t, h.ID, anomalies[0].Snapshot.ID)

	res, err := f.committer.Recover(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyCommitted)
	assert.Equal(t, sess.ReservationCode, res.Reservation.Code)

	open, err := f.store.ListAnomalies(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	again, err := f.committer.Recover(ctx, sess.OrderID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCommitted)
}

func TestRecoverFailsWhenSlotWasRetaken(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))

	f.clock.Advance(f.holds.TTL() + time.Minute)
	f.hold(t, "18:30", "19:30")
	require.NoError(t, f.gw.Approve(sess.Token))
	_, err := f.payments.Finalize(ctx, sess.Token)
	require.ErrorIs(t, err, ErrHoldExpired)

	_, err = f.committer.Recover(ctx, sess.OrderID)
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.committer.Recover(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestReconcileExpiresAbandonedSessions(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	abandoned := f.open(t, f.hold(t, "18:00", "19:00"))
	paid := f.open(t, f.hold(t, "20:00", "21:00"))
	require.NoError(t, f.gw.Approve(paid.Token))

	f.clock.Advance(10 * time.Minute)
	rep, err := f.payments.Reconcile(ctx, 5*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 2, Approved: 1, Pending: 1}, rep)

	f.clock.Advance(10 * time.Minute)
	rep, err = f.payments.Reconcile(ctx, 5*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Expired: 1}, rep)

	view, err := f.payments.Lookup(ctx, abandoned.Token)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentExpired, view.Session.Status)

	view, err = f.payments.Lookup(ctx, paid.Token)
	require.NoError(t, err)
	require.NotNil(t, view.Reservation)
	assert.Equal(t, paid.ReservationCode, view.Reservation.Code)
}

func TestBookDirect(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	f.hold(t, "18:00", "19:00")

	_, err := f.committer.BookDirect(ctx, AdminBooking{
		CourtID: f.court.ID, Date: f.date, Range: rng("18:30", "19:30"),
		Customer: model.Customer{Name: "Walk-in"},
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.committer.BookDirect(ctx, AdminBooking{
		CourtID: f.court.ID, Date: f.date, Range: rng("19:00", "20:00"),
		Customer: model.Customer{Name: "Walk-in"}, AmountPaid: 20000,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	r, err := f.committer.BookDirect(ctx, AdminBooking{
		CourtID: f.court.ID, Date: f.date, Range: rng("19:00", "20:00"),
		Customer: model.Customer{Name: "Walk-in"}, AmountPaid: 15000, PriceTotal: 15000,
		PaymentMethod: model.PaymentMethodTransfer, AdminID: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelAdministrative, r.Channel)
	assert.Equal(t, int64(263+50), r.CommissionApplied)
	assert.Equal(t, model.SettlementPaid, r.PaymentStatus)
	assert.Nil(t, r.OrderID)
	require.NotNil(t, r.AdminID)
	assert.Equal(t, uint64(3), *r.AdminID)
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	r, err := f.committer.BookDirect(ctx, AdminBooking{
		CourtID: f.court.ID, Date: f.date, Range: rng("18:00", "19:00"),
		Customer: model.Customer{Name: "Walk-in"},
	})
	require.NoError(t, err)

	_, err = f.holds.Create(ctx, f.request("18:00", "19:00"))
	require.ErrorIs(t, err, ErrSlotConflict)

	cancelled, err := f.committer.Cancel(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, cancelled.Status)

	_, err = f.committer.Cancel(ctx, r.Code)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	_, err = f.committer.Cancel(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	f.hold(t, "18:00", "19:00")
}

func TestCommissionExemptionAtCommit(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, model.Complex{Name: "Nuevo", CommissionExemptUntil: &until})
	ctx := context.Background()

	commit := func(date time.Time) model.Reservation {
		req := f.request("18:00", "19:00")
		req.Date = date
		h, err := f.holds.Create(ctx, req)
		require.NoError(t, err)
		sess := f.open(t, h)
		require.NoError(t, f.gw.Approve(sess.Token))
		res, err := f.payments.Finalize(ctx, sess.Token)
		require.NoError(t, err)
		return *res.Reservation
	}

	exempt := commit(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.Zero(t, exempt.CommissionApplied)
	_, err := f.store.GetLedgerEntry(ctx, exempt.ID, model.LedgerExpense)
	assert.Error(t, err)

	charged := commit(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, int64(417), charged.CommissionApplied)
	expense, err := f.store.GetLedgerEntry(ctx, charged.ID, model.LedgerExpense)
	require.NoError(t, err)
	assert.Equal(t, int64(417), expense.Amount)
}

func TestNotifierFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	f.notifier.err = errors.New("broker down")
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	require.NoError(t, f.gw.Approve(sess.Token))

	res, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)
	stored, err := f.committer.Lookup(ctx, res.Reservation.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, stored.Status)
}

func TestCodes(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := newCode()
		require.NoError(t, err)
		require.Len(t, c, codeLength)
		for _, ch := range c {
			assert.Contains(t, codeAlphabet, string(ch))
		}
		seen[c] = true
	}
	assert.Greater(t, len(seen), 190)
	assert.Len(t, newOrderID(), orderIDLength)
}

func TestRefundLateApproval(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	h := f.hold(t, "18:00", "19:00")
	sess := f.open(t, h)
	f.clock.Advance(f.holds.TTL() + time.Minute)
	require.NoError(t, f.gw.Approve(sess.Token))
	_, err := f.payments.Finalize(ctx, sess.Token)
	require.ErrorIs(t, err, ErrHoldExpired)

	_, err = f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, Amount: 10001, AdminID: 7})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	part, err := f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, Amount: 4000, AdminID: 7, Reason: "slot lost"})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), part.Balance)
	require.NotNil(t, part.RequestedBy)
	assert.Equal(t, uint64(7), *part.RequestedBy)

	open, err := f.store.ListAnomalies(ctx, true)
	require.NoError(t, err)
	assert.Len(t, open, 1, "a partial refund leaves the anomaly open")

	rest, err := f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, AdminID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), rest.Amount)
	assert.Zero(t, rest.Balance)

	open, err = f.store.ListAnomalies(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, AdminID: 7})
	assert.ErrorIs(t, err, ErrInvalidAmount, "nothing left to refund")

	hist, err := f.payments.History(ctx, sess.ReservationCode)
	require.NoError(t, err)
	assert.Nil(t, hist.Reservation)
	assert.Equal(t, f.complex.ID, hist.ComplexID)
	require.Len(t, hist.Payments, 1)
	assert.Equal(t, int64(10000), hist.Payments[0].Refunded)
	assert.Len(t, hist.Payments[0].Refunds, 2)
}

func TestRefundRequiresCancelledReservation(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	require.NoError(t, f.gw.Approve(sess.Token))
	out, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)

	_, err = f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, AdminID: 1})
	assert.ErrorIs(t, err, ErrRefundNotAllowed)

	_, err = f.committer.Cancel(ctx, out.Reservation.Code)
	require.NoError(t, err)
	ref, err := f.payments.Refund(ctx, RefundRequest{OrderID: sess.OrderID, AdminID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), ref.Amount)

	hist, err := f.payments.History(ctx, out.Reservation.Code)
	require.NoError(t, err)
	require.NotNil(t, hist.Reservation)
	assert.Equal(t, model.ReservationCancelled, hist.Reservation.Status)
	assert.Equal(t, int64(10000), hist.Payments[0].Refunded)

	_, err = f.payments.Refund(ctx, RefundRequest{OrderID: "NOPE"})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	_, err = f.payments.History(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestRefundPendingPaymentIsRejected(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	_, err := f.payments.Refund(context.Background(), RefundRequest{OrderID: sess.OrderID})
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestApprovedSessionKeepsCardDetails(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	ctx := context.Background()
	sess := f.open(t, f.hold(t, "18:00", "19:00"))
	require.NoError(t, f.gw.Approve(sess.Token))
	out, err := f.payments.Finalize(ctx, sess.Token)
	require.NoError(t, err)

	assert.Equal(t, "VD", out.Session.PaymentTypeCode)
	assert.NotNil(t, out.Session.TransactionDate)
	assert.NotEmpty(t, out.Session.AuthorizationCode)
}

// expiringGateway lets the hold lapse while the gateway is creating the
// transaction.
type expiringGateway struct {
	*gateway.Fake
	clock *clock.Fake
	by    time.Duration
}

func (g expiringGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.Authorization, error) {
	auth, err := g.Fake.Authorize(ctx, req)
	g.clock.Advance(g.by)
	return auth, err
}

func TestAbandonedAuthorizationIsLogged(t *testing.T) {
	f := newFixture(t, model.Complex{Name: "Norte"})
	core, logs := observer.New(zap.WarnLevel)
	gw := expiringGateway{Fake: f.gw, clock: f.clock, by: f.holds.TTL() + time.Second}
	payments := NewPaymentManager(f.store, gw, f.holds, f.committer, f.clock, zap.New(core))

	h := f.hold(t, "18:00", "19:00")
	_, err := payments.Open(context.Background(), h.ID, h.Client.PriceTotal)
	require.ErrorIs(t, err, ErrHoldExpired)

	entries := logs.FilterMessage("abandoned gateway authorization").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["token"])
	assert.Equal(t, h.ID, entries[0].ContextMap()["hold_id"])

	sessions, err := f.store.ListPaymentsByHold(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
