package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

const defaultHoldTTL = 15 * time.Minute

// HoldRequest asks for an exclusive claim on a court range.
type HoldRequest struct {
	CourtID           uint64
	Date              time.Time
	Range             model.TimeRange
	SessionID         string
	Customer          model.Customer
	PrepaidPercentage int
	// TTL overrides the manager default when positive.
	TTL time.Duration
}

// HoldManager creates, renews and releases holds.
type HoldManager struct {
	store    Store
	calendar *SlotCalendar
	clock    clock.Clock
	ttl      time.Duration
	log      *zap.Logger
}

// HoldOption configures a HoldManager.
type HoldOption func(*HoldManager)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// NewHoldManager returns a HoldManager.
func NewHoldManager(store Store, cal *SlotCalendar, clk clock.Clock, log *zap.Logger, opts ...HoldOption) *HoldManager {
	m := &HoldManager{store: store, calendar: cal, clock: clk, ttl: defaultHoldTTL, log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the default hold lifetime.
func (m *HoldManager) TTL() time.Duration { return m.ttl }

// Create places a hold.  The court row is locked for the duration of the
// overlap check and the insert, so two concurrent requests for overlapping
// ranges cannot both pass the check.
func (m *HoldManager) Create(ctx context.Context, req HoldRequest) (model.Hold, error) {
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Email) == "" {
		return model.Hold{}, fmt.Errorf("%w: name and email are required", ErrInvalidCustomer)
	}
	pct := req.PrepaidPercentage
	if pct == 0 {
		pct = 100
	}
	if pct < 1 || pct > 100 {
		return model.Hold{}, fmt.Errorf("%w: prepaid percentage %d", ErrInvalidAmount, pct)
	}
	ttl := m.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := m.clock.Now()
	hold := model.Hold{
		ID:        uuid.NewString(),
		CourtID:   req.CourtID,
		Date:      model.DateOf(req.Date),
		Start:     req.Range.Start,
		End:       req.Range.End,
		SessionID: sessionID,
		Client: model.ClientSnapshot{
			Name:              req.Customer.Name,
			Email:             req.Customer.Email,
			Phone:             req.Customer.Phone,
			PrepaidPercentage: pct,
			Channel:           model.ChannelWeb,
		},
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		court, err := m.store.LockCourt(ctx, req.CourtID)
		if err != nil {
			return courtErr(err)
		}
		cx, err := m.store.GetComplex(ctx, court.ComplexID)
		if err != nil {
			return fmt.Errorf("load complex %d: %w", court.ComplexID, err)
		}
		if err := m.calendar.checkBookable(cx, hold.Date, req.Range, now); err != nil {
			return err
		}
		if err := m.calendar.ensureFree(ctx, req.CourtID, hold.Date, req.Range, now, ""); err != nil {
			return err
		}
		hold.Client.PriceTotal = price(court, req.Range)
		return m.store.InsertHold(ctx, hold)
	})
	if err != nil {
		return model.Hold{}, err
	}
	m.log.Info("hold created",
		zap.String("hold_id", hold.ID),
		zap.Uint64("court_id", hold.CourtID),
		zap.String("date", hold.Date.Format(model.DateLayout)),
		zap.Stringer("range", hold.Range()),
		zap.Time("expires_at", hold.ExpiresAt),
	)
	return hold, nil
}

// Get returns a hold by ID.
func (m *HoldManager) Get(ctx context.Context, id string) (model.Hold, error) {
	h, err := m.store.GetHold(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Hold{}, ErrHoldNotFound
	}
	return h, err
}

// Renew pushes a live hold's expiry to now + TTL.  A hold that is missing,
// already committed or already expired yields ErrHoldNotFound.
func (m *HoldManager) Renew(ctx context.Context, id string) (model.Hold, error) {
	now := m.clock.Now()
	var h model.Hold
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		h, err = m.store.GetHold(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrHoldNotFound
		}
		if err != nil {
			return err
		}
		if !h.Live(now) {
			return fmt.Errorf("%w: expired at %s", ErrHoldNotFound, h.ExpiresAt.Format(time.RFC3339))
		}
		h.ExpiresAt = now.Add(m.ttl)
		return m.store.UpdateHoldExpiry(ctx, id, h.ExpiresAt)
	})
	if err != nil {
		return model.Hold{}, err
	}
	return h, nil
}

// Release deletes a hold.  Releasing a missing hold is a no-op.
func (m *HoldManager) Release(ctx context.Context, id string) error {
	if err := m.store.DeleteHold(ctx, id); err != nil {
		return fmt.Errorf("release hold %s: %w", id, err)
	}
	return nil
}

// Reap deletes expired holds.  Expired holds are already ignored by the
// overlap check; this only keeps the table small.
func (m *HoldManager) Reap(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredHolds(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reap holds: %w", err)
	}
	if n > 0 {
		m.log.Info("expired holds reaped", zap.Int64("count", n))
	}
	return n, nil
}
