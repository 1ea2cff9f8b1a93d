package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/court-reservation/internal/clock"
	"github.com/iliyamo/court-reservation/internal/model"
	"github.com/iliyamo/court-reservation/internal/repository"
)

// Slot kinds reported by Availability.
const (
	BusyHold        = "hold"
	BusyReservation = "reservation"
)

// BusyRange is an occupied part of a day.
type BusyRange struct {
	model.TimeRange
	Kind string `json:"kind"`
}

// Availability is the projection of one court and date.
type Availability struct {
	CourtID      uint64            `json:"court_id"`
	Date         string            `json:"date"`
	OpeningHours model.TimeRange   `json:"opening_hours"`
	Busy         []BusyRange       `json:"busy"`
	Free         []model.TimeRange `json:"free"`
}

// SlotCalendar answers whether ranges are free.  Its overlap check is the
// only one in the engine: hold creation, administrative booking and payment
// recovery all call ensureFree inside a transaction that holds the court
// lock.
type SlotCalendar struct {
	store interface {
		CourtStore
		HoldStore
		ReservationStore
	}
	clock clock.Clock
	loc   *time.Location
}

// CalendarOption configures a SlotCalendar.
type CalendarOption func(*SlotCalendar)

// WithLocation sets the zone booking dates and slot times are read in.
// The default is UTC.
func WithLocation(loc *time.Location) CalendarOption {
	return func(c *SlotCalendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// NewSlotCalendar returns a SlotCalendar over store.
func NewSlotCalendar(store Store, clk clock.Clock, opts ...CalendarOption) *SlotCalendar {
	c := &SlotCalendar{store: store, clock: clk, loc: time.UTC}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Court returns a court by id.
func (c *SlotCalendar) Court(ctx context.Context, id uint64) (model.Court, error) {
	court, err := c.store.GetCourt(ctx, id)
	if err != nil {
		return model.Court{}, courtErr(err)
	}
	return court, nil
}

// Availability lists busy and free ranges of a court on date within the
// complex's opening hours.  It is a plain read and may be stale by the time
// the caller acts on it.
func (c *SlotCalendar) Availability(ctx context.Context, courtID uint64, date time.Time) (Availability, error) {
	court, err := c.store.GetCourt(ctx, courtID)
	if err != nil {
		return Availability{}, courtErr(err)
	}
	cx, err := c.store.GetComplex(ctx, court.ComplexID)
	if err != nil {
		return Availability{}, fmt.Errorf("load complex %d: %w", court.ComplexID, err)
	}
	busy, err := c.busy(ctx, courtID, date, c.clock.Now(), "")
	if err != nil {
		return Availability{}, err
	}
	open := cx.OpeningHours()
	return Availability{
		CourtID:      courtID,
		Date:         model.DateOf(date).Format(model.DateLayout),
		OpeningHours: open,
		Busy:         busy,
		Free:         freeRanges(open, busy),
	}, nil
}

// IsFree reports whether rng on the court and date overlaps nothing live.
func (c *SlotCalendar) IsFree(ctx context.Context, courtID uint64, date time.Time, rng model.TimeRange) (bool, error) {
	err := c.ensureFree(ctx, courtID, date, rng, c.clock.Now(), "")
	if errors.Is(err, ErrSlotConflict) {
		return false, nil
	}
	return err == nil, err
}

// ensureFree returns ErrSlotConflict when rng overlaps a hold live at now
// or a confirmed reservation.  The hold named by ignoreHold is skipped so a
// session can re-check its own slot.  A hold past its expiry counts as free
// whether or not the reaper has deleted it yet.
func (c *SlotCalendar) ensureFree(ctx context.Context, courtID uint64, date time.Time, rng model.TimeRange, now time.Time, ignoreHold string) error {
	busy, err := c.busy(ctx, courtID, date, now, ignoreHold)
	if err != nil {
		return err
	}
	for _, b := range busy {
		if b.Overlaps(rng) {
			return fmt.Errorf("%w: %s overlaps %s %s", ErrSlotConflict, rng, b.Kind, b.TimeRange)
		}
	}
	return nil
}

func (c *SlotCalendar) busy(ctx context.Context, courtID uint64, date, now time.Time, ignoreHold string) ([]BusyRange, error) {
	holds, err := c.store.ListLiveHolds(ctx, courtID, date, now)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	res, err := c.store.ListActiveReservations(ctx, courtID, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	out := make([]BusyRange, 0, len(holds)+len(res))
	for _, h := range holds {
		if h.ID == ignoreHold {
			continue
		}
		out = append(out, BusyRange{TimeRange: h.Range(), Kind: BusyHold})
	}
	for _, r := range res {
		out = append(out, BusyRange{TimeRange: r.Range(), Kind: BusyReservation})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// checkBookable validates a requested range against the complex's opening
// hours and the current instant.  The range is wall-clock time in the
// calendar's zone.
func (c *SlotCalendar) checkBookable(cx model.Complex, date time.Time, rng model.TimeRange, now time.Time) error {
	if !rng.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRange, rng)
	}
	open := cx.OpeningHours()
	if rng.Start < open.Start || rng.End > open.End {
		return fmt.Errorf("%w: %s outside opening hours %s", ErrInvalidRange, rng, open)
	}
	if !model.At(date, rng.End, c.loc).After(now) {
		return fmt.Errorf("%w: %s %s is in the past", ErrInvalidRange, model.DateOf(date).Format(model.DateLayout), rng)
	}
	return nil
}

// freeRanges subtracts busy (sorted by start) from open.
func freeRanges(open model.TimeRange, busy []BusyRange) []model.TimeRange {
	free := []model.TimeRange{}
	cursor := open.Start
	for _, b := range busy {
		if b.End <= cursor {
			continue
		}
		if b.Start >= open.End {
			break
		}
		if b.Start > cursor {
			free = append(free, model.TimeRange{Start: cursor, End: b.Start})
		}
		if b.End > cursor {
			cursor = b.End
		}
	}
	if cursor < open.End {
		free = append(free, model.TimeRange{Start: cursor, End: open.End})
	}
	return free
}

// price is the court's hourly price pro-rated to the range, rounded half up.
func price(c model.Court, rng model.TimeRange) int64 {
	return (c.PricePerHour*int64(rng.Minutes())*2 + 60) / 120
}

func courtErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCourtNotFound
	}
	return err
}
