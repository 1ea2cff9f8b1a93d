package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// HoldRepo provides data access to the holds table.  A hold is live while
// expires_at is in the future; callers always pass the current instant
// explicitly so that a single clock governs expiry everywhere.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

const holdColumns = `id, court_id, booking_date, start_time, end_time, session_id, client, expires_at, created_at`

func scanHold(s rowScanner) (model.Hold, error) {
	var (
		h      model.Hold
		client []byte
	)
	err := s.Scan(&h.ID, &h.CourtID, &h.Date, &h.Start, &h.End, &h.SessionID, &client, &h.ExpiresAt, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Hold{}, ErrNotFound
	}
	if err != nil {
		return model.Hold{}, err
	}
	if err := json.Unmarshal(client, &h.Client); err != nil {
		return model.Hold{}, err
	}
	h.Date = model.DateOf(h.Date)
	h.ExpiresAt = h.ExpiresAt.UTC()
	h.CreatedAt = h.CreatedAt.UTC()
	return h, nil
}

// InsertHold stores a new hold.
func (r *HoldRepo) InsertHold(ctx context.Context, h model.Hold) error {
	client, err := json.Marshal(h.Client)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO holds (`+holdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.CourtID, dateArg(h.Date), h.Start, h.End, h.SessionID, client, h.ExpiresAt.UTC(), h.CreatedAt.UTC(),
	)
	return translate(err)
}

// GetHold returns a hold by ID regardless of whether it is still live.
func (r *HoldRepo) GetHold(ctx context.Context, id string) (model.Hold, error) {
	return scanHold(conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = ?`, id))
}

// ListLiveHolds returns holds on a court and date that are live at now.
func (r *HoldRepo) ListLiveHolds(ctx context.Context, courtID uint64, date, now time.Time) ([]model.Hold, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE court_id = ? AND booking_date = ? AND expires_at > ?
		 ORDER BY start_time`,
		courtID, dateArg(date), now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHoldExpiry moves a hold's expiry.  ErrNotFound means the hold does
// not exist.
func (r *HoldRepo) UpdateHoldExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE holds SET expires_at = ? WHERE id = ?`, expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DeleteHold removes a hold.  Deleting a missing hold is not an error.
func (r *HoldRepo) DeleteHold(ctx context.Context, id string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, id)
	return err
}

// DeleteExpiredHolds removes every hold with expires_at <= now and returns
// how many were removed.
func (r *HoldRepo) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM holds WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
