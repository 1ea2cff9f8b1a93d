package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/court-reservation/internal/model"
)

// AnomalyRepo stores payments that need an operator: approvals that arrived
// after their hold was gone, and amount mismatches.  (order_id, kind) is
// unique so recording the same anomaly twice is harmless.
type AnomalyRepo struct {
	db *sql.DB
}

// NewAnomalyRepo returns a new AnomalyRepo bound to the provided database.
func NewAnomalyRepo(db *sql.DB) *AnomalyRepo { return &AnomalyRepo{db: db} }

// InsertAnomaly records an anomaly.  An existing (order_id, kind) row is
// left untouched.
func (r *AnomalyRepo) InsertAnomaly(ctx context.Context, a model.PaymentAnomaly) error {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT IGNORE INTO payment_anomalies (order_id, token, kind, detail, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.OrderID, a.Token, a.Kind, a.Detail, snapshot, a.CreatedAt.UTC(),
	)
	return err
}

// ResolveAnomalies marks every open anomaly of an order as resolved.
func (r *AnomalyRepo) ResolveAnomalies(ctx context.Context, orderID string, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE payment_anomalies SET resolved_at = ? WHERE order_id = ? AND resolved_at IS NULL`,
		at.UTC(), orderID)
	return err
}

// ListAnomalies returns anomalies, optionally only unresolved ones, newest
// first.
func (r *AnomalyRepo) ListAnomalies(ctx context.Context, openOnly bool) ([]model.PaymentAnomaly, error) {
	q := `SELECT id, order_id, token, kind, detail, snapshot, created_at, resolved_at FROM payment_anomalies`
	if openOnly {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PaymentAnomaly
	for rows.Next() {
		var (
			a        model.PaymentAnomaly
			snapshot []byte
			resolved sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Token, &a.Kind, &a.Detail, &snapshot, &a.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &a.Snapshot); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.ResolvedAt = timePtr(resolved)
		out = append(out, a)
	}
	return out, rows.Err()
}
