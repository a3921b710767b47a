package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"modmarket/internal/domain"
)

const deliveryColumns = `id, module_id, submitter_id, content, attachments_json, status, submitted_at`

func scanDelivery(row *sql.Row) (domain.Delivery, error) {
	var d domain.Delivery
	var attachments sql.NullString
	err := row.Scan(&d.ID, &d.ModuleID, &d.SubmitterID, &d.Content, &attachments, &d.Status, &d.SubmittedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if attachments.Valid && attachments.String != "" {
		_ = json.Unmarshal([]byte(attachments.String), &d.Attachments)
	}
	return d, nil
}

func (r Repo) InsertDeliveryTx(ctx context.Context, tx *sql.Tx, d domain.Delivery) error {
	var attachments any
	if len(d.Attachments) > 0 {
		data, err := json.Marshal(d.Attachments)
		if err != nil {
			return err
		}
		attachments = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO deliveries(id, module_id, submitter_id, content, attachments_json, status, submitted_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ModuleID, d.SubmitterID, d.Content, attachments, d.Status, d.SubmittedAt)
	return err
}

func (r Repo) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	return r.GetDeliveryTx(ctx, nil, id)
}

func (r Repo) GetDeliveryTx(ctx context.Context, tx *sql.Tx, id string) (domain.Delivery, error) {
	return scanDelivery(r.q(tx).QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=?`, id))
}

func (r Repo) ListDeliveries(ctx context.Context, moduleID string) ([]domain.Delivery, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE module_id=? ORDER BY submitted_at ASC, id ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var attachments sql.NullString
		if err := rows.Scan(&d.ID, &d.ModuleID, &d.SubmitterID, &d.Content, &attachments, &d.Status, &d.SubmittedAt); err != nil {
			return nil, err
		}
		if attachments.Valid && attachments.String != "" {
			_ = json.Unmarshal([]byte(attachments.String), &d.Attachments)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) HasPendingDeliveryTx(ctx context.Context, tx *sql.Tx, moduleID, submitterID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE module_id=? AND submitter_id=? AND status=?`,
		moduleID, submitterID, domain.DeliveryPending).Scan(&n)
	return n > 0, err
}

func (r Repo) SetDeliveryStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE deliveries SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseModulePendingDeliveriesTx closes out every still-pending delivery on a
// module; used when a single review resolves the module as a whole.
func (r Repo) CloseModulePendingDeliveriesTx(ctx context.Context, tx *sql.Tx, moduleID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE deliveries SET status=? WHERE module_id=? AND status=?`,
		domain.DeliveryClosed, moduleID, domain.DeliveryPending)
	return err
}

// --- reviews ---

func (r Repo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rev domain.Review) error {
	var allocations any
	if len(rev.Allocations) > 0 {
		data, err := json.Marshal(rev.Allocations)
		if err != nil {
			return err
		}
		allocations = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO reviews(id, delivery_id, reviewer_id, decision, feedback, total_score, allocations_json, reviewed_at) VALUES (?,?,?,?,?,?,?,?)`,
		rev.ID, rev.DeliveryID, rev.ReviewerID, rev.Decision, nullable(rev.Feedback), nullableInt(rev.TotalScore), allocations, rev.ReviewedAt)
	return err
}

func (r Repo) GetReviewByDeliveryTx(ctx context.Context, tx *sql.Tx, deliveryID string) (domain.Review, error) {
	var rev domain.Review
	var feedback, allocations sql.NullString
	var total sql.NullInt64
	err := r.q(tx).QueryRowContext(ctx, `SELECT id, delivery_id, reviewer_id, decision, feedback, total_score, allocations_json, reviewed_at FROM reviews WHERE delivery_id=?`, deliveryID).
		Scan(&rev.ID, &rev.DeliveryID, &rev.ReviewerID, &rev.Decision, &feedback, &total, &allocations, &rev.ReviewedAt)
	if err == sql.ErrNoRows {
		return rev, ErrNotFound
	}
	if err != nil {
		return rev, err
	}
	if feedback.Valid {
		rev.Feedback = feedback.String
	}
	if total.Valid {
		v := int(total.Int64)
		rev.TotalScore = &v
	}
	if allocations.Valid && allocations.String != "" {
		_ = json.Unmarshal([]byte(allocations.String), &rev.Allocations)
	}
	return rev, nil
}

func (r Repo) ListModuleReviews(ctx context.Context, moduleID string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rv.id, rv.delivery_id, rv.reviewer_id, rv.decision, rv.feedback, rv.total_score, rv.allocations_json, rv.reviewed_at
FROM reviews rv JOIN deliveries d ON d.id = rv.delivery_id WHERE d.module_id=? ORDER BY rv.reviewed_at ASC, rv.id ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		var rev domain.Review
		var feedback, allocations sql.NullString
		var total sql.NullInt64
		if err := rows.Scan(&rev.ID, &rev.DeliveryID, &rev.ReviewerID, &rev.Decision, &feedback, &total, &allocations, &rev.ReviewedAt); err != nil {
			return nil, err
		}
		if feedback.Valid {
			rev.Feedback = feedback.String
		}
		if total.Valid {
			v := int(total.Int64)
			rev.TotalScore = &v
		}
		if allocations.Valid && allocations.String != "" {
			_ = json.Unmarshal([]byte(allocations.String), &rev.Allocations)
		}
		res = append(res, rev)
	}
	return res, rows.Err()
}
