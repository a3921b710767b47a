package repo

import (
	"context"
	"database/sql"

	"modmarket/internal/domain"
)

const abandonColumns = `id, module_id, requester_id, reason, status, review_comment, created_at, resolved_at`

func scanAbandonRequest(row *sql.Row) (domain.AbandonRequest, error) {
	var a domain.AbandonRequest
	var comment, resolved sql.NullString
	err := row.Scan(&a.ID, &a.ModuleID, &a.RequesterID, &a.Reason, &a.Status, &comment, &a.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if comment.Valid {
		a.ReviewComment = comment.String
	}
	if resolved.Valid {
		a.ResolvedAt = &resolved.String
	}
	return a, nil
}

func (r Repo) InsertAbandonRequestTx(ctx context.Context, tx *sql.Tx, a domain.AbandonRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO abandon_requests(id, module_id, requester_id, reason, status, created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ModuleID, a.RequesterID, a.Reason, a.Status, a.CreatedAt)
	return err
}

func (r Repo) GetAbandonRequest(ctx context.Context, id string) (domain.AbandonRequest, error) {
	return r.GetAbandonRequestTx(ctx, nil, id)
}

func (r Repo) GetAbandonRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.AbandonRequest, error) {
	return scanAbandonRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+abandonColumns+` FROM abandon_requests WHERE id=?`, id))
}

func (r Repo) HasPendingAbandonRequestTx(ctx context.Context, tx *sql.Tx, moduleID, requesterID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM abandon_requests WHERE module_id=? AND requester_id=? AND status=?`,
		moduleID, requesterID, domain.AbandonPending).Scan(&n)
	return n > 0, err
}

// ResolveAbandonRequestTx flips a pending request to its final status.
// Returns false when the request was already resolved by someone else.
func (r Repo) ResolveAbandonRequestTx(ctx context.Context, tx *sql.Tx, id, status, comment, resolvedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE abandon_requests SET status=?, review_comment=?, resolved_at=? WHERE id=? AND status=?`,
		status, nullable(comment), resolvedAt, id, domain.AbandonPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) ListAbandonRequests(ctx context.Context, status string) ([]domain.AbandonRequest, error) {
	query := `SELECT ` + abandonColumns + ` FROM abandon_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AbandonRequest
	for rows.Next() {
		var a domain.AbandonRequest
		var comment, resolved sql.NullString
		if err := rows.Scan(&a.ID, &a.ModuleID, &a.RequesterID, &a.Reason, &a.Status, &comment, &a.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if comment.Valid {
			a.ReviewComment = comment.String
		}
		if resolved.Valid {
			a.ResolvedAt = &resolved.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
