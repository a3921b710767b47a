package repo

import (
	"context"
	"database/sql"

	"modmarket/internal/domain"
)

const notificationColumns = `id, recipient_id, type, title, body, module_id, is_read, created_at`

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id, recipient_id, type, title, body, module_id, is_read, created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, n.Type, n.Title, nullable(n.Body), nullable(n.ModuleID), boolToInt(n.IsRead), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var body, moduleID sql.NullString
		var isRead int
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &body, &moduleID, &isRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if body.Valid {
			n.Body = body.String
		}
		if moduleID.Valid {
			n.ModuleID = moduleID.String
		}
		n.IsRead = isRead != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id=? AND is_read=0`, recipientID).Scan(&n)
	return n, err
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND recipient_id=?`, id, recipientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE recipient_id=? AND is_read=0`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
