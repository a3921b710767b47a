package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"modmarket/internal/domain"
)

const moduleColumns = `id, project_id, title, description, status, bounty, deadline, created_at, updated_at`

func scanModule(row *sql.Row) (domain.Module, error) {
	var m domain.Module
	var bounty sql.NullInt64
	var deadline sql.NullString
	err := row.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Description, &m.Status, &bounty, &deadline, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if bounty.Valid {
		v := int(bounty.Int64)
		m.Bounty = &v
	}
	if deadline.Valid {
		m.Deadline = &deadline.String
	}
	return m, nil
}

func (r Repo) InsertModuleTx(ctx context.Context, tx *sql.Tx, m domain.Module) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO modules(id, project_id, title, description, status, bounty, deadline, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, m.Description, m.Status, nullableInt(m.Bounty), deadlineArg(m.Deadline), m.CreatedAt, m.UpdatedAt)
	return err
}

func deadlineArg(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func (r Repo) GetModule(ctx context.Context, id string) (domain.Module, error) {
	return r.GetModuleTx(ctx, nil, id)
}

func (r Repo) GetModuleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Module, error) {
	return scanModule(r.q(tx).QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id=?`, id))
}

func (r Repo) ListModules(ctx context.Context, projectID, status string) ([]domain.Module, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Module
	for rows.Next() {
		var m domain.Module
		var bounty sql.NullInt64
		var deadline sql.NullString
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Title, &m.Description, &m.Status, &bounty, &deadline, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if bounty.Valid {
			v := int(bounty.Int64)
			m.Bounty = &v
		}
		if deadline.Valid {
			m.Deadline = &deadline.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateModuleStatusTx moves a module between lifecycle states. The
// expected current status is part of the WHERE clause so a concurrent
// transition cannot be overwritten silently.
func (r Repo) UpdateModuleStatusTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE modules SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) UpdateModuleFields(ctx context.Context, id string, title, description *string, bounty *int, deadline *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if title != nil {
		fields = append(fields, "title=?")
		args = append(args, *title)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, *description)
	}
	if bounty != nil {
		fields = append(fields, "bounty=?")
		args = append(args, *bounty)
	}
	if deadline != nil {
		fields = append(fields, "deadline=?")
		args = append(args, nullable(*deadline))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE modules SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- assignments ---

func (r Repo) ListAssignments(ctx context.Context, moduleID string) ([]domain.Assignment, error) {
	return r.ListAssignmentsTx(ctx, nil, moduleID)
}

// ListAssignmentsTx returns assignments ordered by claim time; the earliest
// claimant comes first, which the reward allocator relies on.
func (r Repo) ListAssignmentsTx(ctx context.Context, tx *sql.Tx, moduleID string) ([]domain.Assignment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT module_id, user_id, claimed_at FROM assignments WHERE module_id=? ORDER BY claimed_at ASC, user_id ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ModuleID, &a.UserID, &a.ClaimedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, moduleID, userID string) (domain.Assignment, error) {
	var a domain.Assignment
	err := r.q(tx).QueryRowContext(ctx, `SELECT module_id, user_id, claimed_at FROM assignments WHERE module_id=? AND user_id=?`, moduleID, userID).
		Scan(&a.ModuleID, &a.UserID, &a.ClaimedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	return a, nil
}

func (r Repo) CountAssignmentsTx(ctx context.Context, tx *sql.Tx, moduleID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE module_id=?`, moduleID).Scan(&n)
	return n, err
}

// InsertAssignmentTx inserts the claim, guarded by the slot cap: the row is
// only written while the module has fewer than maxAssignees assignments.
// Returns false when the cap is already reached.
func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment, maxAssignees int) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO assignments(module_id, user_id, claimed_at)
SELECT ?, ?, ? WHERE (SELECT COUNT(*) FROM assignments WHERE module_id=?) < ?`,
		a.ModuleID, a.UserID, a.ClaimedAt, a.ModuleID, maxAssignees)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) DeleteAssignmentTx(ctx context.Context, tx *sql.Tx, moduleID, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE module_id=? AND user_id=?`, moduleID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) DeleteModuleAssignmentsTx(ctx context.Context, tx *sql.Tx, moduleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE module_id=?`, moduleID)
	return err
}
