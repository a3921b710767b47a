package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modmarket/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier abstracts *sql.DB and *sql.Tx so reads can run inside or
// outside an engine transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// --- users ---

const userColumns = `id, username, role, reputation_score, concurrent_task_count, created_at`

func scanUser(row *sql.Row) (u domain.User, err error) {
	err = row.Scan(&u.ID, &u.Username, &u.Role, &u.ReputationScore, &u.ConcurrentTaskCount, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id, username, role, reputation_score, concurrent_task_count, created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Username, u.Role, u.ReputationScore, u.ConcurrentTaskCount, u.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("username %s already taken", u.Username)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
}

// ListUsersByReputation returns users ordered for the leaderboard.
func (r Repo) ListUsersByReputation(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY reputation_score DESC, username ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.ReputationScore, &u.ConcurrentTaskCount, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// IncrementTaskCountTx bumps the user's live assignment count, guarded by
// the concurrency ceiling. Returns false when the user is already at the cap.
func (r Repo) IncrementTaskCountTx(ctx context.Context, tx *sql.Tx, userID string, ceiling int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE users SET concurrent_task_count = concurrent_task_count + 1
WHERE id=? AND concurrent_task_count < ?`, userID, ceiling)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) DecrementTaskCountTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET concurrent_task_count = CASE WHEN concurrent_task_count > 0 THEN concurrent_task_count - 1 ELSE 0 END
WHERE id=?`, userID)
	return err
}

func (r Repo) ApplyReputationTx(ctx context.Context, tx *sql.Tx, userID string, delta int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET reputation_score = reputation_score + ? WHERE id=?`, delta, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertReputationEntryTx(ctx context.Context, tx *sql.Tx, e domain.ReputationEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reputation_history(id, user_id, change, reason, module_id, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.UserID, e.Change, nullable(e.Reason), nullable(e.ModuleID), e.CreatedAt)
	return err
}

func (r Repo) ListReputationHistory(ctx context.Context, userID string) ([]domain.ReputationEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, user_id, change, COALESCE(reason,''), COALESCE(module_id,''), created_at
FROM reputation_history WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReputationEntry
	for rows.Next() {
		var e domain.ReputationEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Change, &e.Reason, &e.ModuleID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- projects ---

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Name, &desc, &p.Status, &p.CreatorID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id, name, description, status, creator_id, created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.CreatorID, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT id, name, description, status, creator_id, created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, COALESCE(description,''), status, creator_id, created_at FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
