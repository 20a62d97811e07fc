package repo

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
)

type ActionFilters struct {
	Category      string
	Priority      string
	Status        string
	WorkstationID string
	DueDate       string
}

const actionColumns = `id,title,description,priority,status,category,due_date,assignee,workstation_id,created_at,updated_at,completed_at`

func scanAction(row rowScanner) (domain.Action, error) {
	var a domain.Action
	var description, assignee, workstation, completed sql.NullString
	err := row.Scan(&a.ID, &a.Title, &description, &a.Priority, &a.Status, &a.Category, &a.DueDate,
		&assignee, &workstation, &a.CreatedAt, &a.UpdatedAt, &completed)
	if err != nil {
		return a, err
	}
	a.Description = description.String
	a.Assignee = assignee.String
	a.WorkstationID = stringPtr(workstation)
	a.CompletedAt = stringPtr(completed)
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, nullable(a.Description), a.Priority, a.Status, a.Category, a.DueDate,
		nullable(a.Assignee), nullableStringPtr(a.WorkstationID), a.CreatedAt, a.UpdatedAt, nullableStringPtr(a.CompletedAt))
	return err
}

func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE actions SET title=?,description=?,priority=?,status=?,category=?,due_date=?,assignee=?,workstation_id=?,updated_at=?,completed_at=? WHERE id=?`,
		a.Title, nullable(a.Description), a.Priority, a.Status, a.Category, a.DueDate, nullable(a.Assignee),
		nullableStringPtr(a.WorkstationID), a.UpdatedAt, nullableStringPtr(a.CompletedAt), a.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "action", a.ID)
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "action", id)
}

func (r Repo) GetAction(ctx context.Context, tx *sql.Tx, id string) (domain.Action, error) {
	a, err := scanAction(r.q(tx).QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, NotFoundError{Kind: "action", ID: id}
	}
	return a, err
}

// ListActions returns actions in creation order.
func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	var w whereClause
	w.eq("category", f.Category)
	w.eq("priority", f.Priority)
	w.eq("status", f.Status)
	w.eq("workstation_id", f.WorkstationID)
	w.eq("due_date", f.DueDate)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions `+w.String()+` ORDER BY created_at ASC, rowid ASC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
