package repo

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
)

// UpsertCategory inserts or refreshes a category keyed by code. The id of an
// existing row is kept.
func (r Repo) UpsertCategory(ctx context.Context, tx *sql.Tx, c domain.Category) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO categories(id,code,name,color,display_order) VALUES (?,?,?,?,?)
ON CONFLICT(code) DO UPDATE SET name=excluded.name, color=excluded.color, display_order=excluded.display_order`,
		c.ID, c.Code, c.Name, nullable(c.Color), c.DisplayOrder)
	return err
}

func (r Repo) GetCategoryByCode(ctx context.Context, tx *sql.Tx, code string) (domain.Category, error) {
	var c domain.Category
	var color sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,code,name,color,display_order FROM categories WHERE code=?`, code).
		Scan(&c.ID, &c.Code, &c.Name, &color, &c.DisplayOrder)
	if err == sql.ErrNoRows {
		return c, NotFoundError{Kind: "category", ID: code}
	}
	c.Color = color.String
	return c, err
}

// ListCategories returns categories by display order.
func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,color,display_order FROM categories ORDER BY display_order ASC, code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var c domain.Category
		var color sql.NullString
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &color, &c.DisplayOrder); err != nil {
			return nil, err
		}
		c.Color = color.String
		res = append(res, c)
	}
	return res, rows.Err()
}

const workstationColumns = `id,name,kind,status,location,description,created_at`

func scanWorkstation(row rowScanner) (domain.Workstation, error) {
	var w domain.Workstation
	var location, description sql.NullString
	if err := row.Scan(&w.ID, &w.Name, &w.Kind, &w.Status, &location, &description, &w.CreatedAt); err != nil {
		return w, err
	}
	w.Location = location.String
	w.Description = description.String
	return w, nil
}

func (r Repo) InsertWorkstation(ctx context.Context, tx *sql.Tx, w domain.Workstation) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO workstations(`+workstationColumns+`) VALUES (?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.Kind, w.Status, nullable(w.Location), nullable(w.Description), w.CreatedAt)
	return err
}

func (r Repo) UpdateWorkstation(ctx context.Context, tx *sql.Tx, w domain.Workstation) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workstations SET name=?,kind=?,status=?,location=?,description=? WHERE id=?`,
		w.Name, w.Kind, w.Status, nullable(w.Location), nullable(w.Description), w.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "workstation", w.ID)
}

func (r Repo) GetWorkstation(ctx context.Context, tx *sql.Tx, id string) (domain.Workstation, error) {
	w, err := scanWorkstation(r.q(tx).QueryRowContext(ctx, `SELECT `+workstationColumns+` FROM workstations WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return w, NotFoundError{Kind: "workstation", ID: id}
	}
	return w, err
}

func (r Repo) ListWorkstations(ctx context.Context, status string) ([]domain.Workstation, error) {
	var w whereClause
	w.eq("status", status)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workstationColumns+` FROM workstations `+w.String()+` ORDER BY created_at ASC, rowid ASC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workstation
	for rows.Next() {
		ws, err := scanWorkstation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ws)
	}
	return res, rows.Err()
}
