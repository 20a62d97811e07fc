package repo

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
)

type ProblemFilters struct {
	Category      string
	Severity      string
	Status        string
	WorkstationID string
	// Escalated filters on the flag when non-nil.
	Escalated *bool
}

const problemColumns = `id,title,description,category,severity,status,escalated,escalated_at,workstation_id,assignee,reported_by,created_at,updated_at,resolved_at`

func scanProblem(row rowScanner) (domain.Problem, error) {
	var p domain.Problem
	var description, escalatedAt, workstation, assignee, reporter, resolved sql.NullString
	var escalated int
	err := row.Scan(&p.ID, &p.Title, &description, &p.Category, &p.Severity, &p.Status, &escalated, &escalatedAt,
		&workstation, &assignee, &reporter, &p.CreatedAt, &p.UpdatedAt, &resolved)
	if err != nil {
		return p, err
	}
	p.Description = description.String
	p.Escalated = escalated == 1
	p.EscalatedAt = stringPtr(escalatedAt)
	p.WorkstationID = stringPtr(workstation)
	p.Assignee = assignee.String
	p.ReportedBy = reporter.String
	p.ResolvedAt = stringPtr(resolved)
	return p, nil
}

func (r Repo) InsertProblem(ctx context.Context, tx *sql.Tx, p domain.Problem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO problems(`+problemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.Category, p.Severity, p.Status, boolInt(p.Escalated), nullableStringPtr(p.EscalatedAt),
		nullableStringPtr(p.WorkstationID), nullable(p.Assignee), nullable(p.ReportedBy), p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.ResolvedAt))
	return err
}

func (r Repo) UpdateProblem(ctx context.Context, tx *sql.Tx, p domain.Problem) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE problems SET title=?,description=?,category=?,severity=?,status=?,escalated=?,escalated_at=?,workstation_id=?,assignee=?,reported_by=?,updated_at=?,resolved_at=? WHERE id=?`,
		p.Title, nullable(p.Description), p.Category, p.Severity, p.Status, boolInt(p.Escalated), nullableStringPtr(p.EscalatedAt),
		nullableStringPtr(p.WorkstationID), nullable(p.Assignee), nullable(p.ReportedBy), p.UpdatedAt, nullableStringPtr(p.ResolvedAt), p.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "problem", p.ID)
}

func (r Repo) DeleteProblem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM problems WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "problem", id)
}

func (r Repo) GetProblem(ctx context.Context, tx *sql.Tx, id string) (domain.Problem, error) {
	p, err := scanProblem(r.q(tx).QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return p, NotFoundError{Kind: "problem", ID: id}
	}
	return p, err
}

// ListProblems returns problems in creation order.
func (r Repo) ListProblems(ctx context.Context, f ProblemFilters) ([]domain.Problem, error) {
	var w whereClause
	w.eq("category", f.Category)
	w.eq("severity", f.Severity)
	w.eq("status", f.Status)
	w.eq("workstation_id", f.WorkstationID)
	if f.Escalated != nil {
		w.add("escalated=?", boolInt(*f.Escalated))
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems `+w.String()+` ORDER BY created_at ASC, rowid ASC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
