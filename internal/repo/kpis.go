package repo

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
)

type KPIFilters struct {
	Category      string
	Status        string
	WorkstationID string
	WithHistory   bool
}

const kpiColumns = `id,name,description,category,current_value,target_value,unit,direction,tolerance,warning_band,status,trend,frequency,workstation_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKPI(row rowScanner) (domain.KPI, error) {
	var k domain.KPI
	var description, workstation sql.NullString
	var band sql.NullFloat64
	err := row.Scan(&k.ID, &k.Name, &description, &k.Category, &k.CurrentValue, &k.TargetValue, &k.Unit,
		&k.Direction, &k.Tolerance, &band, &k.Status, &k.Trend, &k.Frequency, &workstation, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return k, err
	}
	k.Description = description.String
	k.WorkstationID = stringPtr(workstation)
	if band.Valid {
		v := band.Float64
		k.WarningBand = &v
	}
	return k, nil
}

func (r Repo) InsertKPI(ctx context.Context, tx *sql.Tx, k domain.KPI) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO kpis(`+kpiColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		k.ID, k.Name, nullable(k.Description), k.Category, k.CurrentValue, k.TargetValue, k.Unit, k.Direction, k.Tolerance,
		nullableFloatPtr(k.WarningBand), k.Status, k.Trend, k.Frequency, nullableStringPtr(k.WorkstationID), k.CreatedAt, k.UpdatedAt)
	return err
}

// UpdateKPI overwrites every mutable column. History is written separately.
func (r Repo) UpdateKPI(ctx context.Context, tx *sql.Tx, k domain.KPI) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE kpis SET name=?,description=?,category=?,current_value=?,target_value=?,unit=?,direction=?,tolerance=?,warning_band=?,status=?,trend=?,frequency=?,workstation_id=?,updated_at=? WHERE id=?`,
		k.Name, nullable(k.Description), k.Category, k.CurrentValue, k.TargetValue, k.Unit, k.Direction, k.Tolerance,
		nullableFloatPtr(k.WarningBand), k.Status, k.Trend, k.Frequency, nullableStringPtr(k.WorkstationID), k.UpdatedAt, k.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "kpi", k.ID)
}

func (r Repo) DeleteKPI(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM kpis WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "kpi", id)
}

// GetKPI loads a KPI with its full history.
func (r Repo) GetKPI(ctx context.Context, tx *sql.Tx, id string) (domain.KPI, error) {
	q := r.q(tx)
	k, err := scanKPI(q.QueryRowContext(ctx, `SELECT `+kpiColumns+` FROM kpis WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return k, NotFoundError{Kind: "kpi", ID: id}
	}
	if err != nil {
		return k, err
	}
	hist, err := r.history(ctx, q, id)
	if err != nil {
		return k, err
	}
	k.History = hist[id]
	return k, nil
}

// ListKPIs returns KPIs in creation order.
func (r Repo) ListKPIs(ctx context.Context, f KPIFilters) ([]domain.KPI, error) {
	var w whereClause
	w.eq("category", f.Category)
	w.eq("status", f.Status)
	w.eq("workstation_id", f.WorkstationID)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+kpiColumns+` FROM kpis `+w.String()+` ORDER BY created_at ASC, rowid ASC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KPI
	for rows.Next() {
		k, err := scanKPI(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !f.WithHistory || len(res) == 0 {
		return res, nil
	}
	hist, err := r.history(ctx, r.DB, "")
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].History = hist[res[i].ID]
	}
	return res, nil
}

func (r Repo) AppendKPISample(ctx context.Context, tx *sql.Tx, kpiID string, s domain.Sample) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO kpi_history(kpi_id,value,recorded_at,recorded_by) VALUES (?,?,?,?)`,
		kpiID, s.Value, s.At, nullable(s.RecordedBy))
	return err
}

// history returns samples per KPI in recorded order; an empty kpiID loads every KPI.
func (r Repo) history(ctx context.Context, q queryer, kpiID string) (map[string][]domain.Sample, error) {
	query := `SELECT kpi_id,value,recorded_at,COALESCE(recorded_by,'') FROM kpi_history`
	var args []any
	if kpiID != "" {
		query += ` WHERE kpi_id=?`
		args = append(args, kpiID)
	}
	query += ` ORDER BY kpi_id, recorded_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]domain.Sample)
	for rows.Next() {
		var id string
		var s domain.Sample
		if err := rows.Scan(&id, &s.Value, &s.At, &s.RecordedBy); err != nil {
			return nil, err
		}
		out[id] = append(out[id], s)
	}
	return out, rows.Err()
}
