package engine

import (
	"context"
	"database/sql"
	"math"

	"github.com/sirupsen/logrus"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/events"
	"shopfloor/internal/filter"
	"shopfloor/internal/kpi"
	"shopfloor/internal/metrics"
	"shopfloor/internal/repo"
)

type KPICreateOptions struct {
	ID            string
	Name          string `validate:"required,max=200"`
	Description   string `validate:"max=2000"`
	Category      string `validate:"required"`
	CurrentValue  float64
	TargetValue   float64
	Unit          string   `validate:"max=32"`
	Direction     string   `validate:"omitempty,oneof=higher_is_better lower_is_better"`
	Tolerance     float64  `validate:"gte=0"`
	WarningBand   *float64 `validate:"omitempty,gte=0,lt=1"`
	Frequency     string   `validate:"omitempty,oneof=daily weekly monthly"`
	WorkstationID string
	Role          auth.Role
}

// CreateKPI stores a KPI with its first sample and a derived status.
func (e Engine) CreateKPI(ctx context.Context, opts KPICreateOptions) (domain.KPI, error) {
	if err := e.require(opts.Role, auth.CreateKPIs); err != nil {
		return domain.KPI{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.KPI{}, err
	}
	if err := finite(opts.CurrentValue, opts.TargetValue); err != nil {
		return domain.KPI{}, err
	}
	if opts.Direction == "" {
		opts.Direction = string(domain.HigherIsBetter)
	}
	if opts.Frequency == "" {
		opts.Frequency = string(domain.FrequencyDaily)
	}
	id := opts.ID
	if id == "" {
		id = newID("kpi")
	}
	now := e.now()
	k := domain.KPI{
		ID:            id,
		Name:          opts.Name,
		Description:   opts.Description,
		Category:      opts.Category,
		TargetValue:   opts.TargetValue,
		Unit:          opts.Unit,
		Direction:     domain.Direction(opts.Direction),
		Tolerance:     opts.Tolerance,
		WarningBand:   opts.WarningBand,
		Frequency:     domain.Frequency(opts.Frequency),
		WorkstationID: optionalString(opts.WorkstationID),
		CreatedAt:     now.UTC().Format(timeLayout),
	}
	k = e.Classifier.Record(k, opts.CurrentValue, now, string(opts.Role))
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireCategory(ctx, tx, k.Category); err != nil {
			return err
		}
		if err := requireNewID("kpi", k.ID, func() error {
			_, err := e.Repo.GetKPI(ctx, tx, k.ID)
			return err
		}); err != nil {
			return err
		}
		if err := e.requireWorkstation(ctx, tx, k.WorkstationID); err != nil {
			return err
		}
		if err := e.Repo.InsertKPI(ctx, tx, k); err != nil {
			return err
		}
		for _, s := range k.History {
			if err := e.Repo.AppendKPISample(ctx, tx, k.ID, s); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.KPICreated, "kpi", k.ID, string(opts.Role), events.EventPayload{
			"name":   k.Name,
			"status": k.Status,
		})
	})
	if err != nil {
		return domain.KPI{}, err
	}
	return k, nil
}

type KPIUpdateOptions struct {
	ID            string
	Name          *string `validate:"omitempty,min=1,max=200"`
	Description   *string `validate:"omitempty,max=2000"`
	Category      *string `validate:"omitempty,min=1"`
	TargetValue   *float64
	Unit          *string  `validate:"omitempty,max=32"`
	Direction     *string  `validate:"omitempty,oneof=higher_is_better lower_is_better"`
	Tolerance     *float64 `validate:"omitempty,gte=0"`
	WarningBand   *float64 `validate:"omitempty,gte=0,lt=1"`
	Frequency     *string  `validate:"omitempty,oneof=daily weekly monthly"`
	WorkstationID *string
	Role          auth.Role
}

// UpdateKPI edits KPI attributes and re-derives status from the new thresholds.
func (e Engine) UpdateKPI(ctx context.Context, opts KPIUpdateOptions) (domain.KPI, error) {
	if err := e.require(opts.Role, auth.EditKPIs); err != nil {
		return domain.KPI{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.KPI{}, err
	}
	var out domain.KPI
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		k, err := e.Repo.GetKPI(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		if opts.Name != nil {
			k.Name = *opts.Name
		}
		if opts.Description != nil {
			k.Description = *opts.Description
		}
		if opts.Category != nil {
			if err := e.requireCategory(ctx, tx, *opts.Category); err != nil {
				return err
			}
			k.Category = *opts.Category
		}
		if opts.TargetValue != nil {
			if err := finite(*opts.TargetValue); err != nil {
				return err
			}
			k.TargetValue = *opts.TargetValue
		}
		if opts.Unit != nil {
			k.Unit = *opts.Unit
		}
		if opts.Direction != nil {
			k.Direction = domain.Direction(*opts.Direction)
		}
		if opts.Tolerance != nil {
			k.Tolerance = *opts.Tolerance
		}
		if opts.WarningBand != nil {
			k.WarningBand = opts.WarningBand
		}
		if opts.Frequency != nil {
			k.Frequency = domain.Frequency(*opts.Frequency)
		}
		if opts.WorkstationID != nil {
			if err := e.requireWorkstation(ctx, tx, opts.WorkstationID); err != nil {
				return err
			}
			k.WorkstationID = optionalString(*opts.WorkstationID)
		}
		before := k.Status
		k = e.Classifier.Reclassify(k)
		k.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateKPI(ctx, tx, k); err != nil {
			return err
		}
		out = k
		return e.Events.Append(ctx, tx, events.KPIUpdated, "kpi", k.ID, string(opts.Role), events.EventPayload{
			"old_status": before,
			"status":     k.Status,
		})
	})
	return out, err
}

// RecordKPIValue appends a sample, making it the current value, and
// re-derives status and trend.
func (e Engine) RecordKPIValue(ctx context.Context, id string, value float64, role auth.Role) (domain.KPI, error) {
	if err := e.require(role, auth.EditKPIs); err != nil {
		return domain.KPI{}, err
	}
	if err := finite(value); err != nil {
		return domain.KPI{}, err
	}
	var out domain.KPI
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		k, err := e.Repo.GetKPI(ctx, tx, id)
		if err != nil {
			return err
		}
		before := k.Status
		at := e.now()
		k = e.Classifier.Record(k, value, at, string(role))
		if err := e.Repo.UpdateKPI(ctx, tx, k); err != nil {
			return err
		}
		sample := domain.Sample{At: at.UTC().Format(timeLayout), Value: value, RecordedBy: string(role)}
		if err := e.Repo.AppendKPISample(ctx, tx, k.ID, sample); err != nil {
			return err
		}
		out = k
		return e.Events.Append(ctx, tx, events.KPIValueRecorded, "kpi", k.ID, string(role), events.EventPayload{
			"value":      value,
			"old_status": before,
			"status":     k.Status,
			"trend":      k.Trend,
		})
	})
	if err != nil {
		return domain.KPI{}, err
	}
	metrics.RecordKPISample(string(out.Status))
	if out.Status == domain.StatusDanger {
		e.log().WithFields(logrus.Fields{
			"kpi":    out.ID,
			"value":  value,
			"target": out.TargetValue,
		}).Warn("kpi in danger")
	}
	return out, nil
}

func (e Engine) DeleteKPI(ctx context.Context, id string, role auth.Role) error {
	if err := e.require(role, auth.DeleteKPIs); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteKPI(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.KPIDeleted, "kpi", id, string(role), nil)
	})
}

func (e Engine) GetKPI(ctx context.Context, id string, role auth.Role) (domain.KPI, error) {
	if err := e.require(role, auth.ViewKPIs); err != nil {
		return domain.KPI{}, err
	}
	return e.Repo.GetKPI(ctx, nil, id)
}

type KPIListOptions struct {
	Criteria      filter.Criteria
	WorkstationID string
	WithHistory   bool
	Role          auth.Role
}

// ListKPIs returns KPIs in creation order narrowed by the list criteria.
func (e Engine) ListKPIs(ctx context.Context, opts KPIListOptions) ([]domain.KPI, error) {
	if err := e.require(opts.Role, auth.ViewKPIs); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListKPIs(ctx, repo.KPIFilters{WorkstationID: opts.WorkstationID, WithHistory: opts.WithHistory})
	if err != nil {
		return nil, err
	}
	return filter.Filter(items, opts.Criteria), nil
}

// KPIReport is a KPI with its derived figures.
type KPIReport struct {
	KPI             domain.KPI `json:"kpi"`
	PercentOfTarget float64    `json:"percent_of_target"`
	Average         float64    `json:"average"`
}

func (e Engine) KPIReport(ctx context.Context, id string, role auth.Role) (KPIReport, error) {
	k, err := e.GetKPI(ctx, id, role)
	if err != nil {
		return KPIReport{}, err
	}
	return KPIReport{
		KPI:             k,
		PercentOfTarget: kpi.PercentOfTarget(k.CurrentValue, k.TargetValue),
		Average:         kpi.Average(k.History),
	}, nil
}

func finite(values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ValidationError{Field: "value", Message: "must be a finite number"}
		}
	}
	return nil
}
