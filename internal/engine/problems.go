package engine

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/events"
	"shopfloor/internal/filter"
	"shopfloor/internal/repo"
	"shopfloor/internal/stats"
)

type ProblemCreateOptions struct {
	ID            string
	Title         string `validate:"required,max=200"`
	Description   string `validate:"max=2000"`
	Category      string `validate:"required"`
	Severity      string `validate:"omitempty,oneof=low medium high"`
	WorkstationID string
	Assignee      string `validate:"max=120"`
	ReportedBy    string `validate:"max=120"`
	Role          auth.Role
}

// CreateProblem opens a new, unescalated problem.
func (e Engine) CreateProblem(ctx context.Context, opts ProblemCreateOptions) (domain.Problem, error) {
	if err := e.require(opts.Role, auth.CreateProblems); err != nil {
		return domain.Problem{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Problem{}, err
	}
	if opts.Severity == "" {
		opts.Severity = string(domain.LevelMedium)
	}
	if opts.ReportedBy == "" {
		opts.ReportedBy = string(opts.Role)
	}
	id := opts.ID
	if id == "" {
		id = newID("prb")
	}
	now := e.stamp()
	p := domain.Problem{
		ID:            id,
		Title:         opts.Title,
		Description:   opts.Description,
		Category:      opts.Category,
		Severity:      domain.Level(opts.Severity),
		Status:        domain.ProblemOpen,
		WorkstationID: optionalString(opts.WorkstationID),
		Assignee:      opts.Assignee,
		ReportedBy:    opts.ReportedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireCategory(ctx, tx, p.Category); err != nil {
			return err
		}
		if err := requireNewID("problem", p.ID, func() error {
			_, err := e.Repo.GetProblem(ctx, tx, p.ID)
			return err
		}); err != nil {
			return err
		}
		if err := e.requireWorkstation(ctx, tx, p.WorkstationID); err != nil {
			return err
		}
		if err := e.Repo.InsertProblem(ctx, tx, p); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProblemCreated, "problem", p.ID, string(opts.Role), events.EventPayload{
			"title":    p.Title,
			"severity": p.Severity,
		})
	})
	if err != nil {
		return domain.Problem{}, err
	}
	return p, nil
}

type ProblemUpdateOptions struct {
	ID            string
	Title         *string `validate:"omitempty,min=1,max=200"`
	Description   *string `validate:"omitempty,max=2000"`
	Category      *string `validate:"omitempty,min=1"`
	Severity      *string `validate:"omitempty,oneof=low medium high"`
	WorkstationID *string
	Assignee      *string `validate:"omitempty,max=120"`
	Role          auth.Role
}

// UpdateProblem edits problem attributes. Status and escalation have their own operations.
func (e Engine) UpdateProblem(ctx context.Context, opts ProblemUpdateOptions) (domain.Problem, error) {
	if err := e.require(opts.Role, auth.EditProblems); err != nil {
		return domain.Problem{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Problem{}, err
	}
	var out domain.Problem
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProblem(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		if opts.Title != nil {
			p.Title = *opts.Title
		}
		if opts.Description != nil {
			p.Description = *opts.Description
		}
		if opts.Category != nil {
			if err := e.requireCategory(ctx, tx, *opts.Category); err != nil {
				return err
			}
			p.Category = *opts.Category
		}
		if opts.Severity != nil {
			p.Severity = domain.Level(*opts.Severity)
		}
		if opts.WorkstationID != nil {
			if err := e.requireWorkstation(ctx, tx, opts.WorkstationID); err != nil {
				return err
			}
			p.WorkstationID = optionalString(*opts.WorkstationID)
		}
		if opts.Assignee != nil {
			p.Assignee = *opts.Assignee
		}
		p.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateProblem(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return e.Events.Append(ctx, tx, events.ProblemUpdated, "problem", p.ID, string(opts.Role), nil)
	})
	return out, err
}

// TransitionProblem moves a problem to status to. Resolving stamps
// resolvedAt; leaving resolved clears it.
func (e Engine) TransitionProblem(ctx context.Context, id string, to domain.ProblemStatus, role auth.Role) (domain.Problem, error) {
	var out domain.Problem
	var from domain.ProblemStatus
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProblem(ctx, tx, id)
		if err != nil {
			return err
		}
		from = p.Status
		next, err := e.lifecycle().TransitionProblem(p, to, role)
		if err != nil {
			return e.observe(err)
		}
		out = next
		if next.Status == from {
			return nil
		}
		if err := e.Repo.UpdateProblem(ctx, tx, next); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProblemStatus, "problem", next.ID, string(role), events.EventPayload{
			"from": from,
			"to":   next.Status,
		})
	})
	if err != nil {
		return domain.Problem{}, err
	}
	if out.Status != from {
		e.logTransition("problem", out.ID, string(from), string(out.Status), role)
	}
	return out, nil
}

// EscalateProblem flags a problem as escalated. Repeating it is a no-op.
func (e Engine) EscalateProblem(ctx context.Context, id string, role auth.Role) (domain.Problem, error) {
	var out domain.Problem
	changed := false
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		p, err := e.Repo.GetProblem(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := e.lifecycle().Escalate(p, role)
		if err != nil {
			return e.observe(err)
		}
		out = next
		if p.Escalated {
			return nil
		}
		changed = true
		if err := e.Repo.UpdateProblem(ctx, tx, next); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProblemEscalated, "problem", next.ID, string(role), events.EventPayload{
			"severity": next.Severity,
			"status":   next.Status,
		})
	})
	if err != nil {
		return domain.Problem{}, err
	}
	if changed {
		e.logTransition("problem", out.ID, "unescalated", "escalated", role)
	}
	return out, nil
}

func (e Engine) DeleteProblem(ctx context.Context, id string, role auth.Role) error {
	if err := e.require(role, auth.DeleteProblems); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProblem(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProblemDeleted, "problem", id, string(role), nil)
	})
}

func (e Engine) GetProblem(ctx context.Context, id string, role auth.Role) (domain.Problem, error) {
	if err := e.require(role, auth.ViewProblems); err != nil {
		return domain.Problem{}, err
	}
	return e.Repo.GetProblem(ctx, nil, id)
}

type ProblemListOptions struct {
	Criteria      filter.Criteria
	WorkstationID string
	Escalated     *bool
	Role          auth.Role
}

// ListProblems returns problems in creation order narrowed by the list
// criteria. Criteria.Priority matches severity.
func (e Engine) ListProblems(ctx context.Context, opts ProblemListOptions) ([]domain.Problem, error) {
	if err := e.require(opts.Role, auth.ViewProblems); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListProblems(ctx, repo.ProblemFilters{WorkstationID: opts.WorkstationID, Escalated: opts.Escalated})
	if err != nil {
		return nil, err
	}
	return filter.Filter(items, opts.Criteria), nil
}

// ProblemBoard returns the board counters and the unresolved problems in
// board order.
func (e Engine) ProblemBoard(ctx context.Context, role auth.Role) (stats.ProblemBoard, []domain.Problem, error) {
	if err := e.require(role, auth.ViewProblems); err != nil {
		return stats.ProblemBoard{}, nil, err
	}
	items, err := e.Repo.ListProblems(ctx, repo.ProblemFilters{})
	if err != nil {
		return stats.ProblemBoard{}, nil, err
	}
	return stats.ProblemBoardOf(items), stats.OpenProblems(items), nil
}
