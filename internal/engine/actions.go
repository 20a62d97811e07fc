package engine

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/events"
	"shopfloor/internal/filter"
	"shopfloor/internal/repo"
)

type ActionCreateOptions struct {
	ID            string
	Title         string `validate:"required,max=200"`
	Description   string `validate:"max=2000"`
	Priority      string `validate:"omitempty,oneof=low medium high"`
	Category      string `validate:"required"`
	DueDate       string `validate:"required,datetime=2006-01-02"`
	Assignee      string `validate:"max=120"`
	WorkstationID string
	Role          auth.Role
}

// CreateAction stores a new action in todo.
func (e Engine) CreateAction(ctx context.Context, opts ActionCreateOptions) (domain.Action, error) {
	if err := e.require(opts.Role, auth.CreateActions); err != nil {
		return domain.Action{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Action{}, err
	}
	if opts.Priority == "" {
		opts.Priority = string(domain.LevelMedium)
	}
	id := opts.ID
	if id == "" {
		id = newID("act")
	}
	now := e.stamp()
	a := domain.Action{
		ID:            id,
		Title:         opts.Title,
		Description:   opts.Description,
		Priority:      domain.Level(opts.Priority),
		Status:        domain.ActionTodo,
		Category:      opts.Category,
		DueDate:       opts.DueDate,
		Assignee:      opts.Assignee,
		WorkstationID: optionalString(opts.WorkstationID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.requireCategory(ctx, tx, a.Category); err != nil {
			return err
		}
		if err := requireNewID("action", a.ID, func() error {
			_, err := e.Repo.GetAction(ctx, tx, a.ID)
			return err
		}); err != nil {
			return err
		}
		if err := e.requireWorkstation(ctx, tx, a.WorkstationID); err != nil {
			return err
		}
		if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ActionCreated, "action", a.ID, string(opts.Role), events.EventPayload{
			"title":    a.Title,
			"priority": a.Priority,
			"due_date": a.DueDate,
		})
	})
	if err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

type ActionUpdateOptions struct {
	ID            string
	Title         *string `validate:"omitempty,min=1,max=200"`
	Description   *string `validate:"omitempty,max=2000"`
	Priority      *string `validate:"omitempty,oneof=low medium high"`
	Category      *string `validate:"omitempty,min=1"`
	DueDate       *string `validate:"omitempty,datetime=2006-01-02"`
	Assignee      *string `validate:"omitempty,max=120"`
	WorkstationID *string
	Role          auth.Role
}

// UpdateAction edits action attributes. Status is changed through TransitionAction only.
func (e Engine) UpdateAction(ctx context.Context, opts ActionUpdateOptions) (domain.Action, error) {
	if err := e.require(opts.Role, auth.EditActions); err != nil {
		return domain.Action{}, err
	}
	if err := checkInput(opts); err != nil {
		return domain.Action{}, err
	}
	var out domain.Action
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.Repo.GetAction(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		if opts.Title != nil {
			a.Title = *opts.Title
		}
		if opts.Description != nil {
			a.Description = *opts.Description
		}
		if opts.Priority != nil {
			a.Priority = domain.Level(*opts.Priority)
		}
		if opts.Category != nil {
			if err := e.requireCategory(ctx, tx, *opts.Category); err != nil {
				return err
			}
			a.Category = *opts.Category
		}
		if opts.DueDate != nil {
			a.DueDate = *opts.DueDate
		}
		if opts.Assignee != nil {
			a.Assignee = *opts.Assignee
		}
		if opts.WorkstationID != nil {
			if err := e.requireWorkstation(ctx, tx, opts.WorkstationID); err != nil {
				return err
			}
			a.WorkstationID = optionalString(*opts.WorkstationID)
		}
		a.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return e.Events.Append(ctx, tx, events.ActionUpdated, "action", a.ID, string(opts.Role), nil)
	})
	return out, err
}

// TransitionAction moves an action to status to. A transition to the current
// status succeeds without writing anything.
func (e Engine) TransitionAction(ctx context.Context, id string, to domain.ActionStatus, role auth.Role) (domain.Action, error) {
	return e.changeAction(ctx, id, role, func(a domain.Action) (domain.Action, error) {
		return e.lifecycle().TransitionAction(a, to, role)
	})
}

// ToggleAction flips an action between todo and done.
func (e Engine) ToggleAction(ctx context.Context, id string, role auth.Role) (domain.Action, error) {
	return e.changeAction(ctx, id, role, func(a domain.Action) (domain.Action, error) {
		return e.lifecycle().ToggleAction(a, role)
	})
}

func (e Engine) changeAction(ctx context.Context, id string, role auth.Role, apply func(domain.Action) (domain.Action, error)) (domain.Action, error) {
	var out domain.Action
	var from domain.ActionStatus
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		a, err := e.Repo.GetAction(ctx, tx, id)
		if err != nil {
			return err
		}
		from = a.Status
		next, err := apply(a)
		if err != nil {
			return e.observe(err)
		}
		out = next
		if next.Status == from {
			return nil
		}
		if err := e.Repo.UpdateAction(ctx, tx, next); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ActionStatus, "action", next.ID, string(role), events.EventPayload{
			"from": from,
			"to":   next.Status,
		})
	})
	if err != nil {
		return domain.Action{}, err
	}
	if out.Status != from {
		e.logTransition("action", out.ID, string(from), string(out.Status), role)
	}
	return out, nil
}

func (e Engine) DeleteAction(ctx context.Context, id string, role auth.Role) error {
	if err := e.require(role, auth.DeleteActions); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAction(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ActionDeleted, "action", id, string(role), nil)
	})
}

func (e Engine) GetAction(ctx context.Context, id string, role auth.Role) (domain.Action, error) {
	if err := e.require(role, auth.ViewActions); err != nil {
		return domain.Action{}, err
	}
	return e.Repo.GetAction(ctx, nil, id)
}

type ActionListOptions struct {
	Criteria      filter.Criteria
	WorkstationID string
	DueDate       string
	Role          auth.Role
}

// ListActions returns actions in creation order narrowed by the list criteria.
func (e Engine) ListActions(ctx context.Context, opts ActionListOptions) ([]domain.Action, error) {
	if err := e.require(opts.Role, auth.ViewActions); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListActions(ctx, repo.ActionFilters{WorkstationID: opts.WorkstationID, DueDate: opts.DueDate})
	if err != nil {
		return nil, err
	}
	return filter.Filter(items, opts.Criteria), nil
}

// Today returns the UTC calendar date used for priorities.
func (e Engine) Today() string {
	return e.now().UTC().Format(domain.DateLayout)
}
