package engine

import (
	"context"
	"fmt"

	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/repo"
	"shopfloor/internal/stats"
)

// Dashboard is the overview shown on the landing page.
type Dashboard struct {
	Site         string                  `json:"site"`
	Stats        stats.DashboardStats    `json:"stats"`
	SuccessRate  float64                 `json:"success_rate"`
	Workstations stats.WorkstationCounts `json:"workstations"`
	Board        stats.ProblemBoard      `json:"problem_board"`
}

// Dashboard aggregates every KPI, action and problem. Sections the role
// cannot view are left zero.
func (e Engine) Dashboard(ctx context.Context, role auth.Role) (Dashboard, error) {
	if err := e.require(role, auth.ViewKPIs); err != nil {
		return Dashboard{}, err
	}
	kpis, err := e.Repo.ListKPIs(ctx, repo.KPIFilters{})
	if err != nil {
		return Dashboard{}, err
	}
	var actions []domain.Action
	if e.Matrix.Has(role, auth.ViewActions) {
		if actions, err = e.Repo.ListActions(ctx, repo.ActionFilters{}); err != nil {
			return Dashboard{}, err
		}
	}
	var problems []domain.Problem
	if e.Matrix.Has(role, auth.ViewProblems) {
		if problems, err = e.Repo.ListProblems(ctx, repo.ProblemFilters{}); err != nil {
			return Dashboard{}, err
		}
	}
	var ws []domain.Workstation
	if e.Matrix.Has(role, auth.ViewWorkstations) {
		if ws, err = e.Repo.ListWorkstations(ctx, ""); err != nil {
			return Dashboard{}, err
		}
	}
	s := stats.Dashboard(kpis, actions, problems)
	d := Dashboard{
		Stats:        s,
		SuccessRate:  stats.SuccessRate(s.KPIs),
		Workstations: stats.WorkstationBoard(ws),
		Board:        stats.ProblemBoardOf(problems),
	}
	if e.Config != nil {
		d.Site = e.Config.Site.Name
	}
	return d, nil
}

// TodayPriorities buckets actions for date; an empty date means today.
func (e Engine) TodayPriorities(ctx context.Context, date string, role auth.Role) (stats.Priorities, error) {
	if err := e.require(role, auth.ViewActions); err != nil {
		return stats.Priorities{}, err
	}
	if date == "" {
		date = e.Today()
	} else if err := checkInput(struct {
		Date string `validate:"datetime=2006-01-02"`
	}{date}); err != nil {
		return stats.Priorities{}, err
	}
	actions, err := e.Repo.ListActions(ctx, repo.ActionFilters{})
	if err != nil {
		return stats.Priorities{}, err
	}
	return stats.TodayPriorities(actions, date), nil
}

// ActionBoard groups all actions by status.
func (e Engine) ActionBoard(ctx context.Context, role auth.Role) (stats.ActionBoard, error) {
	if err := e.require(role, auth.ViewActions); err != nil {
		return stats.ActionBoard{}, err
	}
	actions, err := e.Repo.ListActions(ctx, repo.ActionFilters{})
	if err != nil {
		return stats.ActionBoard{}, err
	}
	return stats.ActionsByStatus(actions), nil
}

// CategoryBreakdown returns per-category KPI counts in display order.
func (e Engine) CategoryBreakdown(ctx context.Context, role auth.Role) ([]stats.CategorySummary, error) {
	if err := e.require(role, auth.ViewKPIs); err != nil {
		return nil, err
	}
	cats, err := e.Repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	kpis, err := e.Repo.ListKPIs(ctx, repo.KPIFilters{})
	if err != nil {
		return nil, err
	}
	return stats.CategoryBreakdown(cats, kpis), nil
}

// CategoryStats maps category code to KPI status counts.
func (e Engine) CategoryStats(ctx context.Context, role auth.Role) (map[string]stats.StatusCounts, error) {
	if err := e.require(role, auth.ViewKPIs); err != nil {
		return nil, err
	}
	kpis, err := e.Repo.ListKPIs(ctx, repo.KPIFilters{})
	if err != nil {
		return nil, err
	}
	return stats.CategoryStats(kpis), nil
}

// Identity describes what a role may do.
type Identity struct {
	Role         auth.Role         `json:"role"`
	Label        string            `json:"label"`
	Permissions  []auth.Permission `json:"permissions"`
	Capabilities map[string]bool   `json:"capabilities"`
}

// WhoAmI never fails; an unknown role gets an empty permission set.
func (e Engine) WhoAmI(role auth.Role) Identity {
	caps := make(map[string]bool, len(auth.Kinds)*3+2)
	for _, kind := range auth.Kinds {
		caps[fmt.Sprintf("create_%s", kind)] = e.Matrix.CanCreate(role, kind)
		caps[fmt.Sprintf("edit_%s", kind)] = e.Matrix.CanEdit(role, kind)
		caps[fmt.Sprintf("delete_%s", kind)] = e.Matrix.CanDelete(role, kind)
	}
	caps["complete_actions"] = e.Matrix.CanComplete(role)
	caps["escalate_problems"] = e.Matrix.CanEscalate(role)
	return Identity{
		Role:         role,
		Label:        auth.Label(role),
		Permissions:  e.Matrix.Permissions(role),
		Capabilities: caps,
	}
}

// RoleInfo is one row of the effective permission matrix.
type RoleInfo struct {
	Role        auth.Role         `json:"role"`
	Label       string            `json:"label"`
	Permissions []auth.Permission `json:"permissions"`
}

// Roles returns the enforced matrix, most privileged role first.
func (e Engine) Roles(role auth.Role) ([]RoleInfo, error) {
	if err := e.require(role, auth.ViewSettings); err != nil {
		return nil, err
	}
	out := make([]RoleInfo, 0, len(e.Matrix.Roles()))
	for _, r := range e.Matrix.Roles() {
		out = append(out, RoleInfo{Role: r, Label: auth.Label(r), Permissions: e.Matrix.Permissions(r)})
	}
	return out, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters, role auth.Role) ([]domain.Event, error) {
	if err := e.require(role, auth.ViewReports); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}
