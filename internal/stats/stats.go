// Package stats computes dashboard aggregates over entity snapshots.
// Every function is pure and safe on empty input.
package stats

import (
	"sort"

	"shopfloor/internal/domain"
)

// StatusCounts partitions a set of KPIs by status: Total = Success+Warning+Danger.
type StatusCounts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Warning int `json:"warning"`
	Danger  int `json:"danger"`
}

func (c *StatusCounts) add(s domain.Status) {
	switch s {
	case domain.StatusSuccess:
		c.Success++
	case domain.StatusWarning:
		c.Warning++
	case domain.StatusDanger:
		c.Danger++
	default:
		return
	}
	c.Total++
}

type ActionCounts struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

type ProblemCounts struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

type DashboardStats struct {
	KPIs     StatusCounts  `json:"kpis"`
	Actions  ActionCounts  `json:"actions"`
	Problems ProblemCounts `json:"problems"`
}

// CategoryStats groups KPIs by category code and counts them by status.
// KPIs with a status outside the enumeration are left out entirely.
func CategoryStats(kpis []domain.KPI) map[string]StatusCounts {
	out := make(map[string]StatusCounts)
	for _, k := range kpis {
		c := out[k.Category]
		c.add(k.Status)
		if c.Total > 0 {
			out[k.Category] = c
		}
	}
	return out
}

func KPICounts(kpis []domain.KPI) StatusCounts {
	var c StatusCounts
	for _, k := range kpis {
		c.add(k.Status)
	}
	return c
}

func ActionCountsOf(actions []domain.Action) ActionCounts {
	var c ActionCounts
	for _, a := range actions {
		switch a.Status {
		case domain.ActionTodo:
			c.Todo++
		case domain.ActionInProgress:
			c.InProgress++
		case domain.ActionDone:
			c.Done++
		default:
			continue
		}
		c.Total++
	}
	return c
}

func ProblemCountsOf(problems []domain.Problem) ProblemCounts {
	var c ProblemCounts
	for _, p := range problems {
		switch p.Status {
		case domain.ProblemOpen:
			c.Open++
		case domain.ProblemInProgress:
			c.InProgress++
		case domain.ProblemResolved:
			c.Resolved++
		default:
			continue
		}
		c.Total++
	}
	return c
}

func Dashboard(kpis []domain.KPI, actions []domain.Action, problems []domain.Problem) DashboardStats {
	return DashboardStats{
		KPIs:     KPICounts(kpis),
		Actions:  ActionCountsOf(actions),
		Problems: ProblemCountsOf(problems),
	}
}

// CategorySummary is one row of the per-category dashboard.
type CategorySummary struct {
	Category domain.Category `json:"category"`
	StatusCounts
	SuccessRate float64 `json:"success_rate"`
}

// CategoryBreakdown returns one row per known category in display order,
// including categories without KPIs. KPIs referencing an unknown category
// are ignored.
func CategoryBreakdown(categories []domain.Category, kpis []domain.KPI) []CategorySummary {
	ordered := append([]domain.Category(nil), categories...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DisplayOrder != ordered[j].DisplayOrder {
			return ordered[i].DisplayOrder < ordered[j].DisplayOrder
		}
		return ordered[i].Code < ordered[j].Code
	})
	counts := CategoryStats(kpis)
	out := make([]CategorySummary, 0, len(ordered))
	for _, cat := range ordered {
		c := counts[cat.Code]
		out = append(out, CategorySummary{Category: cat, StatusCounts: c, SuccessRate: SuccessRate(c)})
	}
	return out
}

// SuccessRate is the share of successful KPIs as a percentage, 0 when empty.
func SuccessRate(c StatusCounts) float64 {
	return Percent(c.Success, c.Total)
}

// Percent returns part/total*100, or 0 when total is 0.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
