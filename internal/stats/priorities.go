package stats

import (
	"sort"

	"shopfloor/internal/domain"
)

// Priorities buckets actions for the "today" panel.
type Priorities struct {
	Urgent         []domain.Action `json:"urgent"`
	DueToday       []domain.Action `json:"due_today"`
	CompletedToday []domain.Action `json:"completed_today"`
}

// TodayPriorities splits actions into urgent (high priority, not done),
// due today (not done, not already urgent) and completed (every done
// action, whatever its completion date). Collection order is kept.
func TodayPriorities(actions []domain.Action, today string) Priorities {
	p := Priorities{
		Urgent:         []domain.Action{},
		DueToday:       []domain.Action{},
		CompletedToday: []domain.Action{},
	}
	for _, a := range actions {
		if a.Status == domain.ActionDone {
			p.CompletedToday = append(p.CompletedToday, a)
			continue
		}
		switch {
		case a.Priority == domain.LevelHigh:
			p.Urgent = append(p.Urgent, a)
		case a.DueDate == today:
			p.DueToday = append(p.DueToday, a)
		}
	}
	return p
}

// Combined is urgent followed by due today.
func (p Priorities) Combined() []domain.Action {
	out := make([]domain.Action, 0, len(p.Urgent)+len(p.DueToday))
	out = append(out, p.Urgent...)
	return append(out, p.DueToday...)
}

// ActionBoard groups actions into kanban columns, keeping collection order.
type ActionBoard struct {
	Todo       []domain.Action `json:"todo"`
	InProgress []domain.Action `json:"in_progress"`
	Done       []domain.Action `json:"done"`
}

func ActionsByStatus(actions []domain.Action) ActionBoard {
	b := ActionBoard{Todo: []domain.Action{}, InProgress: []domain.Action{}, Done: []domain.Action{}}
	for _, a := range actions {
		switch a.Status {
		case domain.ActionTodo:
			b.Todo = append(b.Todo, a)
		case domain.ActionInProgress:
			b.InProgress = append(b.InProgress, a)
		case domain.ActionDone:
			b.Done = append(b.Done, a)
		}
	}
	return b
}

// ProblemBoard holds the counters shown above the problem list.
type ProblemBoard struct {
	Open         int `json:"open"`
	InProgress   int `json:"in_progress"`
	Escalated    int `json:"escalated"`
	HighSeverity int `json:"high_severity"`
}

// ProblemBoardOf counts escalated and high severity problems only while unresolved.
func ProblemBoardOf(problems []domain.Problem) ProblemBoard {
	var b ProblemBoard
	for _, p := range problems {
		switch p.Status {
		case domain.ProblemOpen:
			b.Open++
		case domain.ProblemInProgress:
			b.InProgress++
		}
		if p.Status == domain.ProblemResolved {
			continue
		}
		if p.Escalated {
			b.Escalated++
		}
		if p.Severity == domain.LevelHigh {
			b.HighSeverity++
		}
	}
	return b
}

// OpenProblems returns unresolved problems, escalated first, then by
// severity, then newest first.
func OpenProblems(problems []domain.Problem) []domain.Problem {
	out := make([]domain.Problem, 0, len(problems))
	for _, p := range problems {
		if p.Status != domain.ProblemResolved {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Escalated != out[j].Escalated {
			return out[i].Escalated
		}
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

type WorkstationCounts struct {
	Total       int `json:"total"`
	Operational int `json:"operational"`
	Maintenance int `json:"maintenance"`
	Down        int `json:"down"`
}

func WorkstationBoard(items []domain.Workstation) WorkstationCounts {
	var c WorkstationCounts
	for _, w := range items {
		switch w.Status {
		case domain.WorkstationOperational:
			c.Operational++
		case domain.WorkstationMaintenance:
			c.Maintenance++
		case domain.WorkstationDown:
			c.Down++
		default:
			continue
		}
		c.Total++
	}
	return c
}
