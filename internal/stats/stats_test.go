package stats

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/internal/domain"
)

func TestCategoryStatsScenario(t *testing.T) {
	kpis := []domain.KPI{
		{Category: "quality", Status: domain.StatusWarning},
		{Category: "quality", Status: domain.StatusDanger},
		{Category: "security", Status: domain.StatusSuccess},
	}
	got := CategoryStats(kpis)
	assert.Equal(t, StatusCounts{Total: 2, Success: 0, Warning: 1, Danger: 1}, got["quality"])
	assert.Equal(t, StatusCounts{Total: 1, Success: 1}, got["security"])
	assert.Len(t, got, 2)
}

func TestCategoryStatsIsAClosedPartition(t *testing.T) {
	statuses := []domain.Status{domain.StatusSuccess, domain.StatusWarning, domain.StatusDanger, "bogus"}
	cats := []string{"security", "quality", "delivery", "cost"}
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var kpis []domain.KPI
		for i := 0; i < rng.Intn(40); i++ {
			kpis = append(kpis, domain.KPI{
				Category: cats[rng.Intn(len(cats))],
				Status:   statuses[rng.Intn(len(statuses))],
			})
		}
		for cat, c := range CategoryStats(kpis) {
			require.Equalf(t, c.Success+c.Warning+c.Danger, c.Total, "round %d category %s", round, cat)
			require.NotZero(t, c.Total)
		}
	}
}

func TestDashboardEmpty(t *testing.T) {
	assert.Equal(t, DashboardStats{}, Dashboard(nil, nil, nil))
	assert.Equal(t, 0.0, SuccessRate(StatusCounts{}))
}

func TestDashboardCounts(t *testing.T) {
	got := Dashboard(
		[]domain.KPI{{Status: domain.StatusSuccess}, {Status: domain.StatusDanger}},
		[]domain.Action{{Status: domain.ActionTodo}, {Status: domain.ActionDone}, {Status: domain.ActionDone}, {Status: domain.ActionInProgress}},
		[]domain.Problem{{Status: domain.ProblemOpen}, {Status: domain.ProblemResolved}},
	)
	assert.Equal(t, StatusCounts{Total: 2, Success: 1, Danger: 1}, got.KPIs)
	assert.Equal(t, ActionCounts{Total: 4, Todo: 1, InProgress: 1, Done: 2}, got.Actions)
	assert.Equal(t, ProblemCounts{Total: 2, Open: 1, Resolved: 1}, got.Problems)
}

func TestCategoryBreakdownKeepsEmptyAndDropsUnknown(t *testing.T) {
	cats := []domain.Category{
		{Code: "quality", DisplayOrder: 2},
		{Code: "security", DisplayOrder: 1},
		{Code: "cost", DisplayOrder: 3},
	}
	kpis := []domain.KPI{
		{Category: "quality", Status: domain.StatusSuccess},
		{Category: "quality", Status: domain.StatusDanger},
		{Category: "unknown", Status: domain.StatusSuccess},
	}
	rows := CategoryBreakdown(cats, kpis)
	require.Len(t, rows, 3)
	assert.Equal(t, "security", rows[0].Category.Code)
	assert.Equal(t, 0, rows[0].Total)
	assert.Equal(t, "quality", rows[1].Category.Code)
	assert.Equal(t, 2, rows[1].Total)
	assert.InDelta(t, 50.0, rows[1].SuccessRate, 1e-9)
	assert.Equal(t, "cost", rows[2].Category.Code)
}

func TestTodayPrioritiesHighAndDueTodayListedOnce(t *testing.T) {
	actions := []domain.Action{
		{ID: "a1", Priority: domain.LevelHigh, Status: domain.ActionTodo, DueDate: "2024-01-01"},
	}
	p := TodayPriorities(actions, "2024-01-01")
	require.Len(t, p.Urgent, 1)
	assert.Empty(t, p.DueToday)
	assert.Len(t, p.Combined(), 1)
}

func TestTodayPrioritiesBuckets(t *testing.T) {
	today := "2024-06-10"
	actions := []domain.Action{
		{ID: "due-low", Priority: domain.LevelLow, Status: domain.ActionTodo, DueDate: today},
		{ID: "urgent-later", Priority: domain.LevelHigh, Status: domain.ActionInProgress, DueDate: "2024-07-01"},
		{ID: "done-high", Priority: domain.LevelHigh, Status: domain.ActionDone, DueDate: today},
		{ID: "not-today", Priority: domain.LevelMedium, Status: domain.ActionTodo, DueDate: "2024-06-11"},
		{ID: "due-medium", Priority: domain.LevelMedium, Status: domain.ActionInProgress, DueDate: today},
		{ID: "done-old", Priority: domain.LevelLow, Status: domain.ActionDone, DueDate: "2023-01-01"},
		{ID: "urgent-today", Priority: domain.LevelHigh, Status: domain.ActionTodo, DueDate: today},
	}
	p := TodayPriorities(actions, today)
	assert.Equal(t, []string{"urgent-later", "urgent-today"}, ids(p.Urgent))
	assert.Equal(t, []string{"due-low", "due-medium"}, ids(p.DueToday))
	assert.Equal(t, []string{"done-high", "done-old"}, ids(p.CompletedToday))
	assert.Equal(t, []string{"urgent-later", "urgent-today", "due-low", "due-medium"}, ids(p.Combined()))
}

func TestTodayPrioritiesNeverListsDone(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	levels := []domain.Level{domain.LevelLow, domain.LevelMedium, domain.LevelHigh}
	statuses := []domain.ActionStatus{domain.ActionTodo, domain.ActionInProgress, domain.ActionDone}
	dates := []string{"2024-01-01", "2024-01-02"}
	for round := 0; round < 50; round++ {
		var actions []domain.Action
		for i := 0; i < 30; i++ {
			actions = append(actions, domain.Action{
				ID:       fmt.Sprintf("a%d", i),
				Priority: levels[rng.Intn(3)],
				Status:   statuses[rng.Intn(3)],
				DueDate:  dates[rng.Intn(2)],
			})
		}
		for _, a := range TodayPriorities(actions, "2024-01-01").Combined() {
			require.NotEqual(t, domain.ActionDone, a.Status)
		}
	}
}

func TestOpenProblemsOrdering(t *testing.T) {
	problems := []domain.Problem{
		{ID: "low-new", Severity: domain.LevelLow, Status: domain.ProblemOpen, CreatedAt: "2024-01-03T00:00:00Z"},
		{ID: "resolved", Severity: domain.LevelHigh, Escalated: true, Status: domain.ProblemResolved, CreatedAt: "2024-01-04T00:00:00Z"},
		{ID: "high-old", Severity: domain.LevelHigh, Status: domain.ProblemInProgress, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "esc-low", Severity: domain.LevelLow, Escalated: true, Status: domain.ProblemOpen, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "high-new", Severity: domain.LevelHigh, Status: domain.ProblemOpen, CreatedAt: "2024-01-02T00:00:00Z"},
	}
	got := OpenProblems(problems)
	var order []string
	for _, p := range got {
		order = append(order, p.ID)
	}
	assert.Equal(t, []string{"esc-low", "high-new", "high-old", "low-new"}, order)
}

func TestProblemBoard(t *testing.T) {
	b := ProblemBoardOf([]domain.Problem{
		{Status: domain.ProblemOpen, Escalated: true, Severity: domain.LevelHigh},
		{Status: domain.ProblemInProgress, Severity: domain.LevelHigh},
		{Status: domain.ProblemResolved, Escalated: true, Severity: domain.LevelHigh},
	})
	assert.Equal(t, ProblemBoard{Open: 1, InProgress: 1, Escalated: 1, HighSeverity: 2}, b)
}

func TestActionsByStatusAndWorkstations(t *testing.T) {
	board := ActionsByStatus([]domain.Action{{ID: "1", Status: domain.ActionDone}, {ID: "2", Status: domain.ActionTodo}})
	assert.Equal(t, []string{"2"}, ids(board.Todo))
	assert.Empty(t, board.InProgress)
	assert.Equal(t, []string{"1"}, ids(board.Done))

	w := WorkstationBoard([]domain.Workstation{
		{Status: domain.WorkstationOperational},
		{Status: domain.WorkstationDown},
		{Status: domain.WorkstationOperational},
	})
	assert.Equal(t, WorkstationCounts{Total: 3, Operational: 2, Down: 1}, w)
}

func ids(actions []domain.Action) []string {
	out := []string{}
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}
