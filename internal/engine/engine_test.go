package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/filter"
	"shopfloor/internal/lifecycle"
	"shopfloor/internal/migrate"
	"shopfloor/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

var fixedNow = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn, config.Default("Plant A"))
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	eng, err = eng.Bootstrap(ctx)
	require.NoError(t, err, "bootstrap")
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) action(t *testing.T, title string, priority domain.Level, due string) domain.Action {
	t.Helper()
	a, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		Title:    title,
		Priority: string(priority),
		Category: "quality",
		DueDate:  due,
		Role:     auth.RoleAdmin,
	})
	require.NoError(t, err)
	return a
}

func TestBootstrapStoresEnforcedMatrix(t *testing.T) {
	env := newTestEnv(t)
	table, err := env.Engine.Repo.RolePermissionTable(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultMatrix().Table(), auth.NewMatrix(table).Table())

	cats, err := env.Engine.ListCategories(env.Ctx)
	require.NoError(t, err)
	require.Len(t, cats, 8)
	assert.Equal(t, "security", cats[0].Code)
}

func TestOperatorTogglesButCannotStart(t *testing.T) {
	env := newTestEnv(t)
	a := env.action(t, "Clean line 3", domain.LevelMedium, "2024-03-15")

	done, err := env.Engine.ToggleAction(env.Ctx, a.ID, auth.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDone, done.Status)
	require.NotNil(t, done.CompletedAt)

	back, err := env.Engine.TransitionAction(env.Ctx, a.ID, domain.ActionTodo, auth.RoleOperator)
	require.NoError(t, err)
	assert.Nil(t, back.CompletedAt)

	_, err = env.Engine.TransitionAction(env.Ctx, a.ID, domain.ActionInProgress, auth.RoleOperator)
	assert.ErrorIs(t, err, auth.ErrDenied)

	stored, err := env.Engine.GetAction(env.Ctx, a.ID, auth.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionTodo, stored.Status)
}

func TestTransitionToCurrentStatusWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.action(t, "Audit", domain.LevelLow, "2024-03-20")
	_, err := env.Engine.TransitionAction(env.Ctx, a.ID, domain.ActionDone, auth.RoleManager)
	require.NoError(t, err)
	before, err := env.Engine.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)

	again, err := env.Engine.TransitionAction(env.Ctx, a.ID, domain.ActionDone, auth.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDone, again.Status)
	after, err := env.Engine.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInvalidStatusIsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.action(t, "Audit", domain.LevelLow, "2024-03-20")
	_, err := env.Engine.TransitionAction(env.Ctx, a.ID, domain.ActionStatus("archived"), auth.RoleAdmin)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestEscalateIsIdempotentAndGated(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{
		Title:    "Oil leak on press 2",
		Category: "security",
		Severity: "high",
		Role:     auth.RoleOperator,
	})
	require.NoError(t, err)
	assert.Equal(t, "operator", p.ReportedBy)

	_, err = env.Engine.EscalateProblem(env.Ctx, p.ID, auth.RoleOperator)
	assert.ErrorIs(t, err, auth.ErrDenied)

	first, err := env.Engine.EscalateProblem(env.Ctx, p.ID, auth.RoleTeamLeader)
	require.NoError(t, err)
	require.True(t, first.Escalated)
	require.NotNil(t, first.EscalatedAt)

	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := env.Engine.EscalateProblem(env.Ctx, p.ID, auth.RoleTeamLeader)
	require.NoError(t, err)
	assert.Equal(t, *first.EscalatedAt, *second.EscalatedAt)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "problem.escalated"})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestResolveAndReopenProblem(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{Title: "Scrap rate", Category: "quality", Role: auth.RoleManager})
	require.NoError(t, err)

	_, err = env.Engine.TransitionProblem(env.Ctx, p.ID, domain.ProblemResolved, auth.RoleOperator)
	assert.ErrorIs(t, err, auth.ErrDenied)

	resolved, err := env.Engine.TransitionProblem(env.Ctx, p.ID, domain.ProblemResolved, auth.RoleTeamLeader)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)

	reopened, err := env.Engine.TransitionProblem(env.Ctx, p.ID, domain.ProblemOpen, auth.RoleTeamLeader)
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestDeleteRequiresDeletePermission(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{Title: "Noise", Category: "human", Role: auth.RoleManager})
	require.NoError(t, err)

	assert.ErrorIs(t, env.Engine.DeleteProblem(env.Ctx, p.ID, auth.RoleManager), auth.ErrDenied)
	require.NoError(t, env.Engine.DeleteProblem(env.Ctx, p.ID, auth.RoleAdmin))
	_, err = env.Engine.GetProblem(env.Ctx, p.ID, auth.RoleAdmin)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteProblem(env.Ctx, p.ID, auth.RoleAdmin), repo.ErrNotFound)
}

func TestRecordKPIValueReclassifies(t *testing.T) {
	env := newTestEnv(t)
	k, err := env.Engine.CreateKPI(env.Ctx, engine.KPICreateOptions{
		Name:         "First pass yield",
		Category:     "quality",
		CurrentValue: 99,
		TargetValue:  98,
		Unit:         "%",
		Role:         auth.RoleManager,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, k.Status)
	assert.Equal(t, domain.TrendStable, k.Trend)

	k, err = env.Engine.RecordKPIValue(env.Ctx, k.ID, 89, auth.RoleTeamLeader)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWarning, k.Status)
	assert.Equal(t, domain.TrendDown, k.Trend)

	k, err = env.Engine.RecordKPIValue(env.Ctx, k.ID, 80, auth.RoleTeamLeader)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDanger, k.Status)

	_, err = env.Engine.RecordKPIValue(env.Ctx, k.ID, 99, auth.RoleOperator)
	assert.ErrorIs(t, err, auth.ErrDenied)

	report, err := env.Engine.KPIReport(env.Ctx, k.ID, auth.RoleOperator)
	require.NoError(t, err)
	assert.Len(t, report.KPI.History, 3)
	assert.Equal(t, 80.0, report.KPI.CurrentValue)
	assert.InDelta(t, 268.0/3, report.Average, 1e-9)
}

func TestCreateRejectsUnknownCategoryAndBadInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		Title: "Ghost", Category: "unknown", DueDate: "2024-03-15", Role: auth.RoleAdmin,
	})
	var verr engine.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "category", verr.Field)

	_, err = env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		Title: "Bad date", Category: "quality", DueDate: "15/03/2024", Role: auth.RoleAdmin,
	})
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "due_date", verr.Field)
}

func TestListActionsSearchesTitleAndDescription(t *testing.T) {
	env := newTestEnv(t)
	env.action(t, "Calibrate gauges", domain.LevelHigh, "2024-03-15")
	_, err := env.Engine.CreateAction(env.Ctx, engine.ActionCreateOptions{
		Title: "Weekly review", Description: "Includes CALIBRATION records", Category: "quality",
		DueDate: "2024-03-18", Role: auth.RoleAdmin,
	})
	require.NoError(t, err)
	env.action(t, "Replace filters", domain.LevelLow, "2024-03-19")

	got, err := env.Engine.ListActions(env.Ctx, engine.ActionListOptions{
		Criteria: filter.Criteria{Category: filter.All, Search: "calibr"},
		Role:     auth.RoleOperator,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Calibrate gauges", got[0].Title)
	assert.Equal(t, "Weekly review", got[1].Title)
}

func TestTodayPrioritiesUsesClock(t *testing.T) {
	env := newTestEnv(t)
	urgent := env.action(t, "Fix guard", domain.LevelHigh, "2024-03-15")
	due := env.action(t, "5S audit", domain.LevelLow, "2024-03-15")
	env.action(t, "Later", domain.LevelLow, "2024-04-01")
	finished := env.action(t, "Done already", domain.LevelHigh, "2024-03-15")
	_, err := env.Engine.ToggleAction(env.Ctx, finished.ID, auth.RoleOperator)
	require.NoError(t, err)

	p, err := env.Engine.TodayPriorities(env.Ctx, "", auth.RoleOperator)
	require.NoError(t, err)
	require.Len(t, p.Urgent, 1)
	assert.Equal(t, urgent.ID, p.Urgent[0].ID)
	require.Len(t, p.DueToday, 1)
	assert.Equal(t, due.ID, p.DueToday[0].ID)
	require.Len(t, p.CompletedToday, 1)

	_, err = env.Engine.TodayPriorities(env.Ctx, "tomorrow", auth.RoleOperator)
	var verr engine.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDashboardAggregates(t *testing.T) {
	env := newTestEnv(t)
	for _, v := range []float64{99, 90, 10} {
		_, err := env.Engine.CreateKPI(env.Ctx, engine.KPICreateOptions{
			Name: "OEE", Category: "performance", CurrentValue: v, TargetValue: 95, Role: auth.RoleAdmin,
		})
		require.NoError(t, err)
	}
	env.action(t, "One", domain.LevelLow, "2024-03-20")

	d, err := env.Engine.Dashboard(env.Ctx, auth.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, "Plant A", d.Site)
	assert.Equal(t, 3, d.Stats.KPIs.Total)
	assert.Equal(t, 1, d.Stats.KPIs.Success)
	assert.Equal(t, 1, d.Stats.KPIs.Warning)
	assert.Equal(t, 1, d.Stats.KPIs.Danger)
	assert.Equal(t, 1, d.Stats.Actions.Todo)

	rows, err := env.Engine.CategoryBreakdown(env.Ctx, auth.RoleOperator)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	for _, r := range rows {
		if r.Category.Code == "performance" {
			assert.Equal(t, 3, r.Total)
		} else {
			assert.Equal(t, 0, r.Total)
		}
	}
}

func TestUnknownRoleIsDenied(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ListKPIs(env.Ctx, engine.KPIListOptions{Role: "visitor"})
	assert.ErrorIs(t, err, auth.ErrDenied)
	_, err = env.Engine.Dashboard(env.Ctx, "")
	assert.ErrorIs(t, err, auth.ErrDenied)

	id := env.Engine.WhoAmI("visitor")
	assert.Empty(t, id.Permissions)
	assert.False(t, id.Capabilities["create_kpis"])
}

func TestWhoAmIReportsCapabilities(t *testing.T) {
	env := newTestEnv(t)
	id := env.Engine.WhoAmI(auth.RoleTeamLeader)
	assert.Equal(t, "Team leader", id.Label)
	assert.True(t, id.Capabilities["edit_kpis"])
	assert.False(t, id.Capabilities["create_kpis"])
	assert.True(t, id.Capabilities["escalate_problems"])
	assert.False(t, id.Capabilities["delete_actions"])

	roles, err := env.Engine.Roles(auth.RoleOperator)
	require.NoError(t, err)
	require.Len(t, roles, 4)
	assert.Equal(t, auth.RoleAdmin, roles[0].Role)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateAPIKey(env.Ctx, auth.RoleOperator, "line tablet", auth.RoleManager)
	assert.ErrorIs(t, err, auth.ErrDenied)

	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, auth.RoleOperator, "line tablet", auth.RoleAdmin)
	require.NoError(t, err)
	assert.NotEqual(t, plain, key.KeyHash)

	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, "operator", stored.Role)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, "", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, env.Engine.DeleteAPIKey(env.Ctx, key.ID, auth.RoleAdmin))
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWorkstationsAndLinkedEntities(t *testing.T) {
	env := newTestEnv(t)
	ws, err := env.Engine.CreateWorkstation(env.Ctx, engine.WorkstationCreateOptions{Name: "Press 2", Role: auth.RoleManager})
	require.NoError(t, err)
	_, err = env.Engine.CreateWorkstation(env.Ctx, engine.WorkstationCreateOptions{Name: "Lathe", Role: auth.RoleTeamLeader})
	assert.ErrorIs(t, err, auth.ErrDenied)

	_, err = env.Engine.SetWorkstationStatus(env.Ctx, ws.ID, domain.WorkstationDown, auth.RoleManager)
	require.NoError(t, err)

	p, err := env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{
		Title: "Hydraulic failure", Category: "workstation", WorkstationID: ws.ID, Role: auth.RoleOperator,
	})
	require.NoError(t, err)
	require.NotNil(t, p.WorkstationID)

	d, err := env.Engine.Dashboard(env.Ctx, auth.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Workstations.Down)
	assert.Equal(t, 1, d.Board.Open)
}

func TestCreateWithTakenIDConflicts(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.ActionCreateOptions{ID: "act-1", Title: "Check torque", Category: "quality", DueDate: "2024-03-15", Role: auth.RoleAdmin}
	_, err := env.Engine.CreateAction(env.Ctx, opts)
	require.NoError(t, err)

	opts.Title = "Second try"
	_, err = env.Engine.CreateAction(env.Ctx, opts)
	var conflict engine.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, "action", conflict.Kind)
	assert.Equal(t, "act-1", conflict.ID)

	got, err := env.Engine.GetAction(env.Ctx, "act-1", auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Check torque", got.Title)

	_, err = env.Engine.CreateKPI(env.Ctx, engine.KPICreateOptions{ID: "kpi-1", Name: "OEE", Category: "performance", TargetValue: 85, Role: auth.RoleAdmin})
	require.NoError(t, err)
	_, err = env.Engine.CreateKPI(env.Ctx, engine.KPICreateOptions{ID: "kpi-1", Name: "OEE", Category: "performance", TargetValue: 85, Role: auth.RoleAdmin})
	assert.True(t, errors.As(err, &conflict))

	_, err = env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{ID: "pb-1", Title: "Leak", Category: "environment", Role: auth.RoleAdmin})
	require.NoError(t, err)
	_, err = env.Engine.CreateProblem(env.Ctx, engine.ProblemCreateOptions{ID: "pb-1", Title: "Leak", Category: "environment", Role: auth.RoleAdmin})
	assert.True(t, errors.As(err, &conflict))

	_, err = env.Engine.CreateWorkstation(env.Ctx, engine.WorkstationCreateOptions{ID: "ws-1", Name: "Press 1", Role: auth.RoleAdmin})
	require.NoError(t, err)
	_, err = env.Engine.CreateWorkstation(env.Ctx, engine.WorkstationCreateOptions{ID: "ws-1", Name: "Press 1", Role: auth.RoleAdmin})
	assert.True(t, errors.As(err, &conflict))
}
