package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/migrate"
)

func openRepo(t *testing.T) (Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := Repo{DB: conn}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, r.UpsertCategory(ctx, tx, domain.Category{ID: "c1", Code: "quality", Name: "Quality", DisplayOrder: 2}))
	require.NoError(t, r.UpsertCategory(ctx, tx, domain.Category{ID: "c2", Code: "security", Name: "Security", DisplayOrder: 1}))
	require.NoError(t, tx.Commit())
	return r, ctx
}

func TestKPIHistoryRoundTrip(t *testing.T) {
	r, ctx := openRepo(t)
	k := domain.KPI{
		ID: "k1", Name: "Scrap", Category: "quality", CurrentValue: 2, TargetValue: 1,
		Direction: domain.LowerIsBetter, Status: domain.StatusDanger, Trend: domain.TrendStable,
		Frequency: domain.FrequencyDaily, CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-01T00:00:00Z",
	}
	require.NoError(t, r.InsertKPI(ctx, nil, k))
	require.NoError(t, r.AppendKPISample(ctx, nil, "k1", domain.Sample{At: "2024-03-02T00:00:00Z", Value: 3}))
	require.NoError(t, r.AppendKPISample(ctx, nil, "k1", domain.Sample{At: "2024-03-01T00:00:00Z", Value: 2, RecordedBy: "admin"}))

	got, err := r.GetKPI(ctx, nil, "k1")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, 2.0, got.History[0].Value)
	assert.Equal(t, "admin", got.History[0].RecordedBy)
	assert.Nil(t, got.WarningBand)
	assert.Nil(t, got.WorkstationID)

	list, err := r.ListKPIs(ctx, KPIFilters{Category: "quality", WithHistory: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].History, 2)

	require.NoError(t, r.DeleteKPI(ctx, nil, "k1"))
	_, err = r.GetKPI(ctx, nil, "k1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCategoryFKAndLookup(t *testing.T) {
	r, ctx := openRepo(t)
	err := r.InsertAction(ctx, nil, domain.Action{
		ID: "a1", Title: "x", Priority: domain.LevelLow, Status: domain.ActionTodo, Category: "nope",
		DueDate: "2024-03-01", CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-01T00:00:00Z",
	})
	assert.Error(t, err)

	_, err = r.GetCategoryByCode(ctx, nil, "nope")
	var nf NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "category", nf.Kind)

	cats, err := r.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "security", cats[0].Code)
}

func TestDoneRequiresCompletedAt(t *testing.T) {
	r, ctx := openRepo(t)
	a := domain.Action{
		ID: "a1", Title: "x", Priority: domain.LevelLow, Status: domain.ActionDone, Category: "quality",
		DueDate: "2024-03-01", CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-01T00:00:00Z",
	}
	assert.Error(t, r.InsertAction(ctx, nil, a))
	done := "2024-03-01T10:00:00Z"
	a.CompletedAt = &done
	require.NoError(t, r.InsertAction(ctx, nil, a))

	got, err := r.GetAction(ctx, nil, "a1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)
}

func TestProblemEscalatedFilter(t *testing.T) {
	r, ctx := openRepo(t)
	at := "2024-03-01T00:00:00Z"
	for i, esc := range []bool{true, false, true} {
		p := domain.Problem{
			ID: string(rune('a' + i)), Title: "p", Category: "security", Severity: domain.LevelHigh,
			Status: domain.ProblemOpen, Escalated: esc, CreatedAt: at, UpdatedAt: at,
		}
		if esc {
			p.EscalatedAt = &at
		}
		require.NoError(t, r.InsertProblem(ctx, nil, p))
	}
	yes := true
	got, err := r.ListProblems(ctx, ProblemFilters{Escalated: &yes})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestSyncRolesReplacesGrants(t *testing.T) {
	r, ctx := openRepo(t)
	cfg := config.Default("x")
	sync := func() {
		tx, err := r.DB.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer func(tx *sql.Tx) { _ = tx.Rollback() }(tx)
		require.NoError(t, r.SyncRoles(ctx, tx, cfg))
		require.NoError(t, tx.Commit())
	}
	sync()
	table, err := r.RolePermissionTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultMatrix().Table(), auth.NewMatrix(table).Table())

	op := cfg.RBAC.Roles["operator"]
	op.Permissions = []string{"view_kpis"}
	cfg.RBAC.Roles["operator"] = op
	sync()
	table, err = r.RolePermissionTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, []auth.Permission{auth.ViewKPIs}, table[auth.RoleOperator])
}

func TestSiteConfigRoundTrip(t *testing.T) {
	r, ctx := openRepo(t)
	_, err := r.GetSiteConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r.UpsertSiteConfig(ctx, nil, config.Default("Plant B")))
	cfg, err := r.GetSiteConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Plant B", cfg.Site.Name)
}
