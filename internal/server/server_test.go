package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/migrate"
	"shopfloor/internal/stats"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowDevRoleHeader: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(conn), "migrate")
	e, err := engine.New(conn, config.Default("Plant A")).Bootstrap(context.Background())
	require.NoError(t, err, "bootstrap")

	log := logrus.New()
	log.SetOutput(io.Discard)
	handler, err := New(Config{
		Engine: e,
		Auth:   authCfg,
		Logger: logrus.NewEntry(log),
	})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String() + "/v1",
		Engine: e,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func as(role string) map[string]string { return map[string]string{"X-Role": role} }

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func createAction(t *testing.T, srv *testServer, title string) domain.Action {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/actions", map[string]any{
		"title":    title,
		"category": "quality",
		"priority": "high",
		"due_date": "2024-03-15",
	}, as("admin"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var a domain.Action
	require.NoError(t, json.Unmarshal(data, &a))
	return a
}

func TestHealthIsPublicAndOthersNeedCredentials(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/kpis", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/kpis", nil, map[string]string{"Authorization": "Basic abc"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	a := createAction(t, srv, "Calibrate press")
	assert.Equal(t, domain.ActionTodo, a.Status)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/actions/"+a.ID+"/status", map[string]any{"status": "in_progress"}, as("operator"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "edit_actions", env.Error.Details["permission"])

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/actions/"+a.ID+"/toggle", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var toggled domain.Action
	require.NoError(t, json.Unmarshal(data, &toggled))
	assert.Equal(t, domain.ActionDone, toggled.Status)
	assert.NotNil(t, toggled.CompletedAt)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/actions/"+a.ID+"/status", map[string]any{"status": "archived"}, as("admin"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	env = decodeError(t, data)
	assert.Equal(t, "invalid_transition", env.Error.Code)
	assert.Equal(t, "archived", env.Error.Details["to"])

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/actions/missing", nil, as("admin"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/actions?status=done&q=CALIBR", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list struct {
		Items []domain.Action `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, a.ID, list.Items[0].ID)
}

func TestDuplicateIDIsConflict(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"id": "act-1", "title": "Sweep line 2", "category": "security", "due_date": "2024-03-15"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/actions", body, as("admin"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/actions", body, as("admin"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "conflict", env.Error.Code)
	assert.Equal(t, "act-1", env.Error.Details["id"])
	assert.NotContains(t, string(data), "UNIQUE")
}

func TestValidationErrorsAreBadRequest(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/actions", map[string]any{
		"title":    "Fix guard",
		"category": "quality",
		"due_date": "15/03/2024",
	}, as("admin"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "bad_request", env.Error.Code)
	assert.Equal(t, "due_date", env.Error.Details["field"])

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/problems", map[string]any{
		"title":    "Leak",
		"category": "plumbing",
	}, as("operator"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "category", decodeError(t, data).Error.Details["field"])
}

func TestProblemEscalationAndBoard(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/problems", map[string]any{
		"title":    "Conveyor jam",
		"category": "delivery",
		"severity": "high",
	}, as("operator"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Problem
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "operator", p.ReportedBy)

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/problems/"+p.ID+"/escalate", nil, as("operator"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	for i := 0; i < 2; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/problems/"+p.ID+"/escalate", nil, as("team_leader"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &p))
		assert.True(t, p.Escalated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/problems/board", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var board ProblemBoardResponse
	require.NoError(t, json.Unmarshal(data, &board))
	assert.Equal(t, 1, board.Counts.Open)
	assert.Equal(t, 1, board.Counts.Escalated)
	assert.Equal(t, 1, board.Counts.HighSeverity)
	require.Len(t, board.Open, 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/problems?escalated=false", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"items":[]}`, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/events?entity_kind=problem", nil, as("operator"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/events?entity_kind=problem", nil, as("manager"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 2, "second escalation must not append an event")
	assert.Equal(t, "problem.escalated", evts.Items[0].Type)
	assert.Equal(t, "problem.created", evts.Items[1].Type)
}

func TestEventPagination(t *testing.T) {
	srv := newTestServer(t)
	for _, title := range []string{"one", "two", "three"} {
		createAction(t, srv, title)
	}
	url := srv.URL + "/events?entity_kind=action&limit=2"
	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, url+"&cursor="+page.NextCursor, nil, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)
	assert.Less(t, next.Items[0].ID, page.Items[1].ID)
	assert.Equal(t, "one", next.Items[0].Payload["title"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, url+"&cursor=abc", nil, as("admin"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestDevLoginIssuesRoleToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"role": "manager"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who engine.Identity
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "manager", string(who.Role))
	assert.True(t, who.Capabilities["create_kpis"])
	assert.False(t, who.Capabilities["delete_kpis"])

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"role": "janitor"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	forged, err := signDevToken("other-secret", "admin", "", time.Minute)
	require.NoError(t, err)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLoginDisabledWithoutDevFlag(t *testing.T) {
	srv := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"role": "admin"}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, as("admin"))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "role header must be ignored")

	token, err := signDevToken(testSecret, "operator", "", time.Minute)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"role": "admin"}, bearer)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who engine.Identity
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "operator", string(who.Role))
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api-keys", map[string]any{"role": "operator", "name": "line 3 tablet"}, as("manager"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api-keys", map[string]any{"role": "operator", "name": "line 3 tablet"}, as("admin"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.True(t, strings.HasPrefix(created.Key, "sf_"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": created.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who engine.Identity
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, "operator", string(who.Role))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api-keys", nil, as("admin"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.NotContains(t, string(data), created.Key)

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api-keys/"+created.ID, nil, as("admin"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": created.Key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDashboardAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/kpis", map[string]any{
		"name":          "First pass yield",
		"category":      "quality",
		"current_value": 99,
		"target_value":  95,
		"unit":          "%",
	}, as("admin"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created domain.KPI
	require.NoError(t, json.Unmarshal(data, &created))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var d engine.Dashboard
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "Plant A", d.Site)
	assert.Equal(t, 1, d.Stats.KPIs.Success)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard/category-stats", nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var byCategory map[string]stats.StatusCounts
	require.NoError(t, json.Unmarshal(data, &byCategory))
	require.Len(t, byCategory, 1)
	assert.Equal(t, stats.StatusCounts{Total: 1, Success: 1}, byCategory["quality"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/kpis/"+created.ID, nil, as("operator"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var report engine.KPIReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, created.ID, report.KPI.ID)
	assert.InDelta(t, 99.0/95*100, report.PercentOfTarget, 1e-6)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas struct {
		Paths map[string]map[string]struct {
			Summary string `json:"summary"`
		} `json:"paths"`
		Components struct {
			Schemas map[string]struct {
				Properties map[string]any `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(data, &oas))
	assert.Contains(t, oas.Components.Schemas["KPIReport"].Properties, "kpi")
	var prioritiesSummary string
	for p, ops := range oas.Paths {
		if strings.HasSuffix(p, "/dashboard/priorities") {
			prioritiesSummary = ops["get"].Summary
		}
	}
	assert.Equal(t, "Urgent, due today and completed actions", prioritiesSummary)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/dashboard/priorities?date=2024-02-30", nil, as("operator"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "shopfloor_http_request_duration_seconds")
}

func TestWebhookDeliversSignedEvents(t *testing.T) {
	var (
		mu        sync.Mutex
		bodies    [][]byte
		signature string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		signature = r.Header.Get("X-Shopfloor-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t)
	cfg := config.Default("Plant A")
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Secret: "s3cret", Events: []string{"action.created"}}}
	d := newWebhookDispatcher(cfg, srv.Engine.Repo, nil)
	require.NotNil(t, d)
	ctx := context.Background()
	d.cursorFor(ctx, 0)

	a := createAction(t, srv, "Replace belt")
	_, err := srv.Engine.ToggleAction(ctx, a.ID, "admin")
	require.NoError(t, err)
	d.dispatchAll(ctx)

	mu.Lock()
	delivered := append([][]byte(nil), bodies...)
	sig := signature
	mu.Unlock()
	require.Len(t, delivered, 1, "status change is filtered out")
	var evt webhookEvent
	require.NoError(t, json.Unmarshal(delivered[0], &evt))
	assert.Equal(t, "action.created", evt.Type)
	assert.Equal(t, a.ID, evt.EntityID)
	assert.Equal(t, "Plant A", evt.Site)
	assert.Equal(t, "sha256="+sign("s3cret", delivered[0]), sig)

	d.dispatchAll(ctx)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, bodies, 1, "cursor advances past delivered events")
}

func TestEventFilterMatchesAllWhenEmpty(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("kpi.created"))
	assert.True(t, newEventFilter([]string{" "}).match("kpi.created"))
	f := newEventFilter([]string{"problem.escalated"})
	assert.True(t, f.match("problem.escalated"))
	assert.False(t, f.match("problem.created"))
}
