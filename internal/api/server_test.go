package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/engine"
	"github.com/JakeFAU/discipline-sync/internal/storage/memory"
)

type fakeTrigger struct {
	result engine.TriggerResult
	err    error
	calls  int
}

func (f *fakeTrigger) Trigger(context.Context) (engine.TriggerResult, error) {
	f.calls++
	return f.result, f.err
}

type fixture struct {
	server  *Server
	store   *memory.CatalogStore
	runs    *memory.RunStore
	trigger *fakeTrigger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewCatalogStore()
	runs := memory.NewRunStore()
	trigger := &fakeTrigger{result: engine.TriggerResult{Status: engine.TriggerAccepted, RunID: "run-1"}}
	ctx := context.Background()
	link := "https://chat.whatsapp.com/abc"
	require.NoError(t, store.UpsertDiscipline(ctx, catalog.Discipline{
		ID:   "IME01",
		Name: "Calculus I",
		Classes: []catalog.Class{
			{Number: 1, Professor: "Ana", Vacancies: 30, WhatsappGroup: &link},
			{Number: 2, Professor: "Bruno", Vacancies: 25},
		},
	}))
	require.NoError(t, store.UpsertDiscipline(ctx, catalog.Discipline{ID: "IME02", Name: "Linear Algebra"}))
	return fixture{
		server:  NewServer(trigger, store, runs, zap.NewNop()),
		store:   store,
		runs:    runs,
		trigger: trigger,
	}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzWithoutDependencies(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/v1/sync", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		res := decode[engine.TriggerResult](t, rec)
		assert.Equal(t, engine.TriggerAccepted, res.Status)
		assert.Equal(t, "run-1", res.RunID)
		assert.Equal(t, 1, f.trigger.calls)
	})

	t.Run("already running", func(t *testing.T) {
		f := newFixture(t)
		f.trigger.result = engine.TriggerResult{Status: engine.TriggerAlreadyRunning}
		rec := f.do(t, http.MethodPost, "/v1/sync", "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, engine.TriggerAlreadyRunning, decode[engine.TriggerResult](t, rec).Status)
	})

	t.Run("guard error", func(t *testing.T) {
		f := newFixture(t)
		f.trigger.err = errors.New("redis down")
		rec := f.do(t, http.MethodPost, "/v1/sync", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRuns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/sync/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		started := base.Add(time.Duration(i) * time.Hour)
		finished := started.Add(90 * time.Second)
		require.NoError(t, f.runs.StartRun(ctx, catalog.SyncRun{ID: id, StartedAt: started, Status: catalog.RunActive}))
		require.NoError(t, f.runs.CompleteRun(ctx, catalog.SyncRun{
			ID:         id,
			StartedAt:  started,
			FinishedAt: &finished,
			Status:     catalog.RunPartial,
			Discovered: 2,
			Succeeded:  1,
			Failed:     1,
			Outcomes: []catalog.DisciplineOutcome{
				{DisciplineID: "IME01", State: catalog.OutcomeSucceeded},
				{DisciplineID: "IME02", State: catalog.OutcomeFailed, Kind: catalog.FailureParse, Error: "bad table"},
			},
		}))
	}

	rec = f.do(t, http.MethodGet, "/v1/sync/runs/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[runDTO](t, rec)
	assert.Equal(t, "run-c", latest.ID)
	assert.InDelta(t, 90.0, latest.DurationSeconds, 0.001)
	require.Len(t, latest.Failures, 1)
	assert.Equal(t, "IME02", latest.Failures[0].DisciplineID)

	rec = f.do(t, http.MethodGet, "/v1/sync/runs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Runs []runDTO `json:"runs"`
	}](t, rec)
	require.Len(t, list.Runs, 2)
	assert.Equal(t, "run-c", list.Runs[0].ID)
	assert.Equal(t, "run-b", list.Runs[1].ID)
	assert.Empty(t, list.Runs[0].Outcomes)

	rec = f.do(t, http.MethodGet, "/v1/sync/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{query: "", want: 20},
		{query: "?limit=5", want: 5},
		{query: "?limit=1000", want: 200},
		{query: "?limit=-1", wantErr: true},
		{query: "?limit=x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseLimit(httptest.NewRequest(http.MethodGet, "/v1/sync/runs"+tc.query, nil), defaultRunLimit, maxRunLimit)
		if tc.wantErr {
			assert.Error(t, err, tc.query)
			continue
		}
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.want, got, tc.query)
	}
}

func TestListDisciplines(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/disciplines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	plain := decode[struct {
		Disciplines []catalog.Discipline `json:"disciplines"`
	}](t, rec)
	require.Len(t, plain.Disciplines, 2)
	assert.Equal(t, "IME01", plain.Disciplines[0].ID)

	rec = f.do(t, http.MethodGet, "/v1/disciplines?completed=IME01&current=IME02,IME01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	overlay := decode[struct {
		Disciplines []catalog.DisciplineStatus `json:"disciplines"`
	}](t, rec)
	require.Len(t, overlay.Disciplines, 2)
	assert.Equal(t, catalog.StatusCompleted, overlay.Disciplines[0].Status)
	assert.Equal(t, catalog.StatusInProgress, overlay.Disciplines[1].Status)

	rec = f.do(t, http.MethodGet, "/v1/disciplines?current=", "")
	require.Equal(t, http.StatusOK, rec.Code)
	overlay = decode[struct {
		Disciplines []catalog.DisciplineStatus `json:"disciplines"`
	}](t, rec)
	assert.Equal(t, catalog.StatusNotTaken, overlay.Disciplines[0].Status)
}

func TestGetDisciplineAndClass(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/disciplines/IME01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[catalog.Discipline](t, rec)
	assert.Equal(t, "Calculus I", d.Name)
	require.Len(t, d.Classes, 2)

	rec = f.do(t, http.MethodGet, "/v1/disciplines/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/disciplines/IME01/classes/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[catalog.Class](t, rec)
	assert.Equal(t, "Ana", c.Professor)
	require.NotNil(t, c.WhatsappGroup)

	rec = f.do(t, http.MethodGet, "/v1/disciplines/IME01/classes/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/disciplines/IME01/classes/one", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutWhatsappGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("sets link", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/v1/disciplines/IME01/classes/2/whatsapp",
			`{"whatsapp_group":" https://chat.whatsapp.com/xyz "}`)
		require.Equal(t, http.StatusOK, rec.Code)

		d, err := f.store.GetDisciplineByID(ctx, "IME01")
		require.NoError(t, err)
		c, ok := d.Class(2)
		require.True(t, ok)
		require.NotNil(t, c.WhatsappGroup)
		assert.Equal(t, "https://chat.whatsapp.com/xyz", *c.WhatsappGroup)
	})

	t.Run("null clears link", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/v1/disciplines/IME01/classes/1/whatsapp", `{"whatsapp_group":null}`)
		require.Equal(t, http.StatusOK, rec.Code)

		d, err := f.store.GetDisciplineByID(ctx, "IME01")
		require.NoError(t, err)
		c, _ := d.Class(1)
		assert.Nil(t, c.WhatsappGroup)
	})

	t.Run("rejects non url", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/v1/disciplines/IME01/classes/1/whatsapp", `{"whatsapp_group":"call me"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects bad json", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/v1/disciplines/IME01/classes/1/whatsapp", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown class", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPut, "/v1/disciplines/IME01/classes/7/whatsapp", `{"whatsapp_group":null}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = f.do(t, http.MethodPut, "/v1/disciplines/NOPE/classes/1/whatsapp", `{"whatsapp_group":null}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRecoverPanics(t *testing.T) {
	s := NewServer(nil, nil, nil, zap.NewNop())
	h := s.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
