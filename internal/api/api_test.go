package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/inspect"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/kilupskalvis/blocklog/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "3f0a8a7e-2b1c-4d5e-9f60-7a8b9c0d1e2f"

var testNow = time.Date(2026, 5, 10, 18, 30, 0, 0, time.UTC)

type testServer struct {
	srv *httptest.Server
	st  *store.Store
	w   *world.MockWorld
	rec *core.Recorder
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	w := world.NewMockWorld()
	resolver := actors.NewResolver(st, nil, logger)
	require.NoError(t, resolver.Remember(context.Background(), alice, "Alice"))

	eng := core.NewEngine(st, w, core.Options{Clock: clock, Logger: logger})
	h := NewHandler(eng, st, resolver, HandlerOptions{
		DefaultWorld: "world",
		PageSize:     2,
		Clock:        clock,
		Logger:       logger,
	})
	srv := httptest.NewServer(NewRouter(h, RouterOptions{Token: token, Logger: logger}))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, st: st, w: w, rec: core.NewRecorder(st, clock, logger)}
}

func (ts *testServer) breakStone(t *testing.T, pos area.Pos) {
	t.Helper()
	_, err := ts.rec.BlockBroken(context.Background(), alice, "world", pos, &models.BlockState{Name: "minecraft:stone"})
	require.NoError(t, err)
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// ==================== Health Tests ====================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "secret")
	resp := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

// ==================== Auth Tests ====================

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	resp := ts.get(t, "/api/lookup?since=1h")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/lookup?since=1h", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ==================== Lookup Tests ====================

func TestLookup_Pages(t *testing.T) {
	ts := newTestServer(t, "")
	for x := range 3 {
		ts.breakStone(t, area.Pos{X: x, Y: 64, Z: 0})
	}

	resp := ts.get(t, "/api/lookup?since=1h&x=0&y=64&z=0&radius=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[inspect.Report](t, resp)
	assert.Equal(t, 1, report.Page)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Total)
	require.Len(t, report.Lines, 2)
	assert.Equal(t, "Alice", report.Lines[0].Actor)
	assert.Equal(t, "break", report.Lines[0].ActionName)
	assert.Equal(t, 2, report.Lines[0].Pos.X, "newest first")

	resp = ts.get(t, "/api/lookup?since=1h&page=2")
	report = decode[inspect.Report](t, resp)
	assert.Equal(t, 2, report.Page)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, 0, report.Lines[0].Pos.X)
}

func TestLookup_Filters(t *testing.T) {
	ts := newTestServer(t, "")
	ts.breakStone(t, area.Pos{X: 0, Y: 64, Z: 0})
	_, err := ts.rec.NaturalChange(context.Background(), models.ActionBurn, actors.EnvironmentID(actors.Fire), "world",
		area.Pos{X: 1, Y: 64, Z: 0}, &models.BlockState{Name: "minecraft:oak_planks"}, nil)
	require.NoError(t, err)

	report := decode[inspect.Report](t, ts.get(t, "/api/lookup?since=1h&actor=%23fire"))
	require.Equal(t, 1, report.Total)
	assert.Equal(t, actors.Fire, report.Lines[0].Actor)

	report = decode[inspect.Report](t, ts.get(t, "/api/lookup?since=1h&action=break,place"))
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "minecraft:stone", report.Lines[0].Subject)

	report = decode[inspect.Report](t, ts.get(t, "/api/lookup?since=1h&exclude=minecraft:stone"))
	assert.Equal(t, 1, report.Total)
}

func TestLookup_NoData(t *testing.T) {
	ts := newTestServer(t, "")
	resp := ts.get(t, "/api/lookup?since=1h")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[inspect.Report](t, resp)
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Lines)
}

func TestLookup_BadRequests(t *testing.T) {
	ts := newTestServer(t, "")
	for _, path := range []string{
		"/api/lookup",
		"/api/lookup?since=forever",
		"/api/lookup?since=1h&x=1&y=2",
		"/api/lookup?since=1h&x=1&y=2&z=3&radius=0",
		"/api/lookup?since=1h&action=dance",
		"/api/lookup?since=1h&limit=0",
		"/api/lookup?since=1h&page=0",
	} {
		resp := ts.get(t, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

// ==================== Rollback Tests ====================

func TestRollbackAndRestore(t *testing.T) {
	ts := newTestServer(t, "")
	pos := area.Pos{X: 4, Y: 70, Z: -2}
	ts.breakStone(t, pos)

	filter := FilterRequest{Since: "1h", Center: &Pos{X: 4, Y: 70, Z: -2}, Radius: 3}

	resp := ts.post(t, "/api/rollback", filter)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[RunResponse](t, resp)
	assert.Equal(t, "rollback", out.Direction)
	assert.Equal(t, "completed", out.Phase)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, "minecraft:stone", ts.w.Block("world", pos).Name)

	out = decode[RunResponse](t, ts.post(t, "/api/rollback", filter))
	assert.Equal(t, 1, out.Skipped, "second rollback skips applied rows")

	out = decode[RunResponse](t, ts.post(t, "/api/restore", filter))
	assert.Equal(t, "restore", out.Direction)
	assert.Equal(t, 1, out.Applied)
	assert.True(t, ts.w.Block("world", pos).IsAir())
}

func TestRollback_NoData(t *testing.T) {
	ts := newTestServer(t, "")
	out := decode[RunResponse](t, ts.post(t, "/api/rollback", FilterRequest{Since: "1h"}))
	assert.True(t, out.NoData)
	assert.Equal(t, 0, out.Matched)
}

func TestRollback_Errors(t *testing.T) {
	ts := newTestServer(t, "")
	pos := area.Pos{X: 0, Y: 64, Z: 0}
	ts.breakStone(t, pos)

	resp := ts.post(t, "/api/rollback", FilterRequest{Since: "1h", Min: &Pos{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/api/rollback", FilterRequest{Since: "1h", Radius: 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "radius without center")

	resp = ts.post(t, "/api/rollback", FilterRequest{Since: "1h", Min: &Pos{}, Max: &Pos{X: 1, Y: 1, Z: 1}, Center: &Pos{}, Radius: 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "box and center together")
	assert.Nil(t, ts.w.Block("world", pos), "rejected filters apply nothing")

	resp, err := http.Post(ts.srv.URL+"/api/rollback", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.w.LoadErrs = map[area.ChunkCoord]error{pos.Chunk(): assert.AnError}
	resp = ts.post(t, "/api/rollback", FilterRequest{Since: "1h"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "chunk_load_failed", decode[map[string]string](t, resp)["error"])
	assert.Nil(t, ts.w.Block("world", pos), "nothing was applied")
}

// ==================== Client Tests ====================

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestClient_LookupAndReplay(t *testing.T) {
	ts := newTestServer(t, "secret")
	pos := area.Pos{X: 20, Y: 70, Z: 20}
	ts.breakStone(t, pos)
	ts.breakStone(t, area.Pos{X: 200, Y: 70, Z: 200})

	ctx := context.Background()
	c := NewClient(ts.srv.URL+"/", "secret", fastRetry())
	require.NoError(t, c.Health(ctx))

	box := FilterRequest{Since: "1h", Min: &Pos{X: 10, Y: 60, Z: 10}, Max: &Pos{X: 30, Y: 80, Z: 30}, Actions: []string{"break"}}
	report, err := c.Lookup(ctx, box, 1, 5)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, pos.X, report.Lines[0].Pos.X)

	out, err := c.Rollback(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, "minecraft:stone", ts.w.Block("world", pos).Name)
	assert.True(t, ts.w.Block("world", area.Pos{X: 200, Y: 70, Z: 200}).IsAir(), "outside the box")

	out, err = c.Restore(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)
}

func TestClient_ErrorsMapToPackageErrors(t *testing.T) {
	ts := newTestServer(t, "secret")
	ctx := context.Background()

	_, err := NewClient(ts.srv.URL, "secret", fastRetry()).Lookup(ctx, FilterRequest{Since: "soon"}, 0, 0)
	assert.ErrorIs(t, err, core.ErrInvalidFilter)

	_, err = NewClient(ts.srv.URL, "wrong", fastRetry()).Rollback(ctx, FilterRequest{Since: "1h"})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "auth_failed", apiErr.Code)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "chunk_load_failed", "try again")
			return
		}
		writeJSON(w, http.StatusOK, RunResponse{Direction: "rollback", Phase: "completed", Applied: 4})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "", fastRetry()).Rollback(context.Background(), FilterRequest{Since: "1h"})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Applied)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	_, err = NewClient(srv.URL, "", fastRetry()).Rollback(context.Background(), FilterRequest{Since: "1h"})
	assert.ErrorIs(t, err, core.ErrChunkLoad)
	assert.Equal(t, int32(-7), calls.Load(), "one attempt plus two retries")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.True(t, isTransient(&Error{Status: 500}))
	assert.True(t, isTransient(&Error{Status: http.StatusTooManyRequests}))
	assert.False(t, isTransient(&Error{Status: http.StatusConflict}))
	assert.False(t, isTransient(context.Canceled))
	assert.True(t, isTransient(io.ErrUnexpectedEOF))
}
