package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/area"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/inspect"
	"github.com/kilupskalvis/blocklog/internal/models"
	"github.com/kilupskalvis/blocklog/internal/store"
)

const maxBodySize = 1 << 20

// Handler serves the admin endpoints.
type Handler struct {
	engine       *core.Engine
	logs         inspect.Source
	names        inspect.ActorNames
	defaultWorld string
	pageSize     int
	clock        func() time.Time
	logger       *slog.Logger
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	DefaultWorld string
	PageSize     int
	Clock        func() time.Time
	Logger       *slog.Logger
}

// NewHandler creates a handler running rollbacks on engine and lookups on logs.
func NewHandler(engine *core.Engine, logs inspect.Source, names inspect.ActorNames, opts HandlerOptions) *Handler {
	h := &Handler{
		engine:       engine,
		logs:         logs,
		names:        names,
		defaultWorld: opts.DefaultWorld,
		pageSize:     opts.PageSize,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
	if h.pageSize <= 0 {
		h.pageSize = 10
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Pos is a block position on the wire.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) area() area.Pos { return area.Pos{X: p.X, Y: p.Y, Z: p.Z} }

func (p Pos) String() string { return p.area().String() }

// PosOf converts a block position to its wire form.
func PosOf(p area.Pos) *Pos { return &Pos{X: p.X, Y: p.Y, Z: p.Z} }

func posParam(v url.Values, key string) (*Pos, error) {
	if !v.Has(key) {
		return nil, nil
	}
	p, err := area.ParsePos(v.Get(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidFilter, key, err)
	}
	return PosOf(p), nil
}

// FilterRequest is the JSON form of a filter.
type FilterRequest struct {
	World   string   `json:"world"`
	Since   string   `json:"since"`
	Center  *Pos     `json:"center,omitempty"`
	Radius  int      `json:"radius,omitempty"`
	Min     *Pos     `json:"min,omitempty"`
	Max     *Pos     `json:"max,omitempty"`
	Actors  []string `json:"actors,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

func (h *Handler) toFilter(req *FilterRequest) (core.Filter, error) {
	f := core.Filter{
		World:         req.World,
		IncludeBlocks: req.Include,
		ExcludeBlocks: req.Exclude,
	}
	if f.World == "" {
		f.World = h.defaultWorld
	}

	since, err := core.ParseWindow(req.Since)
	if err != nil {
		return core.Filter{}, err
	}
	f.Since = since

	if req.Min != nil || req.Max != nil {
		if req.Min == nil || req.Max == nil {
			return core.Filter{}, fmt.Errorf("%w: box needs both min and max", core.ErrInvalidFilter)
		}
		box := area.FromBox(f.World, req.Min.area(), req.Max.area())
		f.Box = &box
	}
	if req.Center != nil {
		c := req.Center.area()
		f.Center = &c
	}
	f.Radius = req.Radius

	for _, a := range req.Actors {
		f.Actors = append(f.Actors, actors.FilterID(a))
	}
	for _, name := range req.Actions {
		a, err := models.ParseAction(name)
		if err != nil {
			return core.Filter{}, fmt.Errorf("%w: %v", core.ErrInvalidFilter, err)
		}
		f.Actions = append(f.Actions, a)
	}
	return f, nil
}

// filterFromQuery reads a FilterRequest from URL parameters. Lists may be
// repeated or comma separated.
func filterFromQuery(v url.Values) (*FilterRequest, error) {
	req := &FilterRequest{
		World:   v.Get("world"),
		Since:   v.Get("since"),
		Actors:  splitList(v["actor"]),
		Actions: splitList(v["action"]),
		Include: splitList(v["include"]),
		Exclude: splitList(v["exclude"]),
	}
	if v.Has("x") || v.Has("y") || v.Has("z") {
		var p Pos
		for _, c := range []struct {
			key string
			dst *int
		}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
			n, err := strconv.Atoi(v.Get(c.key))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", core.ErrInvalidFilter, c.key, err)
			}
			*c.dst = n
		}
		req.Center = &p
		r, err := strconv.Atoi(v.Get("radius"))
		if err != nil {
			return nil, fmt.Errorf("%w: radius: %v", core.ErrInvalidFilter, err)
		}
		req.Radius = r
	}

	var err error
	if req.Min, err = posParam(v, "min"); err != nil {
		return nil, err
	}
	if req.Max, err = posParam(v, "max"); err != nil {
		return nil, err
	}
	return req, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Lookup returns one page of matching entries, newest first.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req, err := filterFromQuery(params)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	f, err := h.toFilter(req)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	page := inspect.Page{Limit: h.pageSize}
	if s := params.Get("limit"); s != "" {
		if page.Limit, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a number")
			return
		}
	}
	if s := params.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "page must be a positive number")
			return
		}
		page.Offset = (n - 1) * page.Limit
	}

	now := h.clock()
	q, err := f.Query(now, store.OrderDescending)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	report, err := inspect.Lookup(r.Context(), h.logs, q, page, now, h.names)
	if errors.Is(err, inspect.ErrNoData) {
		writeJSON(w, http.StatusOK, inspect.Report{Lines: []inspect.Line{}})
		return
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RunResponse reports a finished rollback or restore.
type RunResponse struct {
	Direction  string   `json:"direction"`
	Phase      string   `json:"phase"`
	NoData     bool     `json:"no_data"`
	Matched    int      `json:"matched"`
	Applied    int      `json:"applied"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Chunks     int      `json:"chunks"`
	DurationMS int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

// NewRunResponse summarizes an engine result.
func NewRunResponse(res *core.Result) RunResponse {
	out := RunResponse{
		Direction:  res.Direction.String(),
		Phase:      res.Phase.String(),
		NoData:     res.NoData(),
		Matched:    res.Matched,
		Applied:    res.Applied,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Chunks:     res.Chunks,
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	return out
}

// Rollback undoes the entries matched by the posted filter.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.DirectionRollback)
}

// Restore re-applies the rolled back entries matched by the posted filter.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, models.DirectionRestore)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, dir models.Direction) {
	var req FilterRequest
	if err := readJSON(r, maxBodySize, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	f, err := h.toFilter(&req)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	select {
	case out := <-h.engine.Submit(r.Context(), core.Request{Filter: f, Direction: dir}):
		if out.Err != nil {
			h.writeErr(w, out.Err)
			return
		}
		writeJSON(w, http.StatusOK, NewRunResponse(out.Result))
	case <-r.Context().Done():
		h.logger.Warn(dir.String()+" request abandoned", "world", f.World, "error", r.Context().Err())
	}
}

// writeErr maps domain errors to status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidFilter), errors.Is(err, inspect.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, core.ErrRegionBusy):
		writeError(w, http.StatusConflict, "region_busy", err.Error())
	case errors.Is(err, core.ErrChunkLoad):
		writeError(w, http.StatusServiceUnavailable, "chunk_load_failed", err.Error())
	case errors.Is(err, inspect.ErrCorruptedRow):
		h.logger.Error("corrupted log entry", "error", err)
		writeError(w, http.StatusInternalServerError, "corrupted_row", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
