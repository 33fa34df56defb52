package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
	"github.com/sells-group/benefit-cli/internal/store"
)

// RankRequest is the body of POST /rank.
type RankRequest struct {
	TopN    int                    `json:"top_n" validate:"omitempty,min=1,max=100"`
	Clients []model.ClientFeatures `json:"clients" validate:"required,min=1,max=100000"`
	Push    bool                   `json:"push"`
	Persist bool                   `json:"persist"`
}

// RankResponse is the body returned by POST /rank.
type RankResponse struct {
	RunID       string          `json:"run_id,omitempty"`
	CatalogHash string          `json:"catalog_hash"`
	Result      *ranking.Result `json:"result"`
	Pushes      []string        `json:"pushes,omitempty"`
}

// RunsQuery holds the GET /runs query parameters.
type RunsQuery struct {
	Status string `validate:"omitempty,oneof=running complete failed"`
	Limit  int    `validate:"min=0,max=1000"`
	Offset int    `validate:"min=0"`
}

// StatsQuery holds the GET /runs/stats query parameters.
type StatsQuery struct {
	Hours int `validate:"min=0,max=8760"`
}

// RunResponse is the body of GET /runs/{id}.
type RunResponse struct {
	Run             *model.Run                  `json:"run"`
	Recommendations []store.SavedRecommendation `json:"recommendations"`
}

type catalogResponse struct {
	Hash     string          `json:"hash"`
	Products []catalog.Entry `json:"products"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "products": s.catalog.Len(), "store": "disabled"}
	code := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := s.store.ListRuns(ctx, store.RunFilter{Limit: 1}); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["store"] = "ok"
		}
	}
	writeJSON(w, code, body)
}

func (s *Server) getCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{Hash: s.catalog.Hash(), Products: s.catalog.Entries()})
}

func (s *Server) rank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range req.Clients {
		if strings.TrimSpace(req.Clients[i].ClientCode) == "" {
			writeError(w, http.StatusBadRequest, "clients["+strconv.Itoa(i)+"]: client_code is required")
			return
		}
	}
	if req.TopN == 0 {
		req.TopN = s.topN
	}
	if req.Persist && s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	ctx := r.Context()
	var run *model.Run
	if req.Persist {
		var err error
		run, err = s.store.CreateRun(ctx, store.RunSpec{CatalogHash: s.catalog.Hash(), TopN: req.TopN, Source: "api"})
		if err != nil {
			s.internalError(w, err)
			return
		}
	}

	res, err := ranking.RankParallel(ctx, req.Clients, s.catalog, req.TopN, s.workers)
	if err != nil {
		s.failRun(ctx, run, err)
		if errors.Is(err, ranking.ErrInvalidTopN) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}

	resp := RankResponse{CatalogHash: s.catalog.Hash(), Result: res}
	if req.Push && s.generator != nil {
		resp.Pushes = s.generator.Messages(ctx, req.Clients, res.Recommendations)
	}

	if run != nil {
		if err := s.store.SaveResult(ctx, run.ID, res, resp.Pushes); err != nil {
			s.failRun(ctx, run, err)
			s.internalError(w, err)
			return
		}
		if err := s.store.CompleteRun(ctx, run.ID, res.Len(), len(res.Products)); err != nil {
			s.internalError(w, err)
			return
		}
		resp.RunID = run.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) failRun(ctx context.Context, run *model.Run, cause error) {
	if run == nil {
		return
	}
	if err := s.store.FailRun(ctx, run.ID, cause); err != nil {
		zap.L().Warn("api: mark run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	q := r.URL.Query()
	query := RunsQuery{Status: q.Get("status")}
	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an integer")
			return
		}
		*dst = n
	}
	if err := s.validate.Struct(&query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(query.Status),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) runStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	query := StatsQuery{Hours: 24}
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "hours must be an integer")
			return
		}
		query.Hours = n
	}
	if err := s.validate.Struct(&query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.stats.Collect(r.Context(), query.Hours)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run "+id+" not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	recs, err := s.store.LoadRecommendations(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if recs == nil {
		recs = []store.SavedRecommendation{}
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Recommendations: recs})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	zap.L().Error("api: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, eris.Cause(err).Error())
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
