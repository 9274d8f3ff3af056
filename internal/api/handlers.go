package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/feeds"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/internal/store"
	"github.com/hartproperty/propsync/internal/valuation"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps domain errors to statuses. Unexpected errors are logged and
// hidden behind a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, valuation.ErrInvalidRequest), errors.Is(err, normalize.ErrInvalidPatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	var req valuation.Request
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.deps.Valuations.Request(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCondos(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Valuations.CondoNames(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"condos": names})
}

func (s *Server) handleUnitInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info, err := s.deps.Valuations.UnitInfo(r.Context(), q.Get("condo"), q.Get("unit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	condo := strings.TrimSpace(r.URL.Query().Get("condo"))
	if condo == "" {
		writeError(w, http.StatusBadRequest, "condo is required")
		return
	}
	trend, err := s.deps.Trends.Trend(r.Context(), condo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if trend == nil {
		writeError(w, http.StatusNotFound, "no priced sales for condo")
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func intParam(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

// redact hides exact unit numbers from listings.
func redact(rows []model.Transaction) []model.Transaction {
	out := make([]model.Transaction, len(rows))
	for i, t := range rows {
		t.ExactUnit = nil
		out[i] = t
	}
	return out
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.deps.Admin.ListTransactions(r.Context(), store.ListFilter{
		Condo:  q.Get("condo"),
		Source: model.Source(q.Get("source")),
		Limit:  intParam(r, "limit"),
		Offset: intParam(r, "offset"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": redact(rows)})
}

// handleUpsertTransaction edits the row named by the patch id, or
// reconciles an id-less patch as a manual candidate.
func (s *Server) handleUpsertTransaction(w http.ResponseWriter, r *http.Request) {
	var p normalize.Patch
	if !decode(w, r, &p) {
		return
	}
	ctx := r.Context()

	if p.ID != nil && *p.ID != "" {
		if err := feeds.Edit(ctx, s.deps.Admin, p); err != nil {
			s.fail(w, r, err)
			return
		}
		t, err := s.deps.Admin.GetTransaction(ctx, *p.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": redact([]model.Transaction{*t})[0]})
		return
	}

	if _, err := normalize.Manual(p); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.deps.Runner.Run(ctx, feeds.NewManualFeed(s.deps.Admin).Inline([]normalize.Patch{p}), []string{"api"})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": report})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit")
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.deps.Admin.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
