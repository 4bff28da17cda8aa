package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chipx-network/chipx/pkg/normalize"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/dates", a.handleDates).Methods(http.MethodGet)
	r.HandleFunc("/stocks/{stockID}/snapshots", a.handleSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/stocks/{stockID}/analysis", a.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/market/top-changes", a.handleTopChanges).Methods(http.MethodGet)
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDates returns the most recent disclosure dates, newest first.
func (a *App) handleDates(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	dates, err := a.Store.RecentDates(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

// handleSnapshots returns the wide per-security summary, newest first.
func (a *App) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	stockID, ok := a.stockID(w, r)
	if !ok {
		return
	}

	snaps, err := a.Aggregator.Summarize(r.Context(), stockID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"stock_id":  stockID,
		"snapshots": snaps,
	})
}

// handleAnalysis runs the per-security summary through the analyst.
func (a *App) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	stockID, ok := a.stockID(w, r)
	if !ok {
		return
	}

	snaps, err := a.Aggregator.Summarize(r.Context(), stockID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if len(snaps) == 0 {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no data for security"})
		return
	}

	text, err := a.Analyst.Analyze(r.Context(), stockID, snaps)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"stock_id": stockID,
		"analysis": text,
		"enabled":  a.Analyst.Enabled(),
	})
}

// handleTopChanges ranks top-bracket percent changes between two dates.
// Defaults to the two most recent disclosure dates when unspecified.
func (a *App) handleTopChanges(w http.ResponseWriter, r *http.Request) {
	dateA := r.URL.Query().Get("date_a")
	dateB := r.URL.Query().Get("date_b")
	topN := queryInt(r, "n", 20)

	if dateA == "" || dateB == "" {
		dates, err := a.Store.RecentDates(r.Context(), 2)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if len(dates) < 2 {
			a.writeJSON(w, http.StatusOK, map[string]any{"rows": []any{}})
			return
		}
		dateA, dateB = dates[0], dates[1]
	}

	rows, err := a.Aggregator.RankChanges(r.Context(), dateA, dateB, topN)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"date_a": dateA,
		"date_b": dateB,
		"rows":   rows,
	})
}

func (a *App) stockID(w http.ResponseWriter, r *http.Request) (string, bool) {
	stockID := mux.Vars(r)["stockID"]
	if !normalize.ValidStockID(stockID) {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "stock id must be 4 digits and not a fund code",
		})
		return "", false
	}
	return stockID, true
}

func (a *App) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Warn("Response encode failed", zap.Error(err))
	}
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	a.Logger.Error("Request failed", zap.Error(err))
	a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
