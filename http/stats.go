package http

import (
	"net/http"

	"flowguard/db"
)

// DataSourceHeader 说明数据来自数据库还是快照
const DataSourceHeader = "X-Data-Source"

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(DataSourceHeader, stats.Source)
	respondJSON(w, http.StatusOK, stats)
}

// handleFeatureImportances 完整排名加前 10
func (h *Handlers) handleFeatureImportances(w http.ResponseWriter, r *http.Request) {
	features, source, err := h.stats.FeatureImportances(r.Context(), 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	top := features
	if len(top) > 10 {
		top = top[:10]
	}
	w.Header().Set(DataSourceHeader, source)
	respondJSON(w, http.StatusOK, struct {
		FeatureImportances []db.FeatureImportance `json:"feature_importances"`
		Top10              []db.FeatureImportance `json:"top_10"`
		Source             string                 `json:"source"`
	}{features, top, source})
}

func (h *Handlers) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, source, err := h.stats.RecentAnalyses(r.Context(), queryLimit(r, 20, 20))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(DataSourceHeader, source)
	respondJSON(w, http.StatusOK, analyses)
}

func (h *Handlers) handleFeatures(w http.ResponseWriter, r *http.Request) {
	features, source, err := h.stats.FeatureImportances(r.Context(), queryLimit(r, 0, 1000))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(DataSourceHeader, source)
	respondJSON(w, http.StatusOK, features)
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, source, err := h.stats.Metrics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(DataSourceHeader, source)
	respondJSON(w, http.StatusOK, metrics)
}
