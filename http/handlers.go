package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"flowguard/db"
	"flowguard/ml"
	"flowguard/monitoring"
	"flowguard/pipeline"
)

// AnalysisStore 预测历史写入
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, a *db.MalwareAnalysis) (int64, error)
}

// TrainingRunner 后台训练任务
type TrainingRunner interface {
	Start(req ml.TrainRequest) (*pipeline.Job, error)
	Job(id string) (*pipeline.Job, error)
}

// RunHistory 训练审计记录
type RunHistory interface {
	TrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// StatsProvider 派生记录的只读视图
type StatsProvider interface {
	Stats(ctx context.Context) (*pipeline.Stats, error)
	FeatureImportances(ctx context.Context, limit int) ([]db.FeatureImportance, string, error)
	Metrics(ctx context.Context) ([]db.ModelMetric, string, error)
	RecentAnalyses(ctx context.Context, limit int) ([]db.MalwareAnalysis, string, error)
}

// Deps 处理器依赖；Model 之外都可以为空
type Deps struct {
	Model    ml.ModelProvider
	Analyses AnalysisStore
	Training TrainingRunner
	Runs     RunHistory
	Stats    StatsProvider
	Hub      *monitoring.WebSocketHub
	Metrics  *monitoring.Metrics
	Log      *zap.Logger
}

// Handlers 所有 API 处理器
type Handlers struct {
	model    ml.ModelProvider
	analyses AnalysisStore
	training TrainingRunner
	runs     RunHistory
	stats    StatsProvider
	hub      *monitoring.WebSocketHub
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

func NewHandlers(deps Deps) *Handlers {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		model:    deps.Model,
		analyses: deps.Analyses,
		training: deps.Training,
		runs:     deps.Runs,
		stats:    deps.Stats,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		log:      log,
	}
}

// Register 注册所有 JSON 路由
func (h *Handlers) Register(mux *http.ServeMux) {
	h.handle(mux, "GET /api/health", "health", h.handleHealth)

	h.handle(mux, "POST /api/predict/{$}", "predict", h.handlePredict)
	h.handle(mux, "GET /api/model/feature-importances", "model_feature_importances", h.handleModelImportances)
	h.handle(mux, "POST /api/model/reload", "model_reload", h.handleModelReload)

	if h.training != nil {
		h.handle(mux, "POST /api/train/{$}", "train", h.handleTrain)
		h.handle(mux, "GET /api/train/{id}", "train_job", h.handleTrainJob)
	}
	if h.runs != nil {
		h.handle(mux, "GET /api/training-runs/{$}", "training_runs", h.handleTrainingRuns)
	}

	if h.stats != nil {
		h.handle(mux, "GET /api/stats/{$}", "stats", h.handleStats)
		h.handle(mux, "GET /api/feature-importances/{$}", "feature_importances", h.handleFeatureImportances)
		h.handle(mux, "GET /api/analyses/{$}", "analyses", h.handleAnalyses)
		h.handle(mux, "GET /api/features/{$}", "features", h.handleFeatures)
		h.handle(mux, "GET /api/metrics/{$}", "metrics", h.handleMetrics)
	}
}

func (h *Handlers) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if h.metrics != nil {
		handler = h.metrics.Instrument(name, handler)
	}
	mux.Handle(pattern, handler)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleModelImportances(w http.ResponseWriter, r *http.Request) {
	importances, err := h.model.FeatureImportances()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_version":       h.model.Version(),
		"feature_importances": ml.RankImportances(importances),
	})
}

func (h *Handlers) handleModelReload(w http.ResponseWriter, r *http.Request) {
	version, err := h.model.Reload()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("model reloaded on request", zap.String("version", version))
	if h.hub != nil {
		if err := h.hub.Publish(monitoring.ModelReloaded, map[string]string{"version": version}); err != nil {
			h.log.Warn("publish reload failed", zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "model_version": version})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrInputInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrModelNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrTrainingInProgress):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respondError(w, status, err)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// queryLimit 读取 ?limit=，非法值用默认值
func queryLimit(r *http.Request, def, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
