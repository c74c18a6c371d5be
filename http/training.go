package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"flowguard/ml"
)

// trainRequest 只允许调整超参数，数据集固定为配置中的路径
type trainRequest struct {
	NEstimators int    `json:"n_estimators"`
	RandomState *int64 `json:"random_state"`
}

// handleTrain 启动后台训练，空 body 使用配置默认值
func (h *Handlers) handleTrain(w http.ResponseWriter, r *http.Request) {
	var body trainRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, fmt.Errorf("%w: decode body: %v", ml.ErrInputInvalid, err))
		return
	}
	if body.NEstimators < 0 {
		h.fail(w, r, fmt.Errorf("%w: n_estimators must be positive", ml.ErrInputInvalid))
		return
	}

	job, err := h.training.Start(ml.TrainRequest{
		NumTrees: body.NEstimators,
		Seed:     body.RandomState,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info("training job started",
		zap.String("job_id", job.ID),
		zap.String("request_id", GetRequestID(r.Context())))

	w.Header().Set("Location", "/api/train/"+job.ID)
	respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) handleTrainJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.training.Job(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.TrainingRuns(r.Context(), queryLimit(r, 20, 100))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}
