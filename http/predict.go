package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowguard/db"
	"flowguard/ml"
	"flowguard/monitoring"
)

type predictRequest struct {
	Features map[string]interface{} `json:"features"`
}

// decodeFeatures accepts JSON numbers or numeric strings.
func decodeFeatures(body io.Reader) (map[string]float64, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()
	var req predictRequest
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ml.ErrInputInvalid, maxErr.Limit)
		}
		return nil, fmt.Errorf("%w: decode body: %v", ml.ErrInputInvalid, err)
	}
	if req.Features == nil {
		return nil, fmt.Errorf("%w: features object is required", ml.ErrInputInvalid)
	}

	features := make(map[string]float64, len(req.Features))
	for name, raw := range req.Features {
		var (
			v   float64
			err error
		)
		switch val := raw.(type) {
		case json.Number:
			v, err = val.Float64()
		case string:
			v, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
		default:
			err = fmt.Errorf("unsupported type %T", raw)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: feature %q is not numeric", ml.ErrInputInvalid, name)
		}
		features[name] = v
	}
	return features, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ml.ErrInputInvalid):
		return "input_invalid"
	case errors.Is(err, ml.ErrModelNotReady):
		return "model_not_ready"
	case errors.Is(err, ml.ErrLabelMapping):
		return "label_mapping"
	case errors.Is(err, ml.ErrArtifactCorrupt):
		return "artifact_corrupt"
	}
	return "internal"
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := GetStartTime(r.Context())
	if start.IsZero() {
		start = time.Now()
	}

	features, err := decodeFeatures(r.Body)
	if err == nil {
		var result *ml.PredictionResult
		if result, err = h.model.Predict(features); err == nil {
			h.recordPrediction(r, result, time.Since(start))
			respondJSON(w, http.StatusOK, result)
			return
		}
	}

	if h.metrics != nil {
		h.metrics.RecordPredictionError(errorKind(err))
	}
	h.fail(w, r, err)
}

// recordPrediction 写历史、推送、打点；失败只记日志
func (h *Handlers) recordPrediction(r *http.Request, result *ml.PredictionResult, d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordPrediction(result.Prediction, d)
	}
	if h.analyses != nil {
		_, err := h.analyses.SaveAnalysis(r.Context(), &db.MalwareAnalysis{
			MalwareType: result.Prediction,
			Confidence:  result.Confidence,
			CreatedAt:   result.Timestamp,
		})
		if err != nil {
			h.log.Warn("save analysis failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
		}
	}
	if h.hub != nil {
		if err := h.hub.Publish(monitoring.PredictionEvent, result); err != nil {
			h.log.Warn("publish prediction failed", zap.Error(err))
		}
	}
}
