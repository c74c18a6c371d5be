package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"flowguard/ml"
	"flowguard/monitoring"
)

var (
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrJobNotFound        = errors.New("training job not found")
)

// JobStatus 训练任务状态
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job 后台训练任务
type Job struct {
	ID         string             `json:"id"`
	Status     JobStatus          `json:"status"`
	Request    ml.TrainRequest    `json:"request"`
	Report     *ml.TrainingReport `json:"report,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// ResultsStore persists the derived records of a training run.
type ResultsStore interface {
	ReplaceTrainingResults(ctx context.Context, report *ml.TrainingReport, datasetPath string) error
}

// Purger drops cached derived records.
type Purger interface {
	Purge()
}

// TrainingService runs train → persist → invalidate model → purge caches.
// Only one run may be active at a time.
type TrainingService struct {
	trainer  ml.ModelTrainer
	store    ResultsStore
	handle   ml.Invalidator
	caches   []Purger
	metrics  *monitoring.Metrics
	notifier *monitoring.WebSocketHub
	defaults ml.TrainRequest
	log      *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	jobs    *lru.Cache[string, *Job]
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// TrainingDeps 训练服务依赖；除 Trainer 外都可以为空
type TrainingDeps struct {
	Trainer  ml.ModelTrainer
	Store    ResultsStore
	Handle   ml.Invalidator
	Caches   []Purger
	Metrics  *monitoring.Metrics
	Notifier *monitoring.WebSocketHub
	Defaults ml.TrainRequest
	Log      *zap.Logger
}

func NewTrainingService(deps TrainingDeps) *TrainingService {
	jobs, _ := lru.New[string, *Job](64)
	ctx, cancel := context.WithCancel(context.Background())
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &TrainingService{
		trainer:  deps.Trainer,
		store:    deps.Store,
		handle:   deps.Handle,
		caches:   deps.Caches,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		defaults: deps.Defaults,
		log:      log,
		jobs:     jobs,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Run trains synchronously.
func (s *TrainingService) Run(ctx context.Context, req ml.TrainRequest) (*ml.TrainingReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx, s.withDefaults(req))
}

// Start launches a background run and returns its job.
func (s *TrainingService) Start(req ml.TrainRequest) (*Job, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobPending,
		Request:   s.withDefaults(req),
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs.Add(job.ID, job)
	snapshot := *job
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		s.update(job.ID, func(j *Job) {
			now := time.Now().UTC()
			j.Status = JobRunning
			j.StartedAt = &now
		})
		report, err := s.run(s.baseCtx, job.Request)
		s.update(job.ID, func(j *Job) {
			now := time.Now().UTC()
			j.FinishedAt = &now
			if err != nil {
				// 持久化失败时模型已发布，保留报告以便查看生效版本
				j.Status = JobFailed
				j.Error = err.Error()
				j.Report = report
				return
			}
			j.Status = JobSucceeded
			j.Report = report
		})
	}()
	return &snapshot, nil
}

// Job returns a copy of the job with the given id.
func (s *TrainingService) Job(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	out := *job
	return &out, nil
}

func (s *TrainingService) Running() bool {
	return s.running.Load()
}

// Close cancels a running job and waits for it to finish.
func (s *TrainingService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *TrainingService) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs.Peek(id); ok {
		fn(job)
	}
}

func (s *TrainingService) withDefaults(req ml.TrainRequest) ml.TrainRequest {
	if req.DatasetPath == "" {
		req.DatasetPath = s.defaults.DatasetPath
	}
	if req.NumTrees <= 0 {
		req.NumTrees = s.defaults.NumTrees
	}
	if req.Seed == nil {
		req.Seed = s.defaults.Seed
	}
	return req
}

func (s *TrainingService) run(ctx context.Context, req ml.TrainRequest) (*ml.TrainingReport, error) {
	start := time.Now()
	log := s.log.With(zap.String("dataset", req.DatasetPath))
	log.Info("training started", zap.Int("n_estimators", req.NumTrees), zap.Int64p("seed", req.Seed))

	report, err := s.trainer.Train(ctx, req)
	if err != nil {
		s.finish("failed", time.Since(start))
		log.Error("training failed", zap.Error(err))
		return nil, err
	}

	// artifact is already published
	if s.handle != nil {
		s.handle.Invalidate()
	}
	if s.store != nil {
		if err := s.store.ReplaceTrainingResults(ctx, report, req.DatasetPath); err != nil {
			s.finish("failed", time.Since(start))
			log.Error("persist training results failed", zap.String("version", report.Version), zap.Error(err))
			return report, fmt.Errorf("persist training results: %w", err)
		}
	}
	for _, c := range s.caches {
		c.Purge()
	}
	s.finish("succeeded", time.Since(start))
	if s.notifier != nil {
		if err := s.notifier.Publish(monitoring.TrainingFinished, report); err != nil {
			log.Warn("publish training result failed", zap.Error(err))
		}
	}
	log.Info("training persisted", zap.String("version", report.Version), zap.Float64("f1", report.F1))
	return report, nil
}

func (s *TrainingService) finish(status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordTraining(status, d)
	}
}
