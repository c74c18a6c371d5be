package pipeline

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"flowguard/db"
)

const (
	SourceDatabase = "database"
	SourceSnapshot = "snapshot"
)

// Stats /api/stats 的聚合视图
type Stats struct {
	Metrics        []db.ModelMetric       `json:"metrics"`
	TopFeatures    []db.FeatureImportance `json:"top_features"`
	RecentAnalyses []db.MalwareAnalysis   `json:"recent_analyses"`
	Source         string                 `json:"source"`
}

type cached struct {
	value  interface{}
	source string
}

// StatsReader reads derived records from the store and falls back to the
// JSON snapshot when the store fails. Results are cached for a short TTL.
type StatsReader struct {
	src   StatsSource
	snap  *Snapshot
	cache *expirable.LRU[string, cached]
	log   *zap.Logger
}

// NewStatsReader src may be nil, in which case only the snapshot is read.
func NewStatsReader(src StatsSource, snap *Snapshot, size int, ttl time.Duration, log *zap.Logger) *StatsReader {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsReader{
		src:   src,
		snap:  snap,
		cache: expirable.NewLRU[string, cached](size, nil, ttl),
		log:   log,
	}
}

// Purge drops every cached entry.
func (r *StatsReader) Purge() {
	r.cache.Purge()
}

func (r *StatsReader) FeatureImportances(ctx context.Context, limit int) ([]db.FeatureImportance, string, error) {
	return read(ctx, r, "features",
		func(ctx context.Context) ([]db.FeatureImportance, error) { return r.src.FeatureImportances(ctx, 0) },
		r.snap.FeatureImportances,
		func(v []db.FeatureImportance) []db.FeatureImportance {
			if limit > 0 && len(v) > limit {
				return v[:limit]
			}
			return v
		})
}

func (r *StatsReader) Metrics(ctx context.Context) ([]db.ModelMetric, string, error) {
	return read(ctx, r, "metrics",
		func(ctx context.Context) ([]db.ModelMetric, error) { return r.src.Metrics(ctx, "") },
		r.snap.Metrics,
		nil)
}

func (r *StatsReader) RecentAnalyses(ctx context.Context, limit int) ([]db.MalwareAnalysis, string, error) {
	if limit <= 0 {
		limit = snapshotRecentAnalyses
	}
	return read(ctx, r, "analyses",
		func(ctx context.Context) ([]db.MalwareAnalysis, error) {
			return r.src.RecentAnalyses(ctx, snapshotRecentAnalyses)
		},
		r.snap.RecentAnalyses,
		func(v []db.MalwareAnalysis) []db.MalwareAnalysis {
			if len(v) > limit {
				return v[:limit]
			}
			return v
		})
}

// Stats returns metrics, the top 10 features and the 20 newest analyses.
// Source is "snapshot" if any part came from the snapshot.
func (r *StatsReader) Stats(ctx context.Context) (*Stats, error) {
	metrics, s1, err := r.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	features, s2, err := r.FeatureImportances(ctx, 10)
	if err != nil {
		return nil, err
	}
	analyses, s3, err := r.RecentAnalyses(ctx, snapshotRecentAnalyses)
	if err != nil {
		return nil, err
	}
	source := SourceDatabase
	if s1 == SourceSnapshot || s2 == SourceSnapshot || s3 == SourceSnapshot {
		source = SourceSnapshot
	}
	return &Stats{Metrics: metrics, TopFeatures: features, RecentAnalyses: analyses, Source: source}, nil
}

func read[T any](ctx context.Context, r *StatsReader, key string,
	fromStore func(context.Context) ([]T, error),
	fromSnapshot func() ([]T, error),
	shape func([]T) []T,
) ([]T, string, error) {
	if shape == nil {
		shape = func(v []T) []T { return v }
	}
	if c, ok := r.cache.Get(key); ok {
		return shape(c.value.([]T)), c.source, nil
	}

	if r.src != nil {
		v, err := fromStore(ctx)
		if err == nil {
			r.cache.Add(key, cached{value: v, source: SourceDatabase})
			return shape(v), SourceDatabase, nil
		}
		r.log.Warn("store read failed, using snapshot", zap.String("key", key), zap.Error(err))
	}

	v, err := fromSnapshot()
	if err != nil {
		return nil, "", err
	}
	r.cache.Add(key, cached{value: v, source: SourceSnapshot})
	return shape(v), SourceSnapshot, nil
}
