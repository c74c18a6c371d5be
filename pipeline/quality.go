package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"flowguard/ml"
)

// QualityRule 数据集质量检查规则，只报告不修改
type QualityRule interface {
	Check(ds *ml.Dataset) []QualityIssue
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // low, medium, high
	Message  string `json:"message"`
	Column   string `json:"column,omitempty"`
	Rows     int    `json:"rows,omitempty"`
}

// QualityReport 检查结果
type QualityReport struct {
	Rows        int            `json:"rows"`
	Features    int            `json:"features"`
	ClassCounts map[string]int `json:"class_counts"`
	Issues      []QualityIssue `json:"issues"`
	Counts      map[string]int `json:"counts"`
}

// DatasetInspector 按规则检查数据集
type DatasetInspector struct {
	rules []QualityRule
}

// NewDatasetInspector 创建检查器，带默认规则
func NewDatasetInspector() *DatasetInspector {
	inspector := &DatasetInspector{}
	inspector.AddRule(&ConstantColumnRule{})
	inspector.AddRule(&DuplicateRowRule{})
	inspector.AddRule(NewClassBalanceRule())
	inspector.AddRule(NewOutlierDetectionRule())
	return inspector
}

func (di *DatasetInspector) AddRule(rule QualityRule) {
	di.rules = append(di.rules, rule)
}

// Inspect runs every rule against ds.
func (di *DatasetInspector) Inspect(ds *ml.Dataset) *QualityReport {
	report := &QualityReport{
		Rows:        ds.Len(),
		Features:    len(ds.FeatureNames),
		ClassCounts: ds.ClassCounts(),
		Issues:      []QualityIssue{},
		Counts:      make(map[string]int),
	}
	for _, rule := range di.rules {
		for _, issue := range rule.Check(ds) {
			if issue.Type == "" {
				issue.Type = rule.Name()
			}
			report.Issues = append(report.Issues, issue)
			report.Counts[issue.Type]++
		}
	}
	return report
}

// ============ 规则实现 ============

// ConstantColumnRule 常量列，树永远不会在上面分裂
type ConstantColumnRule struct{}

func (r *ConstantColumnRule) Name() string {
	return "constant_column"
}

func (r *ConstantColumnRule) Check(ds *ml.Dataset) []QualityIssue {
	var issues []QualityIssue
	if ds.Len() == 0 {
		return nil
	}
	for col, name := range ds.FeatureNames {
		first := ds.Features[0][col]
		constant := true
		for _, row := range ds.Features[1:] {
			if row[col] != first {
				constant = false
				break
			}
		}
		if constant {
			issues = append(issues, QualityIssue{
				Severity: "low",
				Message:  fmt.Sprintf("column %q has the single value %v", name, first),
				Column:   name,
				Rows:     ds.Len(),
			})
		}
	}
	return issues
}

// DuplicateRowRule 特征完全相同的行；标签不同时是高严重度
type DuplicateRowRule struct{}

func (r *DuplicateRowRule) Name() string {
	return "duplicate_rows"
}

func (r *DuplicateRowRule) Check(ds *ml.Dataset) []QualityIssue {
	seen := make(map[string]string, ds.Len())
	duplicates, conflicts := 0, 0
	var b strings.Builder
	for i, row := range ds.Features {
		b.Reset()
		for _, v := range row {
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			b.WriteByte(',')
		}
		key := b.String()
		if label, ok := seen[key]; ok {
			duplicates++
			if label != ds.Labels[i] {
				conflicts++
			}
			continue
		}
		seen[key] = ds.Labels[i]
	}

	var issues []QualityIssue
	if duplicates > 0 {
		issues = append(issues, QualityIssue{
			Severity: "medium",
			Message:  fmt.Sprintf("%d rows repeat an earlier feature vector", duplicates),
			Rows:     duplicates,
		})
	}
	if conflicts > 0 {
		issues = append(issues, QualityIssue{
			Type:     "conflicting_labels",
			Severity: "high",
			Message:  fmt.Sprintf("%d duplicated rows carry a different label", conflicts),
			Rows:     conflicts,
		})
	}
	return issues
}

// ClassBalanceRule 少数类占比过低
type ClassBalanceRule struct {
	MinShare float64
}

func NewClassBalanceRule() *ClassBalanceRule {
	return &ClassBalanceRule{MinShare: 0.05}
}

func (r *ClassBalanceRule) Name() string {
	return "class_balance"
}

func (r *ClassBalanceRule) Check(ds *ml.Dataset) []QualityIssue {
	counts := ds.ClassCounts()
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var issues []QualityIssue
	for _, label := range labels {
		share := float64(counts[label]) / float64(ds.Len())
		if share < r.MinShare {
			issues = append(issues, QualityIssue{
				Severity: "medium",
				Message:  fmt.Sprintf("class %q is %.1f%% of the rows", label, share*100),
				Rows:     counts[label],
			})
		}
	}
	return issues
}

// OutlierDetectionRule 异常值检测规则
type OutlierDetectionRule struct {
	StdDevThreshold float64
	MaxShare        float64
}

func NewOutlierDetectionRule() *OutlierDetectionRule {
	return &OutlierDetectionRule{
		StdDevThreshold: 3.0, // 3个标准差
		MaxShare:        0.01,
	}
}

func (r *OutlierDetectionRule) Name() string {
	return "outlier_detection"
}

func (r *OutlierDetectionRule) Check(ds *ml.Dataset) []QualityIssue {
	var issues []QualityIssue
	values := make([]float64, ds.Len())
	for col, name := range ds.FeatureNames {
		for i, row := range ds.Features {
			values[i] = row[col]
		}
		mean, stdDev := meanStdDev(values)
		if stdDev == 0 {
			continue
		}
		outliers := 0
		for _, v := range values {
			if math.Abs((v-mean)/stdDev) > r.StdDevThreshold {
				outliers++
			}
		}
		if share := float64(outliers) / float64(len(values)); share > r.MaxShare {
			issues = append(issues, QualityIssue{
				Severity: "low",
				Message:  fmt.Sprintf("column %q has %d values beyond %.1f standard deviations", name, outliers, r.StdDevThreshold),
				Column:   name,
				Rows:     outliers,
			})
		}
	}
	return issues
}

// meanStdDev 计算均值和总体标准差
func meanStdDev(values []float64) (float64, float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}
