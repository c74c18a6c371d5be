package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultLabelColumn 训练数据中的标签列名（沿用原始数据集的拼写）
const DefaultLabelColumn = "calss"

// DatasetOptions 控制 CSV 数据集的解析方式
type DatasetOptions struct {
	LabelColumn string
	// Encoding is a WHATWG label such as "utf-8", "latin1" or "gbk".
	Encoding string
}

func (o DatasetOptions) labelColumn() string {
	if o.LabelColumn == "" {
		return DefaultLabelColumn
	}
	return o.LabelColumn
}

// Dataset 表格数据：有序特征列 + 分类标签
type Dataset struct {
	FeatureNames []string
	Features     [][]float64
	Labels       []string
}

func (d *Dataset) Len() int { return len(d.Labels) }

func (d *Dataset) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, label := range d.Labels {
		counts[label]++
	}
	return counts
}

// LoadDataset reads a headered CSV file from path.
func LoadDataset(path string, opts DatasetOptions) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
		}
		return nil, fmt.Errorf("stat dataset %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDatasetMalformed, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadDataset(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadDataset parses CSV content. Every column except the label column is a
// numeric feature.
func ReadDataset(r io.Reader, opts DatasetOptions) (*Dataset, error) {
	dec, err := datasetDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(dec.NewDecoder())))
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrDatasetMalformed)
		}
		return nil, fmt.Errorf("%w: header: %v", ErrDatasetMalformed, err)
	}

	labelName := opts.labelColumn()
	labelIdx := -1
	seen := make(map[string]struct{}, len(header))
	ds := &Dataset{}
	featureCols := make([]int, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrDatasetMalformed, name)
		}
		seen[name] = struct{}{}
		if name == labelName {
			labelIdx = i
			continue
		}
		featureCols = append(featureCols, i)
		ds.FeatureNames = append(ds.FeatureNames, name)
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("%w: missing label column %q", ErrDatasetMalformed, labelName)
	}
	if len(featureCols) == 0 {
		return nil, fmt.Errorf("%w: no feature columns", ErrDatasetMalformed)
	}
	reader.FieldsPerRecord = len(header)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatasetMalformed, err)
		}
		label := strings.TrimSpace(record[labelIdx])
		if label == "" {
			return nil, fmt.Errorf("%w: line %d: empty label", ErrDatasetMalformed, line)
		}
		row := make([]float64, len(featureCols))
		for j, col := range featureCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: line %d column %q: %q is not a finite number",
					ErrDatasetMalformed, line, ds.FeatureNames[j], record[col])
			}
			row[j] = v
		}
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, label)
	}

	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrDatasetMalformed)
	}
	if n := len(ds.ClassCounts()); n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, found %d", ErrDatasetMalformed, n)
	}
	return ds, nil
}

func datasetDecoder(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrDatasetMalformed, name)
	}
	return enc, nil
}

// LabelEncoder 将字符串标签映射为整数编码：按首次出现顺序编号，从 0 开始
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// FitLabelEncoder encodes labels in first-seen order and returns the codes.
func FitLabelEncoder(labels []string) (*LabelEncoder, []int) {
	enc := &LabelEncoder{index: make(map[string]int)}
	codes := make([]int, len(labels))
	for i, label := range labels {
		code, ok := enc.index[label]
		if !ok {
			code = len(enc.classes)
			enc.index[label] = code
			enc.classes = append(enc.classes, label)
		}
		codes[i] = code
	}
	return enc, codes
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}
