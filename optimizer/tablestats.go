package optimizer

import (
	"math"

	"github.com/pkg/errors"
)

// Scanner is the narrow sequential-scan interface TableStats needs.
// The sequential scan operator itself is an external collaborator
// per spec.md §1; this interface is the seam TableStats uses to stay
// independent of whatever concrete scan implementation a caller
// wires in.
type Scanner interface {
	Open() error
	HasNext() (bool, error)
	// GetTuple returns one row's integer field values, length ==
	// NumFields.
	GetTuple() ([]int64, error)
	Reset() error
	Close() error
}

const DefaultHistogramBuckets = 100

// TableStats holds one histogram per column plus the scan-cost
// inputs, built by two passes of a sequential scan: the first finds
// per-column min/max and total tuple count, the second populates the
// histograms.
type TableStats struct {
	IOCostPerPage float64
	NumPages      int64
	NumFields     int
	NumTups       int64

	mins  []int64
	maxes []int64
	hist  []*IntHistogram
}

// NewTableStats runs the two-pass scan described above.
func NewTableStats(scan Scanner, ioCostPerPage float64, numPages int64, numFields int) (*TableStats, error) {
	ts := &TableStats{
		IOCostPerPage: ioCostPerPage,
		NumPages:      numPages,
		NumFields:     numFields,
		mins:          make([]int64, numFields),
		maxes:         make([]int64, numFields),
		hist:          make([]*IntHistogram, numFields),
	}
	for i := range ts.mins {
		ts.mins[i] = math.MaxInt64
		ts.maxes[i] = math.MinInt64
	}

	if err := scan.Open(); err != nil {
		return nil, errors.Wrap(err, "table_stats: pass 1 open")
	}
	for {
		has, err := scan.HasNext()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		row, err := scan.GetTuple()
		if err != nil {
			return nil, err
		}
		ts.NumTups++
		for i, v := range row {
			if v < ts.mins[i] {
				ts.mins[i] = v
			}
			if v > ts.maxes[i] {
				ts.maxes[i] = v
			}
		}
	}
	if err := scan.Close(); err != nil {
		return nil, err
	}

	for i := range ts.hist {
		minV, maxV := ts.mins[i], ts.maxes[i]
		if minV > maxV {
			minV, maxV = 0, 0
		}
		ts.hist[i] = NewIntHistogram(DefaultHistogramBuckets, minV, maxV)
	}

	if err := scan.Reset(); err != nil {
		return nil, errors.Wrap(err, "table_stats: pass 2 reset")
	}
	if err := scan.Open(); err != nil {
		return nil, errors.Wrap(err, "table_stats: pass 2 open")
	}
	for {
		has, err := scan.HasNext()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		row, err := scan.GetTuple()
		if err != nil {
			return nil, err
		}
		for i, v := range row {
			ts.hist[i].AddValue(v)
		}
	}
	if err := scan.Close(); err != nil {
		return nil, err
	}

	return ts, nil
}

// EstimateScanCost is 2 x io_cost_per_page x num_pages; the factor
// of 2 is intentional and matches the join optimizer's own cost
// model (one pass to read, one pass accounted for write-back /
// re-read in a nested loop).
func (ts *TableStats) EstimateScanCost() float64 {
	return 2 * ts.IOCostPerPage * float64(ts.NumPages)
}

// EstimateTableCardinality is floor(sel * total_tuples).
func (ts *TableStats) EstimateTableCardinality(selectivity float64) int64 {
	return int64(math.Floor(selectivity * float64(ts.NumTups)))
}

// EstimateSelectivity delegates to the column histogram.
func (ts *TableStats) EstimateSelectivity(field int, op PredicateType, v int64) float64 {
	return ts.hist[field].EstimateSelectivity(op, v)
}
