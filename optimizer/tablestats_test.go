package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeScanner generates rows deterministically from a seed, mirroring
// the role TestUtils().populate_table plays in the original test
// suite (an external test harness, not part of this module).
type fakeScanner struct {
	numRows, numFields int
	seed                int64
	pos                 int
}

func (f *fakeScanner) Open() error { f.pos = 0; return nil }
func (f *fakeScanner) HasNext() (bool, error) { return f.pos < f.numRows, nil }
func (f *fakeScanner) Reset() error { f.pos = 0; return nil }
func (f *fakeScanner) Close() error { return nil }
func (f *fakeScanner) GetTuple() ([]int64, error) {
	row := make([]int64, f.numFields)
	for i := range row {
		row[i] = (int64(f.pos)*f.seed + int64(i)) % 1000
	}
	f.pos++
	return row, nil
}

func TestEstimateScanCostLinearAndQuadratic(t *testing.T) {
	constantIOCost := func(numPages int64) float64 {
		scan := &fakeScanner{numRows: 10, numFields: 2, seed: 7}
		ts, err := NewTableStats(scan, 3.0, numPages, 2)
		require.NoError(t, err)
		return ts.EstimateScanCost()
	}

	c1 := constantIOCost(10)
	c2 := constantIOCost(20)
	c3 := constantIOCost(40)
	// 10->20 adds 10 pages, 20->40 adds 20: a linear cost doubles the step.
	require.InDelta(t, (c2-c1)*2, c3-c2, 1e-9, "scan cost must be linear in page count")

	linearInIOCost := func(ioCost float64) float64 {
		scan := &fakeScanner{numRows: 10, numFields: 2, seed: 7}
		ts, err := NewTableStats(scan, ioCost, 10, 2)
		require.NoError(t, err)
		return ts.EstimateScanCost()
	}
	a := linearInIOCost(1)
	b := linearInIOCost(2)
	c := linearInIOCost(4)
	// 1->2 adds 1 to the io cost, 1->4 adds 3: a linear cost triples the step.
	require.InDelta(t, (b-a)*3, c-a, 1e-9, "scan cost must be linear in io cost")

	quadratic := func(n float64) float64 {
		scan := &fakeScanner{numRows: 10, numFields: 2, seed: 7}
		ts, err := NewTableStats(scan, n, int64(n), 2)
		require.NoError(t, err)
		return ts.EstimateScanCost()
	}
	q1 := quadratic(10)
	q2 := quadratic(20)
	q4 := quadratic(40)
	// cost = 2*n*n is quadratic: doubling n should roughly 4x the cost.
	require.InDelta(t, q2/q1, 4.0, 0.5)
	require.InDelta(t, q4/q2, 4.0, 0.5)
}

func TestEstimateTableCardinality(t *testing.T) {
	scan := &fakeScanner{numRows: 10200, numFields: 1, seed: 3}
	ts, err := NewTableStats(scan, 1.0, 100, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3060), ts.EstimateTableCardinality(0.3))
}
