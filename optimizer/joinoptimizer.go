package optimizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// LogicalJoinNode is a five-tuple (left_table, right_table,
// left_field, right_field, predicate_op).
type LogicalJoinNode struct {
	LeftTable  string
	RightTable string
	LeftField  int
	RightField int
	Op         PredicateType
}

// SwapInnerOuter returns the symmetric node.
func (j LogicalJoinNode) SwapInnerOuter() LogicalJoinNode {
	return LogicalJoinNode{
		LeftTable:  j.RightTable,
		RightTable: j.LeftTable,
		LeftField:  j.RightField,
		RightField: j.LeftField,
		Op:         j.Op,
	}
}

func (j LogicalJoinNode) key() string {
	return fmt.Sprintf("%s|%s|%d|%d|%d", j.LeftTable, j.RightTable, j.LeftField, j.RightField, j.Op)
}

// CostCard is a plan cache entry: the best cost and cardinality found
// for a join subset, plus the left-deep plan achieving it.
type CostCard struct {
	Cost float64
	Card int64
	Plan []LogicalJoinNode
}

// PlanCache maps a subset of join nodes to its best (order, cost,
// cardinality), keyed by a canonical sorted-node-key string instead
// of original_source's std::set<LogicalJoinNode> (Go has no ordered
// set type in the standard library suited to this).
type PlanCache struct {
	entries map[string]CostCard
}

// NewPlanCache returns an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{entries: make(map[string]CostCard)}
}

func subsetKey(nodes []LogicalJoinNode) string {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.key()
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ";"
		}
		out += k
	}
	return out
}

// AddPlan unconditionally records cc for subset; callers filter by
// cost before calling.
func (pc *PlanCache) AddPlan(subset []LogicalJoinNode, cc CostCard) {
	pc.entries[subsetKey(subset)] = cc
}

// GetOrder, GetCost, GetCard look up a cached subset's best plan.
func (pc *PlanCache) GetOrder(subset []LogicalJoinNode) ([]LogicalJoinNode, bool) {
	cc, ok := pc.entries[subsetKey(subset)]
	if !ok {
		return nil, false
	}
	return cc.Plan, true
}

func (pc *PlanCache) GetCost(subset []LogicalJoinNode) (float64, bool) {
	cc, ok := pc.entries[subsetKey(subset)]
	return cc.Cost, ok
}

func (pc *PlanCache) GetCard(subset []LogicalJoinNode) (int64, bool) {
	cc, ok := pc.entries[subsetKey(subset)]
	return cc.Card, ok
}

// EnumerateSubsets yields every size-k subset of nodes exactly once,
// in lexicographic index order, a deterministic ordering, as
// required by spec.md §4.8, and exposed as its own tested unit per
// original_source's free-standing enumerate_subsets function.
func EnumerateSubsets(nodes []LogicalJoinNode, k int) [][]LogicalJoinNode {
	n := len(nodes)
	if k <= 0 || k > n {
		return nil
	}
	var out [][]LogicalJoinNode
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		subset := make([]LogicalJoinNode, k)
		for i, id := range idx {
			subset[i] = nodes[id]
		}
		out = append(out, subset)

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// EstimateJoinCost implements the nested-loop cost model: cost = s1 +
// c1*s2 + c1*c2. This is strictly greater than s1+s2 whenever c1 and
// c2 are both positive, which every base-table cardinality is.
func EstimateJoinCost(c1, c2 int64, s1, s2 float64) float64 {
	return s1 + float64(c1)*s2 + float64(c1)*float64(c2)
}

// estimateJoinCardinalityPkey applies the primary-key convention for
// EQ joins given explicit per-side pkey flags, else the 0.3
// selectivity heuristic for any other operator. EstimateJoinCardinality
// and computeCostAndCardOfSubplan differ only in how they derive
// pkey1/pkey2 for their two sides.
func estimateJoinCardinalityPkey(op PredicateType, c1, c2 int64, pkey1, pkey2 bool) int64 {
	if op == EQ {
		switch {
		case pkey1:
			return c2
		case pkey2:
			return c1
		case c1 > c2:
			return c1
		default:
			return c2
		}
	}
	return int64(math.Floor(0.3 * float64(c1) * float64(c2)))
}

// EstimateJoinCardinality applies the primary-key convention
// (field_index == 0) for EQ joins, else the 0.3 selectivity heuristic
// for any other operator. This is the base-case convention, where
// both sides of j are still base relations; computeCostAndCardOfSubplan's
// inductive case instead uses hasPkey over the accumulated subplan for
// whichever side is already joined.
func EstimateJoinCardinality(j LogicalJoinNode, c1, c2 int64) int64 {
	return estimateJoinCardinalityPkey(j.Op, c1, c2, j.LeftField == 0, j.RightField == 0)
}

// hasPkey reports whether any join already folded into order
// references field index 0 on either side, mirroring
// original_source's has_Pkey: once a primary key has been joined into
// a subplan, the whole subplan carries that uniqueness bound, not
// just the field of whichever join is being added now.
func hasPkey(order []LogicalJoinNode) bool {
	for _, j := range order {
		if j.LeftField == 0 || j.RightField == 0 {
			return true
		}
	}
	return false
}

// JoinOptimizer orders a set of equi/non-equi join predicates via
// Selinger-style subset DP.
type JoinOptimizer struct {
	Joins []LogicalJoinNode
}

// NewJoinOptimizer returns an optimizer over the given join list.
func NewJoinOptimizer(joins []LogicalJoinNode) *JoinOptimizer {
	return &JoinOptimizer{Joins: joins}
}

func tableSet(order []LogicalJoinNode) map[string]bool {
	s := make(map[string]bool)
	for _, j := range order {
		s[j.LeftTable] = true
		s[j.RightTable] = true
	}
	return s
}

func removeNode(set []LogicalJoinNode, j LogicalJoinNode) []LogicalJoinNode {
	out := make([]LogicalJoinNode, 0, len(set)-1)
	removed := false
	for _, n := range set {
		if !removed && n == j {
			removed = true
			continue
		}
		out = append(out, n)
	}
	return out
}

// OrderJoins runs the outer loop over subset sizes 1..N, the inner
// loop over subsets of that size, and the inner-inner loop over each
// candidate "last join" within the subset, per spec.md §4.8.
func (jo *JoinOptimizer) OrderJoins(stats map[string]*TableStats, filterSelectivities map[string]float64) ([]LogicalJoinNode, error) {
	n := len(jo.Joins)
	if n == 0 {
		return nil, nil
	}
	pc := NewPlanCache()

	for k := 1; k <= n; k++ {
		for _, subset := range EnumerateSubsets(jo.Joins, k) {
			bestCostSoFar := math.Inf(1)
			var best CostCard
			found := false

			for _, j := range subset {
				cc, ok, err := jo.computeCostAndCardOfSubplan(stats, filterSelectivities, j, subset, bestCostSoFar, pc)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				if cc.Cost < bestCostSoFar {
					bestCostSoFar = cc.Cost
					best = cc
					found = true
				}
			}

			if found {
				pc.AddPlan(subset, best)
			}
		}
	}

	order, ok := pc.GetOrder(jo.Joins)
	if !ok {
		return nil, errors.New("order_joins: no plan found for full join set")
	}
	return order, nil
}

// computeCostAndCardOfSubplan treats joinSet\{j} as the already
// optimized left subplan (looked up in pc) and computes the cost of
// joining j last, trying both orientations of j and keeping the
// cheaper, pruning against bestCostSoFar.
func (jo *JoinOptimizer) computeCostAndCardOfSubplan(
	stats map[string]*TableStats,
	filterSelectivities map[string]float64,
	j LogicalJoinNode,
	joinSet []LogicalJoinNode,
	bestCostSoFar float64,
	pc *PlanCache,
) (CostCard, bool, error) {
	s := removeNode(joinSet, j)

	if len(s) == 0 {
		return jo.baseCase(stats, filterSelectivities, j, bestCostSoFar)
	}

	prevOrder, ok := pc.GetOrder(s)
	if !ok {
		return CostCard{}, false, nil // no cached plan: cross product, skip
	}
	prevCost, _ := pc.GetCost(s)
	prevCard, _ := pc.GetCard(s)
	prevTables := tableSet(prevOrder)

	leftIn := prevTables[j.LeftTable]
	rightIn := prevTables[j.RightTable]
	if !leftIn && !rightIn {
		return CostCard{}, false, nil // neither table already joined: cross product, skip
	}

	var tableInPrev, tableFresh string
	var fieldInPrev, fieldFresh int
	if leftIn {
		tableInPrev, fieldInPrev = j.LeftTable, j.LeftField
		tableFresh, fieldFresh = j.RightTable, j.RightField
	} else {
		tableInPrev, fieldInPrev = j.RightTable, j.RightField
		tableFresh, fieldFresh = j.LeftTable, j.LeftField
	}

	freshStats, ok := stats[tableFresh]
	if !ok {
		return CostCard{}, false, errors.Errorf("order_joins: no stats for table %q", tableFresh)
	}
	costFresh := freshStats.EstimateScanCost()
	cardFresh := freshStats.EstimateTableCardinality(filterSelectivities[tableFresh])

	// The side already folded into prevOrder carries a pkey bound if
	// any join accumulated so far touched field index 0, not merely if
	// j's own field on that side happens to be 0 (has_Pkey semantics).
	// The fresh side has no accumulated history yet, so it still uses
	// its own field index.
	prevPkey := hasPkey(prevOrder)
	freshPkey := fieldFresh == 0

	nodeA := LogicalJoinNode{LeftTable: tableInPrev, RightTable: tableFresh, LeftField: fieldInPrev, RightField: fieldFresh, Op: j.Op}
	costA := EstimateJoinCost(prevCard, cardFresh, prevCost, costFresh)
	cardA := estimateJoinCardinalityPkey(nodeA.Op, prevCard, cardFresh, prevPkey, freshPkey)

	nodeB := nodeA.SwapInnerOuter()
	costB := EstimateJoinCost(cardFresh, prevCard, costFresh, prevCost)
	cardB := estimateJoinCardinalityPkey(nodeB.Op, cardFresh, prevCard, freshPkey, prevPkey)

	bestNode, bestCost, bestCard := nodeA, costA, cardA
	if costB < costA {
		bestNode, bestCost, bestCard = nodeB, costB, cardB
	}

	if bestCost >= bestCostSoFar {
		return CostCard{}, false, nil
	}

	plan := make([]LogicalJoinNode, len(prevOrder)+1)
	copy(plan, prevOrder)
	plan[len(prevOrder)] = bestNode

	return CostCard{Cost: bestCost, Card: bestCard, Plan: plan}, true, nil
}

func (jo *JoinOptimizer) baseCase(stats map[string]*TableStats, filterSelectivities map[string]float64, j LogicalJoinNode, bestCostSoFar float64) (CostCard, bool, error) {
	leftStats, ok := stats[j.LeftTable]
	if !ok {
		return CostCard{}, false, errors.Errorf("order_joins: no stats for table %q", j.LeftTable)
	}
	rightStats, ok := stats[j.RightTable]
	if !ok {
		return CostCard{}, false, errors.Errorf("order_joins: no stats for table %q", j.RightTable)
	}

	s1 := leftStats.EstimateScanCost()
	s2 := rightStats.EstimateScanCost()
	c1 := leftStats.EstimateTableCardinality(filterSelectivities[j.LeftTable])
	c2 := rightStats.EstimateTableCardinality(filterSelectivities[j.RightTable])

	costA := EstimateJoinCost(c1, c2, s1, s2)
	cardA := EstimateJoinCardinality(j, c1, c2)

	jSwapped := j.SwapInnerOuter()
	costB := EstimateJoinCost(c2, c1, s2, s1)
	cardB := EstimateJoinCardinality(jSwapped, c2, c1)

	bestNode, bestCost, bestCard := j, costA, cardA
	if costB < costA {
		bestNode, bestCost, bestCard = jSwapped, costB, cardB
	}

	if bestCost >= bestCostSoFar {
		return CostCard{}, false, nil
	}

	return CostCard{Cost: bestCost, Card: bestCard, Plan: []LogicalJoinNode{bestNode}}, true, nil
}
