package index

import (
	"sort"

	"golang.org/x/sync/errgroup"
)

// consolidate rewrites, for each column bearing both a '>'/'>=' and a
// '<'/'<=' predicate, the pair into a single OpBetween predicate. Other
// predicates pass through unchanged. The result is sorted by column.
func consolidate(preds []Predicate) []Predicate {
	byCol := make(map[int][]Predicate)
	var cols []int
	for _, p := range preds {
		if _, ok := byCol[p.Column]; !ok {
			cols = append(cols, p.Column)
		}
		byCol[p.Column] = append(byCol[p.Column], p)
	}
	sort.Ints(cols)

	var out []Predicate
	for _, col := range cols {
		group := byCol[col]
		var lowerP, upperP *Predicate
		var rest []Predicate
		for i := range group {
			p := &group[i]
			switch p.Op {
			case OpGt, OpGte:
				if lowerP != nil {
					rest = append(rest, *lowerP)
				}
				lowerP = p
			case OpLt, OpLte:
				if upperP != nil {
					rest = append(rest, *upperP)
				}
				upperP = p
			default:
				rest = append(rest, *p)
			}
		}
		if lowerP != nil && upperP != nil {
			out = append(out, Predicate{Column: col, Op: OpBetween, Value: lowerP.Value, High: upperP.Value})
		} else if lowerP != nil {
			out = append(out, *lowerP)
		} else if upperP != nil {
			out = append(out, *upperP)
		}
		out = append(out, rest...)
	}
	return out
}

func evalGroupkey(idx *GroupkeyIndex, p Predicate) PositionRange {
	switch p.Op {
	case OpEq:
		return idx.Eq(p.Value)
	case OpLt:
		return idx.Lt(p.Value)
	case OpLte:
		return idx.Lte(p.Value)
	case OpGt:
		return idx.Gt(p.Value)
	case OpGte:
		return idx.Gte(p.Value)
	case OpBetween:
		return idx.Between(p.Value, p.High)
	}
	return PositionRange{Sorted: true}
}

func evalDelta(idx *DeltaIndex, p Predicate) PositionRange {
	switch p.Op {
	case OpEq:
		return idx.Eq(p.Value)
	case OpLt:
		return idx.Lt(p.Value)
	case OpLte:
		return idx.Lte(p.Value)
	case OpGt:
		return idx.Gt(p.Value)
	case OpGte:
		return idx.Gte(p.Value)
	case OpBetween:
		return idx.Between(p.Value, p.High)
	}
	return PositionRange{Sorted: true}
}

// intersectRanges sorts ranges ascending by length, then folds the
// smallest into progressively larger ones, stopping early once the
// running result empties.
func intersectRanges(ranges []PositionRange) []uint64 {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]PositionRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].Positions) < len(sorted[j].Positions) })

	base := sorted[0].EnsureSorted().Positions
	for _, r := range sorted[1:] {
		if len(base) == 0 {
			break
		}
		base = IntersectSorted(base, r.EnsureSorted().Positions)
	}
	return base
}

// evalColumnParallel evaluates one range per distinct predicate column
// against eval concurrently, then intersects same-column predicates
// before returning one PositionRange per column.
func evalColumnParallel(preds []Predicate, eval func(Predicate) PositionRange) ([]PositionRange, error) {
	byCol := make(map[int][]Predicate)
	var cols []int
	for _, p := range preds {
		if _, ok := byCol[p.Column]; !ok {
			cols = append(cols, p.Column)
		}
		byCol[p.Column] = append(byCol[p.Column], p)
	}

	results := make([]PositionRange, len(cols))
	var g errgroup.Group
	for i, col := range cols {
		i, col := i, col
		g.Go(func() error {
			colPreds := byCol[col]
			var perPred []PositionRange
			for _, p := range colPreds {
				perPred = append(perPred, eval(p))
			}
			results[i] = PositionRange{Positions: intersectRanges(perPred), Sorted: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Scan runs an IndexAwareScan per spec.md §4.4: consolidate predicates,
// probe main's GroupkeyIndex per indexed column (in parallel), intersect
// down to a base range, then repeat against delta's DeltaIndex and
// concatenate the delta results translated by +mainLen.
func Scan(preds []Predicate, groupIdx map[int]*GroupkeyIndex, deltaIdx map[int]*DeltaIndex, mainLen int) (PositionRange, error) {
	consolidated := consolidate(preds)

	var mainPreds, deltaPreds []Predicate
	for _, p := range consolidated {
		if _, ok := groupIdx[p.Column]; ok {
			mainPreds = append(mainPreds, p)
		}
		if _, ok := deltaIdx[p.Column]; ok {
			deltaPreds = append(deltaPreds, p)
		}
	}

	var mainResult []uint64
	if len(mainPreds) > 0 {
		ranges, err := evalColumnParallel(mainPreds, func(p Predicate) PositionRange {
			return evalGroupkey(groupIdx[p.Column], p)
		})
		if err != nil {
			return PositionRange{}, err
		}
		mainResult = intersectRanges(ranges)
	}

	var deltaResult []uint64
	if len(deltaPreds) > 0 {
		ranges, err := evalColumnParallel(deltaPreds, func(p Predicate) PositionRange {
			return evalDelta(deltaIdx[p.Column], p)
		})
		if err != nil {
			return PositionRange{}, err
		}
		deltaResult = intersectRanges(ranges)
	}

	out := make([]uint64, 0, len(mainResult)+len(deltaResult))
	out = append(out, mainResult...)
	for _, r := range deltaResult {
		out = append(out, r+uint64(mainLen))
	}
	return PositionRange{Positions: out, Sorted: false}, nil
}
