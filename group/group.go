// Package group clusters source candidates that are too close to be
// sampled independently.
package group

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/CraigKelly/ptgibbs/skymap"
)

// ArcminPerRadian converts flat sky distances to arc minutes
const ArcminPerRadian = 180 * 60 / math.Pi

// A Group is a list of candidate indices, sorted ascending
type Group []int

// candidate is a position in arcmin tagged with its input index
type candidate struct {
	pos [2]float64
	idx int
}

// Compare implements the kdtree.Comparable interface
func (c candidate) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	return c.pos[d] - o.(candidate).pos[d]
}

// Dims is always 2: (dec, ra)
func (c candidate) Dims() int { return 2 }

// Distance is the squared flat sky distance in arcmin^2
func (c candidate) Distance(o kdtree.Comparable) float64 {
	q := o.(candidate)
	dy := c.pos[0] - q.pos[0]
	dx := c.pos[1] - q.pos[1]
	return dy*dy + dx*dx
}

type candidates []candidate

func (c candidates) Index(i int) kdtree.Comparable         { return c[i] }
func (c candidates) Len() int                              { return len(c) }
func (c candidates) Slice(start, end int) kdtree.Interface { return c[start:end] }

// Pivot implements the kdtree.Interface method
func (c candidates) Pivot(d kdtree.Dim) int {
	p := plane{candidates: c, Dim: d}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// plane implements sort.Interface and kdtree.SortSlicer along one axis
type plane struct {
	candidates
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.candidates[i].pos[p.Dim] < p.candidates[j].pos[p.Dim]
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{candidates: p.candidates[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.candidates[i], p.candidates[j] = p.candidates[j], p.candidates[i]
}

// unionFind is a disjoint set forest with path halving
type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller index becomes the root so roots are stable
	if rb < ra {
		ra, rb = rb, ra
	}
	u[rb] = ra
}

// Build groups positions (radians) that are linked by chains of pairwise
// flat sky distances below minDist arcmin. Every index appears in exactly
// one group. Groups are ordered by their smallest member.
func Build(pos []skymap.Pos, minDist float64) ([]Group, error) {
	if minDist < 0 || math.IsNaN(minDist) {
		return nil, errors.Errorf("Invalid grouping distance %g", minDist)
	}
	if len(pos) == 0 {
		return nil, nil
	}

	pts := make(candidates, len(pos))
	for i, p := range pos {
		pts[i] = candidate{pos: [2]float64{p[0] * ArcminPerRadian, p[1] * ArcminPerRadian}, idx: i}
	}
	query := append(candidates(nil), pts...)
	tree := kdtree.New(pts, false)

	uf := newUnionFind(len(pos))
	limit := minDist * minDist
	for _, q := range query {
		keep := kdtree.NewDistKeeper(limit)
		tree.NearestSet(keep, q)
		for _, found := range keep.Heap {
			// The keeper holds a sentinel with no Comparable at its limit
			if found.Comparable == nil || found.Dist >= limit {
				continue
			}
			uf.union(q.idx, found.Comparable.(candidate).idx)
		}
	}

	byRoot := make(map[int]Group)
	for i := range pos {
		r := uf.find(i)
		byRoot[r] = append(byRoot[r], i)
	}
	groups := make([]Group, 0, len(byRoot))
	for _, g := range byRoot {
		sort.Ints(g)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups, nil
}

// Bounds returns the (min, max) corners of the member positions
func (g Group) Bounds(pos []skymap.Pos) [2]skymap.Pos {
	lo, hi := pos[g[0]], pos[g[0]]
	for _, i := range g[1:] {
		for d := 0; d < 2; d++ {
			lo[d] = math.Min(lo[d], pos[i][d])
			hi[d] = math.Max(hi[d], pos[i][d])
		}
	}
	return [2]skymap.Pos{lo, hi}
}

// Positions picks out the member positions
func (g Group) Positions(pos []skymap.Pos) []skymap.Pos {
	res := make([]skymap.Pos, len(g))
	for k, i := range g {
		res[k] = pos[i]
	}
	return res
}
