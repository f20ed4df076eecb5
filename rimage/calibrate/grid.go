package calibrate

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

type gridCoord struct{ i, j int }

// gridNode is a candidate placed on the board lattice, with the local lattice steps used to
// predict its neighbors.
type gridNode struct {
	idx  int
	u, v r2.Point
}

// maxSeeds bounds how many starting candidates are tried before giving up on an image.
const maxSeeds = 8

// orderGrid picks the candidates that form a complete cols x rows lattice and returns them row
// by row. The lattice is grown from a seed near the middle of the strongest candidates, predicting
// each neighbor from the local lattice steps so perspective is followed.
func orderGrid(candidates []Corner, p Pattern) ([]r2.Point, error) {
	SortCornerListByR(candidates)
	limit := len(candidates)
	if limit > 3*p.Size() {
		limit = 3 * p.Size()
	}
	pts := make([]r2.Point, limit)
	for i := range pts {
		pts[i] = candidates[i].Point()
	}

	var mid r2.Point
	for _, pt := range pts[:p.Size()] {
		mid = mid.Add(pt)
	}
	mid = mid.Mul(1 / float64(p.Size()))
	seeds := make([]int, len(pts))
	for i := range seeds {
		seeds[i] = i
	}
	sort.Slice(seeds, func(a, b int) bool {
		return pts[seeds[a]].Sub(mid).Norm() < pts[seeds[b]].Sub(mid).Norm()
	})
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}

	var lastErr error
	for _, seed := range seeds {
		grid, err := growGrid(pts, seed, p)
		if err == nil {
			return grid, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(ErrPatternNotFound, lastErr.Error())
}

func growGrid(pts []r2.Point, seed int, p Pattern) ([]r2.Point, error) {
	u, v, ok := seedBasis(pts, seed)
	if !ok {
		return nil, errors.New("no lattice around seed")
	}
	used := make([]bool, len(pts))
	used[seed] = true
	nodes := map[gridCoord]gridNode{{0, 0}: {idx: seed, u: u, v: v}}
	queue := []gridCoord{{0, 0}}
	steps := []gridCoord{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		n := nodes[c]
		from := pts[n.idx]
		for _, s := range steps {
			next := gridCoord{c.i + s.i, c.j + s.j}
			if _, ok := nodes[next]; ok {
				continue
			}
			step := n.u.Mul(float64(s.i)).Add(n.v.Mul(float64(s.j)))
			tol := 0.3 * math.Min(n.u.Norm(), n.v.Norm())
			found := nearest(pts, used, from.Add(step), tol)
			if found < 0 {
				continue
			}
			used[found] = true
			child := gridNode{idx: found, u: n.u, v: n.v}
			actual := pts[found].Sub(from)
			if s.i != 0 {
				child.u = actual.Mul(float64(s.i))
			} else {
				child.v = actual.Mul(float64(s.j))
			}
			nodes[next] = child
			queue = append(queue, next)
			if len(nodes) > 2*p.Size() {
				return nil, errors.New("lattice grew past the pattern")
			}
		}
	}

	minI, maxI, minJ, maxJ := 0, 0, 0, 0
	for c := range nodes {
		minI, maxI = min(minI, c.i), max(maxI, c.i)
		minJ, maxJ = min(minJ, c.j), max(maxJ, c.j)
	}
	spanI, spanJ := maxI-minI+1, maxJ-minJ+1
	if len(nodes) != p.Size() || spanI*spanJ != p.Size() {
		return nil, errors.Errorf("found a %dx%d lattice with %d corners, want %dx%d", spanI, spanJ, len(nodes), p.Cols, p.Rows)
	}

	at := func(i, j int) r2.Point { return pts[nodes[gridCoord{i, j}].idx] }
	// lattice direction of i and j in the image, averaged over the grid
	dirI := at(maxI, minJ).Sub(at(minI, minJ)).Add(at(maxI, maxJ).Sub(at(minI, maxJ)))
	dirJ := at(minI, maxJ).Sub(at(minI, minJ)).Add(at(maxI, maxJ).Sub(at(maxI, minJ)))

	// colAlongI reports whether lattice axis i runs along pattern rows (has Cols corners).
	var colAlongI bool
	switch {
	case spanI == p.Cols && spanJ == p.Rows && spanI != spanJ:
		colAlongI = true
	case spanI == p.Rows && spanJ == p.Cols && spanI != spanJ:
		colAlongI = false
	case spanI == p.Cols && spanJ == p.Rows:
		// square pattern: rows run along the more horizontal axis
		colAlongI = math.Abs(dirI.X)*dirJ.Norm() >= math.Abs(dirJ.X)*dirI.Norm()
	default:
		return nil, errors.Errorf("found a %dx%d lattice, want %dx%d", spanI, spanJ, p.Cols, p.Rows)
	}

	colDir, rowDir := dirI, dirJ
	if !colAlongI {
		colDir, rowDir = dirJ, dirI
	}
	// corners advance left to right along a row (top to bottom if the row is vertical) and rows
	// follow so that the board is seen from the front
	colSign := 1
	if math.Abs(colDir.X) >= math.Abs(colDir.Y) {
		if colDir.X < 0 {
			colSign = -1
		}
	} else if colDir.Y < 0 {
		colSign = -1
	}
	rowSign := 1
	if colDir.Mul(float64(colSign)).Cross(rowDir) < 0 {
		rowSign = -1
	}

	out := make([]r2.Point, 0, p.Size())
	for row := 0; row < p.Rows; row++ {
		for col := 0; col < p.Cols; col++ {
			c, r := col, row
			if colSign < 0 {
				c = p.Cols - 1 - col
			}
			if rowSign < 0 {
				r = p.Rows - 1 - row
			}
			if colAlongI {
				out = append(out, at(minI+c, minJ+r))
			} else {
				out = append(out, at(minI+r, minJ+c))
			}
		}
	}
	return out, nil
}

// seedBasis returns the steps from the seed to its nearest neighbor and to the nearest neighbor
// in a clearly different direction.
func seedBasis(pts []r2.Point, seed int) (r2.Point, r2.Point, bool) {
	type neighbor struct {
		d   r2.Point
		len float64
	}
	var ns []neighbor
	for i, pt := range pts {
		if i == seed {
			continue
		}
		d := pt.Sub(pts[seed])
		ns = append(ns, neighbor{d, d.Norm()})
	}
	if len(ns) < 2 {
		return r2.Point{}, r2.Point{}, false
	}
	sort.Slice(ns, func(a, b int) bool { return ns[a].len < ns[b].len })
	u := ns[0].d
	if ns[0].len == 0 {
		return r2.Point{}, r2.Point{}, false
	}
	for _, n := range ns[1:] {
		cos := math.Abs(u.Dot(n.d)) / (ns[0].len * n.len)
		if cos < 0.5 && n.len < 2*ns[0].len {
			return u, n.d, true
		}
	}
	return r2.Point{}, r2.Point{}, false
}

func nearest(pts []r2.Point, used []bool, target r2.Point, tol float64) int {
	best, bestDist := -1, tol
	for i, pt := range pts {
		if used[i] {
			continue
		}
		if d := pt.Sub(target).Norm(); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
