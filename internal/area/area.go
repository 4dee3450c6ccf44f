package area

import "fmt"

// Point identifies one cell of the world grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// String renders the point as "x.y.z", which doubles as the room topic segment.
func (p Point) String() string {
	return fmt.Sprintf("%d.%d.%d", p.X, p.Y, p.Z)
}

// Bounds clips computed areas to the world grid.
type Bounds struct {
	MinX, MaxX int
	MinY, MaxY int
}

// DefaultBounds covers the whole grid the stock world data uses.
var DefaultBounds = Bounds{MinX: 0, MaxX: 1023, MinY: 0, MaxY: 1023}

// Area is a square region of odd side length centered on a coordinate,
// clipped to world bounds. It is a pure query value, not a stored entity.
type Area struct {
	Center Point
	Side   int

	minX, maxX int
	minY, maxY int
}

// Compute builds the area of the given odd side length around center,
// clipped to bounds. Even side lengths are rounded down to the next odd
// value so the center cell stays centered.
func Compute(center Point, side int, bounds Bounds) Area {
	if side < 1 {
		side = 1
	}
	if side%2 == 0 {
		side--
	}
	half := side / 2

	a := Area{
		Center: center,
		Side:   side,
		minX:   center.X - half,
		maxX:   center.X + half,
		minY:   center.Y - half,
		maxY:   center.Y + half,
	}
	if a.minX < bounds.MinX {
		a.minX = bounds.MinX
	}
	if a.maxX > bounds.MaxX {
		a.maxX = bounds.MaxX
	}
	if a.minY < bounds.MinY {
		a.minY = bounds.MinY
	}
	if a.maxY > bounds.MaxY {
		a.maxY = bounds.MaxY
	}
	return a
}

// Width returns the clipped width of the area.
func (a Area) Width() int {
	return a.maxX - a.minX + 1
}

// Height returns the clipped height of the area.
func (a Area) Height() int {
	return a.maxY - a.minY + 1
}

// Points returns the inclusive coordinate set of the square in row-major
// order, top row (max Y) first. Index i of the result equals
// RelativePosition of that point.
func (a Area) Points() []Point {
	pts := make([]Point, 0, a.Width()*a.Height())
	for y := a.maxY; y >= a.minY; y-- {
		for x := a.minX; x <= a.maxX; x++ {
			pts = append(pts, Point{X: x, Y: y, Z: a.Center.Z})
		}
	}
	return pts
}

// Ring returns the peripheral coordinate set one cell beyond the clipped
// square: the cells whose visibility is about to begin or end as the center
// moves by one step.
func (a Area) Ring() []Point {
	minX, maxX := a.minX-1, a.maxX+1
	minY, maxY := a.minY-1, a.maxY+1

	pts := make([]Point, 0, 2*(maxX-minX+1)+2*(maxY-minY-1))
	for x := minX; x <= maxX; x++ {
		pts = append(pts, Point{X: x, Y: maxY, Z: a.Center.Z})
		pts = append(pts, Point{X: x, Y: minY, Z: a.Center.Z})
	}
	for y := minY + 1; y <= maxY-1; y++ {
		pts = append(pts, Point{X: minX, Y: y, Z: a.Center.Z})
		pts = append(pts, Point{X: maxX, Y: y, Z: a.Center.Z})
	}
	return pts
}

// RelativePosition returns the single integer index of p within the square's
// row-major layout, used to place entities onto the flattened client grid.
// The top-left cell (minX, maxY) is index 0.
func (a Area) RelativePosition(p Point) int {
	return (a.maxY-p.Y)*a.Width() + (p.X - a.minX)
}

// IsInside reports whether p falls within the area: Chebyshev distance from
// the center at most the half side, on the same z plane.
func (a Area) IsInside(p Point) bool {
	if p.Z != a.Center.Z {
		return false
	}
	return p.X >= a.minX && p.X <= a.maxX && p.Y >= a.minY && p.Y <= a.maxY
}

// Delta computes the subscription difference when an observer's area moves
// from prev to a: added holds the cells newly in range, removed the cells no
// longer in range. The result is bounded by the size of the peripheral ring
// for single-step moves.
func Delta(prev, next Area) (added, removed []Point) {
	for _, p := range next.Points() {
		if !prev.IsInside(p) {
			added = append(added, p)
		}
	}
	for _, p := range prev.Points() {
		if !next.IsInside(p) {
			removed = append(removed, p)
		}
	}
	return added, removed
}
