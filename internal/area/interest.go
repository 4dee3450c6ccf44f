package area

// Interest classifies an event's relevance to an observer.
type Interest int

const (
	// None means the event is outside the observer's view and is dropped.
	None Interest = iota
	// Local means the event originated in the observer's own cell.
	Local
	// Remote means the event is within view radius but not in the same cell.
	Remote
)

func (i Interest) String() string {
	switch i {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "none"
	}
}

// Classify derives the interest of an event originating at origin for an
// observer standing at observer, given the observer's view radius.
//
// Distance is Chebyshev (max of |dx|, |dy|), so an origin is in view exactly
// when it falls inside the observer's view square of side 2*viewRadius+1.
// A z-axis difference counts as distance only when x and y are unchanged, so
// looking straight up or down one plane is a remote event while diagonal
// cross-plane events are not visible at all.
func Classify(observer, origin Point, viewRadius int) Interest {
	dx := abs(origin.X - observer.X)
	dy := abs(origin.Y - observer.Y)
	dz := abs(origin.Z - observer.Z)

	if dx == 0 && dy == 0 {
		if dz == 0 {
			return Local
		}
		if dz <= viewRadius {
			return Remote
		}
		return None
	}

	if dz != 0 {
		return None
	}

	d := dx
	if dy > d {
		d = dy
	}
	if d <= viewRadius {
		return Remote
	}
	return None
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
