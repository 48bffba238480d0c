package waveform

// MaxPersist is the default number of X-Y points kept across frames
const MaxPersist = 5000

// Persistence is a bounded history of points; once full the oldest points are
// overwritten first.  It is not safe for concurrent use.
type Persistence struct {
	pts  []Point
	head int // index of the oldest point once full
	max  int
}

// NewPersistence returns a history holding at most max points, MaxPersist if max <= 0
func NewPersistence(max int) *Persistence {
	if max <= 0 {
		max = MaxPersist
	}
	return &Persistence{max: max, pts: make([]Point, 0, max)}
}

// Add appends points, dropping the oldest beyond the limit
func (p *Persistence) Add(pts ...Point) {
	if len(pts) >= p.max {
		p.pts = append(p.pts[:0], pts[len(pts)-p.max:]...)
		p.head = 0
		return
	}
	for _, pt := range pts {
		if len(p.pts) < p.max {
			p.pts = append(p.pts, pt)
			continue
		}
		p.pts[p.head] = pt
		p.head = (p.head + 1) % p.max
	}
}

// Points returns a copy of the history, oldest first
func (p *Persistence) Points() []Point {
	out := make([]Point, 0, len(p.pts))
	out = append(out, p.pts[p.head:]...)
	return append(out, p.pts[:p.head]...)
}

// Len is the number of points held
func (p *Persistence) Len() int {
	return len(p.pts)
}

// Clear drops every point
func (p *Persistence) Clear() {
	p.pts = p.pts[:0]
	p.head = 0
}
