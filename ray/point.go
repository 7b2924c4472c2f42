package ray

import "math"

// Point is a position in 3-space. It is a plain value; every method returns
// a new Point.
type Point struct {
	X, Y, Z float64
}

// NewPoint creates a new Point
func NewPoint(x, y, z float64) Point {
	return Point{X: x, Y: y, Z: z}
}

// Add returns the component-wise sum
func (p Point) Add(o Point) Point {
	return Point{p.X + o.X, p.Y + o.Y, p.Z + o.Z}
}

// Sub returns the component-wise difference
func (p Point) Sub(o Point) Point {
	return Point{p.X - o.X, p.Y - o.Y, p.Z - o.Z}
}

// Scale returns p multiplied by s
func (p Point) Scale(s float64) Point {
	return Point{p.X * s, p.Y * s, p.Z * s}
}

// Dot returns the dot product
func (p Point) Dot(o Point) float64 {
	return p.X*o.X + p.Y*o.Y + p.Z*o.Z
}

// Length returns the Euclidean norm
func (p Point) Length() float64 {
	return math.Sqrt(p.Dot(p))
}

// Lerp returns the point at parameter t on the segment p→q.
func (p Point) Lerp(q Point, t float64) Point {
	return Point{p.X + (q.X-p.X)*t, p.Y + (q.Y-p.Y)*t, p.Z + (q.Z-p.Z)*t}
}

// At returns component i (0=X, 1=Y, 2=Z).
func (p Point) At(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// Equal compares bit-exact, so -0 and +0 differ. Any NaN equals any NaN.
func (p Point) Equal(o Point) bool {
	return sameFloat(p.X, o.X) && sameFloat(p.Y, o.Y) && sameFloat(p.Z, o.Z)
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Float64bits(a) == math.Float64bits(b)
}
