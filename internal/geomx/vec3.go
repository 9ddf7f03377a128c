package geomx

import "math"

// Vec3 is a Cartesian displacement or position.
type Vec3 [3]float64

func (a Vec3) Add(b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func (a Vec3) Sub(b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func (a Vec3) Scale(s float64) Vec3 {
	return Vec3{a[0] * s, a[1] * s, a[2] * s}
}

func (a Vec3) Dot(b Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func (a Vec3) NormSq() float64 { return a.Dot(a) }

func (a Vec3) Norm() float64 { return math.Sqrt(a.NormSq()) }

func (a Vec3) DistSq(b Vec3) float64 { return a.Sub(b).NormSq() }

func (a Vec3) Dist(b Vec3) float64 { return math.Sqrt(a.DistSq(b)) }
