/*package geom contains the spatial primitives shared by the octree and the
deposition code: axis-aligned boxes and the octant codes used to name their
eight children.
*/
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Octant codes are ix | iy<<1 | iz<<2, where each bit is set for the upper
// half of the parent along that axis.
const (
	OctantX = 1 << iota
	OctantY
	OctantZ

	Octants = 8
)

// Box is an axis-aligned box. Boxes are not required to be cubes, so each
// axis carries its own half-width.
type Box struct {
	Center, HalfWidth r3.Vec
}

// NewBox returns the box spanning [min, max] along each axis.
func NewBox(min, max r3.Vec) Box {
	return Box{
		Center:    r3.Scale(0.5, r3.Add(min, max)),
		HalfWidth: r3.Scale(0.5, r3.Sub(max, min)),
	}
}

// Cube returns the cube centered on c which extends lim in every direction.
func Cube(c r3.Vec, lim float64) Box {
	return Box{c, r3.Vec{X: lim, Y: lim, Z: lim}}
}

// Min returns the lowermost corner of the box.
func (b Box) Min() r3.Vec { return r3.Sub(b.Center, b.HalfWidth) }

// Max returns the uppermost corner of the box.
func (b Box) Max() r3.Vec { return r3.Add(b.Center, b.HalfWidth) }

// Volume returns the volume of the box.
func (b Box) Volume() float64 {
	return 8 * b.HalfWidth.X * b.HalfWidth.Y * b.HalfWidth.Z
}

// Valid returns true if every half-width is positive and finite.
func (b Box) Valid() bool {
	for _, h := range [3]float64{b.HalfWidth.X, b.HalfWidth.Y, b.HalfWidth.Z} {
		if !(h > 0) || math.IsInf(h, 0) {
			return false
		}
	}
	return true
}

// Contains returns true if x lies within the closed box. NaN coordinates are
// never contained.
func (b Box) Contains(x r3.Vec) bool {
	lo, hi := b.Min(), b.Max()
	return lo.X <= x.X && x.X <= hi.X &&
		lo.Y <= x.Y && x.Y <= hi.Y &&
		lo.Z <= x.Z && x.Z <= hi.Z
}

// OctantOf returns the code of the child octant containing x. Points on a
// splitting plane belong to the upper octant.
func (b Box) OctantOf(x r3.Vec) int {
	code := 0
	if x.X >= b.Center.X {
		code |= OctantX
	}
	if x.Y >= b.Center.Y {
		code |= OctantY
	}
	if x.Z >= b.Center.Z {
		code |= OctantZ
	}
	return code
}

// Octant returns the child box with the given octant code.
func (b Box) Octant(code int) Box {
	if code < 0 || code >= Octants {
		panic(fmt.Sprintf("Octant code %d is outside [0, %d).", code, Octants))
	}

	h := r3.Scale(0.5, b.HalfWidth)
	c := b.Center
	c.X += sign(code&OctantX != 0) * h.X
	c.Y += sign(code&OctantY != 0) * h.Y
	c.Z += sign(code&OctantZ != 0) * h.Z
	return Box{c, h}
}

func (b Box) String() string {
	lo, hi := b.Min(), b.Max()
	return fmt.Sprintf(
		"[%g, %g] x [%g, %g] x [%g, %g]", lo.X, hi.X, lo.Y, hi.Y, lo.Z, hi.Z,
	)
}

func sign(upper bool) float64 {
	if upper {
		return 1
	}
	return -1
}
