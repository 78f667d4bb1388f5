package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MakeTestBox samples the surface of an axis aligned box centered at center with the given edge
// lengths, on a grid with the given spacing.
func MakeTestBox(center, dims r3.Vector, spacing float64) []r3.Vector {
	half := dims.Mul(0.5)
	nx := max(2, int(math.Round(dims.X/spacing))+1)
	ny := max(2, int(math.Round(dims.Y/spacing))+1)
	nz := max(2, int(math.Round(dims.Z/spacing))+1)

	seen := map[[3]int]struct{}{}
	var pts []r3.Vector
	add := func(i, j, k int) {
		key := [3]int{i, j, k}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		pts = append(pts, r3.Vector{
			X: center.X - half.X + float64(i)*dims.X/float64(nx-1),
			Y: center.Y - half.Y + float64(j)*dims.Y/float64(ny-1),
			Z: center.Z - half.Z + float64(k)*dims.Z/float64(nz-1),
		})
	}
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			add(i, j, 0)
			add(i, j, nz-1)
		}
	}
	for i := 0; i < nx; i++ {
		for k := 0; k < nz; k++ {
			add(i, 0, k)
			add(i, ny-1, k)
		}
	}
	for j := 0; j < ny; j++ {
		for k := 0; k < nz; k++ {
			add(0, j, k)
			add(nx-1, j, k)
		}
	}
	return pts
}

// MakeTestPlane samples a square patch of the plane z = center.Z facing the origin.
func MakeTestPlane(center r3.Vector, side, spacing float64) []r3.Vector {
	n := int(math.Round(side/spacing)) + 1
	pts := make([]r3.Vector, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, r3.Vector{
				X: center.X - side/2 + float64(i)*spacing,
				Y: center.Y - side/2 + float64(j)*spacing,
				Z: center.Z,
			})
		}
	}
	return pts
}
