package voxel

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// BlockIndex addresses one block of VoxelsPerSide^3 voxels.
type BlockIndex struct {
	X, Y, Z int64
}

func (b BlockIndex) String() string {
	return fmt.Sprintf("[%d %d %d]", b.X, b.Y, b.Z)
}

// Less orders block indices lexicographically by X, Y then Z.
func (b BlockIndex) Less(o BlockIndex) bool {
	if b.X != o.X {
		return b.X < o.X
	}
	if b.Y != o.Y {
		return b.Y < o.Y
	}
	return b.Z < o.Z
}

// globalIndex addresses a single voxel anywhere in the layer.
type globalIndex struct {
	X, Y, Z int64
}

func floorDiv(a, n int64) int64 {
	q := a / n
	if (a%n != 0) && ((a < 0) != (n < 0)) {
		q--
	}
	return q
}

func (c Config) globalIndexOf(p r3.Vector) globalIndex {
	return globalIndex{
		X: int64(math.Floor(p.X / c.VoxelSize)),
		Y: int64(math.Floor(p.Y / c.VoxelSize)),
		Z: int64(math.Floor(p.Z / c.VoxelSize)),
	}
}

func (c Config) voxelCenter(g globalIndex) r3.Vector {
	return r3.Vector{
		X: (float64(g.X) + 0.5) * c.VoxelSize,
		Y: (float64(g.Y) + 0.5) * c.VoxelSize,
		Z: (float64(g.Z) + 0.5) * c.VoxelSize,
	}
}

// split returns the block containing g and the offset of g inside it.
func (c Config) split(g globalIndex) (BlockIndex, int) {
	n := int64(c.VoxelsPerSide)
	b := BlockIndex{X: floorDiv(g.X, n), Y: floorDiv(g.Y, n), Z: floorDiv(g.Z, n)}
	lx, ly, lz := g.X-b.X*n, g.Y-b.Y*n, g.Z-b.Z*n
	return b, int((lz*n+ly)*n + lx)
}

func (c Config) join(b BlockIndex, linear int) globalIndex {
	n := c.VoxelsPerSide
	lx := linear % n
	ly := (linear / n) % n
	lz := linear / (n * n)
	nn := int64(n)
	return globalIndex{X: b.X*nn + int64(lx), Y: b.Y*nn + int64(ly), Z: b.Z*nn + int64(lz)}
}

// BlockIndexOf returns the index of the block containing p.
func (c Config) BlockIndexOf(p r3.Vector) BlockIndex {
	b, _ := c.split(c.globalIndexOf(p))
	return b
}

// BlockCenter returns the center of the block in meters.
func (c Config) BlockCenter(b BlockIndex) r3.Vector {
	size := c.BlockSize()
	return r3.Vector{
		X: (float64(b.X) + 0.5) * size,
		Y: (float64(b.Y) + 0.5) * size,
		Z: (float64(b.Z) + 0.5) * size,
	}
}
