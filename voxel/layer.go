package voxel

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"

	"go.viam.com/objectmap/spatialmath"
)

// weights below this are treated as never observed.
const unknownWeight = 1e-6

// Voxel is one cell of the distance field. Distance is the truncated signed distance to the
// nearest observed surface, positive in front of it.
type Voxel struct {
	Distance float32
	Weight   float32
	Color    color.NRGBA
}

// Observed reports whether the voxel has received any measurement.
func (v Voxel) Observed() bool {
	return v.Weight >= unknownWeight
}

type block struct {
	voxels  []Voxel
	updated bool
}

// VoxelSource is anything that can enumerate observed voxels by their centers.
type VoxelSource interface {
	IterateVoxels(fn func(center r3.Vector, v Voxel) bool)
}

// Layer is a sparse TSDF stored in world coordinates. It is not safe for concurrent use.
type Layer struct {
	config Config
	blocks map[BlockIndex]*block
	mesh   *Mesh
}

// NewLayer returns an empty layer.
func NewLayer(config Config) *Layer {
	return &Layer{
		config: config,
		blocks: map[BlockIndex]*block{},
		mesh:   NewMesh(),
	}
}

// Config returns the layer geometry.
func (l *Layer) Config() Config {
	return l.config
}

// NumBlocks returns the number of allocated blocks.
func (l *Layer) NumBlocks() int {
	return len(l.blocks)
}

// Blocks returns the allocated block indices in sorted order.
func (l *Layer) Blocks() []BlockIndex {
	return sortedIndices(l.blocks)
}

func sortedIndices[V any](m map[BlockIndex]V) []BlockIndex {
	out := make([]BlockIndex, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (l *Layer) newBlock() *block {
	n := l.config.VoxelsPerSide
	return &block{voxels: make([]Voxel, n*n*n)}
}

func lookup(config Config, blocks map[BlockIndex]*block, g globalIndex) (*Voxel, bool) {
	b, linear := config.split(g)
	blk, ok := blocks[b]
	if !ok {
		return nil, false
	}
	return &blk.voxels[linear], true
}

func (l *Layer) allocate(g globalIndex) (*Voxel, BlockIndex) {
	b, linear := l.config.split(g)
	blk, ok := l.blocks[b]
	if !ok {
		blk = l.newBlock()
		l.blocks[b] = blk
	}
	blk.updated = true
	return &blk.voxels[linear], b
}

// VoxelAt returns the voxel containing p, if its block is allocated.
func (l *Layer) VoxelAt(p r3.Vector) (Voxel, bool) {
	v, ok := lookup(l.config, l.blocks, l.config.globalIndexOf(p))
	if !ok {
		return Voxel{}, false
	}
	return *v, true
}

func (l *Layer) integrate(v *Voxel, sdf, weight float64, c color.NRGBA) {
	w0 := float64(v.Weight)
	w1 := w0 + weight
	v.Distance = float32((float64(v.Distance)*w0 + sdf*weight) / w1)
	if c.A != 0 {
		if v.Color.A == 0 {
			v.Color = c
		} else {
			blend := func(a, b uint8) uint8 {
				return uint8(math.Round((float64(a)*w0 + float64(b)*weight) / w1))
			}
			v.Color = color.NRGBA{R: blend(v.Color.R, c.R), G: blend(v.Color.G, c.G), B: blend(v.Color.B, c.B), A: 255}
		}
	}
	v.Weight = float32(math.Min(w1, l.config.MaxWeight))
}

// Fuse integrates sensor frame points, observed from sensorPose, into the layer. Each point
// updates the voxels along its viewing ray within the truncation band around the measured depth.
// colors may be nil or shorter than points. The touched blocks are returned in sorted order.
func (l *Layer) Fuse(points []r3.Vector, colors []color.NRGBA, sensorPose spatialmath.Pose) []BlockIndex {
	trunc := l.config.TruncationDistance
	step := l.config.VoxelSize / 2
	origin := sensorPose.Point()
	touched := map[BlockIndex]struct{}{}

	for i, pt := range points {
		world := sensorPose.Transform(pt)
		ray := world.Sub(origin)
		depth := ray.Norm()
		if depth < 1e-9 || (l.config.MaxRayLength > 0 && depth > l.config.MaxRayLength) {
			continue
		}
		dir := ray.Mul(1 / depth)
		var c color.NRGBA
		if i < len(colors) {
			c = colors[i]
			c.A = 255
		}

		start := math.Max(0, depth-trunc)
		steps := int(math.Ceil((depth + trunc - start) / step))
		var last globalIndex
		for k := 0; k <= steps; k++ {
			g := l.config.globalIndexOf(origin.Add(dir.Mul(start + float64(k)*step)))
			if k > 0 && g == last {
				continue
			}
			last = g
			sdf := depth - l.config.voxelCenter(g).Sub(origin).Dot(dir)
			if sdf < -trunc {
				continue
			}
			sdf = math.Min(sdf, trunc)
			v, b := l.allocate(g)
			l.integrate(v, sdf, 1, c)
			touched[b] = struct{}{}
		}
	}
	return sortedIndices(touched)
}

// Transform resamples the layer under the world frame rigid motion delta: the voxel that ends up
// at x is the one previously at delta^-1(x). Every resulting block is reported as touched.
func (l *Layer) Transform(delta spatialmath.Pose) []BlockIndex {
	if delta.IsIdentity() || len(l.blocks) == 0 {
		return l.Blocks()
	}
	inv := spatialmath.PoseInverse(delta)
	size := l.config.BlockSize()

	candidates := map[BlockIndex]struct{}{}
	for b := range l.blocks {
		lo := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
		hi := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
		for corner := 0; corner < 8; corner++ {
			p := delta.Transform(r3.Vector{
				X: (float64(b.X) + float64(corner&1)) * size,
				Y: (float64(b.Y) + float64((corner>>1)&1)) * size,
				Z: (float64(b.Z) + float64((corner>>2)&1)) * size,
			})
			lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
			hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
		}
		bLo, bHi := l.config.BlockIndexOf(lo), l.config.BlockIndexOf(hi)
		for x := bLo.X; x <= bHi.X; x++ {
			for y := bLo.Y; y <= bHi.Y; y++ {
				for z := bLo.Z; z <= bHi.Z; z++ {
					candidates[BlockIndex{X: x, Y: y, Z: z}] = struct{}{}
				}
			}
		}
	}

	resampled := make(map[BlockIndex]*block, len(l.blocks))
	n := l.config.VoxelsPerSide
	for b := range candidates {
		var nb *block
		for linear := 0; linear < n*n*n; linear++ {
			src := inv.Transform(l.config.voxelCenter(l.config.join(b, linear)))
			sv, ok := lookup(l.config, l.blocks, l.config.globalIndexOf(src))
			if !ok || !sv.Observed() {
				continue
			}
			if nb == nil {
				nb = l.newBlock()
				nb.updated = true
			}
			nb.voxels[linear] = *sv
		}
		if nb != nil {
			resampled[b] = nb
		}
	}
	l.blocks = resampled
	return l.Blocks()
}

// IterateVoxels calls fn with the center of every observed voxel, in block order, until fn
// returns false.
func (l *Layer) IterateVoxels(fn func(center r3.Vector, v Voxel) bool) {
	for _, b := range l.Blocks() {
		blk := l.blocks[b]
		for linear, v := range blk.voxels {
			if !v.Observed() {
				continue
			}
			if !fn(l.config.voxelCenter(l.config.join(b, linear)), v) {
				return
			}
		}
	}
}

// MergeFrom fuses every observed voxel of src into the layer, weighting both sides by their
// accumulated weights. The touched blocks are returned in sorted order.
func (l *Layer) MergeFrom(src VoxelSource) []BlockIndex {
	touched := map[BlockIndex]struct{}{}
	src.IterateVoxels(func(center r3.Vector, v Voxel) bool {
		dst, b := l.allocate(l.config.globalIndexOf(center))
		l.integrate(dst, float64(v.Distance), float64(v.Weight), v.Color)
		touched[b] = struct{}{}
		return true
	})
	return sortedIndices(touched)
}

// PointInBand reports whether p falls in an observed voxel strictly inside the truncation band.
func (l *Layer) PointInBand(p r3.Vector) bool {
	v, ok := lookup(l.config, l.blocks, l.config.globalIndexOf(p))
	if !ok || !v.Observed() {
		return false
	}
	return math.Abs(float64(v.Distance)) < l.config.TruncationDistance
}

var axes = [3]globalIndex{{X: 1}, {Y: 1}, {Z: 1}}

// blockSurface interpolates the zero crossings between each observed voxel of the block and its
// +x, +y and +z neighbors.
func (l *Layer) blockSurface(b BlockIndex, blk *block) ([]r3.Vector, []color.NRGBA) {
	var verts []r3.Vector
	var colors []color.NRGBA
	vs := l.config.VoxelSize
	for linear, v := range blk.voxels {
		if !v.Observed() {
			continue
		}
		g := l.config.join(b, linear)
		center := l.config.voxelCenter(g)
		d0 := float64(v.Distance)
		if d0 == 0 {
			verts = append(verts, center)
			colors = append(colors, v.Color)
			continue
		}
		for _, axis := range axes {
			nv, ok := lookup(l.config, l.blocks, globalIndex{X: g.X + axis.X, Y: g.Y + axis.Y, Z: g.Z + axis.Z})
			if !ok || !nv.Observed() {
				continue
			}
			d1 := float64(nv.Distance)
			if d0*d1 >= 0 || math.Abs(d0-d1) >= l.config.TruncationDistance {
				continue
			}
			frac := d0 / (d0 - d1)
			verts = append(verts, center.Add(r3.Vector{
				X: float64(axis.X) * vs * frac,
				Y: float64(axis.Y) * vs * frac,
				Z: float64(axis.Z) * vs * frac,
			}))
			colors = append(colors, v.Color)
		}
	}
	return verts, colors
}

// SampleSurface returns points on the reconstructed surface, in block order.
func (l *Layer) SampleSurface() []r3.Vector {
	var out []r3.Vector
	for _, b := range l.Blocks() {
		verts, _ := l.blockSurface(b, l.blocks[b])
		out = append(out, verts...)
	}
	return out
}

// GenerateMesh refreshes the surface mesh. With onlyUpdated only blocks changed since the last
// clearing pass are recomputed; clearUpdated resets their changed flags. It reports whether the
// mesh changed.
func (l *Layer) GenerateMesh(onlyUpdated, clearUpdated bool) bool {
	changed := false
	for b := range l.mesh.blocks {
		if _, ok := l.blocks[b]; !ok {
			delete(l.mesh.blocks, b)
			changed = true
		}
	}
	for _, b := range l.Blocks() {
		blk := l.blocks[b]
		if onlyUpdated && !blk.updated {
			continue
		}
		verts, colors := l.blockSurface(b, blk)
		l.mesh.blocks[b] = &MeshBlock{Vertices: verts, Colors: colors}
		changed = true
		if clearUpdated {
			blk.updated = false
		}
	}
	return changed
}

// Mesh returns the most recently generated mesh. It is owned by the layer.
func (l *Layer) Mesh() *Mesh {
	return l.mesh
}

// Stats counts the allocated voxels by state.
func (l *Layer) Stats() OccupancyStats {
	stats := OccupancyStats{Blocks: len(l.blocks)}
	half := l.config.VoxelSize / 2
	for _, blk := range l.blocks {
		for _, v := range blk.voxels {
			stats.Voxels++
			switch {
			case !v.Observed():
				stats.Unknown++
			case math.Abs(float64(v.Distance)) < half:
				stats.Occupied++
			default:
				stats.Free++
			}
		}
	}
	return stats
}

// Clear drops every block and the mesh.
func (l *Layer) Clear() {
	l.blocks = map[BlockIndex]*block{}
	l.mesh = NewMesh()
}
