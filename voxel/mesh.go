package voxel

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// MeshBlock holds the surface vertices extracted from one block.
type MeshBlock struct {
	Vertices []r3.Vector
	Colors   []color.NRGBA
}

// Mesh is a per block collection of surface vertices.
type Mesh struct {
	blocks map[BlockIndex]*MeshBlock
}

// NewMesh returns an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{blocks: map[BlockIndex]*MeshBlock{}}
}

// Blocks returns the indices of the meshed blocks in sorted order.
func (m *Mesh) Blocks() []BlockIndex {
	return sortedIndices(m.blocks)
}

// Block returns the mesh of one block.
func (m *Mesh) Block(b BlockIndex) (*MeshBlock, bool) {
	mb, ok := m.blocks[b]
	return mb, ok
}

// NumVertices returns the total vertex count.
func (m *Mesh) NumVertices() int {
	total := 0
	for _, mb := range m.blocks {
		total += len(mb.Vertices)
	}
	return total
}

// Vertices flattens the mesh in block order.
func (m *Mesh) Vertices() ([]r3.Vector, []color.NRGBA) {
	verts := make([]r3.Vector, 0, m.NumVertices())
	colors := make([]color.NRGBA, 0, m.NumVertices())
	for _, b := range m.Blocks() {
		mb := m.blocks[b]
		verts = append(verts, mb.Vertices...)
		colors = append(colors, mb.Colors...)
	}
	return verts, colors
}

// Clone returns a deep copy that can be read without holding the owner's lock.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{blocks: make(map[BlockIndex]*MeshBlock, len(m.blocks))}
	for b, mb := range m.blocks {
		out.blocks[b] = &MeshBlock{
			Vertices: append([]r3.Vector(nil), mb.Vertices...),
			Colors:   append([]color.NRGBA(nil), mb.Colors...),
		}
	}
	return out
}
