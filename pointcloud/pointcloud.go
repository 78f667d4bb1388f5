// Package pointcloud defines a point cloud and provides an implementation for one, along with
// PCD file support and a nearest neighbor index.
//
// Positions are in meters.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData creates a new MetaData with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds and flags with the given point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil && data.HasColor() {
		meta.HasColor = true
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
}

// PointCloud is a general purpose container of points. It does not
// dictate whether or not the cloud is sparse or dense. The current
// basic implementation is sparse however.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// CloudToVectors returns the positions of every point in the cloud, in iteration order.
func CloudToVectors(cloud PointCloud) []r3.Vector {
	out := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		out = append(out, p)
		return true
	})
	return out
}

// CloudToColoredVectors returns the positions and colors of every point in the cloud. The colors
// slice is nil when the cloud carries no color.
func CloudToColoredVectors(cloud PointCloud) ([]r3.Vector, []color.NRGBA) {
	pts := make([]r3.Vector, 0, cloud.Size())
	var colors []color.NRGBA
	hasColor := cloud.MetaData().HasColor
	if hasColor {
		colors = make([]color.NRGBA, 0, cloud.Size())
	}
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, p)
		if hasColor {
			c := color.NRGBA{255, 255, 255, 255}
			if d != nil && d.HasColor() {
				c = d.Color()
			}
			colors = append(colors, c)
		}
		return true
	})
	return pts, colors
}

// NewFromVectors builds a cloud from the given positions and optional per-point colors.
func NewFromVectors(pts []r3.Vector, colors []color.NRGBA) (PointCloud, error) {
	pc := NewWithPrealloc(len(pts))
	for i, p := range pts {
		d := NewBasicData()
		if i < len(colors) {
			d = NewColoredData(colors[i])
		}
		if err := pc.Set(p, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
