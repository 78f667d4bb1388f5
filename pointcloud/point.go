package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Vectors is a series of three-dimensional vectors.
type Vectors []r3.Vector

// Centroid returns the mean of the vectors, or the origin when there are none.
func (vs Vectors) Centroid() r3.Vector {
	if len(vs) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Mul(1 / float64(len(vs)))
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color. There
	// is no alpha channel right now and as such the data can be assumed to be
	// premultiplied.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.NRGBA
}

type basicData struct {
	hasColor bool
	c        color.NRGBA
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{hasColor: true, c: c}
}

func (bd *basicData) HasColor() bool {
	return bd.hasColor
}

func (bd *basicData) RGB255() (uint8, uint8, uint8) {
	return bd.c.R, bd.c.G, bd.c.B
}

func (bd *basicData) Color() color.NRGBA {
	return bd.c
}
