package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is a nearest neighbor index over a fixed set of positions.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// NewKDTreeFromVectors indexes the given positions.
func NewKDTreeFromVectors(pts []r3.Vector) *KDTree {
	points := make(kdtree.Points, 0, len(pts))
	for _, p := range pts {
		points = append(points, kdtree.Point{p.X, p.Y, p.Z})
	}
	if len(points) == 0 {
		return &KDTree{}
	}
	return &KDTree{tree: kdtree.New(points, false), size: len(points)}
}

// NewKDTree indexes the positions of a point cloud.
func NewKDTree(cloud PointCloud) *KDTree {
	return NewKDTreeFromVectors(CloudToVectors(cloud))
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestNeighbor returns the closest indexed point to p and its euclidean distance. The last
// return is false when the tree is empty.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (r3.Vector, float64, bool) {
	if kd.tree == nil {
		return r3.Vector{}, math.Inf(1), false
	}
	c, dist2 := kd.tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
	nearest, ok := c.(kdtree.Point)
	if !ok {
		return r3.Vector{}, math.Inf(1), false
	}
	return r3.Vector{X: nearest[0], Y: nearest[1], Z: nearest[2]}, math.Sqrt(dist2), true
}
