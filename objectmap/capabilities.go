package objectmap

import (
	"context"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/objectmap/registration"
	"go.viam.com/objectmap/spatialmath"
	"go.viam.com/objectmap/voxel"
)

// SubMap is the volumetric model owned by one object. Implementations need not be safe for
// concurrent use; the Map serializes every access.
type SubMap interface {
	voxel.VoxelSource

	// Fuse integrates sensor frame points observed from sensorPose and returns the touched blocks.
	Fuse(points []r3.Vector, colors []color.NRGBA, sensorPose spatialmath.Pose) []voxel.BlockIndex
	// Transform resamples the sub-map under a world frame rigid motion and returns its blocks.
	Transform(delta spatialmath.Pose) []voxel.BlockIndex
	// SampleSurface returns world frame points on the modelled surface.
	SampleSurface() []r3.Vector
	// PointInBand reports whether the world point lies in the observed band around the surface.
	PointInBand(p r3.Vector) bool
	Clear()

	Blocks() []voxel.BlockIndex
	MergeFrom(src voxel.VoxelSource) []voxel.BlockIndex
	GenerateMesh(onlyUpdated, clearUpdated bool) bool
	Mesh() *voxel.Mesh
	Stats() voxel.OccupancyStats
}

// SubMapFactory creates an empty sub-map for a new object.
type SubMapFactory func() SubMap

// NewLayerFactory returns a factory of TSDF layers with the given geometry.
func NewLayerFactory(config voxel.Config) SubMapFactory {
	return func() SubMap {
		return voxel.NewLayer(config)
	}
}

var _ SubMap = (*voxel.Layer)(nil)

// Registration estimates the rigid transform that aligns source onto target. It reports false
// when no trustworthy alignment was found.
type Registration interface {
	Align(ctx context.Context, source, target []r3.Vector, initialGuess spatialmath.Pose) (spatialmath.Pose, bool)
}

var _ Registration = (*registration.ICP)(nil)

// SegmentationSource describes what the upstream segmentation supplies along with each segment.
type SegmentationSource interface {
	// ProvidesIdentity is true when segments carry their object identity.
	ProvidesIdentity() bool
	// ProvidesMotion is true when segments carry ground truth motion.
	ProvidesMotion() bool
}

// Segmentation modes accepted by ParseSegmentationSource.
const (
	SegmentationInferred          = "inferred"
	SegmentationGroundTruth       = "ground_truth"
	SegmentationGroundTruthMotion = "ground_truth_motion"
)

type segmentationSource struct {
	identity bool
	motion   bool
}

func (s segmentationSource) ProvidesIdentity() bool { return s.identity }
func (s segmentationSource) ProvidesMotion() bool   { return s.motion }

// InferredSegmentation is a source whose segments carry neither identity nor motion.
func InferredSegmentation() SegmentationSource {
	return segmentationSource{}
}

// GroundTruthSegmentation is a source whose segments carry their identity and, if withMotion is
// set, their motion.
func GroundTruthSegmentation(withMotion bool) SegmentationSource {
	return segmentationSource{identity: true, motion: withMotion}
}

// ParseSegmentationSource maps a configured mode name to a source. The empty string is inferred.
func ParseSegmentationSource(mode string) (SegmentationSource, error) {
	switch mode {
	case "", SegmentationInferred:
		return InferredSegmentation(), nil
	case SegmentationGroundTruth:
		return GroundTruthSegmentation(false), nil
	case SegmentationGroundTruthMotion:
		return GroundTruthSegmentation(true), nil
	default:
		return nil, errors.Errorf("unknown segmentation mode %q", mode)
	}
}
