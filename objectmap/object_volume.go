package objectmap

import (
	"image/color"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/objectmap/spatialmath"
	"go.viam.com/objectmap/voxel"
)

// ObjectVolume is one object of the map: its sub-map, world pose, semantic label and bookkeeping.
// Volumes are owned by a Map and may only be touched inside one of its transactions.
type ObjectVolume struct {
	id     ObjectID
	submap SubMap
	pose   spatialmath.Pose
	class  SemanticClass

	createdAt    time.Time
	updatedAt    time.Time
	observations int
}

// ObjectInfo is a copy of an object's metadata that stays valid outside the map lock.
type ObjectInfo struct {
	ID           ObjectID
	Pose         spatialmath.Pose
	Class        SemanticClass
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Observations int
	Blocks       int
}

// ID returns the object's identity.
func (o *ObjectVolume) ID() ObjectID {
	return o.id
}

// SubMap returns the object's volumetric model.
func (o *ObjectVolume) SubMap() SubMap {
	return o.submap
}

// Pose returns the object to world pose.
func (o *ObjectVolume) Pose() spatialmath.Pose {
	return o.pose
}

// SemanticClass returns the object's label.
func (o *ObjectVolume) SemanticClass() SemanticClass {
	return o.class
}

// SetSemanticClass replaces the object's label.
func (o *ObjectVolume) SetSemanticClass(class SemanticClass) {
	o.class = class
}

// CreatedAt is when the object was inserted.
func (o *ObjectVolume) CreatedAt() time.Time {
	return o.createdAt
}

// UpdatedAt is when the object last received an observation or moved.
func (o *ObjectVolume) UpdatedAt() time.Time {
	return o.updatedAt
}

// Observations counts the fusion units integrated into the object.
func (o *ObjectVolume) Observations() int {
	return o.observations
}

// Info copies the object's metadata.
func (o *ObjectVolume) Info() ObjectInfo {
	return ObjectInfo{
		ID:           o.id,
		Pose:         o.pose,
		Class:        o.class,
		CreatedAt:    o.createdAt,
		UpdatedAt:    o.updatedAt,
		Observations: o.observations,
		Blocks:       len(o.submap.Blocks()),
	}
}

func (o *ObjectVolume) fuse(points []r3.Vector, colors []color.NRGBA, sensorPose spatialmath.Pose, now time.Time) []voxel.BlockIndex {
	touched := o.submap.Fuse(points, colors, sensorPose)
	o.observations++
	o.updatedAt = now
	return touched
}

func (o *ObjectVolume) transform(delta spatialmath.Pose, now time.Time) []voxel.BlockIndex {
	delta = spatialmath.Orthonormalize(delta)
	blocks := o.submap.Transform(delta)
	o.pose = spatialmath.Orthonormalize(spatialmath.Compose(o.pose, delta))
	if !delta.IsIdentity() {
		o.updatedAt = now
	}
	return blocks
}
