package objectmap

import (
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/spatialmath"
)

// Segment is one per frame observation of a single object, cut out by an external segmentation
// source. Points are in the sensor frame and SensorPose takes them to world. A Segment owns no map
// state and is not modified by the map.
type Segment struct {
	Points []r3.Vector
	// Colors is optional. When set it is parallel to Points.
	Colors     []color.NRGBA
	SensorPose spatialmath.Pose
	Class      SemanticClass
	// ObjectID is the externally supplied identity in ground truth mode. It is ignored when
	// identities are inferred.
	ObjectID ObjectID
	// Moved and Motion carry ground truth motion. Motion is the world frame rigid motion of the
	// object since it was last observed.
	Moved  bool
	Motion spatialmath.Pose
}

// NewSegmentFromPointCloud builds a segment out of a sensor frame point cloud.
func NewSegmentFromPointCloud(cloud pointcloud.PointCloud, sensorPose spatialmath.Pose) *Segment {
	seg := &Segment{SensorPose: sensorPose}
	if cloud.MetaData().HasColor {
		seg.Points, seg.Colors = pointcloud.CloudToColoredVectors(cloud)
	} else {
		seg.Points = pointcloud.CloudToVectors(cloud)
	}
	return seg
}

// Size returns the number of points.
func (s *Segment) Size() int {
	return len(s.Points)
}

// WorldPoints returns the points expressed in the world frame.
func (s *Segment) WorldPoints() []r3.Vector {
	return s.SensorPose.TransformAll(s.Points)
}

// fillColor is used for points of an uncolored segment that is merged with colored ones.
var fillColor = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// MergeUnit is the set of segments of one frame that resolved to the same object. Its points are
// the concatenation of the segments' points in segment order, expressed in the first segment's
// sensor frame, so the object is fused exactly once per frame.
type MergeUnit struct {
	ID       ObjectID
	Segments []*Segment

	Points     []r3.Vector
	Colors     []color.NRGBA
	SensorPose spatialmath.Pose
	// Class is the first non background class among the segments.
	Class SemanticClass
	// Moved is set if any segment was flagged as moved. Motion is then the first such segment's
	// motion.
	Moved  bool
	Motion spatialmath.Pose
}

func newMergeUnit(id ObjectID) *MergeUnit {
	return &MergeUnit{ID: id}
}

func (u *MergeUnit) add(seg *Segment) {
	if len(u.Segments) == 0 {
		u.SensorPose = seg.SensorPose
	}
	hadColors := u.Colors != nil
	start := len(u.Points)
	if len(u.Segments) == 0 || spatialmath.PoseAlmostEqual(seg.SensorPose, u.SensorPose, 1e-12) {
		u.Points = append(u.Points, seg.Points...)
	} else {
		toFirst := spatialmath.PoseBetween(u.SensorPose, seg.SensorPose)
		u.Points = append(u.Points, toFirst.TransformAll(seg.Points)...)
	}

	if seg.Colors != nil && !hadColors {
		u.Colors = make([]color.NRGBA, start, len(u.Points))
		for i := range u.Colors {
			u.Colors[i] = fillColor
		}
	}
	if u.Colors != nil {
		for i := range seg.Points {
			if i < len(seg.Colors) {
				u.Colors = append(u.Colors, seg.Colors[i])
			} else {
				u.Colors = append(u.Colors, fillColor)
			}
		}
	}

	if u.Class.IsBackground() && !seg.Class.IsBackground() {
		u.Class = seg.Class
	}
	if seg.Moved && !u.Moved {
		u.Moved = true
		u.Motion = seg.Motion
	}
	u.Segments = append(u.Segments, seg)
}

// Size returns the number of points in the unit.
func (u *MergeUnit) Size() int {
	return len(u.Points)
}

// WorldPoints returns the unit's points in the world frame.
func (u *MergeUnit) WorldPoints() []r3.Vector {
	return u.SensorPose.TransformAll(u.Points)
}
