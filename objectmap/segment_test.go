package objectmap

import (
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/spatialmath"
)

func TestNewSegmentFromPointCloud(t *testing.T) {
	pts := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	cloud, err := pointcloud.NewFromVectors(pts, nil)
	test.That(t, err, test.ShouldBeNil)
	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 2})
	seg := NewSegmentFromPointCloud(cloud, pose)
	test.That(t, seg.Size(), test.ShouldEqual, 3)
	test.That(t, seg.Colors, test.ShouldBeNil)
	test.That(t, seg.WorldPoints(), test.ShouldContain, r3.Vector{X: 3})

	red := color.NRGBA{R: 255, A: 255}
	cloud, err = pointcloud.NewFromVectors(pts, []color.NRGBA{red, red, red})
	test.That(t, err, test.ShouldBeNil)
	seg = NewSegmentFromPointCloud(cloud, pose)
	test.That(t, seg.Colors, test.ShouldHaveLength, 3)
	test.That(t, seg.Colors[0], test.ShouldResemble, red)
}

func TestMergeUnit(t *testing.T) {
	first := &Segment{
		Points:     []r3.Vector{{X: 1}},
		SensorPose: spatialmath.NewPoseFromPoint(r3.Vector{Z: 1}),
	}
	second := &Segment{
		Points:     []r3.Vector{{Y: 1}, {Y: 2}},
		Colors:     []color.NRGBA{{G: 255, A: 255}},
		SensorPose: spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1}, r3.Vector{Z: 1}, 0.3),
		Class:      5,
		Moved:      true,
		Motion:     spatialmath.NewPoseFromPoint(r3.Vector{X: 0.1}),
	}
	third := &Segment{Points: []r3.Vector{{Z: 3}}, SensorPose: first.SensorPose, Class: 6}

	unit := newMergeUnit(4)
	unit.add(first)
	unit.add(second)
	unit.add(third)

	test.That(t, unit.ID, test.ShouldEqual, ObjectID(4))
	test.That(t, unit.Size(), test.ShouldEqual, 4)
	test.That(t, unit.Segments, test.ShouldHaveLength, 3)
	test.That(t, unit.Class, test.ShouldEqual, SemanticClass(5))
	test.That(t, unit.Moved, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(unit.Motion, second.Motion, 1e-12), test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(unit.SensorPose, first.SensorPose, 1e-12), test.ShouldBeTrue)

	// every point keeps its world position after being re-expressed in the first sensor frame
	var want []r3.Vector
	for _, seg := range []*Segment{first, second, third} {
		want = append(want, seg.WorldPoints()...)
	}
	got := unit.WorldPoints()
	for i := range want {
		test.That(t, got[i].Sub(want[i]).Norm(), test.ShouldBeLessThan, 1e-9)
	}

	test.That(t, unit.Colors, test.ShouldHaveLength, 4)
	test.That(t, unit.Colors[0], test.ShouldResemble, fillColor)
	test.That(t, unit.Colors[1], test.ShouldResemble, color.NRGBA{G: 255, A: 255})
	test.That(t, unit.Colors[2], test.ShouldResemble, fillColor)
	test.That(t, unit.Colors[3], test.ShouldResemble, fillColor)
}

func TestMergeUnitWithoutColors(t *testing.T) {
	unit := newMergeUnit(1)
	unit.add(planeSegment(r3.Vector{}))
	unit.add(planeSegment(r3.Vector{X: 0.3}))
	test.That(t, unit.Colors, test.ShouldBeNil)
	test.That(t, unit.Class, test.ShouldEqual, BackgroundClass)
	test.That(t, unit.Moved, test.ShouldBeFalse)
}

func TestParseSegmentationSource(t *testing.T) {
	for _, tc := range []struct {
		mode             string
		identity, motion bool
	}{
		{"", false, false},
		{SegmentationInferred, false, false},
		{SegmentationGroundTruth, true, false},
		{SegmentationGroundTruthMotion, true, true},
	} {
		src, err := ParseSegmentationSource(tc.mode)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, src.ProvidesIdentity(), test.ShouldEqual, tc.identity)
		test.That(t, src.ProvidesMotion(), test.ShouldEqual, tc.motion)
	}
	_, err := ParseSegmentationSource("psychic")
	test.That(t, err, test.ShouldNotBeNil)
}
