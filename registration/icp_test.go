package registration

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/spatialmath"
)

func TestKabschExact(t *testing.T) {
	src := []r3.Vector{{X: 1}, {Y: 2}, {Z: 3}, {X: 1, Y: 1, Z: 1}, {X: -2, Y: 0.5, Z: 0.1}}
	truth := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 0.3, Y: -0.1, Z: 2}, r3.Vector{X: 1, Y: 2, Z: 3}, 0.8)
	dst := truth.TransformAll(src)

	got, err := kabsch(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, truth, 1e-9), test.ShouldBeTrue)

	_, err = kabsch(src, dst[:2])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = kabsch(src[:2], dst[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestICPRecoversMotion(t *testing.T) {
	target := pointcloud.MakeTestBox(r3.Vector{Z: 1}, r3.Vector{X: 0.3, Y: 0.2, Z: 0.1}, 0.01)
	motion := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 0.003, Y: -0.002, Z: 0.001}, r3.Vector{X: 0.2, Z: 1}, 0.015)
	// rotate about the box center
	center := spatialmath.NewPoseFromPoint(r3.Vector{Z: 1})
	motion = spatialmath.Compose(center, spatialmath.Compose(motion, spatialmath.PoseInverse(center)))
	source := motion.TransformAll(target)

	conf := DefaultConfig()
	conf.OutlierPercentile = 1
	conf.MaxIterations = 200
	conf.MaxSourcePoints = 0
	icp := NewICP(conf, logging.NewTestLogger(t))

	res, err := icp.AlignWithResult(context.Background(), source, target, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Converged, test.ShouldBeTrue)
	test.That(t, res.InlierFraction, test.ShouldAlmostEqual, 1)
	test.That(t, res.Fitness, test.ShouldBeLessThan, 1e-3)
	test.That(t, spatialmath.PoseAlmostEqual(res.Transform, spatialmath.PoseInverse(motion), 2e-3), test.ShouldBeTrue)

	pose, ok := icp.Align(context.Background(), source, target, spatialmath.NewZeroPose())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(pose, res.Transform, 1e-9), test.ShouldBeTrue)
}

func TestICPNoOverlap(t *testing.T) {
	target := pointcloud.MakeTestBox(r3.Vector{}, r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}, 0.02)
	source := spatialmath.NewPoseFromPoint(r3.Vector{X: 5}).TransformAll(target)

	icp := NewICP(DefaultConfig(), logging.NewTestLogger(t))
	initial := spatialmath.NewPoseFromPoint(r3.Vector{Y: 0.001})
	pose, ok := icp.Align(context.Background(), source, target, initial)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, pose, test.ShouldResemble, initial)
}

func TestICPDegenerateInput(t *testing.T) {
	icp := NewICP(DefaultConfig(), logging.NewTestLogger(t))
	res, err := icp.AlignWithResult(context.Background(), []r3.Vector{{}}, []r3.Vector{{}, {X: 1}, {Y: 1}}, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Converged, test.ShouldBeFalse)
	test.That(t, res.Iterations, test.ShouldEqual, 0)
}

func TestICPCancelled(t *testing.T) {
	target := pointcloud.MakeTestBox(r3.Vector{}, r3.Vector{X: 0.1, Y: 0.1, Z: 0.1}, 0.02)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	icp := NewICP(DefaultConfig(), logging.NewTestLogger(t))
	_, err := icp.AlignWithResult(ctx, target, target, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	_, ok := icp.Align(ctx, target, target, spatialmath.NewZeroPose())
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSubsample(t *testing.T) {
	pts := make([]r3.Vector, 10)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i)}
	}
	test.That(t, subsample(pts, 0), test.ShouldHaveLength, 10)
	test.That(t, subsample(pts, 20), test.ShouldHaveLength, 10)
	out := subsample(pts, 4)
	test.That(t, out, test.ShouldHaveLength, 4)
	test.That(t, out[0].X, test.ShouldEqual, 0)
	test.That(t, math.Abs(out[3].X-7), test.ShouldBeLessThan, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	test.That(t, conf.Validate("attributes.registration"), test.ShouldBeNil)

	bad := conf
	bad.MaxIterations = 0
	test.That(t, bad.Validate("attributes.registration"), test.ShouldNotBeNil)

	bad = conf
	bad.OutlierPercentile = 1.5
	test.That(t, bad.Validate("attributes.registration"), test.ShouldNotBeNil)

	bad = conf
	bad.MaxCorrespondenceDistance = 0
	test.That(t, bad.Validate("attributes.registration"), test.ShouldNotBeNil)
}

func TestMatchRejectsOutliers(t *testing.T) {
	var target, source []r3.Vector
	for i := 0; i < 10; i++ {
		target = append(target, r3.Vector{X: float64(i)})
		source = append(source, r3.Vector{X: float64(i), Y: 0.001 * float64(i+1)})
	}
	// too far for any correspondence
	source = append(source, r3.Vector{X: 20})
	tree := pointcloud.NewKDTreeFromVectors(target)

	conf := DefaultConfig()
	conf.OutlierPercentile = 0.8
	kept, inliers := NewICP(conf, logging.NewTestLogger(t)).match(tree, spatialmath.NewZeroPose(), source)
	test.That(t, inliers, test.ShouldEqual, 10)
	test.That(t, kept, test.ShouldHaveLength, 8)
	for _, p := range kept {
		test.That(t, p.dist, test.ShouldBeLessThan, 0.0085)
	}

	conf.OutlierPercentile = 1
	kept, inliers = NewICP(conf, logging.NewTestLogger(t)).match(tree, spatialmath.NewZeroPose(), source)
	test.That(t, inliers, test.ShouldEqual, 10)
	test.That(t, kept, test.ShouldHaveLength, 10)
}
