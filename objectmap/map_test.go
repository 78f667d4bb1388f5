package objectmap

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/spatialmath"
	"go.viam.com/objectmap/voxel"
)

func mustAllocate(t *testing.T, m *Map) ObjectID {
	t.Helper()
	id, err := m.AllocateID()
	test.That(t, err, test.ShouldBeNil)
	return id
}

func newTestMap(t *testing.T) (*Map, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	return NewMap(NewLayerFactory(voxel.DefaultConfig()), clk, logging.NewTestLogger(t)), clk
}

// testPlane is a 20cm square patch half a meter in front of an identity sensor.
func testPlane(offset r3.Vector) []r3.Vector {
	return pointcloud.MakeTestPlane(r3.Vector{Z: 0.5}.Add(offset), 0.2, 0.005)
}

func planeSegment(offset r3.Vector) *Segment {
	return &Segment{Points: testPlane(offset), SensorPose: spatialmath.NewZeroPose()}
}

type fakeRegistration struct {
	calls     int
	transform spatialmath.Pose
	converged bool
}

func (f *fakeRegistration) Align(
	ctx context.Context,
	source, target []r3.Vector,
	initialGuess spatialmath.Pose,
) (spatialmath.Pose, bool) {
	f.calls++
	if !f.converged {
		return initialGuess, false
	}
	return f.transform, true
}

func checkOwnership(t *testing.T, m *Map) {
	t.Helper()
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		count := 0
		for _, id := range tx.IDs() {
			for _, b := range tx.OwnedBlocks(id) {
				owner, ok := tx.Owner(b)
				test.That(t, ok, test.ShouldBeTrue)
				test.That(t, owner, test.ShouldEqual, id)
				count++
			}
		}
		test.That(t, count, test.ShouldEqual, len(tx.m.ownership))
		return nil
	})
}

func TestInsertAndFind(t *testing.T) {
	m, clk := newTestMap(t)
	clk.Add(time.Hour)

	info, err := m.Insert(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.ID, test.ShouldEqual, ObjectID(3))
	test.That(t, info.Pose.IsIdentity(), test.ShouldBeTrue)
	test.That(t, info.Class, test.ShouldEqual, BackgroundClass)
	test.That(t, info.CreatedAt.Equal(clk.Now()), test.ShouldBeTrue)
	test.That(t, info.Blocks, test.ShouldEqual, 0)

	_, err = m.Insert(3)
	test.That(t, errors.Is(err, ErrDuplicateIdentity), test.ShouldBeTrue)
	_, err = m.Insert(ReservedID)
	test.That(t, errors.Is(err, ErrReservedIdentity), test.ShouldBeTrue)

	found, ok := m.Find(3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, found.ID, test.ShouldEqual, ObjectID(3))
	_, ok = m.Find(4)
	test.That(t, ok, test.ShouldBeFalse)

	// inserted ids push the allocator past them
	test.That(t, mustAllocate(t, m), test.ShouldEqual, ObjectID(4))
}

func TestAllocateIDStrictlyIncreasing(t *testing.T) {
	m, _ := newTestMap(t)
	prev := ReservedID
	for i := 0; i < 100; i++ {
		id := mustAllocate(t, m)
		test.That(t, id, test.ShouldBeGreaterThan, prev)
		prev = id
	}
	test.That(t, prev, test.ShouldEqual, ObjectID(100))

	// removing does not free an id for reuse
	_, err := m.Insert(mustAllocate(t, m))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Remove(101), test.ShouldBeTrue)
	test.That(t, mustAllocate(t, m), test.ShouldEqual, ObjectID(102))
}

func TestAllocateIDExhaustion(t *testing.T) {
	m, _ := newTestMap(t)
	_, err := m.Insert(MaxObjectID - 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mustAllocate(t, m), test.ShouldEqual, MaxObjectID)
	_, err = m.AllocateID()
	test.That(t, errors.Is(err, ErrIdentitiesExhausted), test.ShouldBeTrue)

	m.Clear()
	test.That(t, mustAllocate(t, m), test.ShouldEqual, ObjectID(1))
	_, err = m.Insert(MaxObjectID)
	test.That(t, err, test.ShouldBeNil)
	id, err := m.AllocateID()
	test.That(t, errors.Is(err, ErrIdentitiesExhausted), test.ShouldBeTrue)
	test.That(t, id, test.ShouldEqual, ReservedID)
	var next ObjectID
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		next = tx.NextID()
		return nil
	})
	test.That(t, next, test.ShouldEqual, MaxObjectID)

	// inserting below the allocator is still allowed
	_, err = m.Insert(7)
	test.That(t, err, test.ShouldBeNil)
}

func TestRemoveClearsOwnership(t *testing.T) {
	m, _ := newTestMap(t)
	var blocks []voxel.BlockIndex
	err := m.Update(func(tx *Txn) error {
		if _, err := tx.Insert(1); err != nil {
			return err
		}
		if _, err := tx.Insert(2); err != nil {
			return err
		}
		if err := tx.Fuse(1, testPlane(r3.Vector{}), nil, spatialmath.NewZeroPose()); err != nil {
			return err
		}
		if err := tx.Fuse(2, testPlane(r3.Vector{X: 1}), nil, spatialmath.NewZeroPose()); err != nil {
			return err
		}
		blocks = tx.OwnedBlocks(1)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, blocks, test.ShouldNotBeEmpty)
	checkOwnership(t, m)

	test.That(t, m.Remove(1), test.ShouldBeTrue)
	test.That(t, m.Remove(1), test.ShouldBeFalse)
	_, ok := m.Find(1)
	test.That(t, ok, test.ShouldBeFalse)
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		for _, b := range blocks {
			owner, ok := tx.Owner(b)
			if ok {
				test.That(t, owner, test.ShouldNotEqual, ObjectID(1))
			}
		}
		test.That(t, tx.OwnedBlocks(1), test.ShouldBeEmpty)
		test.That(t, tx.OwnedBlocks(2), test.ShouldNotBeEmpty)
		return nil
	})
	checkOwnership(t, m)
}

func TestFuseOverwritesOwner(t *testing.T) {
	m, _ := newTestMap(t)
	err := m.Update(func(tx *Txn) error {
		for _, id := range []ObjectID{1, 2} {
			if _, err := tx.Insert(id); err != nil {
				return err
			}
			if err := tx.Fuse(id, testPlane(r3.Vector{}), nil, spatialmath.NewZeroPose()); err != nil {
				return err
			}
		}
		test.That(t, tx.OwnedBlocks(1), test.ShouldBeEmpty)
		test.That(t, tx.OwnedBlocks(2), test.ShouldNotBeEmpty)
		return tx.Fuse(7, testPlane(r3.Vector{}), nil, spatialmath.NewZeroPose())
	})
	test.That(t, errors.Is(err, ErrUnknownObject), test.ShouldBeTrue)
	checkOwnership(t, m)
}

func TestClear(t *testing.T) {
	m, _ := newTestMap(t)
	session := m.Session()
	for i := 0; i < 3; i++ {
		_, err := m.Insert(mustAllocate(t, m))
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, m.Len(), test.ShouldEqual, 3)
	test.That(t, m.IDs(), test.ShouldResemble, []ObjectID{1, 2, 3})

	m.Clear()
	test.That(t, m.Len(), test.ShouldEqual, 0)
	test.That(t, m.IDs(), test.ShouldBeEmpty)
	test.That(t, m.Session().String(), test.ShouldNotEqual, session.String())
	test.That(t, mustAllocate(t, m), test.ShouldEqual, ObjectID(1))
}

func TestTransformComposesPose(t *testing.T) {
	m, _ := newTestMap(t)
	_, err := m.Insert(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Update(func(tx *Txn) error {
		return tx.Fuse(1, testPlane(r3.Vector{}), nil, spatialmath.NewZeroPose())
	}), test.ShouldBeNil)

	first := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 0.05}, r3.Vector{Z: 1}, 0.1)
	second := spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: -0.02}, r3.Vector{X: 1}, 0.05)
	test.That(t, m.Transform(1, first), test.ShouldBeNil)
	test.That(t, m.Transform(1, second), test.ShouldBeNil)

	info, _ := m.Find(1)
	want := spatialmath.Compose(first, second)
	test.That(t, spatialmath.RotationDeviation(info.Pose, want), test.ShouldBeLessThan, 1e-6)
	test.That(t, info.Pose.Point().Sub(want.Point()).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, spatialmath.IsOrthonormal(info.Pose, 1e-9), test.ShouldBeTrue)
	checkOwnership(t, m)

	err = m.Transform(9, first)
	test.That(t, errors.Is(err, ErrUnknownObject), test.ShouldBeTrue)
}

func TestTransformMovesGeometry(t *testing.T) {
	m, _ := newTestMap(t)
	_, err := m.Insert(1)
	test.That(t, err, test.ShouldBeNil)
	pts := testPlane(r3.Vector{})
	test.That(t, m.Update(func(tx *Txn) error {
		return tx.Fuse(1, pts, nil, spatialmath.NewZeroPose())
	}), test.ShouldBeNil)

	delta := spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5})
	test.That(t, m.Transform(1, delta), test.ShouldBeNil)
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		obj, _ := tx.Find(1)
		p := pts[len(pts)/2]
		test.That(t, obj.SubMap().PointInBand(p), test.ShouldBeFalse)
		test.That(t, obj.SubMap().PointInBand(delta.Transform(p)), test.ShouldBeTrue)
		return nil
	})
}

func TestAbsorb(t *testing.T) {
	m, clk := newTestMap(t)
	err := m.Update(func(tx *Txn) error {
		keep, err := tx.Insert(1)
		if err != nil {
			return err
		}
		clk.Add(time.Second)
		drop, err := tx.Insert(2)
		if err != nil {
			return err
		}
		drop.SetSemanticClass(4)
		if err := tx.Fuse(1, testPlane(r3.Vector{}), nil, spatialmath.NewZeroPose()); err != nil {
			return err
		}
		if err := tx.Fuse(2, testPlane(r3.Vector{X: 0.5}), nil, spatialmath.NewZeroPose()); err != nil {
			return err
		}
		if err := tx.Absorb(1, 1); err == nil {
			return errors.New("absorbing an object into itself should fail")
		}
		if err := tx.Absorb(1, 2); err != nil {
			return err
		}
		test.That(t, keep.SemanticClass(), test.ShouldEqual, SemanticClass(4))
		test.That(t, keep.Observations(), test.ShouldEqual, 2)
		test.That(t, keep.SubMap().PointInBand(r3.Vector{X: 0.5, Z: 0.5}), test.ShouldBeTrue)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.IDs(), test.ShouldResemble, []ObjectID{1})
	checkOwnership(t, m)

	err = m.Update(func(tx *Txn) error { return tx.Absorb(1, 2) })
	test.That(t, errors.Is(err, ErrUnknownObject), test.ShouldBeTrue)
}
