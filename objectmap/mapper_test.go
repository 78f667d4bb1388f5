package objectmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/objectmap/logging"
)

func TestIngestFrameScenarios(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	ctx := context.Background()

	// a segment in an empty map spawns object 1
	res, err := mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FrameNumber, test.ShouldEqual, 1)
	test.That(t, res.Assignment.Created, test.ShouldResemble, []ObjectID{1})
	snap := mp.Snapshot()
	test.That(t, snap.Objects, test.ShouldHaveLength, 1)
	test.That(t, snap.Objects[0].ID, test.ShouldEqual, ObjectID(1))
	test.That(t, snap.Objects[0].Pose.IsIdentity(), test.ShouldBeTrue)
	test.That(t, snap.Objects[0].Stats.Occupied, test.ShouldBeGreaterThan, 0)

	// the same surface seen again is assigned to object 1
	res, err = mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{Z: 0.003})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FrameNumber, test.ShouldEqual, 2)
	test.That(t, res.Assignment.Created, test.ShouldBeEmpty)
	test.That(t, res.Assignment.Units[0].ID, test.ShouldEqual, ObjectID(1))
	test.That(t, mp.Map().IDs(), test.ShouldResemble, []ObjectID{1})
}

func TestIngestEmptyFrame(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	res, err := mp.IngestFrame(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.FrameNumber, test.ShouldEqual, 0)
	test.That(t, mp.FrameNumber(), test.ShouldEqual, 0)
	test.That(t, mp.MeshUpdated(), test.ShouldBeFalse)
}

func TestIngestWithoutTracker(t *testing.T) {
	m, _ := newTestMap(t)
	logger := logging.NewTestLogger(t)
	mp := NewMapper(m, NewIntegrator(DefaultIntegratorConfig(), InferredSegmentation(), logger), nil, logger)
	res, err := mp.IngestFrame(context.Background(), []*Segment{labeledPlane(r3.Vector{}, 2)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Tracks, test.ShouldBeEmpty)
	test.That(t, m.Len(), test.ShouldEqual, 1)
}

func TestRemoveObject(t *testing.T) {
	mp := newTestMapper(t, GroundTruthSegmentation(false), &fakeRegistration{}, nil)
	ctx := context.Background()
	a := planeSegment(r3.Vector{})
	a.ObjectID = 5
	b := planeSegment(r3.Vector{X: 1})
	b.ObjectID = 6
	_, err := mp.IngestFrame(ctx, []*Segment{a, b})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mp.RegenerateMesh(true), test.ShouldBeTrue)
	test.That(t, mp.Mesh(), test.ShouldContainKey, ObjectID(5))

	test.That(t, mp.RemoveObject(5), test.ShouldBeTrue)
	test.That(t, mp.RemoveObject(5), test.ShouldBeFalse)
	_, ok := mp.Snapshot().Object(5)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = mp.Snapshot().Object(6)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, mp.Mesh(), test.ShouldNotContainKey, ObjectID(5))
	test.That(t, mp.MeshUpdated(), test.ShouldBeTrue)
	checkOwnership(t, mp.Map())
}

func TestRemoveAllAndReset(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	ctx := context.Background()
	_, err := mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{}), planeSegment(r3.Vector{X: 1})})
	test.That(t, err, test.ShouldBeNil)
	session := mp.Map().Session()

	test.That(t, mp.RemoveAllObjects(), test.ShouldEqual, 2)
	test.That(t, mp.Snapshot().Objects, test.ShouldBeEmpty)
	test.That(t, mp.Map().Session().String(), test.ShouldEqual, session.String())

	res, err := mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Assignment.Created, test.ShouldResemble, []ObjectID{3})
	test.That(t, mp.FrameNumber(), test.ShouldEqual, 2)

	mp.ResetMap()
	snap := mp.Snapshot()
	test.That(t, snap.Objects, test.ShouldBeEmpty)
	test.That(t, snap.FrameNumber, test.ShouldEqual, 0)
	test.That(t, snap.NextID, test.ShouldEqual, ObjectID(1))
	test.That(t, snap.Session.String(), test.ShouldNotEqual, session.String())
	test.That(t, mp.Mesh(), test.ShouldBeEmpty)

	res, err = mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Assignment.Created, test.ShouldResemble, []ObjectID{1})
	test.That(t, res.FrameNumber, test.ShouldEqual, 1)
}

func TestRegenerateMesh(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	test.That(t, mp.RegenerateMesh(false), test.ShouldBeFalse)

	_, err := mp.IngestFrame(context.Background(), []*Segment{planeSegment(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mp.MeshUpdated(), test.ShouldBeTrue)
	test.That(t, mp.RegenerateMesh(false), test.ShouldBeTrue)
	test.That(t, mp.MeshUpdated(), test.ShouldBeFalse)
	mesh := mp.Mesh()
	test.That(t, mesh, test.ShouldHaveLength, 1)
	test.That(t, mesh.NumVertices(), test.ShouldBeGreaterThan, 0)

	// nothing changed since the last pass
	test.That(t, mp.RegenerateMesh(false), test.ShouldBeFalse)
	test.That(t, mp.Mesh().NumVertices(), test.ShouldEqual, mesh.NumVertices())
	test.That(t, mp.RegenerateMesh(true), test.ShouldBeTrue)
}

func TestSnapshotTotals(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	_, err := mp.IngestFrame(context.Background(), []*Segment{
		labeledPlane(r3.Vector{}, 4),
		planeSegment(r3.Vector{X: 1}),
	})
	test.That(t, err, test.ShouldBeNil)

	snap := mp.Snapshot()
	test.That(t, snap.Objects, test.ShouldHaveLength, 2)
	test.That(t, snap.Objects[0].Class, test.ShouldEqual, SemanticClass(4))
	test.That(t, snap.Objects[1].Class, test.ShouldEqual, BackgroundClass)
	sum := snap.Objects[0].Stats.Add(snap.Objects[1].Stats)
	test.That(t, snap.Totals, test.ShouldResemble, sum)
	test.That(t, snap.Totals.Voxels, test.ShouldEqual, snap.Totals.Occupied+snap.Totals.Free+snap.Totals.Unknown)
	test.That(t, mp.Objects(), test.ShouldHaveLength, 2)
	test.That(t, mp.Objects()[0].Class, test.ShouldEqual, SemanticClass(4))
}

func TestConcurrentReaders(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_, err := mp.IngestFrame(ctx, []*Segment{planeSegment(r3.Vector{X: float64(i)})})
			test.That(t, err, test.ShouldBeNil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			snap := mp.Snapshot()
			for j := 1; j < len(snap.Objects); j++ {
				test.That(t, snap.Objects[j].ID, test.ShouldBeGreaterThan, snap.Objects[j-1].ID)
			}
			mp.RegenerateMesh(false)
		}
	}()
	wg.Wait()
	test.That(t, mp.Map().Len(), test.ShouldEqual, 5)
	checkOwnership(t, mp.Map())
}

func TestViewWithMeshHoldsBothLocks(t *testing.T) {
	mp := newTestMapper(t, InferredSegmentation(), &fakeRegistration{}, nil)
	_, err := mp.IngestFrame(context.Background(), []*Segment{planeSegment(r3.Vector{})})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mp.RegenerateMesh(true), test.ShouldBeTrue)

	removed := make(chan bool)
	err = mp.ViewWithMesh(func(tx *ReadTxn, mesh MapMesh) error {
		test.That(t, mesh, test.ShouldContainKey, ObjectID(1))
		go func() {
			removed <- mp.RemoveObject(1)
		}()
		select {
		case <-removed:
			t.Fatal("object removed while the mesh and map were being read")
		case <-time.After(50 * time.Millisecond):
		}
		_, ok := tx.Find(1)
		test.That(t, ok, test.ShouldBeTrue)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, <-removed, test.ShouldBeTrue)

	err = mp.ViewWithMesh(func(tx *ReadTxn, mesh MapMesh) error {
		test.That(t, mesh, test.ShouldBeEmpty)
		test.That(t, tx.Len(), test.ShouldEqual, 0)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
}
