package objectmap

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/voxel"
)

// FrameResult summarizes one ingested frame.
type FrameResult struct {
	FrameNumber int64
	Segments    int
	Assignment  Assignment
	Tracks      []TrackResult
	Duration    time.Duration
}

// ObjectSnapshot is the state of one object at snapshot time.
type ObjectSnapshot struct {
	ObjectInfo
	Stats voxel.OccupancyStats
}

// Snapshot is a consistent copy of the map's objects and totals.
type Snapshot struct {
	Session     uuid.UUID
	FrameNumber int64
	NextID      ObjectID
	Objects     []ObjectSnapshot
	Totals      voxel.OccupancyStats
}

// Object returns the snapshot of one object.
func (s Snapshot) Object(id ObjectID) (ObjectSnapshot, bool) {
	for _, o := range s.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return ObjectSnapshot{}, false
}

// MapMesh is the derived surface mesh of every object, keyed by id.
type MapMesh map[ObjectID]*voxel.Mesh

// NumVertices counts the vertices over all objects.
func (mm MapMesh) NumVertices() int {
	n := 0
	for _, m := range mm {
		n += m.NumVertices()
	}
	return n
}

// Mapper runs the per frame pipeline over a Map and maintains the derived mesh. Frames are
// ingested one at a time, each under one exclusive map transaction.
type Mapper struct {
	m          *Map
	integrator *Integrator
	tracker    *Tracker

	// meshMu is taken before the map lock.
	meshMu      sync.Mutex
	mesh        MapMesh
	meshUpdated atomic.Bool

	frameNumber atomic.Int64
	logger      logging.Logger
}

// NewMapper returns a mapper. A nil tracker disables pose tracking.
func NewMapper(m *Map, integrator *Integrator, tracker *Tracker, logger logging.Logger) *Mapper {
	return &Mapper{
		m:          m,
		integrator: integrator,
		tracker:    tracker,
		mesh:       MapMesh{},
		logger:     logger,
	}
}

// Map returns the underlying map.
func (mp *Mapper) Map() *Map {
	return mp.m
}

// FrameNumber returns the number of frames integrated since the last reset.
func (mp *Mapper) FrameNumber() int64 {
	return mp.frameNumber.Load()
}

// MeshUpdated reports whether the map changed since the mesh was last regenerated.
func (mp *Mapper) MeshUpdated() bool {
	return mp.meshUpdated.Load()
}

// IngestFrame associates, tracks and fuses one frame of segments. A frame without segments leaves
// the map and the frame counter untouched. Errors are identity invariant violations; the frame
// may be partially applied when one is returned.
func (mp *Mapper) IngestFrame(ctx context.Context, segments []*Segment) (FrameResult, error) {
	ctx, span := trace.StartSpan(ctx, "objectmap::IngestFrame")
	defer span.End()

	result := FrameResult{FrameNumber: mp.frameNumber.Load(), Segments: len(segments)}
	if len(segments) == 0 {
		return result, nil
	}
	start := time.Now()
	mp.logger.Infow("integrating frame", "frame", result.FrameNumber, "segments", len(segments))

	err := mp.m.Update(func(tx *Txn) error {
		assignment, err := mp.integrator.Assign(ctx, tx, segments)
		if err != nil {
			return err
		}
		result.Assignment = assignment
		mp.integrator.IntegrateSemanticClasses(tx, assignment.Units)

		if mp.tracker != nil {
			if result.Tracks, err = mp.tracker.UpdatePoses(ctx, tx, assignment.Units); err != nil {
				return err
			}
		}

		_, fuseSpan := trace.StartSpan(ctx, "objectmap::fuse")
		defer fuseSpan.End()
		for _, unit := range assignment.Units {
			if err := mp.integrator.Fuse(tx, unit); err != nil {
				return err
			}
		}
		return nil
	})
	mp.meshUpdated.Store(true)
	if err != nil {
		mp.logger.Errorw("frame integration failed", "frame", result.FrameNumber, "error", err)
		return result, err
	}

	result.FrameNumber = mp.frameNumber.Inc()
	result.Duration = time.Since(start)
	mp.logger.Infof("Integrated %d segments in %v", len(segments), result.Duration)
	return result, nil
}

// RemoveObject deletes one object. It reports whether the object existed.
func (mp *Mapper) RemoveObject(id ObjectID) bool {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()
	if !mp.m.Remove(id) {
		return false
	}
	delete(mp.mesh, id)
	mp.meshUpdated.Store(true)
	return true
}

// RemoveAllObjects deletes every object but keeps the id allocator, so removed ids are not reused.
// It returns the number of objects removed.
func (mp *Mapper) RemoveAllObjects() int {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()
	removed := 0
	//nolint:errcheck
	mp.m.Update(func(tx *Txn) error {
		for _, id := range tx.IDs() {
			if tx.Remove(id) {
				removed++
			}
		}
		return nil
	})
	mp.mesh = MapMesh{}
	mp.meshUpdated.Store(true)
	return removed
}

// ResetMap clears the map, the frame counter and the mesh. The map starts a new session.
func (mp *Mapper) ResetMap() {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()
	mp.m.Clear()
	mp.mesh = MapMesh{}
	mp.frameNumber.Store(0)
	mp.meshUpdated.Store(false)
	mp.logger.Info("map reset")
}

// Snapshot copies every object's pose, label and occupancy along with the map totals.
func (mp *Mapper) Snapshot() Snapshot {
	snap := Snapshot{FrameNumber: mp.frameNumber.Load()}
	//nolint:errcheck
	mp.m.View(func(tx *ReadTxn) error {
		snap.Session = tx.Session()
		snap.NextID = tx.NextID()
		for _, id := range tx.IDs() {
			obj, _ := tx.Find(id)
			stats := obj.SubMap().Stats()
			snap.Objects = append(snap.Objects, ObjectSnapshot{ObjectInfo: obj.Info(), Stats: stats})
			snap.Totals = snap.Totals.Add(stats)
		}
		return nil
	})
	return snap
}

// RegenerateMesh refreshes the mesh of every object. Unless full is set only blocks changed since
// the last regeneration are recomputed. It reports whether the mesh changed.
func (mp *Mapper) RegenerateMesh(full bool) bool {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()

	changed := mp.meshUpdated.Swap(false)
	next := MapMesh{}
	//nolint:errcheck
	mp.m.Update(func(tx *Txn) error {
		for _, id := range tx.IDs() {
			obj, _ := tx.Find(id)
			sub := obj.SubMap()
			if sub.GenerateMesh(!full, true) {
				changed = true
			}
			next[id] = sub.Mesh().Clone()
		}
		return nil
	})
	for id := range mp.mesh {
		if _, ok := next[id]; !ok {
			changed = true
		}
	}
	mp.mesh = next
	return changed || full
}

// Mesh returns the most recently regenerated mesh.
func (mp *Mapper) Mesh() MapMesh {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()
	out := make(MapMesh, len(mp.mesh))
	for id, m := range mp.mesh {
		out[id] = m
	}
	return out
}

// ViewWithMesh runs fn with the current mesh and shared access to the map. Both locks are held
// for the whole call so the mesh and the map cannot change in between.
func (mp *Mapper) ViewWithMesh(fn func(tx *ReadTxn, mesh MapMesh) error) error {
	mp.meshMu.Lock()
	defer mp.meshMu.Unlock()
	return mp.m.View(func(tx *ReadTxn) error {
		return fn(tx, mp.mesh)
	})
}

// Objects returns the metadata of every object in ascending id order.
func (mp *Mapper) Objects() []ObjectInfo {
	var infos []ObjectInfo
	//nolint:errcheck
	mp.m.View(func(tx *ReadTxn) error {
		for _, id := range tx.IDs() {
			obj, _ := tx.Find(id)
			infos = append(infos, obj.Info())
		}
		return nil
	})
	return infos
}
