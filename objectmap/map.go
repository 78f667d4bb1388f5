package objectmap

import (
	"image/color"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/spatialmath"
	"go.viam.com/objectmap/voxel"
)

// Map is the registry of object volumes together with the identity allocator and the block
// ownership index. All access goes through Update and View, which serialize writers against
// readers; composite operations such as a whole frame run inside a single Update.
type Map struct {
	mu sync.RWMutex

	objects   map[ObjectID]*ObjectVolume
	nextID    ObjectID
	exhausted bool
	ownership map[voxel.BlockIndex]ObjectID
	owned     map[ObjectID]map[voxel.BlockIndex]struct{}
	session   uuid.UUID

	factory SubMapFactory
	clock   clock.Clock
	logger  logging.Logger
}

// NewMap returns an empty map whose objects get sub-maps from factory. A nil clk uses the wall
// clock.
func NewMap(factory SubMapFactory, clk clock.Clock, logger logging.Logger) *Map {
	if clk == nil {
		clk = clock.New()
	}
	m := &Map{factory: factory, clock: clk, logger: logger}
	m.reset()
	return m
}

func (m *Map) reset() {
	m.objects = map[ObjectID]*ObjectVolume{}
	m.nextID = 1
	m.exhausted = false
	m.ownership = map[voxel.BlockIndex]ObjectID{}
	m.owned = map[ObjectID]map[voxel.BlockIndex]struct{}{}
	m.session = uuid.New()
}

// View runs fn with shared access to the map. fn must not modify any object it finds.
func (m *Map) View(fn func(tx *ReadTxn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&ReadTxn{m: m})
}

// Update runs fn with exclusive access to the map. Changes made before fn returns an error are
// kept.
func (m *Map) Update(fn func(tx *Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Txn{ReadTxn{m: m}})
}

// ReadTxn is the read side of a map transaction. It is only valid inside the View or Update call
// that created it.
type ReadTxn struct {
	m *Map
}

// Find returns the object with the given id.
func (tx *ReadTxn) Find(id ObjectID) (*ObjectVolume, bool) {
	obj, ok := tx.m.objects[id]
	return obj, ok
}

// IDs returns the ids of all objects in ascending order.
func (tx *ReadTxn) IDs() []ObjectID {
	ids := lo.Keys(tx.m.objects)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of objects.
func (tx *ReadTxn) Len() int {
	return len(tx.m.objects)
}

// NextID returns the id the allocator hands out next.
func (tx *ReadTxn) NextID() ObjectID {
	return tx.m.nextID
}

// Session identifies the map's lifetime between clears.
func (tx *ReadTxn) Session() uuid.UUID {
	return tx.m.session
}

// Owner returns the object that last wrote the block.
func (tx *ReadTxn) Owner(b voxel.BlockIndex) (ObjectID, bool) {
	id, ok := tx.m.ownership[b]
	return id, ok
}

// OwnedBlocks returns the blocks registered to id in sorted order.
func (tx *ReadTxn) OwnedBlocks(id ObjectID) []voxel.BlockIndex {
	blocks := lo.Keys(tx.m.owned[id])
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Less(blocks[j]) })
	return blocks
}

// Txn is an exclusive map transaction.
type Txn struct {
	ReadTxn
}

// Insert creates an empty object with the given id. The allocator is moved past id so that
// allocated ids never collide with inserted ones.
func (tx *Txn) Insert(id ObjectID) (*ObjectVolume, error) {
	m := tx.m
	if id == ReservedID {
		return nil, ErrReservedIdentity
	}
	if _, ok := m.objects[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateIdentity, "object %d", id)
	}
	now := m.clock.Now()
	obj := &ObjectVolume{
		id:        id,
		submap:    m.factory(),
		pose:      spatialmath.NewZeroPose(),
		createdAt: now,
		updatedAt: now,
	}
	m.objects[id] = obj
	switch {
	case id == MaxObjectID:
		m.nextID = MaxObjectID
		m.exhausted = true
	case id >= m.nextID:
		m.nextID = id + 1
	}
	return obj, nil
}

// AllocateID hands out a fresh id. Ids are strictly increasing until the map is cleared. After
// MaxObjectID has been used it returns ErrIdentitiesExhausted instead of wrapping around.
func (tx *Txn) AllocateID() (ObjectID, error) {
	m := tx.m
	if m.exhausted {
		return ReservedID, ErrIdentitiesExhausted
	}
	id := m.nextID
	if id == MaxObjectID {
		m.exhausted = true
	} else {
		m.nextID++
	}
	return id, nil
}

// Remove deletes the object and every ownership entry pointing at it.
func (tx *Txn) Remove(id ObjectID) bool {
	if _, ok := tx.m.objects[id]; !ok {
		return false
	}
	tx.release(id)
	delete(tx.m.objects, id)
	return true
}

// Clear drops every object, resets the allocator and starts a new session.
func (tx *Txn) Clear() {
	tx.m.reset()
}

// Transform moves the object by the world frame rigid motion delta. The sub-map is resampled, the
// pose becomes pose * delta, and the ownership index is rewritten for the object's new blocks.
func (tx *Txn) Transform(id ObjectID, delta spatialmath.Pose) error {
	obj, ok := tx.m.objects[id]
	if !ok {
		return errors.Wrapf(ErrUnknownObject, "transform object %d", id)
	}
	blocks := obj.transform(delta, tx.m.clock.Now())
	tx.release(id)
	tx.claim(id, blocks)
	return nil
}

// Fuse integrates sensor frame points into the object's sub-map and registers every touched
// block to it, overwriting previous owners.
func (tx *Txn) Fuse(id ObjectID, points []r3.Vector, colors []color.NRGBA, sensorPose spatialmath.Pose) error {
	obj, ok := tx.m.objects[id]
	if !ok {
		return errors.Wrapf(ErrUnknownObject, "fuse into object %d", id)
	}
	tx.claim(id, obj.fuse(points, colors, sensorPose, tx.m.clock.Now()))
	return nil
}

// Absorb merges the object drop into keep: the voxels of drop are fused into keep's sub-map, its
// blocks are registered to keep, and drop is removed. keep inherits drop's label when keep has
// none.
func (tx *Txn) Absorb(keep, drop ObjectID) error {
	if keep == drop {
		return errors.Errorf("cannot absorb object %d into itself", keep)
	}
	k, ok := tx.m.objects[keep]
	if !ok {
		return errors.Wrapf(ErrUnknownObject, "absorb into object %d", keep)
	}
	d, ok := tx.m.objects[drop]
	if !ok {
		return errors.Wrapf(ErrUnknownObject, "absorb object %d", drop)
	}
	touched := k.submap.MergeFrom(d.submap)
	tx.Remove(drop)
	tx.claim(keep, touched)

	if k.class.IsBackground() && !d.class.IsBackground() {
		k.class = d.class
	}
	k.observations += d.observations
	if d.createdAt.Before(k.createdAt) {
		k.createdAt = d.createdAt
	}
	k.updatedAt = tx.m.clock.Now()
	return nil
}

func (tx *Txn) claim(id ObjectID, blocks []voxel.BlockIndex) {
	m := tx.m
	mine, ok := m.owned[id]
	if !ok {
		mine = map[voxel.BlockIndex]struct{}{}
		m.owned[id] = mine
	}
	for _, b := range blocks {
		if prev, ok := m.ownership[b]; ok && prev != id {
			delete(m.owned[prev], b)
		}
		m.ownership[b] = id
		mine[b] = struct{}{}
	}
}

func (tx *Txn) release(id ObjectID) {
	m := tx.m
	for b := range m.owned[id] {
		delete(m.ownership, b)
	}
	delete(m.owned, id)
}

// Insert creates an empty object. See Txn.Insert.
func (m *Map) Insert(id ObjectID) (ObjectInfo, error) {
	var info ObjectInfo
	err := m.Update(func(tx *Txn) error {
		obj, err := tx.Insert(id)
		if err != nil {
			return err
		}
		info = obj.Info()
		return nil
	})
	return info, err
}

// AllocateID hands out a fresh id. See Txn.AllocateID.
func (m *Map) AllocateID() (ObjectID, error) {
	var id ObjectID
	err := m.Update(func(tx *Txn) error {
		var err error
		id, err = tx.AllocateID()
		return err
	})
	return id, err
}

// Find returns a copy of the object's metadata.
func (m *Map) Find(id ObjectID) (ObjectInfo, bool) {
	var info ObjectInfo
	var ok bool
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		var obj *ObjectVolume
		if obj, ok = tx.Find(id); ok {
			info = obj.Info()
		}
		return nil
	})
	return info, ok
}

// Remove deletes the object. It reports whether the object existed.
func (m *Map) Remove(id ObjectID) bool {
	var ok bool
	//nolint:errcheck
	m.Update(func(tx *Txn) error {
		ok = tx.Remove(id)
		return nil
	})
	return ok
}

// Transform moves the object by delta. See Txn.Transform.
func (m *Map) Transform(id ObjectID, delta spatialmath.Pose) error {
	return m.Update(func(tx *Txn) error {
		return tx.Transform(id, delta)
	})
}

// Clear drops every object and resets the allocator.
func (m *Map) Clear() {
	//nolint:errcheck
	m.Update(func(tx *Txn) error {
		tx.Clear()
		return nil
	})
}

// Len returns the number of objects.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// IDs returns the ids of all objects in ascending order.
func (m *Map) IDs() []ObjectID {
	var ids []ObjectID
	//nolint:errcheck
	m.View(func(tx *ReadTxn) error {
		ids = tx.IDs()
		return nil
	})
	return ids
}

// Session identifies the map's lifetime between clears.
func (m *Map) Session() uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}
