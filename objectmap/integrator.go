package objectmap

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"
	"go.opencensus.io/trace"

	"go.viam.com/objectmap/logging"
)

// IntegratorConfig holds the association thresholds.
type IntegratorConfig struct {
	// AcceptanceThreshold is the overlap a segment must exceed to be assigned to an existing object.
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	// MergeThreshold is the overlap above which a segment proves that two objects are one. 0
	// disables object merging.
	MergeThreshold float64 `json:"merge_threshold"`
}

// DefaultIntegratorConfig returns the default thresholds.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{AcceptanceThreshold: 0.5, MergeThreshold: 0.5}
}

// Validate ensures all parts of the config are valid.
func (c *IntegratorConfig) Validate(path string) error {
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold >= 1 {
		return goutils.NewConfigValidationError(path, errors.New("acceptance_threshold must be in [0, 1)"))
	}
	if c.MergeThreshold < 0 || c.MergeThreshold >= 1 {
		return goutils.NewConfigValidationError(path, errors.New("merge_threshold must be in [0, 1)"))
	}
	return nil
}

// Assignment is the outcome of associating one frame's segments with objects.
type Assignment struct {
	// Units are the fusion units in the order they are fused.
	Units []*MergeUnit
	// Created lists the objects spawned by this frame.
	Created []ObjectID
	// Absorbed maps each object merged away to the object that absorbed it.
	Absorbed map[ObjectID]ObjectID
	// Dropped counts segments that could not be assigned.
	Dropped int
}

// Integrator associates segments with objects and fuses them into the objects' sub-maps.
type Integrator struct {
	config IntegratorConfig
	source SegmentationSource
	logger logging.Logger
}

// NewIntegrator returns an integrator for segments produced by source.
func NewIntegrator(config IntegratorConfig, source SegmentationSource, logger logging.Logger) *Integrator {
	return &Integrator{config: config, source: source, logger: logger}
}

// Source returns the segmentation source the integrator was built for.
func (in *Integrator) Source() SegmentationSource {
	return in.source
}

// ComputeOverlap returns, for every object that shares at least one point with the segment, the
// fraction of the segment's world points that fall into the object's surface band.
func (in *Integrator) ComputeOverlap(tx *ReadTxn, seg *Segment) map[ObjectID]float64 {
	scores := map[ObjectID]float64{}
	if seg.Size() == 0 {
		return scores
	}
	world := seg.WorldPoints()
	for _, id := range tx.IDs() {
		obj, _ := tx.Find(id)
		sub := obj.SubMap()
		count := 0
		for _, p := range world {
			if sub.PointInBand(p) {
				count++
			}
		}
		if count > 0 {
			scores[id] = float64(count) / float64(len(world))
		}
	}
	return scores
}

// bestMatch returns the highest scoring id. Ties keep the lower id.
func bestMatch(scores map[ObjectID]float64) (ObjectID, float64) {
	var best ObjectID
	bestScore := 0.
	for _, id := range sortedIDs(scores) {
		if s := scores[id]; s > bestScore {
			best, bestScore = id, s
		}
	}
	return best, bestScore
}

func sortedIDs[V any](m map[ObjectID]V) []ObjectID {
	ids := make([]ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Assign resolves every segment to an object, creating objects as needed, and groups the
// segments into fusion units.
func (in *Integrator) Assign(ctx context.Context, tx *Txn, segments []*Segment) (Assignment, error) {
	_, span := trace.StartSpan(ctx, "objectmap::assign")
	defer span.End()

	if in.source.ProvidesIdentity() {
		return in.assignGroundTruth(tx, segments)
	}
	return in.assignInferred(tx, segments)
}

func (in *Integrator) assignGroundTruth(tx *Txn, segments []*Segment) (Assignment, error) {
	result := Assignment{Absorbed: map[ObjectID]ObjectID{}}
	for i, seg := range segments {
		if seg.ObjectID == ReservedID {
			in.logger.Warnw("dropping segment with reserved object id", "segment", i, "points", seg.Size())
			result.Dropped++
			continue
		}
		if _, ok := tx.Find(seg.ObjectID); !ok {
			if _, err := tx.Insert(seg.ObjectID); err != nil {
				return result, err
			}
			result.Created = append(result.Created, seg.ObjectID)
		}
		unit := newMergeUnit(seg.ObjectID)
		unit.add(seg)
		result.Units = append(result.Units, unit)
	}
	return result, nil
}

func (in *Integrator) assignInferred(tx *Txn, segments []*Segment) (Assignment, error) {
	result := Assignment{Absorbed: map[ObjectID]ObjectID{}}
	scores := make([]map[ObjectID]float64, len(segments))
	for i, seg := range segments {
		scores[i] = in.ComputeOverlap(&tx.ReadTxn, seg)
	}

	if in.config.MergeThreshold > 0 {
		merged, err := in.mergeObjects(tx, scores, result.Absorbed)
		if err != nil {
			return result, err
		}
		if merged {
			for i, seg := range segments {
				scores[i] = in.ComputeOverlap(&tx.ReadTxn, seg)
			}
		}
	}

	units := map[ObjectID]*MergeUnit{}
	for i, seg := range segments {
		if seg.Size() == 0 {
			result.Dropped++
			continue
		}
		id, score := bestMatch(scores[i])
		if score <= in.config.AcceptanceThreshold {
			var err error
			if id, err = tx.AllocateID(); err != nil {
				return result, err
			}
			if _, err := tx.Insert(id); err != nil {
				return result, err
			}
			result.Created = append(result.Created, id)
			in.logger.Debugw("new object", "id", id, "segment", i, "best_overlap", score)
		}
		unit, ok := units[id]
		if !ok {
			unit = newMergeUnit(id)
			units[id] = unit
		}
		unit.add(seg)
	}
	for _, id := range sortedIDs(units) {
		result.Units = append(result.Units, units[id])
	}
	return result, nil
}

// mergeObjects absorbs every group of objects that a single segment overlaps above the merge
// threshold into the group's lowest id.
func (in *Integrator) mergeObjects(tx *Txn, scores []map[ObjectID]float64, absorbed map[ObjectID]ObjectID) (bool, error) {
	resolve := func(id ObjectID) ObjectID {
		for {
			next, ok := absorbed[id]
			if !ok {
				return id
			}
			id = next
		}
	}
	merged := false
	for i, segScores := range scores {
		var group []ObjectID
		for _, id := range sortedIDs(segScores) {
			if segScores[id] > in.config.MergeThreshold {
				group = append(group, resolve(id))
			}
		}
		group = uniqueSorted(group)
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, drop := range group[1:] {
			if err := tx.Absorb(keep, drop); err != nil {
				return merged, err
			}
			absorbed[drop] = keep
			merged = true
			in.logger.Infow("merged objects", "kept", keep, "absorbed", drop, "segment", i)
		}
	}
	return merged, nil
}

func uniqueSorted(ids []ObjectID) []ObjectID {
	ids = lo.Uniq(ids)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IntegrateSemanticClasses propagates the units' labels to their objects. Background labels never
// overwrite an object's label.
func (in *Integrator) IntegrateSemanticClasses(tx *Txn, units []*MergeUnit) {
	for _, unit := range units {
		if unit.Class.IsBackground() {
			continue
		}
		if obj, ok := tx.Find(unit.ID); ok {
			obj.SetSemanticClass(unit.Class)
		}
	}
}

// Fuse integrates the unit into its object's sub-map and updates block ownership.
func (in *Integrator) Fuse(tx *Txn, unit *MergeUnit) error {
	return tx.Fuse(unit.ID, unit.Points, unit.Colors, unit.SensorPose)
}
