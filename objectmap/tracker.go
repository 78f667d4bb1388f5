package objectmap

import (
	"context"

	"go.opencensus.io/trace"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/spatialmath"
)

// TrackingPolicy decides whether an object's pose should be updated from a fusion unit.
type TrackingPolicy interface {
	ShouldTrack(unit *MergeUnit, object *ObjectVolume, source SegmentationSource) bool
}

// TrackingPolicyFunc adapts a function to a TrackingPolicy.
type TrackingPolicyFunc func(unit *MergeUnit, object *ObjectVolume, source SegmentationSource) bool

// ShouldTrack calls f.
func (f TrackingPolicyFunc) ShouldTrack(unit *MergeUnit, object *ObjectVolume, source SegmentationSource) bool {
	return f(unit, object, source)
}

// DefaultTrackingPolicy tracks every object with ground truth motion, and otherwise every object
// that is small enough and not pure background.
type DefaultTrackingPolicy struct {
	// MaxPoints skips units with more points than this. 0 means no limit.
	MaxPoints int `json:"max_tracked_points"`
	// TrackBackground also registers units whose label and object label are both background.
	TrackBackground bool `json:"track_background"`
}

// NewDefaultTrackingPolicy returns the default policy.
func NewDefaultTrackingPolicy() DefaultTrackingPolicy {
	return DefaultTrackingPolicy{MaxPoints: 100000}
}

// ShouldTrack implements TrackingPolicy.
func (p DefaultTrackingPolicy) ShouldTrack(unit *MergeUnit, object *ObjectVolume, source SegmentationSource) bool {
	if p.MaxPoints > 0 && unit.Size() > p.MaxPoints {
		return false
	}
	if source.ProvidesMotion() {
		return unit.Moved
	}
	if !p.TrackBackground && unit.Class.IsBackground() && object.SemanticClass().IsBackground() {
		return false
	}
	return true
}

// TrackStatus describes what the tracker did with one object.
type TrackStatus string

// Tracking outcomes.
const (
	TrackSkippedPolicy     TrackStatus = "skipped_policy"
	TrackSkippedEmptyModel TrackStatus = "skipped_empty_model"
	TrackNotConverged      TrackStatus = "not_converged"
	TrackMoved             TrackStatus = "moved"
	TrackGroundTruth       TrackStatus = "ground_truth"
)

// TrackResult is the tracker's decision for one object in one frame.
type TrackResult struct {
	ID     ObjectID
	Status TrackStatus
	// Delta is the world frame motion applied to the object. It is the identity unless Status is
	// TrackMoved or TrackGroundTruth.
	Delta spatialmath.Pose
}

// Tracker updates object poses from the current frame before the frame is fused.
type Tracker struct {
	source       SegmentationSource
	registration Registration
	policy       TrackingPolicy
	logger       logging.Logger
}

// NewTracker returns a tracker. registration may be nil when source provides motion. A nil policy
// uses the default policy.
func NewTracker(source SegmentationSource, reg Registration, policy TrackingPolicy, logger logging.Logger) *Tracker {
	if policy == nil {
		policy = NewDefaultTrackingPolicy()
	}
	return &Tracker{source: source, registration: reg, policy: policy, logger: logger}
}

// UpdatePoses estimates and applies the motion of every object the units were assigned to. Each
// object is tracked at most once, from its first moved unit or else its first unit. Motions of
// further moved units for the same object are ignored with a warning.
func (tr *Tracker) UpdatePoses(ctx context.Context, tx *Txn, units []*MergeUnit) ([]TrackResult, error) {
	ctx, span := trace.StartSpan(ctx, "objectmap::track")
	defer span.End()

	chosen := map[ObjectID]*MergeUnit{}
	var order []ObjectID
	for _, unit := range units {
		prev, ok := chosen[unit.ID]
		switch {
		case !ok:
			chosen[unit.ID] = unit
			order = append(order, unit.ID)
		case unit.Moved && !prev.Moved:
			chosen[unit.ID] = unit
		case unit.Moved:
			tr.logger.Warnw("ignoring motion of an additional segment", "id", unit.ID)
		}
	}

	var results []TrackResult
	for _, id := range order {
		unit := chosen[id]
		obj, ok := tx.Find(unit.ID)
		if !ok {
			continue
		}
		res := tr.track(ctx, unit, obj)
		if res.Status == TrackMoved || res.Status == TrackGroundTruth {
			if err := tx.Transform(unit.ID, res.Delta); err != nil {
				return results, err
			}
		}
		tr.logger.Debugw("tracked object", "id", unit.ID, "status", res.Status, "delta", res.Delta)
		results = append(results, res)
	}
	return results, nil
}

func (tr *Tracker) track(ctx context.Context, unit *MergeUnit, obj *ObjectVolume) TrackResult {
	res := TrackResult{ID: unit.ID, Status: TrackSkippedPolicy, Delta: spatialmath.NewZeroPose()}
	if !tr.policy.ShouldTrack(unit, obj, tr.source) {
		return res
	}
	if tr.source.ProvidesMotion() {
		res.Status = TrackGroundTruth
		res.Delta = spatialmath.Orthonormalize(unit.Motion)
		return res
	}
	if tr.registration == nil {
		return res
	}

	model := obj.SubMap().SampleSurface()
	if len(model) == 0 {
		res.Status = TrackSkippedEmptyModel
		return res
	}
	alignment, converged := tr.registration.Align(ctx, unit.WorldPoints(), model, spatialmath.NewZeroPose())
	if !converged {
		res.Status = TrackNotConverged
		return res
	}
	res.Status = TrackMoved
	res.Delta = spatialmath.Orthonormalize(spatialmath.PoseInverse(alignment))
	return res
}
