package objectmapping

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/objectmap/spatialmath"
)

// ErrPoseUnavailable is returned when no sensor pose is known for a frame's timestamp.
var ErrPoseUnavailable = errors.New("sensor pose unavailable")

// PoseLookup resolves the world pose of the sensor at a frame's timestamp.
type PoseLookup interface {
	SensorPose(ctx context.Context, stamp time.Time) (spatialmath.Pose, error)
}

// StaticPoseLookup returns the same pose for every timestamp.
type StaticPoseLookup struct {
	Pose spatialmath.Pose
}

// SensorPose implements PoseLookup.
func (s StaticPoseLookup) SensorPose(ctx context.Context, stamp time.Time) (spatialmath.Pose, error) {
	return s.Pose, nil
}

// FramePoseLookup is a table of sensor poses keyed by exact timestamp, typically filled by
// whatever replays or receives the frames.
type FramePoseLookup struct {
	mu    sync.RWMutex
	poses map[int64]spatialmath.Pose
}

// NewFramePoseLookup returns an empty table.
func NewFramePoseLookup() *FramePoseLookup {
	return &FramePoseLookup{poses: map[int64]spatialmath.Pose{}}
}

// Set records the pose for a timestamp, replacing any earlier one.
func (f *FramePoseLookup) Set(stamp time.Time, pose spatialmath.Pose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poses[stamp.UnixNano()] = pose
}

// Forget drops the pose for a timestamp.
func (f *FramePoseLookup) Forget(stamp time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.poses, stamp.UnixNano())
}

// SensorPose implements PoseLookup.
func (f *FramePoseLookup) SensorPose(ctx context.Context, stamp time.Time) (spatialmath.Pose, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pose, ok := f.poses[stamp.UnixNano()]
	if !ok {
		return spatialmath.NewZeroPose(), errors.Wrapf(ErrPoseUnavailable, "no pose recorded at %v", stamp)
	}
	return pose, nil
}
