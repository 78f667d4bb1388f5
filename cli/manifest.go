package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/services/objectmapping"
	"go.viam.com/objectmap/spatialmath"
	"go.viam.com/objectmap/utils"
)

// SegmentManifest describes one recorded segment. File is a PCD cloud in the sensor frame,
// relative to the manifest.
type SegmentManifest struct {
	File          string    `json:"file"`
	ObjectID      uint32    `json:"object_id,omitempty"`
	SemanticClass uint32    `json:"semantic_class,omitempty"`
	Moved         bool      `json:"moved,omitempty"`
	Motion        []float64 `json:"motion,omitempty"`
}

// FrameManifest describes one recorded frame. Poses are row major 4x4 homogeneous matrices; an
// empty sensor pose is the identity.
type FrameManifest struct {
	Stamp      time.Time         `json:"stamp"`
	SensorPose []float64         `json:"sensor_pose,omitempty"`
	Segments   []SegmentManifest `json:"segments"`
}

func poseFromRowMajor(values []float64) (spatialmath.Pose, error) {
	if len(values) == 0 {
		return spatialmath.NewZeroPose(), nil
	}
	return spatialmath.NewPoseFromRowMajor(values)
}

// listManifests returns the frame manifests of dir in name order.
func listManifests(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no frame manifests found in %q", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFrame reads a manifest and the clouds it references.
func loadFrame(path string) (objectmapping.Frame, spatialmath.Pose, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return objectmapping.Frame{}, spatialmath.Pose{}, err
	}
	defer f.Close() //nolint:errcheck

	var manifest FrameManifest
	if err := json.NewDecoder(f).Decode(&manifest); err != nil {
		return objectmapping.Frame{}, spatialmath.Pose{}, errors.Wrapf(err, "failed to decode frame manifest %q", path)
	}
	sensorPose, err := poseFromRowMajor(manifest.SensorPose)
	if err != nil {
		return objectmapping.Frame{}, spatialmath.Pose{}, errors.Wrapf(err, "bad sensor_pose in %q", path)
	}

	frame := objectmapping.Frame{Stamp: manifest.Stamp}
	dir := filepath.Dir(path)
	for i, sm := range manifest.Segments {
		cloudPath, err := utils.SafeJoinDir(dir, sm.File)
		if err != nil {
			return objectmapping.Frame{}, spatialmath.Pose{}, errors.Wrapf(err, "segment %d of %q", i, path)
		}
		cloud, err := pointcloud.NewFromFile(cloudPath)
		if err != nil {
			return objectmapping.Frame{}, spatialmath.Pose{}, errors.Wrapf(err, "segment %d of %q", i, path)
		}
		seg := objectmap.NewSegmentFromPointCloud(cloud, sensorPose)
		seg.ObjectID = objectmap.ObjectID(sm.ObjectID)
		seg.Class = objectmap.SemanticClass(sm.SemanticClass)
		seg.Moved = sm.Moved
		if seg.Motion, err = poseFromRowMajor(sm.Motion); err != nil {
			return objectmapping.Frame{}, spatialmath.Pose{}, errors.Wrapf(err, "bad motion for segment %d of %q", i, path)
		}
		frame.Segments = append(frame.Segments, seg)
	}
	return frame, sensorPose, nil
}
