// Package objectmapping runs an object map as a long lived service: it resolves sensor poses for
// incoming frames, feeds them through a single writer queue, keeps the mesh fresh in the
// background and serves administrative requests.
package objectmapping

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/registration"
	"go.viam.com/objectmap/voxel"
)

const (
	defaultMeshUpdatePeriod = time.Second
	defaultFrameQueueSize   = 16
	defaultTimingWindow     = 256
)

// Config describes how to build a Service.
type Config struct {
	// Segmentation is one of "inferred", "ground_truth" or "ground_truth_motion".
	Segmentation    string                          `json:"segmentation"`
	Voxel           voxel.Config                    `json:"voxel"`
	Integrator      objectmap.IntegratorConfig      `json:"integrator"`
	TrackingEnabled bool                            `json:"tracking_enabled"`
	Tracking        objectmap.DefaultTrackingPolicy `json:"tracking"`
	Registration    registration.Config             `json:"registration"`
	// MeshUpdatePeriod is how often updated blocks are remeshed. 0 disables the background update.
	MeshUpdatePeriod time.Duration `json:"mesh_update_period"`
	FrameQueueSize   int           `json:"frame_queue_size"`
	// TimingWindow is the number of recent samples kept per pipeline stage.
	TimingWindow int    `json:"timing_window"`
	ExportFormat string `json:"export_format"`
}

// DefaultConfig returns a config for inferred segmentation with tracking disabled.
func DefaultConfig() Config {
	return Config{
		Segmentation:     objectmap.SegmentationInferred,
		Voxel:            voxel.DefaultConfig(),
		Integrator:       objectmap.DefaultIntegratorConfig(),
		Tracking:         objectmap.NewDefaultTrackingPolicy(),
		Registration:     registration.DefaultConfig(),
		MeshUpdatePeriod: defaultMeshUpdatePeriod,
		FrameQueueSize:   defaultFrameQueueSize,
		TimingWindow:     defaultTimingWindow,
		ExportFormat:     "binary",
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if _, err := objectmap.ParseSegmentationSource(conf.Segmentation); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if err := conf.Voxel.Validate(path + ".voxel"); err != nil {
		return err
	}
	if err := conf.Integrator.Validate(path + ".integrator"); err != nil {
		return err
	}
	if conf.TrackingEnabled {
		if err := conf.Registration.Validate(path + ".registration"); err != nil {
			return err
		}
	}
	if conf.Tracking.MaxPoints < 0 {
		return goutils.NewConfigValidationError(path, errors.New("tracking.max_tracked_points cannot be negative"))
	}
	if conf.MeshUpdatePeriod < 0 {
		return goutils.NewConfigValidationError(path, errors.New("mesh_update_period cannot be negative"))
	}
	if conf.FrameQueueSize <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "frame_queue_size")
	}
	if conf.TimingWindow <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "timing_window")
	}
	if _, err := pointcloud.ParsePCDType(conf.ExportFormat); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// DecodeAttributes decodes a generic attribute map over the defaults. Durations may be given as
// strings such as "500ms".
func DecodeAttributes(attrs map[string]interface{}) (Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &conf,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(attrs); err != nil {
		return Config{}, errors.Wrap(err, "error decoding attributes")
	}
	return conf, nil
}
