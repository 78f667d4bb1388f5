// Package voxel implements a sparse, block hashed truncated signed distance field. A Layer is
// the volumetric sub-map owned by one object: it fuses depth observations, resamples itself
// under rigid motion, and extracts surface points for registration and meshing.
package voxel

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Config describes the geometry and integration limits of a Layer.
type Config struct {
	VoxelSize          float64 `json:"voxel_size"`
	VoxelsPerSide      int     `json:"voxels_per_side"`
	TruncationDistance float64 `json:"truncation_distance"`
	MaxWeight          float64 `json:"max_weight"`
	// MaxRayLength drops observations farther than this from the sensor. 0 keeps everything.
	MaxRayLength float64 `json:"max_ray_length,omitempty"`
}

// DefaultConfig returns a 1cm voxel layer with 16^3 voxel blocks and a 4 voxel truncation band.
func DefaultConfig() Config {
	return Config{
		VoxelSize:          0.01,
		VoxelsPerSide:      16,
		TruncationDistance: 0.04,
		MaxWeight:          10000,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.VoxelSize <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "voxel_size")
	}
	if c.VoxelsPerSide <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "voxels_per_side")
	}
	if c.TruncationDistance < c.VoxelSize {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("truncation_distance (%v) must be at least voxel_size (%v)", c.TruncationDistance, c.VoxelSize))
	}
	if c.MaxWeight <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "max_weight")
	}
	if c.MaxRayLength < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_ray_length cannot be negative"))
	}
	return nil
}

// BlockSize is the edge length of one block in meters.
func (c Config) BlockSize() float64 {
	return c.VoxelSize * float64(c.VoxelsPerSide)
}
