// Package registration estimates rigid alignments between point sets.
package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/pointcloud"
	"go.viam.com/objectmap/spatialmath"
)

// Config holds configuration for the ICP algorithm. Distances are in meters.
type Config struct {
	MaxIterations             int     `json:"max_iterations"`
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
	// TransformationEpsilon stops iterating once an update moves less than this, in meters and radians.
	TransformationEpsilon float64 `json:"transformation_epsilon"`
	// FitnessEpsilon stops iterating once the mean residual changes less than this.
	FitnessEpsilon float64 `json:"fitness_epsilon"`
	// MinInlierFraction is the fraction of source points that must find a correspondence for the
	// result to count as converged.
	MinInlierFraction float64 `json:"min_inlier_fraction"`
	// OutlierPercentile keeps only this fraction of the closest correspondences each iteration.
	OutlierPercentile float64 `json:"outlier_percentile"`
	// MaxSourcePoints subsamples the source to at most this many points. 0 uses all of them.
	MaxSourcePoints int `json:"max_source_points"`
	// MaxFitness rejects converged results whose mean residual is above this. 0 disables the check.
	MaxFitness float64 `json:"max_fitness,omitempty"`
}

// DefaultConfig returns defaults suited to centimeter scale object surfaces.
func DefaultConfig() Config {
	return Config{
		MaxIterations:             50,
		MaxCorrespondenceDistance: 0.05,
		TransformationEpsilon:     1e-6,
		FitnessEpsilon:            1e-9,
		MinInlierFraction:         0.3,
		OutlierPercentile:         0.9,
		MaxSourcePoints:           2000,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.MaxIterations <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "max_iterations")
	}
	if c.MaxCorrespondenceDistance <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "max_correspondence_distance")
	}
	if c.OutlierPercentile <= 0 || c.OutlierPercentile > 1 {
		return goutils.NewConfigValidationError(path, errors.New("outlier_percentile must be in (0, 1]"))
	}
	if c.MinInlierFraction < 0 || c.MinInlierFraction > 1 {
		return goutils.NewConfigValidationError(path, errors.New("min_inlier_fraction must be in [0, 1]"))
	}
	if c.MaxSourcePoints < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_source_points cannot be negative"))
	}
	return nil
}

// Result contains the result of an ICP alignment.
type Result struct {
	// Transform maps source points onto the target.
	Transform      spatialmath.Pose
	Converged      bool
	Fitness        float64 // mean distance of the kept correspondences
	InlierFraction float64 // fraction of source points with a correspondence
	Iterations     int
}

// ICP is point to point iterative closest point registration.
type ICP struct {
	config Config
	logger logging.Logger
}

// NewICP returns an ICP aligner.
func NewICP(config Config, logger logging.Logger) *ICP {
	return &ICP{config: config, logger: logger}
}

type correspondence struct {
	src, dst r3.Vector
	dist     float64
}

// Align returns the transform taking source onto target and whether it converged. It never
// fails; on cancellation or degenerate input it returns initial and false.
func (icp *ICP) Align(ctx context.Context, source, target []r3.Vector, initial spatialmath.Pose) (spatialmath.Pose, bool) {
	res, err := icp.AlignWithResult(ctx, source, target, initial)
	if err != nil {
		icp.logger.Debugw("alignment aborted", "error", err)
		return initial, false
	}
	return res.Transform, res.Converged
}

// AlignWithResult runs ICP from the initial guess and reports the details of the final estimate.
// Only context cancellation is returned as an error.
func (icp *ICP) AlignWithResult(
	ctx context.Context,
	source, target []r3.Vector,
	initial spatialmath.Pose,
) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "registration::Align")
	defer span.End()

	result := Result{Transform: initial}
	if len(source) < 3 || len(target) < 3 {
		return result, nil
	}
	src := subsample(source, icp.config.MaxSourcePoints)
	tree := pointcloud.NewKDTreeFromVectors(target)

	current := initial
	prevFitness := math.Inf(1)
	degenerate := false
	for result.Iterations < icp.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations++

		kept, _ := icp.match(tree, current, src)
		step, err := kabschPairs(kept)
		if err != nil {
			degenerate = true
			break
		}
		current = spatialmath.Orthonormalize(spatialmath.Compose(step, current))

		fitness := meanDistance(kept)
		moved := step.Point().Norm()
		turned := spatialmath.RotationDeviation(step, spatialmath.NewZeroPose())
		if (moved < icp.config.TransformationEpsilon && turned < icp.config.TransformationEpsilon) ||
			math.Abs(prevFitness-fitness) < icp.config.FitnessEpsilon {
			break
		}
		prevFitness = fitness
	}

	kept, inliers := icp.match(tree, current, src)
	result.Transform = current
	result.Fitness = meanDistance(kept)
	result.InlierFraction = float64(inliers) / float64(len(src))
	result.Converged = !degenerate &&
		result.InlierFraction >= icp.config.MinInlierFraction &&
		(icp.config.MaxFitness == 0 || result.Fitness <= icp.config.MaxFitness)
	return result, nil
}

// match pairs every transformed source point with its nearest target within the correspondence
// distance, then keeps the closest OutlierPercentile of them.
func (icp *ICP) match(tree *pointcloud.KDTree, current spatialmath.Pose, src []r3.Vector) ([]correspondence, int) {
	pairs := make([]correspondence, 0, len(src))
	for _, p := range src {
		moved := current.Transform(p)
		nn, dist, ok := tree.NearestNeighbor(moved)
		if !ok || dist > icp.config.MaxCorrespondenceDistance {
			continue
		}
		pairs = append(pairs, correspondence{src: moved, dst: nn, dist: dist})
	}
	inliers := len(pairs)
	if inliers == 0 || icp.config.OutlierPercentile >= 1 {
		return pairs, inliers
	}
	dists := make(stats.Float64Data, 0, len(pairs))
	for _, p := range pairs {
		dists = append(dists, p.dist)
	}
	cutoff, err := dists.PercentileNearestRank(icp.config.OutlierPercentile * 100)
	if err != nil {
		return pairs, inliers
	}
	kept := pairs[:0]
	for _, p := range pairs {
		if p.dist <= cutoff {
			kept = append(kept, p)
		}
	}
	return kept, inliers
}

func meanDistance(pairs []correspondence) float64 {
	if len(pairs) == 0 {
		return math.Inf(1)
	}
	total := 0.
	for _, p := range pairs {
		total += p.dist
	}
	return total / float64(len(pairs))
}

// subsample keeps every k-th point so that at most limit points remain.
func subsample(pts []r3.Vector, limit int) []r3.Vector {
	if limit <= 0 || len(pts) <= limit {
		return pts
	}
	stride := float64(len(pts)) / float64(limit)
	out := make([]r3.Vector, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, pts[int(float64(i)*stride)])
	}
	return out
}

func kabschPairs(pairs []correspondence) (spatialmath.Pose, error) {
	src := make([]r3.Vector, len(pairs))
	dst := make([]r3.Vector, len(pairs))
	for i, p := range pairs {
		src[i], dst[i] = p.src, p.dst
	}
	return kabsch(src, dst)
}

// kabsch returns the least squares rigid transform taking each src onto the dst at the same index.
func kabsch(src, dst []r3.Vector) (spatialmath.Pose, error) {
	if len(src) != len(dst) {
		return spatialmath.Pose{}, errors.Errorf("mismatched correspondence lengths %d and %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return spatialmath.Pose{}, errors.New("need at least 3 correspondences")
	}
	srcMean := pointcloud.Vectors(src).Centroid()
	dstMean := pointcloud.Vectors(dst).Centroid()

	h := mat.NewDense(3, 3, nil)
	for k := range src {
		s := src[k].Sub(srcMean)
		d := dst[k].Sub(dstMean)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h.Set(i, j, h.At(i, j)+sv[i]*dv[j])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return spatialmath.Pose{}, errors.New("failed to factorize covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&v, u.T())
	}

	q := spatialmath.RotationMatrixToQuat(&rot)
	rotated := spatialmath.RotateVector(q, srcMean)
	return spatialmath.NewPose(dstMean.Sub(rotated), q), nil
}
