package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"go.viam.com/objectmap/config"
	"go.viam.com/objectmap/history"
	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/services/objectmapping"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func newLogger(c *cli.Context, level string) (logging.Logger, error) {
	logger, err := logging.NewLoggerAtLevel("objectmap", level)
	if err != nil {
		return nil, err
	}
	if c.Bool(flagDebug) {
		logger.SetLevel(zapcore.DebugLevel)
	}
	return logger, nil
}

func readConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromAttributes("", map[string]interface{}{})
	}
	return config.Read(path)
}

// ReplayAction integrates every frame manifest of a directory in name order, then regenerates the
// mesh, prints a summary and optionally exports the map.
func ReplayAction(c *cli.Context) (err error) {
	cfg, err := readConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg.LogLevel)
	if err != nil {
		return err
	}
	manifests, err := listManifests(c.Path(flagFrames))
	if err != nil {
		return err
	}

	historyPath := cfg.History
	if c.IsSet(flagHistory) {
		historyPath = c.Path(flagHistory)
	}
	var store *history.Store
	if historyPath != "" {
		if store, err = history.Open(historyPath, logger.Sublogger("history")); err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, store.Close())
		}()
	}

	poses := objectmapping.NewFramePoseLookup()
	svc, err := objectmapping.New(cfg.Mapping, objectmapping.Dependencies{
		PoseLookup: poses,
		History:    store,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, svc.Close(c.Context))
	}()

	start := time.Now()
	for _, path := range manifests {
		frame, sensorPose, err := loadFrame(path)
		if err != nil {
			return err
		}
		poses.Set(frame.Stamp, sensorPose)
		if _, err := svc.IngestFrame(c.Context, frame); err != nil {
			return errors.Wrapf(err, "integrating %q", path)
		}
		poses.Forget(frame.Stamp)
	}
	svc.GenerateMesh()
	printSnapshot(c.App.Writer, svc.Snapshot(), time.Since(start))
	printTimings(c.App.Writer, svc.Timings())

	if dir := c.Path(flagExport); dir != "" {
		summary, err := svc.Export(c.Context, dir)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "exported %d objects (%d skipped), %d map points and %d mesh vertices to %s",
			len(summary.Objects), len(summary.Skipped), summary.MapPoints, summary.MeshVertices, summary.Dir)
	}
	return nil
}

func printSnapshot(w io.Writer, snap objectmap.Snapshot, elapsed time.Duration) {
	printf(w, "session %s: %d frames, %d objects in %v", snap.Session, snap.FrameNumber, len(snap.Objects), elapsed)
	for _, obj := range snap.Objects {
		pt := obj.Pose.Point()
		printf(w, "  object %d class %d: %d observations, %d blocks, %d occupied voxels, offset (%.3f, %.3f, %.3f)",
			obj.ID, obj.Class, obj.Observations, obj.Stats.Blocks, obj.Stats.Occupied, pt.X, pt.Y, pt.Z)
	}
	t := snap.Totals
	printf(w, "voxels %d: %d occupied, %d free, %d unknown", t.Voxels, t.Occupied, t.Free, t.Unknown)
}

func printTimings(w io.Writer, timings []objectmapping.StageTiming) {
	for _, st := range timings {
		printf(w, "  %-12s n=%-5d mean %-12v p50 %-12v p95 %-12v max %v", st.Stage, st.Count, st.Mean, st.P50, st.P95, st.Max)
	}
}
