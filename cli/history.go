package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/objectmap/history"
	"go.viam.com/objectmap/objectmap"
)

// HistoryAction prints the frames of a recorded session, or the trajectory of one object.
func HistoryAction(c *cli.Context) (err error) {
	logger, err := newLogger(c, "warn")
	if err != nil {
		return err
	}
	store, err := history.Open(c.Path(flagHistory), logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	session := c.String(flagSession)
	if session == "" {
		sessions, err := store.Sessions(c.Context)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return errors.New("history contains no sessions")
		}
		session = sessions[len(sessions)-1]
	}

	w := c.App.Writer
	if c.IsSet(flagObject) {
		id := objectmap.ObjectID(c.Uint(flagObject))
		traj, err := store.ObjectTrajectory(c.Context, session, id)
		if err != nil {
			return err
		}
		printf(w, "object %d in session %s: %d poses", id, session, len(traj))
		for _, p := range traj {
			pt := p.Pose.Point()
			printf(w, "  frame %d at %s: (%.3f, %.3f, %.3f)", p.FrameNumber, p.Stamp.UTC().Format("15:04:05.000"), pt.X, pt.Y, pt.Z)
		}
		return nil
	}

	frames, err := store.Frames(c.Context, session)
	if err != nil {
		return err
	}
	printf(w, "session %s: %d frames", session, len(frames))
	for _, f := range frames {
		printf(w, "  frame %d: %d segments, %d created, %d absorbed, %d dropped, %d objects, %v",
			f.FrameNumber, f.Segments, f.Created, f.Absorbed, f.Dropped, f.Objects, f.Duration)
	}
	return nil
}
