// Package history persists per frame object states of a mapping session to SQLite, so object
// trajectories can be inspected after a run.
package history

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/spatialmath"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ObjectState is the state of one object after a frame.
type ObjectState struct {
	ID           objectmap.ObjectID
	Class        objectmap.SemanticClass
	Observations int
	Pose         spatialmath.Pose
}

// FrameRecord is everything stored about one ingested frame.
type FrameRecord struct {
	Session     string
	FrameNumber int64
	Stamp       time.Time
	Segments    int
	Created     int
	Absorbed    int
	Dropped     int
	Duration    time.Duration
	Objects     []ObjectState
}

// FrameSummary is a stored frame without its object states.
type FrameSummary struct {
	FrameNumber int64
	Stamp       time.Time
	Segments    int
	Created     int
	Absorbed    int
	Dropped     int
	Duration    time.Duration
	Objects     int
}

// TrajectoryPoint is the pose of an object after one frame.
type TrajectoryPoint struct {
	FrameNumber int64
	Stamp       time.Time
	Pose        spatialmath.Pose
}

// Store is a SQLite backed frame history.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the database at path and brings its schema up to date.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening history database %q", path)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		goutils.UncheckedError(db.Close())
		return nil, errors.Wrap(err, "enabling foreign keys")
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		goutils.UncheckedError(db.Close())
		return nil, err
	}
	logger.Debugw("opened history database", "path", path)
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading history migrations")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "creating sqlite migration driver")
	}
	// the migrate instance is not closed since that would close the shared connection
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "creating migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrating history database")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFrame stores a frame and its object states in one transaction.
func (s *Store) RecordFrame(ctx context.Context, rec FrameRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning frame transaction")
	}
	defer func() {
		if err != nil {
			goutils.UncheckedError(tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO frames (session, frame_number, stamp_ns, segments, created, absorbed, dropped, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Session, rec.FrameNumber, rec.Stamp.UnixNano(), rec.Segments,
		rec.Created, rec.Absorbed, rec.Dropped, rec.Duration.Nanoseconds(),
	); err != nil {
		return errors.Wrapf(err, "recording frame %d", rec.FrameNumber)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO object_states (session, frame_number, object_id, class, observations, x, y, z, qw, qx, qy, qz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing object state insert")
	}
	defer goutils.UncheckedErrorFunc(stmt.Close)

	for _, obj := range rec.Objects {
		pt := obj.Pose.Point()
		q := obj.Pose.Orientation()
		if _, err = stmt.ExecContext(ctx,
			rec.Session, rec.FrameNumber, uint32(obj.ID), uint32(obj.Class), obj.Observations,
			pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
		); err != nil {
			return errors.Wrapf(err, "recording object %d of frame %d", obj.ID, rec.FrameNumber)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing frame")
	}
	return nil
}

// Sessions returns the recorded session ids, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session FROM frames GROUP BY session ORDER BY MIN(stamp_ns), session`)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	defer goutils.UncheckedErrorFunc(rows.Close)

	var sessions []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Frames returns the frames of a session in order.
func (s *Store) Frames(ctx context.Context, session string) ([]FrameSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.frame_number, f.stamp_ns, f.segments, f.created, f.absorbed, f.dropped, f.duration_ns,
			(SELECT COUNT(*) FROM object_states o WHERE o.session = f.session AND o.frame_number = f.frame_number)
		FROM frames f
		WHERE f.session = ?
		ORDER BY f.frame_number`, session)
	if err != nil {
		return nil, errors.Wrapf(err, "listing frames of session %s", session)
	}
	defer goutils.UncheckedErrorFunc(rows.Close)

	var frames []FrameSummary
	for rows.Next() {
		var f FrameSummary
		var stampNs, durationNs int64
		if err := rows.Scan(&f.FrameNumber, &stampNs, &f.Segments, &f.Created, &f.Absorbed, &f.Dropped,
			&durationNs, &f.Objects); err != nil {
			return nil, err
		}
		f.Stamp = time.Unix(0, stampNs)
		f.Duration = time.Duration(durationNs)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// ObjectTrajectory returns the recorded poses of one object in frame order.
func (s *Store) ObjectTrajectory(ctx context.Context, session string, id objectmap.ObjectID) ([]TrajectoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.frame_number, f.stamp_ns, o.x, o.y, o.z, o.qw, o.qx, o.qy, o.qz
		FROM object_states o
		JOIN frames f ON f.session = o.session AND f.frame_number = o.frame_number
		WHERE o.session = ? AND o.object_id = ?
		ORDER BY o.frame_number`, session, uint32(id))
	if err != nil {
		return nil, errors.Wrapf(err, "querying trajectory of object %d", id)
	}
	defer goutils.UncheckedErrorFunc(rows.Close)

	var points []TrajectoryPoint
	for rows.Next() {
		var p TrajectoryPoint
		var stampNs int64
		var pt r3.Vector
		var q quat.Number
		if err := rows.Scan(&p.FrameNumber, &stampNs, &pt.X, &pt.Y, &pt.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag); err != nil {
			return nil, err
		}
		p.Stamp = time.Unix(0, stampNs)
		p.Pose = spatialmath.NewPose(pt, q)
		points = append(points, p)
	}
	return points, rows.Err()
}
