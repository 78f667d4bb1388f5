package objectmapping

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/objectmap/history"
	"go.viam.com/objectmap/logging"
	"go.viam.com/objectmap/objectmap"
	"go.viam.com/objectmap/registration"
	"go.viam.com/objectmap/utils"
)

var (
	// ErrQueueFull is returned by Submit when the frame queue has no room left.
	ErrQueueFull = errors.New("frame queue is full")
	// ErrClosed is returned for frames submitted after Close.
	ErrClosed = errors.New("object mapping service is closed")
)

// Frame is one batch of segments observed at a single timestamp. Segment points are in the sensor
// frame; the service resolves the sensor pose from the frame's timestamp.
type Frame struct {
	Stamp    time.Time
	Segments []*objectmap.Segment
}

// Dependencies are the collaborators of a Service. Only PoseLookup is required.
type Dependencies struct {
	PoseLookup PoseLookup
	// Registration overrides the ICP built from the config when tracking is enabled.
	Registration objectmap.Registration
	// History, if set, receives every integrated frame. The caller owns and closes it.
	History *history.Store
	Clock   clock.Clock
	Logger  logging.Logger
}

// Stats counts frames seen by the service.
type Stats struct {
	Ingested  int64
	Dropped   int64
	Rejected  int64
	LastStamp time.Time
}

// Service owns an object map and serializes every mutation of it.
type Service struct {
	conf    Config
	source  objectmap.SegmentationSource
	mapper  *objectmap.Mapper
	poses   PoseLookup
	history *history.Store
	clock   clock.Clock
	logger  logging.Logger

	submitMu sync.Mutex
	closed   bool
	queue    chan Frame

	// pending counts submitted frames not yet processed; idle is closed when it drops to zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	workers  utils.StoppableWorkers
	meshTick utils.StoppableWorkers

	timings   *timingRecorder
	ingested  atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
	lastStamp atomic.Time
}

// New builds a service from a validated config and starts its background workers.
func New(conf Config, deps Dependencies) (*Service, error) {
	if err := conf.Validate("objectmapping"); err != nil {
		return nil, err
	}
	if deps.PoseLookup == nil {
		return nil, errors.New("a pose lookup is required")
	}
	source, err := objectmap.ParseSegmentationSource(conf.Segmentation)
	if err != nil {
		return nil, err
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLogger("objectmapping")
	}

	m := objectmap.NewMap(objectmap.NewLayerFactory(conf.Voxel), clk, logger.Sublogger("map"))
	integrator := objectmap.NewIntegrator(conf.Integrator, source, logger.Sublogger("integrator"))
	var tracker *objectmap.Tracker
	if conf.TrackingEnabled {
		reg := deps.Registration
		if reg == nil {
			reg = registration.NewICP(conf.Registration, logger.Sublogger("registration"))
		}
		tracker = objectmap.NewTracker(source, reg, conf.Tracking, logger.Sublogger("tracker"))
	}

	s := &Service{
		conf:    conf,
		source:  source,
		mapper:  objectmap.NewMapper(m, integrator, tracker, logger),
		poses:   deps.PoseLookup,
		history: deps.History,
		clock:   clk,
		logger:  logger,
		queue:   make(chan Frame, conf.FrameQueueSize),
		timings: newTimingRecorder(conf.TimingWindow),
	}
	s.workers = utils.NewStoppableWorkers(s.processFrames)
	if conf.MeshUpdatePeriod > 0 {
		s.meshTick = utils.NewStoppableWorkerWithTicker(conf.MeshUpdatePeriod, clk, s.updateMesh)
	}
	logger.Infow("object mapping started",
		"segmentation", conf.Segmentation,
		"tracking", conf.TrackingEnabled,
		"session", m.Session().String())
	return s, nil
}

// Mapper returns the underlying mapper.
func (s *Service) Mapper() *objectmap.Mapper {
	return s.mapper
}

// IngestFrame resolves the frame's sensor pose and integrates it synchronously. If the pose is
// unavailable the frame is dropped without touching the map and an error wrapping
// ErrPoseUnavailable is returned.
func (s *Service) IngestFrame(ctx context.Context, frame Frame) (objectmap.FrameResult, error) {
	start := s.clock.Now()
	pose, err := s.poses.SensorPose(ctx, frame.Stamp)
	s.timings.record(StagePoseLookup, s.clock.Since(start))
	if err != nil {
		s.dropped.Inc()
		s.logger.Warnw("dropping frame", "stamp", frame.Stamp, "error", err)
		if !errors.Is(err, ErrPoseUnavailable) {
			err = errors.Wrap(ErrPoseUnavailable, err.Error())
		}
		return objectmap.FrameResult{}, err
	}

	segments := make([]*objectmap.Segment, 0, len(frame.Segments))
	for _, seg := range frame.Segments {
		cp := *seg
		cp.SensorPose = pose
		segments = append(segments, &cp)
	}

	integrateStart := s.clock.Now()
	res, err := s.mapper.IngestFrame(ctx, segments)
	s.timings.record(StageIntegrate, s.clock.Since(integrateStart))
	if err != nil {
		return res, err
	}
	s.ingested.Inc()
	s.lastStamp.Store(frame.Stamp)

	if s.history != nil && len(segments) > 0 {
		historyStart := s.clock.Now()
		if err := s.recordHistory(ctx, frame.Stamp, res); err != nil {
			s.logger.Warnw("failed to record frame history", "frame", res.FrameNumber, "error", err)
		}
		s.timings.record(StageHistory, s.clock.Since(historyStart))
	}
	s.logger.Debugw("frame timings", "frame", res.FrameNumber, "total", s.clock.Since(start))
	return res, nil
}

func (s *Service) recordHistory(ctx context.Context, stamp time.Time, res objectmap.FrameResult) error {
	rec := history.FrameRecord{
		Session:     s.mapper.Map().Session().String(),
		FrameNumber: res.FrameNumber,
		Stamp:       stamp,
		Segments:    res.Segments,
		Created:     len(res.Assignment.Created),
		Absorbed:    len(res.Assignment.Absorbed),
		Dropped:     res.Assignment.Dropped,
		Duration:    res.Duration,
	}
	for _, info := range s.mapper.Objects() {
		rec.Objects = append(rec.Objects, history.ObjectState{
			ID:           info.ID,
			Class:        info.Class,
			Observations: info.Observations,
			Pose:         info.Pose,
		})
	}
	return s.history.RecordFrame(ctx, rec)
}

// Submit queues a frame for the background writer. It never blocks: ErrQueueFull is returned when
// the queue is at capacity.
func (s *Service) Submit(frame Frame) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.addPending()
	select {
	case s.queue <- frame:
		return nil
	default:
		s.donePending()
		s.rejected.Inc()
		return ErrQueueFull
	}
}

func (s *Service) addPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
}

func (s *Service) donePending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

// Drain waits until no submitted frame is waiting or being processed, or ctx is done. Frames
// submitted while draining extend the wait.
func (s *Service) Drain(ctx context.Context) error {
	for {
		s.pendingMu.Lock()
		if s.pending == 0 {
			s.pendingMu.Unlock()
			return nil
		}
		idle := s.idle
		s.pendingMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) processFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.queue:
			//nolint:errcheck
			s.IngestFrame(ctx, frame)
			s.donePending()
		}
	}
}

func (s *Service) updateMesh(ctx context.Context) {
	start := s.clock.Now()
	if s.mapper.RegenerateMesh(false) {
		s.logger.Debugw("mesh updated", "vertices", s.mapper.Mesh().NumVertices())
	}
	s.timings.record(StageMesh, s.clock.Since(start))
}

// RemoveObject deletes one object from the map.
func (s *Service) RemoveObject(id objectmap.ObjectID) bool {
	removed := s.mapper.RemoveObject(id)
	if removed {
		s.logger.Infow("removed object", "id", id)
	}
	return removed
}

// RemoveAllObjects deletes every object, keeping the id allocator.
func (s *Service) RemoveAllObjects() int {
	n := s.mapper.RemoveAllObjects()
	s.logger.Infow("removed all objects", "count", n)
	return n
}

// ResetMap clears the map and starts a new session.
func (s *Service) ResetMap() {
	s.mapper.ResetMap()
}

// Snapshot returns every object's pose, label and occupancy plus map totals.
func (s *Service) Snapshot() objectmap.Snapshot {
	return s.mapper.Snapshot()
}

// GenerateMesh regenerates the full mesh now and returns it.
func (s *Service) GenerateMesh() objectmap.MapMesh {
	start := s.clock.Now()
	s.mapper.RegenerateMesh(true)
	s.timings.record(StageMesh, s.clock.Since(start))
	return s.mapper.Mesh()
}

// Mesh returns the most recently generated mesh.
func (s *Service) Mesh() objectmap.MapMesh {
	return s.mapper.Mesh()
}

// Timings summarizes the recent duration of each pipeline stage.
func (s *Service) Timings() []StageTiming {
	return s.timings.summaries()
}

// Stats returns the frame counters.
func (s *Service) Stats() Stats {
	return Stats{
		Ingested:  s.ingested.Load(),
		Dropped:   s.dropped.Load(),
		Rejected:  s.rejected.Load(),
		LastStamp: s.lastStamp.Load(),
	}
}

// Close stops the background workers. Frames still queued are discarded.
func (s *Service) Close(ctx context.Context) error {
	s.submitMu.Lock()
	if s.closed {
		s.submitMu.Unlock()
		return nil
	}
	s.closed = true
	s.submitMu.Unlock()

	if s.meshTick != nil {
		s.meshTick.Stop()
	}
	s.workers.Stop()
	for {
		select {
		case <-s.queue:
			s.donePending()
		default:
			s.logger.Info("object mapping stopped")
			return nil
		}
	}
}
