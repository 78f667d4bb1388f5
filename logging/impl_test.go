package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("integrating frame", "frame", 3)
	logger.Debugf("tracked %d objects", 2)

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	entry := logs.All()[0]
	test.That(t, entry.Message, test.ShouldEqual, "integrating frame")
	test.That(t, entry.Level, test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, entry.ContextMap()["frame"], test.ShouldEqual, int64(3))
	test.That(t, logs.FilterMessage("tracked 2 objects").Len(), test.ShouldEqual, 1)
}

func TestSubloggerSharesLevel(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("tracker")
	sub.Info("hello")
	test.That(t, logs.All()[0].LoggerName, test.ShouldEqual, "tracker")

	logger.SetLevel(zapcore.WarnLevel)
	test.That(t, sub.GetLevel(), test.ShouldEqual, zapcore.WarnLevel)
	sub.Info("dropped")
	sub.Warn("kept")
	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("DEBUG")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lvl, test.ShouldEqual, zapcore.DebugLevel)

	lvl, err = LevelFromString("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lvl, test.ShouldEqual, zapcore.InfoLevel)

	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewLoggerAtLevel("x", "loud")
	test.That(t, err, test.ShouldNotBeNil)
	logger, err := NewLoggerAtLevel("x", "warn")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.GetLevel(), test.ShouldEqual, zapcore.WarnLevel)
}
