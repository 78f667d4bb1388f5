package objectmapping

import (
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Pipeline stages with timing samples.
const (
	StagePoseLookup = "pose_lookup"
	StageIntegrate  = "integrate"
	StageHistory    = "history"
	StageMesh       = "mesh"
	StageExport     = "export"
)

// StageTiming summarizes the recent durations of one stage.
type StageTiming struct {
	Stage string
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// timingRecorder keeps a sliding window of samples per stage.
type timingRecorder struct {
	mu      sync.Mutex
	window  int
	samples map[string][]float64
}

func newTimingRecorder(window int) *timingRecorder {
	return &timingRecorder{window: window, samples: map[string][]float64{}}
}

func (tr *timingRecorder) record(stage string, d time.Duration) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	s := append(tr.samples[stage], float64(d))
	if len(s) > tr.window {
		s = s[len(s)-tr.window:]
	}
	tr.samples[stage] = s
}

func (tr *timingRecorder) summaries() []StageTiming {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]StageTiming, 0, len(tr.samples))
	for stage, samples := range tr.samples {
		if len(samples) == 0 {
			continue
		}
		data := stats.Float64Data(samples)
		// none of these fail on non empty input
		mean, _ := data.Mean()
		p50, _ := data.PercentileNearestRank(50)
		p95, _ := data.PercentileNearestRank(95)
		maximum, _ := data.Max()
		out = append(out, StageTiming{
			Stage: stage,
			Count: len(samples),
			Mean:  time.Duration(mean),
			P50:   time.Duration(p50),
			P95:   time.Duration(p95),
			Max:   time.Duration(maximum),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
