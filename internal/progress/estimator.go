package progress

import "time"

const (
	defaultSpeedWindow   = 10
	defaultSlowThreshold = 1.0
	// etaMinRatio is the completion ratio below which no ETA is reported.
	etaMinRatio = 0.10
)

// EstimateInput is the state the estimator works from.
type EstimateInput struct {
	Current int
	Total   int
	Elapsed time.Duration
	// Samples are recent throughput measurements in items per second.
	Samples []float64
	// SlowThreshold is the items-per-second rate below which progress is
	// flagged as slow. Zero means the default of 1 item/s.
	SlowThreshold float64
}

// Estimate is the timing view derived from an EstimateInput.
type Estimate struct {
	Percentage float64
	Elapsed    float64
	Speed      float64
	// Remaining is nil until enough of the task is done to trust the rate.
	Remaining *float64
	Slow      bool
}

// Compute derives percentage, throughput, ETA and the slow flag. It is a pure
// function of its input.
func Compute(in EstimateInput) Estimate {
	threshold := in.SlowThreshold
	if threshold <= 0 {
		threshold = defaultSlowThreshold
	}
	out := Estimate{Elapsed: in.Elapsed.Seconds()}
	if in.Total > 0 {
		out.Percentage = float64(in.Current) / float64(in.Total) * 100
	}

	switch {
	case len(in.Samples) > 0:
		var sum float64
		for _, s := range in.Samples {
			sum += s
		}
		out.Speed = sum / float64(len(in.Samples))
	case out.Elapsed > 0:
		out.Speed = float64(in.Current) / out.Elapsed
	}

	if in.Total > 0 && out.Speed > 0 && float64(in.Current)/float64(in.Total) >= etaMinRatio {
		remaining := float64(in.Total-in.Current) / out.Speed
		out.Remaining = &remaining
	}
	out.Slow = out.Speed > 0 && out.Speed < threshold
	return out
}
