// Package anomaly decides whether a heartbeat's reported location is an
// anomalous jump and whether it moved far enough to be worth recording.
package anomaly

import (
	"context"

	"auth-lifecycle/internal/geo"
)

// Input describes one heartbeat's movement relative to the session's trail.
type Input struct {
	// AlreadySuspicious carries the session's sticky flag; once set it never
	// clears and evaluators must echo it back.
	AlreadySuspicious bool
	// LastRecorded is the newest point in the session's trail, nil when the
	// trail is empty.
	LastRecorded *geo.Point
	// Candidate is the location reported by this heartbeat, nil when the device
	// did not report one.
	Candidate *geo.Point
}

// Assessment is the outcome of evaluating one heartbeat.
type Assessment struct {
	// Suspicious reports whether the session must be flagged. Monotonic: true
	// whenever Input.AlreadySuspicious was true.
	Suspicious bool
	// RecordPoint reports whether the candidate should be appended to the
	// session's trail.
	RecordPoint bool
}

// Evaluator assesses heartbeat movement. Implementations must be monotonic in
// the suspicion flag and must not record absent candidates.
type Evaluator interface {
	Assess(ctx context.Context, in Input) (Assessment, error)
}

// BuiltinEvaluator flags a jump of suspicionKM or more between the last
// recorded point and the candidate, and records the candidate when it moved
// recordKM or more (or when the trail is empty).
type BuiltinEvaluator struct {
	suspicionKM float64
	recordKM    float64
}

// NewBuiltinEvaluator returns the distance-threshold evaluator.
func NewBuiltinEvaluator(suspicionKM, recordKM float64) *BuiltinEvaluator {
	return &BuiltinEvaluator{suspicionKM: suspicionKM, recordKM: recordKM}
}

// Assess applies the distance thresholds. It never fails.
func (e *BuiltinEvaluator) Assess(_ context.Context, in Input) (Assessment, error) {
	out := Assessment{Suspicious: in.AlreadySuspicious}
	if in.Candidate == nil {
		return out, nil
	}
	if in.LastRecorded == nil {
		// First reported location: nothing to compare against, always recorded.
		out.RecordPoint = true
		return out, nil
	}
	distance := geo.DistanceKM(*in.LastRecorded, *in.Candidate)
	if distance >= e.suspicionKM {
		out.Suspicious = true
	}
	if distance >= e.recordKM {
		out.RecordPoint = true
	}
	return out, nil
}
