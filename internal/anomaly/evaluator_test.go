package anomaly

import (
	"context"
	"testing"

	"auth-lifecycle/internal/geo"
)

const (
	suspicionKM = 200.0
	recordKM    = 0.25
)

// ~1 degree of latitude is ~111 km; points chosen to straddle the thresholds.
var (
	origin    = geo.Point{Lat: 0, Lng: 0}
	nearby    = geo.Point{Lat: 0.001, Lng: 0}  // ~0.11 km, below record threshold
	walkable  = geo.Point{Lat: 0.005, Lng: 0}  // ~0.56 km, recordable
	sameCity  = geo.Point{Lat: 0.5, Lng: 0}    // ~56 km, recordable, not suspicious
	nearJump  = geo.Point{Lat: 1.79, Lng: 0}   // ~199 km, just under suspicion
	farJump   = geo.Point{Lat: 1.81, Lng: 0}   // ~201 km, suspicious
)

func TestBuiltinEvaluator_Assess(t *testing.T) {
	e := NewBuiltinEvaluator(suspicionKM, recordKM)

	tests := []struct {
		name string
		in   Input
		want Assessment
	}{
		{"no candidate", Input{LastRecorded: &origin}, Assessment{}},
		{"no candidate carries suspicion", Input{AlreadySuspicious: true}, Assessment{Suspicious: true}},
		{"first point always recorded", Input{Candidate: &origin}, Assessment{RecordPoint: true}},
		{"tiny move not recorded", Input{LastRecorded: &origin, Candidate: &nearby}, Assessment{}},
		{"short move recorded", Input{LastRecorded: &origin, Candidate: &walkable}, Assessment{RecordPoint: true}},
		{"long move recorded not suspicious", Input{LastRecorded: &origin, Candidate: &sameCity}, Assessment{RecordPoint: true}},
		{"just under suspicion threshold", Input{LastRecorded: &origin, Candidate: &nearJump}, Assessment{RecordPoint: true}},
		{"over suspicion threshold", Input{LastRecorded: &origin, Candidate: &farJump}, Assessment{Suspicious: true, RecordPoint: true}},
		{"suspicion is sticky", Input{AlreadySuspicious: true, LastRecorded: &origin, Candidate: &nearby}, Assessment{Suspicious: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Assess(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Assess: %v", err)
			}
			if got != tt.want {
				t.Errorf("Assess(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_DefaultPolicyMatchesBuiltin(t *testing.T) {
	builtin := NewBuiltinEvaluator(suspicionKM, recordKM)
	opa := NewOPAEvaluator("", suspicionKM, recordKM)

	inputs := []Input{
		{},
		{AlreadySuspicious: true},
		{Candidate: &origin},
		{LastRecorded: &origin, Candidate: &nearby},
		{LastRecorded: &origin, Candidate: &walkable},
		{LastRecorded: &origin, Candidate: &sameCity},
		{LastRecorded: &origin, Candidate: &farJump},
		{AlreadySuspicious: true, LastRecorded: &origin, Candidate: &nearby},
	}
	for _, in := range inputs {
		want, err := builtin.Assess(context.Background(), in)
		if err != nil {
			t.Fatalf("builtin Assess: %v", err)
		}
		got, err := opa.Assess(context.Background(), in)
		if err != nil {
			t.Fatalf("opa Assess: %v", err)
		}
		if got != want {
			t.Errorf("Assess(%+v): opa = %+v, builtin = %+v", in, got, want)
		}
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	// A stricter policy: any reported movement is suspicious.
	const policy = `package authlc.session_anomaly

default suspicious = false
default record_point = false

suspicious if {
	input.already_suspicious
}

suspicious if {
	input.distance_km > 0
}

record_point if {
	input.has_point
}
`
	e := NewOPAEvaluator(policy, suspicionKM, recordKM)

	got, err := e.Assess(context.Background(), Input{LastRecorded: &origin, Candidate: &nearby})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !got.Suspicious || !got.RecordPoint {
		t.Errorf("Assess = %+v, want suspicious and recorded", got)
	}
}

func TestOPAEvaluator_BrokenPolicyFallsBack(t *testing.T) {
	e := NewOPAEvaluator("this is not rego", suspicionKM, recordKM)

	got, err := e.Assess(context.Background(), Input{LastRecorded: &origin, Candidate: &farJump})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !got.Suspicious || !got.RecordPoint {
		t.Errorf("Assess = %+v, want builtin fallback result", got)
	}
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	if err := NewOPAEvaluator("", suspicionKM, recordKM).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck on default policy: %v", err)
	}
	if err := NewOPAEvaluator("garbage", suspicionKM, recordKM).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck on broken policy: want error")
	}
}
