package anomaly

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"auth-lifecycle/internal/geo"
)

const policyPackageQueryPrefix = "data.authlc.session_anomaly."

// Default Rego policy that matches the built-in distance thresholds.
const defaultRegoPolicy = `package authlc.session_anomaly

default suspicious = false
default record_point = false

suspicious if {
	input.already_suspicious
}

suspicious if {
	input.distance_km >= input.suspicion_threshold_km
}

record_point if {
	input.has_point
	not input.has_history
}

record_point if {
	input.distance_km >= input.record_threshold_km
}
`

// OPAEvaluator assesses heartbeat movement with a Rego policy, so operators can
// tighten or relax the anomaly rules without a redeploy. An empty custom policy
// means the default policy, which mirrors BuiltinEvaluator. If evaluation fails
// the evaluator falls back to the built-in thresholds rather than failing the
// heartbeat.
type OPAEvaluator struct {
	customPolicy string
	suspicionKM  float64
	recordKM     float64
	fallback     *BuiltinEvaluator
}

// NewOPAEvaluator returns a Rego-backed evaluator. customPolicy may be empty.
func NewOPAEvaluator(customPolicy string, suspicionKM, recordKM float64) *OPAEvaluator {
	return &OPAEvaluator{
		customPolicy: customPolicy,
		suspicionKM:  suspicionKM,
		recordKM:     recordKM,
		fallback:     NewBuiltinEvaluator(suspicionKM, recordKM),
	}
}

// HealthCheck verifies that the configured policy compiles and evaluates.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := e.compile()
	if err != nil {
		return fmt.Errorf("compile anomaly policy: %w", err)
	}
	in := e.buildInput(Input{})
	q := rego.New(
		rego.Query(policyPackageQueryPrefix+"suspicious"),
		rego.Compiler(compiler),
		rego.Input(in),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval anomaly policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("anomaly policy query returned no result")
	}
	return nil
}

// Assess evaluates the policy for one heartbeat. Falls back to the built-in
// thresholds on any policy failure.
func (e *OPAEvaluator) Assess(ctx context.Context, in Input) (Assessment, error) {
	compiler, err := e.compile()
	if err != nil {
		log.Printf("anomaly: failed to compile policy, using builtin thresholds: %v", err)
		return e.fallback.Assess(ctx, in)
	}

	input := e.buildInput(in)
	out := Assessment{Suspicious: in.AlreadySuspicious}

	suspicious, err := e.queryBool(ctx, compiler, "suspicious", input)
	if err != nil {
		log.Printf("anomaly: policy evaluation failed, using builtin thresholds: %v", err)
		return e.fallback.Assess(ctx, in)
	}
	// Suspicion is monotonic regardless of what the policy says.
	out.Suspicious = out.Suspicious || suspicious

	record, err := e.queryBool(ctx, compiler, "record_point", input)
	if err != nil {
		log.Printf("anomaly: policy evaluation failed, using builtin thresholds: %v", err)
		return e.fallback.Assess(ctx, in)
	}
	// An absent candidate is never recordable.
	out.RecordPoint = record && in.Candidate != nil

	return out, nil
}

func (e *OPAEvaluator) compile() (*ast.Compiler, error) {
	policy := e.customPolicy
	if policy == "" {
		policy = defaultRegoPolicy
	}
	return ast.CompileModules(map[string]string{"anomaly.rego": policy})
}

func (e *OPAEvaluator) buildInput(in Input) map[string]interface{} {
	input := map[string]interface{}{
		"already_suspicious":     in.AlreadySuspicious,
		"has_point":              in.Candidate != nil,
		"has_history":            in.LastRecorded != nil,
		"distance_km":            nil,
		"suspicion_threshold_km": e.suspicionKM,
		"record_threshold_km":    e.recordKM,
	}
	if in.LastRecorded != nil && in.Candidate != nil {
		input["distance_km"] = geo.DistanceKM(*in.LastRecorded, *in.Candidate)
	}
	return input
}

func (e *OPAEvaluator) queryBool(ctx context.Context, compiler *ast.Compiler, rule string, input map[string]interface{}) (bool, error) {
	q := rego.New(
		rego.Query(policyPackageQueryPrefix+rule),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("query %s returned no result", rule)
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("query %s returned non-boolean %T", rule, rs[0].Expressions[0].Value)
	}
	return v, nil
}
