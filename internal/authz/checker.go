// Package authz implements the per-tool-call authorization gate.
//
// Two independent checks, both of which must pass: (a) the tool is not in the
// actor's denylist — evaluated through an embedded OPA Rego policy with the
// denylists loaded as OPA data; (b) no argument value matches the fixed set
// of known-dangerous patterns. The checker touches no network or database;
// denylists are in-memory configuration, optionally loaded from YAML.
package authz

import (
	"context"
	"embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	reinsotel "github.com/overwatch-ai/reins/internal/otel"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const toolAccessPolicy = "rego/tool_access.rego"
const toolAccessQuery = "data.reins.authz.tool_access.deny"

var tracer = reinsotel.Tracer("github.com/overwatch-ai/reins/internal/authz")

// Decision is the transient verdict for one tool-call attempt.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config holds the in-memory authorization configuration.
type Config struct {
	// Denylists maps actor id to the tool names that actor may never call.
	// The "*" key applies to every actor.
	Denylists map[string][]string `yaml:"denylists"`
}

// LoadConfig reads an authorization config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading authz config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing authz config: %w", err)
	}
	return &cfg, nil
}

// Checker evaluates tool-call authorization. Pure decision logic: the same
// inputs always produce the same verdict.
type Checker struct {
	prepared rego.PreparedEvalQuery
}

// NewChecker precompiles the embedded Rego policy with the config's
// denylists as OPA data. A nil config means empty denylists (arguments are
// still scanned).
func NewChecker(ctx context.Context, cfg *Config) (*Checker, error) {
	ctx, span := tracer.Start(ctx, "authz.checker.new")
	defer span.End()

	denylists := map[string][]string{}
	if cfg != nil && cfg.Denylists != nil {
		denylists = cfg.Denylists
	}

	content, err := embeddedPolicies.ReadFile(toolAccessPolicy)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", toolAccessPolicy, err)
	}

	data := map[string]interface{}{"denylists": toOPAData(denylists)}
	r := rego.New(
		rego.Query(toolAccessQuery),
		rego.Module(toolAccessPolicy, string(content)),
		rego.Store(inmem.NewFromObject(data)),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing Rego policy %s: %w", toolAccessPolicy, err)
	}

	span.SetAttributes(attribute.Int("authz.denylist_actors", len(denylists)))
	return &Checker{prepared: prepared}, nil
}

// Check returns the authorization verdict for one (actor, tool, arguments)
// triple. Denials carry a reason naming the failing check.
func (c *Checker) Check(ctx context.Context, actorID, toolName string, args map[string]any) (Decision, error) {
	ctx, span := tracer.Start(ctx, "authz.check",
		trace.WithAttributes(
			attribute.String("actor_id", actorID),
			attribute.String("tool.name", toolName),
		))
	defer span.End()

	input := map[string]interface{}{
		"actor_id":  actorID,
		"tool_name": toolName,
	}
	results, err := c.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("evaluating tool access: %w", err)
	}

	if reason := firstDenyReason(results); reason != "" {
		span.SetAttributes(attribute.Bool("authz.allowed", false))
		return Decision{Allowed: false, Reason: reason}, nil
	}

	if reason := scanArguments(args); reason != "" {
		span.SetAttributes(attribute.Bool("authz.allowed", false))
		return Decision{Allowed: false, Reason: reason}, nil
	}

	span.SetAttributes(attribute.Bool("authz.allowed", true))
	return Decision{Allowed: true}, nil
}

// firstDenyReason extracts the first string from a Rego deny-set result.
// OPA returns the set as []interface{} or, occasionally, map[string]interface{}.
func firstDenyReason(results rego.ResultSet) string {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ""
	}
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				return msgStr
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				return msgStr
			}
		}
	}
	return ""
}

// toOPAData converts the denylist map to the generic types OPA stores expect.
func toOPAData(denylists map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(denylists))
	for actor, toolNames := range denylists {
		items := make([]interface{}, len(toolNames))
		for i, name := range toolNames {
			items[i] = name
		}
		out[actor] = items
	}
	return out
}
