package plan

import (
	"github.com/google/cel-go/cel"

	"github.com/cobaltmesh/ucg/pkg/config"
	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// key is the catalog's internal (collective, algorithm) registration key,
// spec section 4.1's "registry of algorithm builders keyed by
// (collective-type, algorithm-id)".
type key struct {
	coll CollType
	algo AlgorithmID
}

// compiledOverride pairs one policy rule with its compiled CEL program,
// compiled once at catalog construction rather than per selection (spec
// section 4.1's selection fallback order starts with "explicit algorithm
// override (config)"; SPEC_FULL section 2.2 grounds this on
// pkg/kernel/celdp/evaluator.go's "compile once, evaluate many" shape).
type compiledOverride struct {
	collective string
	algorithm  AlgorithmID
	program    cel.Program
}

// Catalog is the process-wide registry of algorithm builders and the
// compiled override policy consulted ahead of them (spec section 4.1).
type Catalog struct {
	builders  map[key]Builder
	overrides []compiledOverride
	env       *cel.Env
}

func algorithmFromName(name string) (AlgorithmID, bool) {
	switch name {
	case "recursive-k":
		return AlgorithmRecursiveK, true
	case "ring":
		return AlgorithmRing, true
	case "bruck":
		return AlgorithmBruck, true
	case "plummer":
		return AlgorithmPlummer, true
	default:
		return 0, false
	}
}

func collFromName(name string) (CollType, bool) {
	switch name {
	case "barrier":
		return CollBarrier, true
	case "broadcast":
		return CollBroadcast, true
	case "allreduce":
		return CollAllReduce, true
	case "alltoallv":
		return CollAllToAllV, true
	default:
		return 0, false
	}
}

// NewCatalog builds a catalog with the four built-in builders registered and
// compiles policy's override rules, if any.
func NewCatalog(policy *config.Policy) (*Catalog, error) {
	env, err := cel.NewEnv(
		cel.Variable("msg_size", cel.IntType),
		cel.Variable("group_size", cel.IntType),
		cel.Variable("is_power_of_two", cel.BoolType),
		cel.Variable("root", cel.IntType),
	)
	if err != nil {
		return nil, ucgerr.Wrap(ucgerr.InvalidParam, err, "build cel environment")
	}

	c := &Catalog{
		builders: map[key]Builder{
			{CollAllReduce, AlgorithmRecursiveK}: BuildRecursiveK,
			{CollAllReduce, AlgorithmRing}:       BuildRing,
			{CollBarrier, AlgorithmRecursiveK}:   BuildRecursiveK,
			{CollBarrier, AlgorithmRing}:         BuildRing,
			{CollBroadcast, AlgorithmRecursiveK}: BuildRecursiveK,
			{CollAllToAllV, AlgorithmBruck}:      BuildBruck,
			{CollAllToAllV, AlgorithmPlummer}:    BuildPlummer,
		},
		env: env,
	}

	if policy != nil {
		for _, rule := range policy.Overrides {
			if err := c.addOverride(rule); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Catalog) addOverride(rule config.OverrideRule) error {
	algo, ok := algorithmFromName(rule.Algorithm)
	if !ok {
		return ucgerr.New(ucgerr.InvalidParam, "override rule names unknown algorithm %q", rule.Algorithm)
	}
	if _, ok := collFromName(rule.Collective); !ok {
		return ucgerr.New(ucgerr.InvalidParam, "override rule names unknown collective %q", rule.Collective)
	}
	ast, issues := c.env.Compile(rule.Expr)
	if issues != nil && issues.Err() != nil {
		return ucgerr.Wrap(ucgerr.InvalidParam, issues.Err(), "compile override expr %q", rule.Expr)
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return ucgerr.Wrap(ucgerr.InvalidParam, err, "build cel program for %q", rule.Expr)
	}
	c.overrides = append(c.overrides, compiledOverride{
		collective: rule.Collective,
		algorithm:  algo,
		program:    prg,
	})
	return nil
}

// Register installs (or replaces) the builder for one (collective,
// algorithm) pair. The four built-ins are pre-registered by NewCatalog;
// Register exists so tests and embedders can add or stub builders.
func (c *Catalog) Register(coll CollType, algo AlgorithmID, b Builder) {
	c.builders[key{coll, algo}] = b
}

// SelectParams carries the inputs spec section 4.1's select() consults
// beyond the group/collective type. MsgSize, GroupSize, IsPowerOfTwo and Root
// are visible to override expressions, and IsPowerOfTwo also gates the
// recursive-K default; Select does not read TopologyAware or INCAvailable.
type SelectParams struct {
	MsgSize      int
	GroupSize    int
	IsPowerOfTwo bool
	Root         int
	TopologyAware bool
	INCAvailable bool
}

// Select resolves the builder for coll: an explicit policy override first,
// then, for alltoallv only, Plummer (the node-topology-aware builder) ahead
// of Bruck, then recursive-K when the group size is a power of two, then
// ring, then recursive-K. For the other collectives no topology-aware choice
// is made.
func (c *Catalog) Select(coll CollType, sel SelectParams) (AlgorithmID, Builder, error) {
	collName := coll.String()
	for _, ov := range c.overrides {
		if ov.collective != collName {
			continue
		}
		out, _, err := ov.program.Eval(map[string]any{
			"msg_size":        sel.MsgSize,
			"group_size":      sel.GroupSize,
			"is_power_of_two": sel.IsPowerOfTwo,
			"root":            sel.Root,
		})
		if err != nil {
			return 0, nil, ucgerr.Wrap(ucgerr.InvalidParam, err, "evaluate override for %s", collName)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			if b, ok := c.builders[key{coll, ov.algorithm}]; ok {
				return ov.algorithm, b, nil
			}
		}
	}

	// Plummer degrades to a flat leader-per-rank alltoallv when the group
	// carries no topology hints (ProcsPerNode<=1), so it is correct as the
	// unconditional default for CollAllToAllV, not just the topology-aware
	// case. Bruck stays registered for explicit override only: its builder
	// only emits the phase/peer topology and never moves alltoallv payload
	// data (see BuildBruck's doc comment and SPEC_FULL.md's Non-goals).
	if coll == CollAllToAllV {
		if b, ok := c.builders[key{coll, AlgorithmPlummer}]; ok {
			return AlgorithmPlummer, b, nil
		}
		if b, ok := c.builders[key{coll, AlgorithmBruck}]; ok {
			return AlgorithmBruck, b, nil
		}
	}

	if sel.IsPowerOfTwo {
		if b, ok := c.builders[key{coll, AlgorithmRecursiveK}]; ok {
			return AlgorithmRecursiveK, b, nil
		}
	}
	if b, ok := c.builders[key{coll, AlgorithmRing}]; ok {
		return AlgorithmRing, b, nil
	}
	if b, ok := c.builders[key{coll, AlgorithmRecursiveK}]; ok {
		return AlgorithmRecursiveK, b, nil
	}
	return 0, nil, ucgerr.New(ucgerr.InvalidParam, "no builder registered for collective %s", collName)
}
