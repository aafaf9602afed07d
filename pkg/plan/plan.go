package plan

import "github.com/cobaltmesh/ucg/pkg/ucgerr"

// CollType names the collective a plan was built for.
type CollType int

const (
	CollBarrier CollType = iota
	CollBroadcast
	CollAllReduce
	CollAllToAllV
)

func (c CollType) String() string {
	switch c {
	case CollBarrier:
		return "barrier"
	case CollBroadcast:
		return "broadcast"
	case CollAllReduce:
		return "allreduce"
	case CollAllToAllV:
		return "alltoallv"
	default:
		return "unknown"
	}
}

// AlgorithmID names one of the registered builder families (spec section
// 4.1).
type AlgorithmID int

const (
	AlgorithmRecursiveK AlgorithmID = iota
	AlgorithmRing
	AlgorithmBruck
	AlgorithmPlummer
)

func (a AlgorithmID) String() string {
	switch a {
	case AlgorithmRecursiveK:
		return "recursive-k"
	case AlgorithmRing:
		return "ring"
	case AlgorithmBruck:
		return "bruck"
	case AlgorithmPlummer:
		return "plummer"
	default:
		return "unknown"
	}
}

// MaxPhases bounds a plan's phase vector (spec section 3: "phs_cnt <= 32").
const MaxPhases = 32

// MaxStepIndex is the largest step index representable in the wire header's
// 8-bit step_idx field (spec section 9's Open Question: reject rather than
// truncate).
const MaxStepIndex = 255

// Plan is a read-mostly object owned by the group and referenced by
// operations (spec section 3). Unlike the original C implementation's single-allocation
// tail-array layout, phases and peer indices are ordinary Go slices; spec
// section 9's redesign note calls this out explicitly ("a plan owns an arena
// slice; phases carry indices... into that arena") and a GC'd slice serves
// the same co-location intent without manual arena management.
type Plan struct {
	Algorithm   AlgorithmID
	Collective  CollType
	Phases      []Phase
	MyIndex     int
	Commutative bool
	LargeDatatypeSupport bool
	INCCapable  bool
}

// Validate enforces spec section 3's invariants that hold across every
// builder: phase count bound, ep_cnt/peer-list agreement, and the step_idx
// wire-width rejection spec section 9 mandates.
func (p *Plan) Validate() error {
	if len(p.Phases) > MaxPhases {
		return ucgerr.New(ucgerr.InvalidParam, "plan has %d phases, exceeds MaxPhases=%d", len(p.Phases), MaxPhases)
	}
	for i, ph := range p.Phases {
		if ph.StepIndex > MaxStepIndex {
			return ucgerr.New(ucgerr.InvalidParam, "phase %d step_index=%d exceeds wire width (max %d)", i, ph.StepIndex, MaxStepIndex)
		}
		if ph.EPCount != len(ph.Peers) && !(ph.Method == MethodReduceScatterRing || ph.Method == MethodAllgatherRing) {
			return ucgerr.New(ucgerr.InvalidParam, "phase %d ep_cnt=%d but has %d peers", i, ph.EPCount, len(ph.Peers))
		}
	}
	return nil
}
