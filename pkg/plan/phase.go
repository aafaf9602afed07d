// Package plan implements the plan catalog, builders, signature hashing, and
// cache (spec section 2, components C3/C4/C5): given a collective type, a
// group's membership and topology, and a configured algorithm, it synthesizes
// an ordered phase list naming, for the local process, its peers at each step
// and the method applied.
package plan

// Method names one of the per-phase communication shapes spec section 3
// enumerates. Represented as a tagged variant dispatched by the step
// executor's single execute(step, req) switch, per spec section 9's redesign
// note on function-pointer callback fields.
type Method int

const (
	MethodSendTerminal Method = iota
	MethodRecvTerminal
	MethodReduceTerminal
	MethodReduceRecursive
	MethodReduceScatterRing
	MethodAllgatherRing
	MethodReduceWaypoint
	MethodScatterWaypoint
	MethodBruckAlltoall
	MethodPlummerInter
	MethodPlummerIntra
)

func (m Method) String() string {
	switch m {
	case MethodSendTerminal:
		return "send-terminal"
	case MethodRecvTerminal:
		return "recv-terminal"
	case MethodReduceTerminal:
		return "reduce-terminal"
	case MethodReduceRecursive:
		return "reduce-recursive"
	case MethodReduceScatterRing:
		return "reduce-scatter-ring"
	case MethodAllgatherRing:
		return "allgather-ring"
	case MethodReduceWaypoint:
		return "reduce-waypoint"
	case MethodScatterWaypoint:
		return "scatter-waypoint"
	case MethodBruckAlltoall:
		return "bruck-alltoall"
	case MethodPlummerInter:
		return "plummer-inter"
	case MethodPlummerIntra:
		return "plummer-intra"
	default:
		return "unknown"
	}
}

// ConnectSingleEP is the sentinel passed to a connect call for single-peer
// phases, carried through as an explicit typed constant rather than a magic
// -1 (SPEC_FULL section 3, supplemented from the original's
// UCG_BUILTIN_CONNECT_SINGLE_EP).
const ConnectSingleEP = -1

// Thresholds carries the per-phase transport-tier size cutoffs populated at
// op materialization time (spec section 3). Zero values mean "inherit the
// materializer's configured defaults."
type Thresholds struct {
	MaxShortOne         int
	MaxShortMax         int
	MaxBcopyOne         int
	MaxBcopyMax         int
	MaxZcopyOne         int
	RegisteredMemoryCap int
}

// PlummerModifier tags the sub-step of a two-level Plummer alltoallv phase
// (spec section 4.2), letting the executor drive the intra-gather/inter/
// intra-scatter protocol from a single method tag.
type PlummerModifier int

const (
	PlummerNone PlummerModifier = iota
	PlummerIntraGatherCounts
	PlummerIntraGatherBuffers
	PlummerIntraGatherRecvCounts
	PlummerInterAlltoallv
	PlummerIntraScatterRecvBuffers
)

// Phase is the atomic unit of a plan (spec section 3).
type Phase struct {
	Method Method

	// EPCount is 1 for single-peer phases, >=2 for multi-peer recursive-K
	// phases, and always reported as 1 for ring mid-phases even when two
	// endpoints (src/dst) are stored for threshold calibration and demux.
	EPCount int
	// Peers holds the global member indices this phase communicates with, in
	// the order the method expects. For ring phases with distinct src/dst,
	// Peers[0] is the send destination and Peers[1] the receive source.
	Peers []int

	// StepIndex is the monotonically assigned demux key (spec section 3);
	// must stay below 256 per the wire header's 8-bit step_idx field.
	StepIndex int

	// IsSwap reports whether buffers must be swapped before reduction to
	// preserve non-commutative operator semantics (spec section 3).
	IsSwap bool

	Send Thresholds
	Recv Thresholds

	Plummer PlummerModifier
	// PlummerLeader reports whether this rank plays the node-leader role for
	// a Plummer phase: leaders receive during the two gather sub-steps and
	// send during the scatter sub-step, followers the reverse (spec section
	// 4.2; see pkg/exec/reduce.go's sendPeers/recvCount).
	PlummerLeader bool

	// INCCapable marks a phase whose members all share one
	// in-network-computing-capable switch domain for a supported reduction
	// (SPEC_FULL section 3). No builder in this package sets it, so it is
	// false unless a caller sets it. The step executor never special-cases
	// it; it is carried only as a field for a host integration to consult.
	INCCapable bool
}
