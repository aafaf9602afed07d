// Package op implements the operation materializer (spec section 2,
// component C6): binding a plan plus a concrete collective invocation to a
// sequence of steps with concrete buffers, transport-tier selection,
// fragmentation, and zero-copy memory handle lifecycle.
package op

import (
	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/plan"
	"github.com/cobaltmesh/ucg/pkg/transport"
	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// Invocation describes one concrete collective call: buffers, datatype,
// count, root, and reduction operator (spec section 3's "Op... materialized
// plan instance").
type Invocation struct {
	SendBuffer []byte
	RecvBuffer []byte
	Count      int
	Datatype   host.Datatype
	Op         host.Op
	Root       int
	// SendCounts/RecvDispls are populated for alltoallv invocations; nil
	// otherwise.
	SendCounts []int
	RecvCounts []int
	SendDispls []int
	RecvDispls []int
}

// Step is a phase materialized with concrete buffers and transport
// selection (spec section 3's GLOSSARY: "a phase materialized with concrete
// buffers and transport selection").
type Step struct {
	Phase plan.Phase

	SendBuffer []byte
	RecvBuffer []byte
	// TempBuffer holds the pre-reduction copy needed when Phase.IsSwap is
	// set (spec section 4.5's reduction rule).
	TempBuffer []byte
	// ContigBuffer stages non-contiguous datatypes (spec section 4.4).
	ContigBuffer []byte

	Tier transport.Tier

	First            bool
	Last             bool
	Fragmented       bool
	Pipelined        bool
	SingleEndpoint   bool
	LengthPerRequest bool

	// SendCounts/SendDispls/RecvCounts/RecvDispls mirror the invocation's
	// alltoallv layout (spec section 4.4's pack_rank_buffer requirement):
	// set only when LengthPerRequest, so a variable-length step's executor
	// can attribute an inbound fragment to its source rank and place it at
	// that rank's displacement instead of a uniform wire offset.
	SendCounts []int
	SendDispls []int
	RecvCounts []int
	RecvDispls []int

	FragmentLength int
	FragmentCount  int

	MemoryHandle transport.MemoryHandle
}

// Op is a materialized plan instance (spec section 3).
type Op struct {
	Plan  *plan.Plan
	Steps []Step

	// OptCount counts down the remaining invocations before the
	// optimization hook (spec section 4.4's optm_cb) is next allowed to
	// rewrite a step's transport tier.
	OptCount int
}

// MaterializeConfig carries the default transport-tier thresholds and
// optimization cadence the materializer falls back to when a phase doesn't
// override them (spec section 1.3 of SPEC_FULL).
type MaterializeConfig struct {
	Defaults      plan.Thresholds
	OptimizeAfter int
}

// Materialize binds p and inv into a concrete Op, choosing a transport tier
// per fragment size and allocating staging buffers as spec section 4.4
// describes. md is used only to size zcopy registration; the handle itself
// is registered lazily by the step executor when a zcopy send is actually
// issued.
func Materialize(p *plan.Plan, inv Invocation, cfg MaterializeConfig, h host.Host, md transport.MemoryDomain) (*Op, error) {
	if p == nil {
		return nil, ucgerr.New(ucgerr.InvalidParam, "materialize: nil plan")
	}

	span, _ := h.DatatypeSpan(inv.Datatype, inv.Count)

	steps := make([]Step, 0, len(p.Phases))
	for i, ph := range p.Phases {
		th := ph.Send
		if th.MaxShortOne == 0 && th.MaxBcopyOne == 0 && th.MaxZcopyOne == 0 {
			th = cfg.Defaults
		}

		st := Step{
			Phase:      ph,
			SendBuffer: inv.SendBuffer,
			RecvBuffer: inv.RecvBuffer,
			First:      i == 0,
			Last:       i == len(p.Phases)-1,
		}

		if ph.IsSwap {
			st.TempBuffer = make([]byte, span)
		}
		if !h.DatatypeIsPredefined(inv.Datatype) {
			st.ContigBuffer = make([]byte, span)
		}
		variableLength := len(inv.SendCounts) > 0 || len(inv.RecvCounts) > 0
		if variableLength {
			st.LengthPerRequest = true
			st.SendCounts = inv.SendCounts
			st.SendDispls = inv.SendDispls
			st.RecvCounts = inv.RecvCounts
			st.RecvDispls = inv.RecvDispls
		}

		st.Tier, st.FragmentLength, st.FragmentCount, st.Fragmented = selectTier(span, th, md, variableLength)
		st.SingleEndpoint = ph.EPCount == 1
		st.Pipelined = st.Fragmented && isWaypoint(ph.Method)

		steps = append(steps, st)
	}

	return &Op{Plan: p, Steps: steps, OptCount: cfg.OptimizeAfter}, nil
}

func isWaypoint(m plan.Method) bool {
	return m == plan.MethodReduceWaypoint || m == plan.MethodScatterWaypoint
}

// selectTier implements spec section 4.4's tier ladder: short, bcopy, zcopy,
// or fragment at min(max_bcopy_max, max_zcopy_one) bytes per fragment.
// noZcopy forces the non-zero-copy tiers for variable-length (alltoallv)
// steps, whose fragments carry a rank-attribution prefix (spec section 4.4)
// that a zero-copy send registered directly over the caller's buffer cannot
// accommodate without staging a copy anyway.
func selectTier(length int, th plan.Thresholds, md transport.MemoryDomain, noZcopy bool) (tier transport.Tier, fragLen, fragCnt int, fragmented bool) {
	switch {
	case th.MaxShortOne > 0 && length <= th.MaxShortOne:
		return transport.TierShort, length, 1, false
	case th.MaxBcopyOne > 0 && length <= th.MaxBcopyOne:
		return transport.TierBcopy, length, 1, false
	case !noZcopy && th.MaxZcopyOne > 0 && length <= th.MaxZcopyOne && registrationFits(length, md):
		return transport.TierZcopy, length, 1, false
	default:
		fragmentLength := th.MaxBcopyMax
		if !noZcopy && th.MaxZcopyOne > 0 && (fragmentLength == 0 || th.MaxZcopyOne < fragmentLength) {
			fragmentLength = th.MaxZcopyOne
		}
		if fragmentLength <= 0 {
			fragmentLength = length
		}
		count := (length + fragmentLength - 1) / fragmentLength
		if count < 1 {
			count = 1
		}
		tier = transport.TierBcopy
		if !noZcopy && th.MaxZcopyOne > 0 {
			tier = transport.TierZcopy
		}
		return tier, fragmentLength, count, count > 1
	}
}

func registrationFits(length int, md transport.MemoryDomain) bool {
	if md == nil {
		return true
	}
	regCap := md.MaxRegisteredBytes()
	return regCap <= 0 || length <= regCap
}
