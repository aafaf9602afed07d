package exec

import (
	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/plan"
)

// reducesAny reports whether any phase of p combines inbound data via the
// host reduction operator, which determines whether the op's receive buffer
// needs seeding from the send buffer before the first step (spec section 3).
func reducesAny(p *plan.Plan) bool {
	for _, ph := range p.Phases {
		if reduces(ph.Method) {
			return true
		}
	}
	return false
}

// seedRecvBuffer copies the send buffer into the receive buffer once, before
// step 0, so reduce-bearing phases accumulate starting from the local value
// rather than whatever the caller left in the receive buffer.
func seedRecvBuffer(step op.Step) {
	if len(step.SendBuffer) == 0 || len(step.RecvBuffer) == 0 {
		return
	}
	n := len(step.SendBuffer)
	if len(step.RecvBuffer) < n {
		n = len(step.RecvBuffer)
	}
	copy(step.RecvBuffer[:n], step.SendBuffer[:n])
}

// reduces reports whether method combines an inbound fragment into the
// receive buffer via the host reduction operator, as opposed to simply
// copying it in place (spec section 4.5's state table distinguishes
// "reducing" from a plain data-movement receive).
func reduces(m plan.Method) bool {
	switch m {
	case plan.MethodReduceTerminal, plan.MethodReduceRecursive, plan.MethodReduceScatterRing:
		return true
	default:
		return false
	}
}

// plummerGatherModifier reports whether mod is an intra-node gather sub-step
// (gather-counts, gather-buffers or gather-recv-counts; BuildPlummer emits
// only the first two), where the leader only ever receives and followers
// only ever send (spec section 4.2).
func plummerGatherModifier(mod plan.PlummerModifier) bool {
	switch mod {
	case plan.PlummerIntraGatherCounts, plan.PlummerIntraGatherBuffers, plan.PlummerIntraGatherRecvCounts:
		return true
	default:
		return false
	}
}

// sendPeers returns the member indices this phase must send to, in order.
func sendPeers(ph plan.Phase) []int {
	switch ph.Method {
	case plan.MethodSendTerminal:
		if len(ph.Peers) > 0 {
			return ph.Peers[:1]
		}
		return nil
	case plan.MethodRecvTerminal, plan.MethodReduceTerminal:
		return nil
	case plan.MethodReduceScatterRing, plan.MethodAllgatherRing, plan.MethodBruckAlltoall:
		if len(ph.Peers) > 0 {
			return ph.Peers[:1]
		}
		return nil
	case plan.MethodPlummerIntra:
		// The two gather sub-steps and the scatter sub-step are tagged with
		// the same Method and differ only by Plummer/PlummerLeader: gather
		// flows follower->leader, scatter flows leader->follower, so each
		// role sends on exactly one of the two (never both).
		if plummerGatherModifier(ph.Plummer) {
			if ph.PlummerLeader {
				return nil
			}
			return ph.Peers
		}
		if ph.Plummer == plan.PlummerIntraScatterRecvBuffers {
			if ph.PlummerLeader {
				return ph.Peers
			}
			return nil
		}
		return ph.Peers
	default:
		// ReduceRecursive and PlummerInter send to every listed peer.
		return ph.Peers
	}
}

// recvCount returns the number of inbound fragments this phase expects
// before its step is complete.
func recvCount(ph plan.Phase) int {
	switch ph.Method {
	case plan.MethodSendTerminal:
		return 0
	case plan.MethodRecvTerminal, plan.MethodReduceTerminal:
		return 1
	case plan.MethodReduceScatterRing, plan.MethodAllgatherRing, plan.MethodBruckAlltoall:
		return 1
	case plan.MethodPlummerIntra:
		if plummerGatherModifier(ph.Plummer) {
			if ph.PlummerLeader {
				return len(ph.Peers)
			}
			return 0
		}
		if ph.Plummer == plan.PlummerIntraScatterRecvBuffers {
			if ph.PlummerLeader {
				return 0
			}
			return 1
		}
		if ph.EPCount > 0 {
			return ph.EPCount
		}
		return len(ph.Peers)
	default:
		if ph.EPCount > 0 {
			return ph.EPCount
		}
		return len(ph.Peers)
	}
}

// applyFragment combines or copies an inbound fragment into dst at offset,
// honoring the is_swap ordering rule (spec section 4.5): when set, the
// executor preserves the non-commutative operand order payload <op> local by
// copying local into temp, overwriting local with payload, then reducing
// temp into local — applying the original local value "on top" last.
func applyFragment(h host.Host, ph plan.Phase, dst, temp, payload []byte, offset uint32, count int, dtype host.Datatype, op host.Op) error {
	start := int(offset)
	end := start + len(payload)
	if end > len(dst) {
		end = len(dst)
	}
	if start >= end {
		return nil
	}
	window := dst[start:end]
	src := payload[:end-start]

	if !reduces(ph.Method) {
		copy(window, src)
		return nil
	}

	if ph.IsSwap {
		t := temp
		if len(t) < len(window) {
			t = make([]byte, len(window))
		}
		copy(t, window)
		copy(window, src)
		return h.Reduce(op, t[:len(window)], window, count, dtype)
	}

	return h.Reduce(op, src, window, count, dtype)
}
