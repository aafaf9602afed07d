package exec

import (
	"encoding/binary"

	"github.com/cobaltmesh/ucg/internal/wire"
	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/plan"
	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// Plummer's four phases share the generic step state machine (pendingSend/
// pendingRecv, resend, completion) but not its uniform single-buffer send
// path: a node leader relays distinct slices of distinct local members' data
// to each peer leader, so "the buffer this phase sends" depends on which
// peer it is sending to. The functions in this file compute that per-peer
// content and unpack what arrives, using two pieces of state a Request
// accumulates across the four Plummer steps of one op:
//
//   - plummerGathered[srcMember] holds a local node member's whole send
//     buffer, populated by the intra-gather-buffers step.
//   - plummerFinal[destMember][srcRank] holds the bytes destMember (a local
//     node member) is owed from srcRank, populated by the inter-alltoallv
//     step (via the wire, for remote sources) and by plummerStageLocalPairs
//     (directly, for same-node sources, which never need a wire hop).
//
// Both maps are keyed by global member index so a leader with zero, one, or
// many followers is handled the same way; when ProcsPerNode<=1 every rank is
// its own leader and the protocol degenerates to a flat alltoallv: the plan
// keeps its four phases, but only the inter-alltoallv phase carries traffic.

func isPlummerMethod(m plan.Method) bool {
	return m == plan.MethodPlummerIntra || m == plan.MethodPlummerInter
}

func (r *Request) ensurePlummerState() {
	if r.plummerGathered == nil {
		r.plummerGathered = make(map[int][]byte)
	}
	if r.plummerFinal == nil {
		r.plummerFinal = make(map[int]map[int][]byte)
	}
}

// plummerOnEnterStep runs the local (non-wire) bookkeeping a Plummer step
// needs before any fragment is sent or received this step: seeding a
// leader's own contribution, staging same-node (src,dest) pairs ahead of the
// inter-node relay, and delivering a leader's own final slice without a
// wire round trip back to itself.
func (r *Request) plummerOnEnterStep(step *op.Step) {
	ph := step.Phase
	if !isPlummerMethod(ph.Method) {
		return
	}
	r.ensurePlummerState()

	switch ph.Plummer {
	case plan.PlummerIntraGatherBuffers:
		if ph.PlummerLeader {
			r.plummerGathered[r.grp.MemberIndex()] = step.SendBuffer
		}
	case plan.PlummerInterAlltoallv:
		if ph.PlummerLeader {
			r.plummerStageLocalPairs(step)
		}
	case plan.PlummerIntraScatterRecvBuffers:
		if ph.PlummerLeader {
			r.plummerDeliverSelf(step)
		}
	}
}

// plummerStageLocalPairs assigns, for every (srcMember, destMember) pair
// that both belong to this leader's own node, destMember's slice of
// srcMember's gathered send buffer directly into plummerFinal — no peer
// leader is involved, since the source and destination share a node.
func (r *Request) plummerStageLocalPairs(step *op.Step) {
	n := r.grp.MemberCount()
	ppn := plummerProcsPerNode(r.grp)
	members := plummerNodeMembers(r.grp.MemberIndex(), n, ppn)
	for _, destMember := range members {
		lo, hi := plummerSliceBounds(step.SendDispls, step.SendCounts, destMember)
		if lo >= hi {
			continue
		}
		for _, srcMember := range members {
			buf, ok := r.plummerGathered[srcMember]
			if !ok || hi > len(buf) {
				continue
			}
			r.plummerStash(destMember, srcMember, buf[lo:hi])
		}
	}
}

// plummerDeliverSelf copies the leader's own final alltoallv result directly
// into its RecvBuffer, ascending by source rank — the same layout a
// follower receives as one relayed blob during the scatter sub-step.
func (r *Request) plummerDeliverSelf(step *op.Step) {
	self := r.grp.MemberIndex()
	out := r.plummerAssembleFinal(self)
	m := len(out)
	if m > len(step.RecvBuffer) {
		m = len(step.RecvBuffer)
	}
	copy(step.RecvBuffer[:m], out[:m])
}

func (r *Request) plummerAssembleFinal(dest int) []byte {
	n := r.grp.MemberCount()
	var out []byte
	for s := 0; s < n; s++ {
		out = append(out, r.plummerFinal[dest][s]...)
	}
	return out
}

func (r *Request) plummerStash(dest, src int, chunk []byte) {
	if r.plummerFinal[dest] == nil {
		r.plummerFinal[dest] = make(map[int][]byte)
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.plummerFinal[dest][src] = cp
}

// sendPlummerStep drives one Plummer phase's sends. Unlike the generic
// sendStep, the payload differs per peer, so it is computed and sent one
// peer at a time via a synchronous short send (every message here is small:
// per-destination metadata, one member's whole send buffer, or one
// relayed node-to-node batch).
func (r *Request) sendPlummerStep(step *op.Step) error {
	peers := sendPeers(step.Phase)
	for _, peerIdx := range peers {
		ep, err := r.grp.Connect(r.ctx, peerIdx)
		if err != nil {
			return r.finish(r.ctx, ucgerr.Wrap(ucgerr.Unreachable, err, "connect to peer %d for step %d", peerIdx, step.Phase.StepIndex))
		}
		raw := r.plummerSendPayload(step, peerIdx)
		payload := raw
		if step.Phase.Plummer != plan.PlummerInterAlltoallv {
			payload = frameWithRank(r.grp.MemberIndex(), raw)
		}
		hdr := wire.Encode(wire.Header{
			GroupID:   r.grp.ID(),
			CollID:    r.collID,
			StepIndex: uint8(step.Phase.StepIndex),
		})
		if err := ep.SendShort(r.baseAMID, hdr, payload); err != nil {
			if ferr := r.handleSendError(step, err); ferr != nil {
				return ferr
			}
			continue
		}
		r.recordSent(step)
	}
	return nil
}

// plummerSendPayload returns the bytes this rank sends to peer during step.
func (r *Request) plummerSendPayload(step *op.Step, peer int) []byte {
	switch step.Phase.Plummer {
	case plan.PlummerIntraGatherCounts, plan.PlummerIntraGatherRecvCounts:
		// Counts/displacements are already known to every rank from the
		// invocation itself (spec section 3's caller-supplied layout), so
		// this sub-step carries no data the leader actually needs; it is
		// still exchanged, as a minimal placeholder, to preserve the wire
		// shape spec section 4.2 names.
		return []byte{0}
	case plan.PlummerIntraGatherBuffers:
		return step.SendBuffer
	case plan.PlummerInterAlltoallv:
		return r.plummerBuildInterPayload(step, peer)
	case plan.PlummerIntraScatterRecvBuffers:
		return r.plummerAssembleFinal(peer)
	default:
		return nil
	}
}

// plummerBuildInterPayload concatenates, for every local member this leader
// has gathered and every member of peerLeader's node, a self-describing
// record (src rank, dest rank, length, bytes) carrying that member pair's
// slice. Records are self-describing rather than positionally ordered so
// the receiver needs no independent re-derivation of iteration order beyond
// knowing the group's topology, which both sides already do.
func (r *Request) plummerBuildInterPayload(step *op.Step, peerLeader int) []byte {
	n := r.grp.MemberCount()
	ppn := plummerProcsPerNode(r.grp)
	destMembers := plummerNodeMembers(peerLeader, n, ppn)

	var buf []byte
	for srcMember, srcBuf := range r.plummerGathered {
		for _, destMember := range destMembers {
			lo, hi := plummerSliceBounds(step.SendDispls, step.SendCounts, destMember)
			if lo >= hi || hi > len(srcBuf) {
				continue
			}
			chunk := srcBuf[lo:hi]
			var rec [12]byte
			binary.BigEndian.PutUint32(rec[0:4], uint32(srcMember))
			binary.BigEndian.PutUint32(rec[4:8], uint32(destMember))
			binary.BigEndian.PutUint32(rec[8:12], uint32(len(chunk)))
			buf = append(buf, rec[:]...)
			buf = append(buf, chunk...)
		}
	}
	return buf
}

// applyPlummerIncoming unpacks one inbound Plummer fragment into request
// state (or, for the scatter sub-step, straight into the final RecvBuffer).
func (r *Request) applyPlummerIncoming(step *op.Step, payload []byte) error {
	r.ensurePlummerState()

	if step.Phase.Plummer == plan.PlummerInterAlltoallv {
		r.applyPlummerInterRecords(payload)
		return nil
	}

	srcRank, body := splitRank(payload)
	switch step.Phase.Plummer {
	case plan.PlummerIntraGatherCounts, plan.PlummerIntraGatherRecvCounts:
		// No state to update; see plummerSendPayload.
	case plan.PlummerIntraGatherBuffers:
		cp := make([]byte, len(body))
		copy(cp, body)
		r.plummerGathered[int(srcRank)] = cp
	case plan.PlummerIntraScatterRecvBuffers:
		m := len(body)
		if m > len(step.RecvBuffer) {
			m = len(step.RecvBuffer)
		}
		copy(step.RecvBuffer[:m], body[:m])
	}
	return nil
}

// applyPlummerInterRecords parses the self-describing (src, dest, len,
// bytes) records an inter-alltoallv message carries and stashes each one.
func (r *Request) applyPlummerInterRecords(payload []byte) {
	for len(payload) >= 12 {
		src := binary.BigEndian.Uint32(payload[0:4])
		dest := binary.BigEndian.Uint32(payload[4:8])
		ln := binary.BigEndian.Uint32(payload[8:12])
		payload = payload[12:]
		if uint32(len(payload)) < ln {
			return
		}
		r.plummerStash(int(dest), int(src), payload[:ln])
		payload = payload[ln:]
	}
}

// frameWithRank prepends the 64-bit rank extension (internal/wire.Extension)
// spec section 4.4 names, so a single-peer Plummer message still lets the
// receiver attribute it to its true origin rather than the wire peer it
// happened to arrive from.
func frameWithRank(rank int, payload []byte) []byte {
	ext := wire.EncodeExtension(wire.Extension{SourceRank: uint32(rank)})
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(out[:8], ext)
	copy(out[8:], payload)
	return out
}

func splitRank(payload []byte) (uint32, []byte) {
	if len(payload) < 8 {
		return 0, payload
	}
	ext := wire.DecodeExtension(binary.BigEndian.Uint64(payload[:8]))
	return ext.SourceRank, payload[8:]
}

func plummerProcsPerNode(g *group.Group) int {
	p := g.Topology().ProcsPerNode
	if p <= 0 {
		return 1
	}
	return p
}

func plummerNodeMembers(rank, n, ppn int) []int {
	start := (rank / ppn) * ppn
	end := start + ppn
	if end > n {
		end = n
	}
	members := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		members = append(members, i)
	}
	return members
}

func plummerSliceBounds(displs, counts []int, member int) (int, int) {
	if member < 0 || member >= len(displs) || member >= len(counts) {
		return 0, 0
	}
	lo := displs[member]
	return lo, lo + counts[member]
}
