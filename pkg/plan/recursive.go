package plan

import "github.com/cobaltmesh/ucg/pkg/ucgerr"

// BuildRecursiveK synthesizes a recursive-K-ing plan for reduce/allreduce
// and (as a degenerate zero-payload allreduce, SPEC_FULL section 3) barrier.
// Grounded on original_source/builtin/plan/builtin_recursive.c's
// ucg_builtin_recursive_build_power_factor/non_power_factor*, translated
// from its phase++/next_ep++ tail-array walk into an ordinary slice build
// (spec section 9's redesign note on flexible-array tail arrays).
func BuildRecursiveK(group GroupParams, config BuildConfig, coll CollParams, connect Connector) (*Plan, error) {
	members, myIdx, absent := resolveMembers(group, coll)
	if absent {
		return &Plan{Algorithm: AlgorithmRecursiveK, Collective: coll.Type, MyIndex: -1, Commutative: coll.Commutative}, nil
	}
	n := len(members)
	if n < 2 {
		return nil, ucgerr.New(ucgerr.InvalidParam, "recursive-k build requires at least 2 members, got %d", n)
	}

	factor := config.RecursiveKFactor
	if factor < 2 {
		factor = 2
	}
	if factor > n {
		factor = n
	}

	stepSize := 1
	for stepSize*factor <= n {
		stepSize *= factor
	}
	extra := n - stepSize
	stepCnt := 0
	for s := stepSize; s > 1; s /= factor {
		stepCnt++
	}

	var phases []Phase
	stepIdx := 0

	if extra == 0 {
		ph, err := recursiveCore(myIdx, stepSize, factor, 0, 0, members, connect, config.Thresholds)
		if err != nil {
			return nil, err
		}
		phases = ph
	} else {
		isEven := myIdx%2 == 0
		paired := myIdx < 2*extra

		if paired {
			peer := myIdx - 1
			method := MethodReduceTerminal
			if isEven {
				peer = myIdx + 1
				method = MethodSendTerminal
			}
			if err := connect(members[peer], ConnectSingleEP); err != nil {
				return nil, err
			}
			phases = append(phases, Phase{
				Method: method, EPCount: 1, Peers: []int{members[peer]},
				StepIndex: stepIdx, Send: config.Thresholds, Recv: config.Thresholds,
			})
		}
		stepIdx++

		newIdx := -1
		switch {
		case paired && isEven:
			newIdx = -1
		case paired && !isEven:
			newIdx = myIdx / 2
		default:
			newIdx = myIdx - extra
		}
		if newIdx >= 0 {
			ph, err := recursiveCore(newIdx, stepSize, factor, extra, stepIdx, members, connect, config.Thresholds)
			if err != nil {
				return nil, err
			}
			phases = append(phases, ph...)
		}
		stepIdx += stepCnt

		if paired {
			peer := myIdx - 1
			method := MethodRecvTerminal
			if isEven {
				peer = myIdx + 1
				method = MethodSendTerminal
			}
			if err := connect(members[peer], ConnectSingleEP); err != nil {
				return nil, err
			}
			phases = append(phases, Phase{
				Method: method, EPCount: 1, Peers: []int{members[peer]},
				StepIndex: stepIdx, Send: config.Thresholds, Recv: config.Thresholds,
			})
		}
		stepIdx++
	}

	p := &Plan{
		Algorithm:   AlgorithmRecursiveK,
		Collective:  coll.Type,
		Phases:      phases,
		MyIndex:     myIdx,
		Commutative: coll.Commutative,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// recursiveCore builds the pure recursive-doubling/K-ing phases for a
// sub-problem of subSize = factor^stepCnt members addressed by myIdx in
// [0, subSize). When extra != 0, peer indices computed in that local space
// are remapped back into the full rank numbering the same way
// builtin_recursive.c's build_power_factor does when invoked from the
// non-power wrapper: ranks below extra were paired off onto their odd twin
// (2*i+1), the rest shift up by extra.
func recursiveCore(myIdx, subSize, factor, extra, stepIdxBase int, members []int, connect Connector, th Thresholds) ([]Phase, error) {
	var phases []Phase
	stepSize := 1
	localStep := 0
	for stepSize < subSize {
		currentScale := stepSize * factor
		base := myIdx - myIdx%currentScale
		isSwap := myIdx%currentScale < stepSize
		peers := make([]int, 0, factor-1)
		for j := 1; j < factor; j++ {
			peerLocal := base + ((myIdx - base + stepSize*j) % currentScale)
			real := peerLocal
			if extra != 0 {
				if real < extra {
					real = 2*real + 1
				} else {
					real += extra
				}
			}
			globalPeer := members[real]
			slot := ConnectSingleEP
			if factor != 2 {
				slot = j - 1
			}
			if err := connect(globalPeer, slot); err != nil {
				return nil, err
			}
			peers = append(peers, globalPeer)
		}
		phases = append(phases, Phase{
			Method: MethodReduceRecursive, EPCount: factor - 1, Peers: peers,
			StepIndex: stepIdxBase + localStep, IsSwap: isSwap,
			Send: th, Recv: th,
		})
		stepSize *= factor
		localStep++
	}
	return phases, nil
}

// resolveMembers returns the effective member list and the local position
// within it. For a full build (coll.MemberList == nil) the list is every
// rank 0..group.MemberCount-1 and the local position is the group's member
// index. For a partial (hierarchical) build, absent reports true when the
// local rank is not in coll.MemberList — spec section 4.2: "members absent
// from the list produce an empty plan."
func resolveMembers(group GroupParams, coll CollParams) (members []int, myIdx int, absent bool) {
	if coll.MemberList == nil {
		members = make([]int, group.MemberCount)
		for i := range members {
			members[i] = i
		}
		return members, group.MemberIndex, false
	}
	for i, m := range coll.MemberList {
		if m == group.MemberIndex {
			return coll.MemberList, i, false
		}
	}
	return coll.MemberList, -1, true
}
