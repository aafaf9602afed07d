package plan

// BuildPlummer synthesizes a two-level Plummer alltoallv plan (spec section
// 4.2): a local gather to a per-node leader, a single inter-node alltoallv
// among leaders, then a scatter back out. The leader is the lowest member
// index sharing a host (SPEC_FULL section 3, supplemented from
// original_source/builtin/plan/builtin_recursive.c's node-leader
// convention), assuming the group's member numbering is contiguous per node
// (group.Topology.Continuous).
func BuildPlummer(group GroupParams, config BuildConfig, coll CollParams, connect Connector) (*Plan, error) {
	members, myIdx, absent := resolveMembers(group, coll)
	if absent {
		return &Plan{Algorithm: AlgorithmPlummer, Collective: coll.Type, MyIndex: -1}, nil
	}
	n := len(members)
	procsPerNode := group.ProcsPerNode
	if procsPerNode <= 0 {
		procsPerNode = 1
	}

	nodeIdx := myIdx / procsPerNode
	nodeStart := nodeIdx * procsPerNode
	nodeEnd := nodeStart + procsPerNode
	if nodeEnd > n {
		nodeEnd = n
	}
	leaderLocal := nodeStart
	isLeader := myIdx == leaderLocal

	var localPeers []int // other members of this rank's node, as global indices
	for i := nodeStart; i < nodeEnd; i++ {
		if i == myIdx {
			continue
		}
		localPeers = append(localPeers, members[i])
	}

	phases := make([]Phase, 0, 4)

	if isLeader {
		for _, peer := range localPeers {
			if err := connect(peer, ConnectSingleEP); err != nil {
				return nil, err
			}
		}
		phases = append(phases,
			Phase{Method: MethodPlummerIntra, Plummer: PlummerIntraGatherCounts, EPCount: len(localPeers), Peers: localPeers, StepIndex: 0, PlummerLeader: true, Send: config.Thresholds, Recv: config.Thresholds},
			Phase{Method: MethodPlummerIntra, Plummer: PlummerIntraGatherBuffers, EPCount: len(localPeers), Peers: localPeers, StepIndex: 1, PlummerLeader: true, Send: config.Thresholds, Recv: config.Thresholds},
		)

		var leaderPeers []int
		for ni := 0; ni*procsPerNode < n; ni++ {
			peerLeaderLocal := ni * procsPerNode
			if peerLeaderLocal == leaderLocal {
				continue
			}
			peerLeader := members[peerLeaderLocal]
			if err := connect(peerLeader, ConnectSingleEP); err != nil {
				return nil, err
			}
			leaderPeers = append(leaderPeers, peerLeader)
		}
		phases = append(phases, Phase{
			Method: MethodPlummerInter, Plummer: PlummerInterAlltoallv,
			EPCount: len(leaderPeers), Peers: leaderPeers, StepIndex: 2,
			PlummerLeader: true, Send: config.Thresholds, Recv: config.Thresholds,
		})
		phases = append(phases, Phase{
			Method: MethodPlummerIntra, Plummer: PlummerIntraScatterRecvBuffers,
			EPCount: len(localPeers), Peers: localPeers, StepIndex: 3,
			PlummerLeader: true, Send: config.Thresholds, Recv: config.Thresholds,
		})
	} else {
		leaderGlobal := members[leaderLocal]
		if err := connect(leaderGlobal, ConnectSingleEP); err != nil {
			return nil, err
		}
		phases = append(phases,
			Phase{Method: MethodPlummerIntra, Plummer: PlummerIntraGatherCounts, EPCount: 1, Peers: []int{leaderGlobal}, StepIndex: 0, Send: config.Thresholds, Recv: config.Thresholds},
			Phase{Method: MethodPlummerIntra, Plummer: PlummerIntraGatherBuffers, EPCount: 1, Peers: []int{leaderGlobal}, StepIndex: 1, Send: config.Thresholds, Recv: config.Thresholds},
			Phase{Method: MethodPlummerInter, Plummer: PlummerInterAlltoallv, EPCount: 0, StepIndex: 2},
			Phase{Method: MethodPlummerIntra, Plummer: PlummerIntraScatterRecvBuffers, EPCount: 1, Peers: []int{leaderGlobal}, StepIndex: 3, Send: config.Thresholds, Recv: config.Thresholds},
		)
	}

	p := &Plan{
		Algorithm:  AlgorithmPlummer,
		Collective: coll.Type,
		Phases:     phases,
		MyIndex:    myIdx,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
