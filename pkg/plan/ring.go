package plan

// BuildRing synthesizes a ring reduce-scatter + allgather plan (spec section
// 4.2). Grounded on original_source/builtin/plan/builtin_ring.c's
// ucg_builtin_ring_create/ucg_builtin_ring_connect: total steps =
// 2*(N-1), first N-1 use reduce-scatter-ring, the rest allgather-ring. When
// N=2, peer_src == peer_dst and the phase collapses to one endpoint (spec
// section 9's Open Question: verify this accounting explicitly for N=2).
func BuildRing(group GroupParams, config BuildConfig, coll CollParams, connect Connector) (*Plan, error) {
	members, myIdx, absent := resolveMembers(group, coll)
	if absent {
		return &Plan{Algorithm: AlgorithmRing, Collective: coll.Type, MyIndex: -1, Commutative: coll.Commutative}, nil
	}
	n := len(members)
	if n < 2 {
		return &Plan{Algorithm: AlgorithmRing, Collective: coll.Type, MyIndex: myIdx, Commutative: coll.Commutative}, nil
	}

	localSrc := (myIdx - 1 + n) % n
	localDst := (myIdx + 1) % n
	globalSrc := members[localSrc]
	globalDst := members[localDst]

	singleEndpoint := globalSrc == globalDst // only true when n == 2

	var peers []int
	if singleEndpoint {
		if err := connect(globalSrc, ConnectSingleEP); err != nil {
			return nil, err
		}
		peers = []int{globalSrc}
	} else {
		// Receiver connected first so its threshold calibration (assigned
		// from the sender's thresholds below) is available before the
		// sender phase is recorded, matching ucg_builtin_ring_connect's
		// connect-receiver-then-sender order.
		if err := connect(globalSrc, 1); err != nil {
			return nil, err
		}
		if err := connect(globalDst, 0); err != nil {
			return nil, err
		}
		peers = []int{globalDst, globalSrc}
	}

	stepCount := 2 * (n - 1)
	phases := make([]Phase, 0, stepCount)
	for step := 0; step < stepCount; step++ {
		method := MethodReduceScatterRing
		if step >= n-1 {
			method = MethodAllgatherRing
		}
		// Receive thresholds are copied from send thresholds (spec section
		// 4.2); they differ only when the receiver's registered-memory cap
		// is lower, which the op materializer applies at bind time.
		phases = append(phases, Phase{
			Method:    method,
			EPCount:   1,
			Peers:     peers,
			StepIndex: step,
			Send:      config.Thresholds,
			Recv:      config.Thresholds,
		})
	}

	p := &Plan{
		Algorithm:   AlgorithmRing,
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
