package plan

// BuildBruck synthesizes a Bruck alltoall plan (spec section 4.2): each of
// ceil(log2(N)) steps exchanges with the peer at circular distance 2^i,
// tagged MethodBruckAlltoall.
//
// This builder only emits the phase/peer topology (the step count and which
// two peers each step exchanges with); it does not compute the per-step
// rotate/pack subset a real Bruck exchange sends at each step (the rows of
// the sender's buffer whose destination-offset bit i is set). The op
// materializer likewise assigns the whole invocation buffer to every step
// rather than a packed slice. Producing correct data movement this way is a
// documented Non-goal (SPEC_FULL section on alltoallv); CollAllToAllV is
// planned with AlgorithmPlummer by default precisely because Plummer does
// carry real data movement end to end (pkg/exec/plummer.go) and degrades to
// a flat, correct alltoallv when the group has no node topology. Bruck stays
// registered for explicit selection only — callers that force
// AlgorithmBruck get shape-correct phases, not correct payload delivery.
func BuildBruck(group GroupParams, config BuildConfig, coll CollParams, connect Connector) (*Plan, error) {
	members, myIdx, absent := resolveMembers(group, coll)
	if absent {
		return &Plan{Algorithm: AlgorithmBruck, Collective: coll.Type, MyIndex: -1}, nil
	}
	n := len(members)
	if n < 2 {
		return &Plan{Algorithm: AlgorithmBruck, Collective: coll.Type, MyIndex: myIdx}, nil
	}

	steps := 0
	for (1 << steps) < n {
		steps++
	}

	phases := make([]Phase, 0, steps)
	for i := 0; i < steps; i++ {
		dist := 1 << i
		dst := members[(myIdx+dist)%n]
		src := members[((myIdx-dist)%n+n)%n]

		if err := connect(src, 1); err != nil {
			return nil, err
		}
		if err := connect(dst, 0); err != nil {
			return nil, err
		}

		phases = append(phases, Phase{
			Method:    MethodBruckAlltoall,
			EPCount:   1,
			Peers:     []int{dst, src},
			StepIndex: i,
			Send:      config.Thresholds,
			Recv:      config.Thresholds,
		})
	}

	p := &Plan{
		Algorithm:  AlgorithmBruck,
		Collective: coll.Type,
		Phases:     phases,
		MyIndex:    myIdx,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
