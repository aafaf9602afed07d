package plan

import "github.com/cobaltmesh/ucg/pkg/host"

// GroupParams is the subset of group.Group state a builder needs, narrowed
// to avoid pkg/plan importing pkg/group's Occupant/Slot machinery that
// builders have no business touching.
type GroupParams struct {
	ID           uint16
	MemberCount  int
	MemberIndex  int
	Distance     func(i, j int) host.Distance
	Balanced     bool
	Continuous   bool
	ProcsPerNode int
}

// CollParams describes one collective invocation's shape, the inputs spec
// section 4.2 says every builder receives alongside group/config.
type CollParams struct {
	Type           CollType
	Root           int
	Count          int
	SendCountShape []int
	RecvCountShape []int
	Commutative    bool
	StableReduction bool
	MemberList     []int // non-nil for partial (hierarchical) builds
}

// BuildConfig carries the builder-tunable knobs spec section 4.1's catalog
// selection and section 4.2's builders consult: recursive-K factor, and the
// per-tier thresholds builders stamp onto phases as defaults.
type BuildConfig struct {
	RecursiveKFactor int
	Thresholds       Thresholds
}

// Connector is invoked once per peer a builder wires into a phase (spec
// section 4.2: "invoke C2.connect(peer_index, phase, slot)"). slot is
// ConnectSingleEP for single-peer phases, else the peer's ordinal within the
// phase.
type Connector func(peerIndex int, slot int) error

// Builder synthesizes a plan for one algorithm family. group/config/coll
// together are spec section 4.2's "(group_ctx, config, group_params,
// coll_params)"; connect lets the builder register each peer with the
// owning group without pkg/plan importing pkg/group.
type Builder func(group GroupParams, config BuildConfig, coll CollParams, connect Connector) (*Plan, error)
