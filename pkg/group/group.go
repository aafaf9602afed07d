// Package group implements the group context (spec section 2, component
// C2): group identity, member count/index, the endpoint table, the
// completion-slot window, and registered-plan lifecycle hooks. It is
// composed around the transport's Worker rather than built as a type alias
// over it, per spec section 9's redesign note on the original C
// implementation's preprocessor-macro-aliasing anti-pattern: the transport's worker is held
// as a field, not embedded and reinterpreted.
package group

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/transport"
	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// Topology summarizes the group's physical layout for topology-aware plan
// selection (spec section 3).
type Topology struct {
	ProcsPerNode   int
	ProcsPerSocket int
	Balanced       bool
	Continuous     bool
}

// Params describes a group at creation time.
type Params struct {
	ID              uint16
	MemberCount     int
	MemberIndex     int
	Topology        Topology
	ProtocolVersion string
	WindowSize      int
}

// SupportedProtocolRange is the semver constraint this build accepts for a
// peer's advertised wire-protocol version (SPEC_FULL section 2.4).
const SupportedProtocolRange = ">= 1.0.0, < 2.0.0"

// Group is the engine's per-collective-scope context. All methods are meant
// to be called from the single goroutine that owns the group's Worker (spec
// section 5's cooperative scheduling model); no locking happens on the fast
// path.
type Group struct {
	id          uint16
	memberCount int
	memberIndex int
	topology    Topology

	worker   transport.Worker
	resolver transport.AddressResolver
	host     host.Host

	endpoints map[int]transport.Endpoint

	slots []Slot

	closeOnce sync.Once
	onClose   []func()
}

// Open validates params (including the peer protocol version against
// SupportedProtocolRange) and constructs a Group bound to worker/resolver/h.
func Open(params Params, worker transport.Worker, resolver transport.AddressResolver, h host.Host) (*Group, error) {
	if params.MemberCount <= 0 {
		return nil, ucgerr.New(ucgerr.InvalidParam, "member count must be positive, got %d", params.MemberCount)
	}
	if params.MemberIndex < 0 || params.MemberIndex >= params.MemberCount {
		return nil, ucgerr.New(ucgerr.InvalidParam, "member index %d out of range [0,%d)", params.MemberIndex, params.MemberCount)
	}
	if params.WindowSize <= 0 {
		params.WindowSize = 16
	}

	if params.ProtocolVersion != "" {
		v, err := semver.NewVersion(params.ProtocolVersion)
		if err != nil {
			return nil, ucgerr.Wrap(ucgerr.InvalidParam, err, "invalid protocol version %q", params.ProtocolVersion)
		}
		c, err := semver.NewConstraint(SupportedProtocolRange)
		if err != nil {
			return nil, ucgerr.Wrap(ucgerr.InvalidParam, err, "invalid supported protocol range")
		}
		if !c.Check(v) {
			return nil, ucgerr.New(ucgerr.InvalidParam, "protocol version %s is not in supported range %s", v, SupportedProtocolRange)
		}
	}

	return &Group{
		id:          params.ID,
		memberCount: params.MemberCount,
		memberIndex: params.MemberIndex,
		topology:    params.Topology,
		worker:      worker,
		resolver:    resolver,
		host:        h,
		endpoints:   make(map[int]transport.Endpoint, params.MemberCount),
		slots:       make([]Slot, params.WindowSize),
	}, nil
}

func (g *Group) ID() uint16               { return g.id }
func (g *Group) MemberCount() int         { return g.memberCount }
func (g *Group) MemberIndex() int         { return g.memberIndex }
func (g *Group) Topology() Topology       { return g.topology }
func (g *Group) WindowSize() int          { return len(g.slots) }
func (g *Group) Host() host.Host          { return g.host }
func (g *Group) Worker() transport.Worker { return g.worker }

// Distance reports the distance between members i and j, per spec section 3.
func (g *Group) Distance(i, j int) host.Distance {
	return g.host.RankDistance(g.id, i, j)
}

// Connect returns the Endpoint for peerIndex, creating and caching it on
// first use. Lookups are idempotent per spec section 3's invariant: a
// group's endpoint table maps each member index to at most one endpoint.
func (g *Group) Connect(ctx context.Context, peerIndex int) (transport.Endpoint, error) {
	if peerIndex < 0 || peerIndex >= g.memberCount {
		return nil, ucgerr.New(ucgerr.InvalidParam, "peer index %d out of range [0,%d)", peerIndex, g.memberCount)
	}
	if ep, ok := g.endpoints[peerIndex]; ok {
		return ep, nil
	}
	ep, err := g.worker.Connect(ctx, peerIndex, g.resolver)
	if err != nil {
		return nil, ucgerr.Wrap(ucgerr.Unreachable, err, "resolve peer %d", peerIndex)
	}
	g.endpoints[peerIndex] = ep
	return ep, nil
}

// AcquireSlot binds occ into the window slot for collID (index = collID mod
// WindowSize), enforcing spec section 3's bound on concurrent outstanding
// collectives: acquiring a slot already held by a different active occupant
// fails rather than evicting it, so a caller must wait for completion before
// starting a new collective at that index.
func (g *Group) AcquireSlot(collID uint8, occ Occupant) error {
	idx := int(collID) % len(g.slots)
	return g.slots[idx].Acquire(collID, occ)
}

// ReleaseSlot frees the window slot for collID, making it available for a
// future collective at the same index.
func (g *Group) ReleaseSlot(collID uint8) {
	idx := int(collID) % len(g.slots)
	g.slots[idx].Release()
}

// Deliver routes one inbound fragment to the slot for collID, matching it
// against the slot's active occupant or parking it as an early arrival (spec
// section 4.6). matched is false when the fragment was parked or dropped as
// a stale/late straggler.
func (g *Group) Deliver(collID, stepIdx uint8, offset uint32, payload []byte) (matched, early, done bool) {
	idx := int(collID) % len(g.slots)
	return g.slots[idx].MatchAndDeliver(collID, stepIdx, offset, payload)
}

// DrainEarly returns and clears every fragment parked ahead of schedule for
// collID's slot at stepIdx.
func (g *Group) DrainEarly(collID uint8, stepIdx uint8) []EarlyArrival {
	idx := int(collID) % len(g.slots)
	return g.slots[idx].DrainEarly(stepIdx)
}

// OnClose registers a cleanup hook run once, in registration order, when
// Close is called. The plan cache uses this to flush itself when its owning
// group is destroyed (spec section 4.3: "destroying the group drops the
// cache").
func (g *Group) OnClose(fn func()) {
	g.onClose = append(g.onClose, fn)
}

// Close runs every registered close hook exactly once.
func (g *Group) Close() error {
	g.closeOnce.Do(func() {
		for _, fn := range g.onClose {
			fn()
		}
	})
	return nil
}

func (g *Group) String() string {
	return fmt.Sprintf("group(id=%d, members=%d, idx=%d)", g.id, g.memberCount, g.memberIndex)
}
