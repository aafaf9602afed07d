// Package demux implements the inbound active-message routing component
// (spec section 2, C8): it hashes a fragment's group_id to the owning Group
// and feeds the fragment into that group's slot window, distinguishing
// match/early/late-stale per spec section 4.6.
//
// This is the piece of context an AM handler needs but spec section 9 notes
// the original C implementation only reached via mutable globals (g_myidx, builtin_base_am_id):
// here the context is an explicit *Router passed to RegisterAMHandler's
// closure instead.
package demux

import (
	"log/slog"
	"sync"

	"github.com/cobaltmesh/ucg/internal/wire"
	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

// Router owns the process-wide group_id -> *group.Group table an AM handler
// consults (spec section 6: "AM handlers are registered with a context
// pointer (the group list head)"). The group table itself is guarded by a
// read-write mutex, so Register, close-time removal and lookups may run from
// different goroutines; the groups it routes to are not synchronized, and per
// spec section 5's cooperative scheduling model fragments for groups sharing
// a worker are dispatched from that worker's single owning goroutine.
type Router struct {
	mu     sync.RWMutex
	groups map[uint16]*group.Group
	log    *slog.Logger
}

// New constructs a Router. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{groups: make(map[uint16]*group.Group), log: log}
}

// Register adds g to the routing table, keyed by its group id, and arranges
// for it to be removed automatically when the group is closed.
func (r *Router) Register(g *group.Group) {
	r.mu.Lock()
	r.groups[g.ID()] = g
	r.mu.Unlock()

	id := g.ID()
	g.OnClose(func() {
		r.mu.Lock()
		delete(r.groups, id)
		r.mu.Unlock()
	})
}

// Handler returns the transport.AMHandler a Worker should register for the
// engine's contiguous AM id range (spec section 6). It decodes the wire
// header, looks up the target group, and routes the fragment through the
// group's slot window.
func (r *Router) Handler() transport.AMHandler {
	return func(header uint64, payload []byte) {
		r.Dispatch(wire.Decode(header), payload)
	}
}

// Dispatch routes one already-decoded fragment. It is exported separately
// from Handler so tests can drive it directly with a decoded header. The
// payload is passed on untouched: a rank Extension header, where present, is
// decoded later by pkg/exec.
func (r *Router) Dispatch(hdr wire.Header, payload []byte) {
	r.mu.RLock()
	g, ok := r.groups[hdr.GroupID]
	r.mu.RUnlock()
	if !ok {
		r.log.Warn("demux: fragment for unknown group, dropped",
			"group_id", hdr.GroupID, "coll_id", hdr.CollID, "step_idx", hdr.StepIndex)
		return
	}

	matched, early, _ := g.Deliver(hdr.CollID, hdr.StepIndex, hdr.RemoteOffset, payload)
	switch {
	case matched:
		r.log.Debug("demux: fragment matched",
			"group_id", hdr.GroupID, "coll_id", hdr.CollID, "step_idx", hdr.StepIndex, "offset", hdr.RemoteOffset)
	case early:
		r.log.Debug("demux: fragment parked as early arrival",
			"group_id", hdr.GroupID, "coll_id", hdr.CollID, "step_idx", hdr.StepIndex, "offset", hdr.RemoteOffset)
	default:
		// Late/stale per spec section 4.6: legal for the tail of a completed
		// op, since the source will either retransmit or time out on its own
		// tracking. Never fails the local request.
		r.log.Warn("demux: late or stale fragment dropped",
			"group_id", hdr.GroupID, "coll_id", hdr.CollID, "step_idx", hdr.StepIndex)
	}
}

// DrainEarly activates stepIdx for collID in the group identified by
// groupID, returning every fragment that arrived before the local side
// reached that step so the executor can apply them before waiting on the
// wire for new arrivals (spec section 4.6).
func (r *Router) DrainEarly(groupID uint16, collID, stepIdx uint8) []group.EarlyArrival {
	r.mu.RLock()
	g, ok := r.groups[groupID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return g.DrainEarly(collID, stepIdx)
}
