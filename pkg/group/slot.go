package group

import "github.com/cobaltmesh/ucg/pkg/ucgerr"

// Occupant is the narrow view of an in-flight request a Slot needs: enough
// to match inbound fragments and deliver them, without the group package
// depending on the exec package's concrete Request type.
type Occupant interface {
	// CollID is the 8-bit collective id this occupant was started with.
	CollID() uint8
	// CurrentStepIndex is the step the occupant is currently waiting on.
	CurrentStepIndex() uint8
	// Deliver hands one matched fragment to the occupant. done reports
	// whether the occupant's current step just completed.
	Deliver(offset uint32, payload []byte) (done bool)
}

// EarlyArrival is a fragment that reached the slot before the local request
// reached the step it targets (spec section 4.6: "Early").
type EarlyArrival struct {
	StepIndex uint8
	Offset    uint32
	Payload   []byte
}

// Slot is one window entry bounding concurrent in-flight collectives (spec
// section 3). Index = coll_id mod WindowSize.
type Slot struct {
	Active   Occupant
	Early    []EarlyArrival
	lastColl uint8
	hadOne   bool
}

// Acquire binds occ to the slot under collID. It fails if the slot is
// already occupied by a different, still-active request — spec section 8's
// invariant 1 (two ops never share a window index while both are active).
func (s *Slot) Acquire(collID uint8, occ Occupant) error {
	if s.Active != nil {
		return ucgerr.New(ucgerr.InvalidParam, "slot already holds coll_id=%d while acquiring coll_id=%d", s.Active.CollID(), collID)
	}
	s.Active = occ
	s.lastColl = collID
	s.hadOne = true
	return nil
}

// Release clears the slot's active occupant. Early arrivals are left in
// place; spec section 4.6 treats fragments for an already-completed op as
// legal stragglers as long as they're for the slot's most recent coll_id,
// and stale (older coll_id) otherwise.
func (s *Slot) Release() {
	s.Active = nil
}

// MatchAndDeliver routes one inbound fragment. It returns (matched=true,
// done) when the slot's active occupant accepted the fragment; matched=false
// means the fragment was parked as early, or dropped as stale.
func (s *Slot) MatchAndDeliver(collID, stepIdx uint8, offset uint32, payload []byte) (matched, early, done bool) {
	if s.Active != nil && s.Active.CollID() == collID {
		if s.Active.CurrentStepIndex() == stepIdx {
			done = s.Active.Deliver(offset, payload)
			return true, false, done
		}
		// Arrived before the local side reached this step: park it.
		cp := make([]byte, len(payload))
		copy(cp, payload)
		s.Early = append(s.Early, EarlyArrival{StepIndex: stepIdx, Offset: offset, Payload: cp})
		return false, true, false
	}
	// Either the slot is empty, or coll_id doesn't match the active
	// occupant. Both cases are legal stragglers from a just-completed op
	// (spec section 4.6's "Late/stale") and are dropped by the caller.
	return false, false, false
}

// DrainEarly removes and returns every early arrival queued for stepIdx, in
// arrival order, so the executor can apply them before waiting on the wire
// for new fragments (spec section 4.6).
func (s *Slot) DrainEarly(stepIdx uint8) []EarlyArrival {
	if len(s.Early) == 0 {
		return nil
	}
	var drained []EarlyArrival
	remaining := s.Early[:0]
	for _, ea := range s.Early {
		if ea.StepIndex == stepIdx {
			drained = append(drained, ea)
		} else {
			remaining = append(remaining, ea)
		}
	}
	s.Early = remaining
	return drained
}
