package exec

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/cobaltmesh/ucg/internal/backoff"
	"github.com/cobaltmesh/ucg/internal/wire"
	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/observability"
	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/plan"
	"github.com/cobaltmesh/ucg/pkg/transport"
	"github.com/cobaltmesh/ucg/pkg/ucgerr"
)

// Params bundles everything Start needs to drive one materialized op to
// completion against a group.
type Params struct {
	ID       uuid.UUID
	CollID   uint8
	Op       *op.Op
	Group    *group.Group
	Host     host.Host
	Datatype host.Datatype
	Reducer  host.Op
	BaseAMID uint8
	Backoff  backoff.Policy
	Obs      *observability.Provider
	// SendLimiter, if set, paces outbound fragment issuance per request —
	// the same token-bucket shape the teacher uses for inbound request
	// throttling, turned outward to cap how fast one op floods a peer
	// with bcopy/zcopy fragments. Nil means unlimited. It gates every
	// fragment sendFragment issues; Plummer relay sends do not pass through
	// it.
	SendLimiter *rate.Limiter
	// Done is invoked exactly once, when the request reaches StateDone,
	// with the terminal error (nil on success).
	Done func(err error)
}

// Request drives one materialized op's steps against its group, implementing
// group.Occupant so the group's completion-slot window can route inbound
// fragments to it directly (spec section 2, component C7).
type Request struct {
	id       uuid.UUID
	collID   uint8
	o        *op.Op
	grp      *group.Group
	h        host.Host
	dtype    host.Datatype
	reducer  host.Op
	baseAMID uint8
	bo       backoff.Policy
	obs      *observability.Provider
	limiter  *rate.Limiter
	done     func(error)

	ctx    context.Context
	endOp  func(error)

	step           int
	state          State
	pendingSend    int
	pendingRecv    int
	sentCBFired    bool
	resendAttempts []int
	status         error

	// plummerGathered and plummerFinal accumulate a Plummer alltoallv's
	// intra-node relay state across its four phases; see pkg/exec/plummer.go.
	plummerGathered map[int][]byte
	plummerFinal    map[int]map[int][]byte
}

// New constructs a Request from p. It does not start the request; call
// Start to acquire the group's completion slot and begin step 0.
func New(p Params) *Request {
	return &Request{
		id:       p.ID,
		collID:   p.CollID,
		o:        p.Op,
		grp:      p.Group,
		h:        p.Host,
		dtype:    p.Datatype,
		reducer:  p.Reducer,
		baseAMID: p.BaseAMID,
		bo:       p.Backoff,
		obs:      p.Obs,
		limiter:  p.SendLimiter,
		done:     p.Done,
		state:    StatePosted,
	}
}

// ID returns the request's correlation id.
func (r *Request) ID() uuid.UUID { return r.id }

// CollID satisfies group.Occupant.
func (r *Request) CollID() uint8 { return r.collID }

// CurrentStepIndex satisfies group.Occupant: the wire step_idx the executor
// is currently prepared to accept fragments for.
func (r *Request) CurrentStepIndex() uint8 {
	if r.o == nil || r.step >= len(r.o.Steps) {
		return 0
	}
	return uint8(r.o.Steps[r.step].Phase.StepIndex)
}

// State reports the request's current position in spec section 4.5's state
// table.
func (r *Request) State() State { return r.state }

// Status returns the terminal error once the request reaches StateDone, or
// nil while still in flight or on success.
func (r *Request) Status() error { return r.status }

// Start acquires the group's completion slot for collID and begins driving
// step 0. Steps with no expected receives are driven straight through
// without returning to the caller, so Start may complete the whole op
// synchronously for a single-step or all-send plan.
func (r *Request) Start(ctx context.Context) error {
	if err := r.grp.AcquireSlot(r.collID, r); err != nil {
		return err
	}
	if r.o == nil || len(r.o.Steps) == 0 {
		return r.finish(ctx, nil)
	}

	r.resendAttempts = make([]int, len(r.o.Steps))
	r.ctx = ctx
	if r.obs != nil {
		var end func(error)
		r.ctx, end = r.obs.TrackOp(ctx, "ucg.op", attribute.String("collective", r.o.Plan.Collective.String()), attribute.Int("group_id", int(r.grp.ID())))
		r.endOp = end
		r.obs.SetSlotOccupancy(r.ctx, 1)
	}

	// Seed the local accumulator for collectives that reduce into the
	// receive buffer (spec section 3: the op's recv buffer is the running
	// local value across reduce-bearing phases).
	if reducesAny(r.o.Plan) {
		seedRecvBuffer(r.o.Steps[0])
	}

	return r.enterStep(0)
}

// Cancel unwinds the request, releasing its slot and reporting
// ucgerr.ErrCanceled to Done (spec section 7).
func (r *Request) Cancel() {
	if r.state == StateDone {
		return
	}
	r.finish(r.ctx, ucgerr.New(ucgerr.Canceled, "request canceled at step %d", r.step))
}

func (r *Request) enterStep(idx int) error {
	r.step = idx
	step := &r.o.Steps[idx]
	r.plummerOnEnterStep(step)
	r.pendingRecv = recvCount(step.Phase)
	r.pendingSend = 0
	r.sentCBFired = false
	r.state = StateSending

	for _, ea := range r.grp.DrainEarly(r.collID, uint8(step.Phase.StepIndex)) {
		if err := r.applyIncoming(step, ea.Offset, ea.Payload); err != nil {
			return r.finish(r.ctx, err)
		}
		r.pendingRecv--
	}

	if err := r.sendStep(step); err != nil {
		return err
	}
	return r.maybeAdvance()
}

// Deliver satisfies group.Occupant: it applies one matched inbound fragment
// to the current step and reports whether the step just completed.
func (r *Request) Deliver(offset uint32, payload []byte) bool {
	if r.step >= len(r.o.Steps) {
		return false
	}
	step := &r.o.Steps[r.step]
	r.state = StateReducing
	if err := r.applyIncoming(step, offset, payload); err != nil {
		r.finish(r.ctx, err)
		return true
	}
	r.pendingRecv--
	wasLast := r.pendingRecv <= 0 && r.sentCBFired
	if err := r.maybeAdvance(); err != nil {
		return true
	}
	return wasLast
}

func (r *Request) applyIncoming(step *op.Step, offset uint32, payload []byte) error {
	if isPlummerMethod(step.Phase.Method) {
		if err := r.applyPlummerIncoming(step, payload); err != nil {
			return err
		}
		if r.obs != nil {
			r.obs.RecordFragment(r.ctx, attribute.Int("step", step.Phase.StepIndex), attribute.String("direction", "recv"))
		}
		return nil
	}
	dst := recvTarget(step)
	count := r.fragmentElementCount(step, len(payload))
	if err := applyFragment(r.h, step.Phase, dst, step.TempBuffer, payload, offset, count, r.dtype, r.reducer); err != nil {
		return ucgerr.Wrap(ucgerr.InvalidParam, err, "reduce step %d", step.Phase.StepIndex)
	}
	if r.obs != nil {
		r.obs.RecordFragment(r.ctx, attribute.Int("step", step.Phase.StepIndex), attribute.String("direction", "recv"))
	}
	return nil
}

// maybeAdvance transitions the request forward once both the send and
// receive sides of the current step have finished; it is the single point
// both Deliver and sendStep's completion path route through.
func (r *Request) maybeAdvance() error {
	if r.pendingSend > 0 {
		return nil
	}
	if !r.sentCBFired {
		r.state = StateSent
		r.sentCBFired = true
	}
	if r.pendingRecv > 0 {
		r.state = StateWaiting
		return nil
	}
	return r.stepComplete()
}

func (r *Request) stepComplete() error {
	step := &r.o.Steps[r.step]
	if step.MemoryHandle != nil {
		_ = step.MemoryHandle.Release()
		step.MemoryHandle = nil
	}
	next := r.step + 1
	if next >= len(r.o.Steps) {
		return r.finish(r.ctx, nil)
	}
	return r.enterStep(next)
}

func (r *Request) finish(ctx context.Context, err error) error {
	if r.state == StateDone {
		return r.status
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.status = err
	r.state = StateDone
	r.grp.ReleaseSlot(r.collID)
	if r.obs != nil {
		r.obs.SetSlotOccupancy(ctx, -1)
	}
	if r.endOp != nil {
		r.endOp(err)
	}
	if r.done != nil {
		r.done(err)
	}
	return err
}

func (r *Request) sendStep(step *op.Step) error {
	if isPlummerMethod(step.Phase.Method) {
		return r.sendPlummerStep(step)
	}
	peers := sendPeers(step.Phase)
	if len(peers) == 0 {
		return nil
	}
	buf := sendSource(step)
	if len(buf) == 0 {
		return nil
	}

	fragCount := step.FragmentCount
	if fragCount < 1 {
		fragCount = 1
	}
	fragLen := step.FragmentLength
	if fragLen <= 0 {
		fragLen = len(buf)
	}

	// Pre-count every async send this step is about to issue so pendingSend
	// can only reach zero after the whole loop below has issued all of them
	// — issuing sends one at a time with a synchronous completion callback
	// (as plain in-process transports do) would otherwise let the first
	// completion advance the step before later peers are even contacted.
	if step.Tier == transport.TierBcopy || step.Tier == transport.TierZcopy {
		r.pendingSend += countFragments(buf, fragLen) * len(peers)
	}

	for _, peerIdx := range peers {
		ep, err := r.grp.Connect(r.ctx, peerIdx)
		if err != nil {
			return r.finish(r.ctx, ucgerr.Wrap(ucgerr.Unreachable, err, "connect to peer %d for step %d", peerIdx, step.Phase.StepIndex))
		}

		if step.Tier == transport.TierZcopy && step.MemoryHandle == nil {
			mh, err := ep.MemoryDomain().Register(buf)
			if err != nil {
				return r.finish(r.ctx, ucgerr.Wrap(ucgerr.NoMemory, err, "register zcopy buffer for step %d", step.Phase.StepIndex))
			}
			step.MemoryHandle = mh
		}

		for i := 0; i < fragCount; i++ {
			off := i * fragLen
			if off >= len(buf) {
				break
			}
			end := off + fragLen
			if end > len(buf) {
				end = len(buf)
			}
			frag := buf[off:end]
			hdr := wire.Encode(wire.Header{
				GroupID:      r.grp.ID(),
				CollID:       r.collID,
				StepIndex:    uint8(step.Phase.StepIndex),
				RemoteOffset: uint32(off),
			})

			if err := r.sendFragment(ep, step, hdr, frag); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Request) sendFragment(ep transport.Endpoint, step *op.Step, hdr uint64, frag []byte) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return r.finish(r.ctx, ucgerr.Wrap(ucgerr.Canceled, err, "send limiter wait at step %d", step.Phase.StepIndex))
		}
	}
	switch step.Tier {
	case transport.TierShort:
		if err := ep.SendShort(r.baseAMID, hdr, frag); err != nil {
			return r.handleSendError(step, err)
		}
		r.recordSent(step)
		return nil
	case transport.TierBcopy:
		payload := append([]byte(nil), frag...)
		if err := ep.SendBcopy(r.baseAMID, hdr, len(payload), func(b []byte) int { return copy(b, payload) }, r.sendCompletion(step)); err != nil {
			r.pendingSend--
			return r.handleSendError(step, err)
		}
		return nil
	case transport.TierZcopy:
		if err := ep.SendZcopy(r.baseAMID, hdr, frag, step.MemoryHandle, r.sendCompletion(step)); err != nil {
			r.pendingSend--
			return r.handleSendError(step, err)
		}
		return nil
	default:
		if err := ep.SendShort(r.baseAMID, hdr, frag); err != nil {
			return r.handleSendError(step, err)
		}
		r.recordSent(step)
		return nil
	}
}

func (r *Request) sendCompletion(step *op.Step) transport.CompletionFunc {
	return func(err error) {
		r.pendingSend--
		if err != nil {
			_ = r.handleSendError(step, err)
			return
		}
		r.recordSent(step)
		_ = r.maybeAdvance()
	}
}

func (r *Request) recordSent(step *op.Step) {
	if r.obs != nil {
		r.obs.RecordFragment(r.ctx, attribute.Int("step", step.Phase.StepIndex), attribute.String("direction", "send"))
	}
}

// handleSendError implements spec section 4.5's resend rule: a retryable
// transport failure replays the step from scratch (the whole step, since
// this executor doesn't track a finer-grained iter_offset than the step
// itself); a non-retryable failure propagates straight to the request
// status.
func (r *Request) handleSendError(step *op.Step, err error) error {
	if !ucgerr.IsRetryable(err) {
		return r.finish(r.ctx, ucgerr.Wrap(ucgerr.TransportError, err, "non-retryable send failure at step %d", step.Phase.StepIndex).WithClassification(ucgerr.NonRetryable))
	}

	attempt := r.resendAttempts[r.step]
	if backoff.ExceedsLimit(attempt, r.bo) {
		return r.finish(r.ctx, ucgerr.Wrap(ucgerr.TransportError, err, "resend attempts exhausted at step %d", step.Phase.StepIndex).WithClassification(ucgerr.NonRetryable))
	}
	r.resendAttempts[r.step]++
	r.pendingSend = 0
	_ = backoff.Compute(backoff.Params{
		GroupID:      r.grp.ID(),
		CollID:       r.collID,
		StepIndex:    uint8(step.Phase.StepIndex),
		AttemptIndex: attempt,
	}, r.bo)
	if r.obs != nil {
		r.obs.RecordResend(r.ctx, attribute.Int("step", step.Phase.StepIndex), attribute.Int("attempt", attempt))
	}
	return r.sendStep(step)
}

// fragmentElementCount returns the element count a fragment covers: its byte
// length divided by the host's span for one element of the request's
// datatype, which is exact for the fixed-width predefined datatypes the
// fragmentation path targets. When the host reports no span, the byte length
// itself is returned.
func (r *Request) fragmentElementCount(step *op.Step, payloadLen int) int {
	if span, _ := r.h.DatatypeSpan(r.dtype, 1); span > 0 {
		return payloadLen / span
	}
	return payloadLen
}

func countFragments(buf []byte, fragLen int) int {
	if fragLen <= 0 {
		return 1
	}
	n := (len(buf) + fragLen - 1) / fragLen
	if n < 1 {
		n = 1
	}
	return n
}

func recvTarget(step *op.Step) []byte {
	if len(step.ContigBuffer) > 0 {
		return step.ContigBuffer
	}
	return step.RecvBuffer
}

func sendSource(step *op.Step) []byte {
	if len(step.ContigBuffer) > 0 {
		return step.ContigBuffer
	}
	if step.Phase.Method == plan.MethodSendTerminal && len(step.RecvBuffer) == 0 {
		return step.SendBuffer
	}
	if len(step.RecvBuffer) > 0 {
		return step.RecvBuffer
	}
	return step.SendBuffer
}
