// Package transport declares the narrow capability set the engine requires
// from the underlying active-message transport (spec section 1: "out of
// scope... named by their interfaces"). No concrete networking code lives
// here — endpoint creation, the bootstrap mesh, and the progress loop's
// internals are the transport's concern. This mirrors the teacher's
// pkg/interfaces convention of defining narrow collaborator interfaces at
// the consumer rather than depending on a concrete client type.
package transport

import "context"

// Tier names the send primitive a step uses for one fragment, per spec
// section 4.4's transport-tier selection.
type Tier int

const (
	TierShort Tier = iota
	TierBcopy
	TierZcopy
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierBcopy:
		return "bcopy"
	case TierZcopy:
		return "zcopy"
	default:
		return "unknown"
	}
}

// CompletionFunc is invoked when a non-blocking send completes (or fails).
// A nil err means success; a non-nil err is surfaced verbatim as
// ucgerr.TransportError by the step executor.
type CompletionFunc func(err error)

// MemoryHandle is an opaque registration returned by MemoryDomain.Register.
// Its lifetime is owned by the op that created it and must be released at
// step teardown (spec section 5's resource discipline).
type MemoryHandle interface {
	Release() error
}

// MemoryDomain registers user buffers for zero-copy sends and reports the
// registration cap the op materializer must respect.
type MemoryDomain interface {
	Register(buf []byte) (MemoryHandle, error)
	MaxRegisteredBytes() int
}

// Endpoint is a connected peer, as returned by Worker.Connect. One Endpoint
// handle is cached per (group, peer-index) pair and reused for the life of
// the group (spec section 3: "lookups are idempotent").
type Endpoint interface {
	// SendShort inlines header and payload into one transport message.
	SendShort(amID uint8, header uint64, payload []byte) error
	// SendBcopy hands payload packing to pack, which must write into the
	// buffer it is given and return the number of bytes written.
	SendBcopy(amID uint8, header uint64, length int, pack func(buf []byte) int, cb CompletionFunc) error
	// SendZcopy sends buf directly from user memory, registered via mh.
	SendZcopy(amID uint8, header uint64, buf []byte, mh MemoryHandle, cb CompletionFunc) error
	// MemoryDomain returns the memory domain this endpoint's sends register
	// against for zcopy.
	MemoryDomain() MemoryDomain
}

// AMHandler processes one inbound active-message fragment. header is the
// decoded 64-bit wire header value (internal/wire.Header); payload is the
// fragment body.
type AMHandler func(header uint64, payload []byte)

// AddressResolver is the bootstrap/host collaborator that turns a member
// index into a wire address, per spec section 6's external-interfaces
// contract (resolve_address/release_address).
type AddressResolver interface {
	ResolveAddress(memberIndex int) (addr []byte, err error)
	ReleaseAddress(addr []byte)
}

// Worker is the per-group progress-and-connect surface: the single
// suspension point (spec section 5) and the endpoint factory. A Worker
// belongs to exactly one owning goroutine; it is not safe for concurrent use
// across groups that share it unless the caller serializes access.
type Worker interface {
	// Connect resolves and returns the Endpoint for memberIndex, creating it
	// on first use via resolver.
	Connect(ctx context.Context, memberIndex int, resolver AddressResolver) (Endpoint, error)
	// RegisterAMHandler installs the handler for a contiguous range of AM
	// ids starting at baseID (spec section 6: "the engine consumes a
	// contiguous range starting from a caller-chosen base_am_id").
	RegisterAMHandler(baseID uint8, handler AMHandler)
	// Progress drains the transport and returns the number of completed
	// work units, per spec section 5's cooperative scheduling model.
	Progress(ctx context.Context) int
}
