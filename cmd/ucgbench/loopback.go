package main

import (
	"context"

	"github.com/cobaltmesh/ucg/pkg/transport"
)

// loopbackNetwork simulates memberCount independent processes inside a
// single Go process: every rank gets its own inbox, drained only when its
// Worker.Progress is called. Sends never touch a peer's state directly, so
// the benchmark driver can Start every rank's request before any of them
// have consumed a fragment, mirroring how independent MPI ranks genuinely
// race to post their collective.
type loopbackNetwork struct {
	ranks []*rankWire
}

type queuedFragment struct {
	header  uint64
	payload []byte
}

type rankWire struct {
	inbox   []queuedFragment
	handler transport.AMHandler
}

func newLoopbackNetwork(memberCount int) *loopbackNetwork {
	n := &loopbackNetwork{ranks: make([]*rankWire, memberCount)}
	for i := range n.ranks {
		n.ranks[i] = &rankWire{}
	}
	return n
}

func (n *loopbackNetwork) enqueue(toRank int, header uint64, payload []byte) {
	n.ranks[toRank].inbox = append(n.ranks[toRank].inbox, queuedFragment{header: header, payload: payload})
}

// worker implements transport.Worker for rank, routing every send through
// the shared network and every Progress call through rank's own inbox.
func (n *loopbackNetwork) worker(rank int) *loopbackWorker {
	return &loopbackWorker{net: n, rank: rank}
}

type loopbackWorker struct {
	net  *loopbackNetwork
	rank int
}

func (w *loopbackWorker) Connect(_ context.Context, memberIndex int, _ transport.AddressResolver) (transport.Endpoint, error) {
	return &loopbackEndpoint{net: w.net, toRank: memberIndex}, nil
}

func (w *loopbackWorker) RegisterAMHandler(_ uint8, handler transport.AMHandler) {
	w.net.ranks[w.rank].handler = handler
}

// Progress drains every fragment queued for this rank since the last call,
// feeding each one through the registered AM handler in arrival order.
func (w *loopbackWorker) Progress(_ context.Context) int {
	rw := w.net.ranks[w.rank]
	batch := rw.inbox
	rw.inbox = nil
	for _, f := range batch {
		rw.handler(f.header, f.payload)
	}
	return len(batch)
}

// loopbackEndpoint delivers a send by enqueueing it on the destination
// rank's inbox rather than invoking its handler inline; this is what lets
// ranks Start in any order without early sends being dropped as stale.
type loopbackEndpoint struct {
	net    *loopbackNetwork
	toRank int
}

func (e *loopbackEndpoint) SendShort(_ uint8, header uint64, payload []byte) error {
	e.net.enqueue(e.toRank, header, append([]byte(nil), payload...))
	return nil
}

func (e *loopbackEndpoint) SendBcopy(_ uint8, header uint64, length int, pack func([]byte) int, cb transport.CompletionFunc) error {
	buf := make([]byte, length)
	pack(buf)
	e.net.enqueue(e.toRank, header, buf)
	cb(nil)
	return nil
}

func (e *loopbackEndpoint) SendZcopy(_ uint8, header uint64, buf []byte, _ transport.MemoryHandle, cb transport.CompletionFunc) error {
	e.net.enqueue(e.toRank, header, append([]byte(nil), buf...))
	cb(nil)
	return nil
}

func (e *loopbackEndpoint) MemoryDomain() transport.MemoryDomain { return loopbackMemoryDomain{} }

// loopbackMemoryDomain never actually registers anything; zcopy sends in
// this harness are plain in-memory copies, so registration always succeeds.
type loopbackMemoryDomain struct{}

func (loopbackMemoryDomain) Register(buf []byte) (transport.MemoryHandle, error) {
	return loopbackHandle{}, nil
}
func (loopbackMemoryDomain) MaxRegisteredBytes() int { return 0 }

type loopbackHandle struct{}

func (loopbackHandle) Release() error { return nil }

type loopbackResolver struct{}

func (loopbackResolver) ResolveAddress(int) ([]byte, error) { return nil, nil }
func (loopbackResolver) ReleaseAddress([]byte)              {}
