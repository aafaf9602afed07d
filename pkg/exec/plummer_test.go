package exec_test

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/internal/backoff"
	"github.com/cobaltmesh/ucg/pkg/demux"
	"github.com/cobaltmesh/ucg/pkg/exec"
	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/op"
	"github.com/cobaltmesh/ucg/pkg/plan"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

// int32Host is a minimal host.Host treating every buffer as a little-endian
// int32 vector, the same convention cmd/ucgbench's sumHost uses; alltoallv
// never reduces, so Reduce is unused here but still implemented to satisfy
// the interface.
type int32Host struct{}

const plummerElemSize = 4

func (int32Host) Reduce(host.Op, []byte, []byte, int, host.Datatype) error { return nil }
func (int32Host) OpIsCommutative(host.Op) bool                             { return true }
func (int32Host) DatatypeIsPredefined(host.Datatype) bool                  { return true }
func (int32Host) DatatypeSpan(_ host.Datatype, count int) (int, int)       { return count * plummerElemSize, 0 }
func (int32Host) RankDistance(_ uint16, i, j int) host.Distance {
	if i == j {
		return host.DistSelf
	}
	return host.DistNet
}

func encodePlummerInt32s(vs []int32) []byte {
	buf := make([]byte, len(vs)*plummerElemSize)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*plummerElemSize:], uint32(v))
	}
	return buf
}

func decodePlummerInt32s(buf []byte) []int32 {
	vs := make([]int32, len(buf)/plummerElemSize)
	for i := range vs {
		vs[i] = int32(binary.LittleEndian.Uint32(buf[i*plummerElemSize:]))
	}
	return vs
}

// plummerLoopbackNetwork is a minimal re-implementation of
// cmd/ucgbench/loopback.go's in-process transport (that command's version
// lives in package main and cannot be imported here): every rank gets its
// own inbox, drained only when its own Worker.Progress is called, so ranks
// can Start in any order without early sends racing ahead of registration.
type plummerLoopbackNetwork struct {
	inboxes  [][]plummerFragment
	handlers []transport.AMHandler
}

type plummerFragment struct {
	header  uint64
	payload []byte
}

func newPlummerLoopbackNetwork(n int) *plummerLoopbackNetwork {
	return &plummerLoopbackNetwork{
		inboxes:  make([][]plummerFragment, n),
		handlers: make([]transport.AMHandler, n),
	}
}

func (n *plummerLoopbackNetwork) worker(rank int) *plummerLoopbackWorker {
	return &plummerLoopbackWorker{net: n, rank: rank}
}

type plummerLoopbackWorker struct {
	net  *plummerLoopbackNetwork
	rank int
}

func (w *plummerLoopbackWorker) Connect(_ context.Context, memberIndex int, _ transport.AddressResolver) (transport.Endpoint, error) {
	return &plummerLoopbackEndpoint{net: w.net, toRank: memberIndex}, nil
}

func (w *plummerLoopbackWorker) RegisterAMHandler(_ uint8, handler transport.AMHandler) {
	w.net.handlers[w.rank] = handler
}

func (w *plummerLoopbackWorker) Progress(_ context.Context) int {
	batch := w.net.inboxes[w.rank]
	w.net.inboxes[w.rank] = nil
	handler := w.net.handlers[w.rank]
	for _, f := range batch {
		handler(f.header, f.payload)
	}
	return len(batch)
}

type plummerLoopbackEndpoint struct {
	net    *plummerLoopbackNetwork
	toRank int
}

func (e *plummerLoopbackEndpoint) SendShort(_ uint8, header uint64, payload []byte) error {
	e.net.inboxes[e.toRank] = append(e.net.inboxes[e.toRank], plummerFragment{header: header, payload: append([]byte(nil), payload...)})
	return nil
}

func (e *plummerLoopbackEndpoint) SendBcopy(_ uint8, header uint64, length int, pack func([]byte) int, cb transport.CompletionFunc) error {
	buf := make([]byte, length)
	pack(buf)
	e.net.inboxes[e.toRank] = append(e.net.inboxes[e.toRank], plummerFragment{header: header, payload: buf})
	cb(nil)
	return nil
}

func (e *plummerLoopbackEndpoint) SendZcopy(_ uint8, header uint64, buf []byte, _ transport.MemoryHandle, cb transport.CompletionFunc) error {
	e.net.inboxes[e.toRank] = append(e.net.inboxes[e.toRank], plummerFragment{header: header, payload: append([]byte(nil), buf...)})
	cb(nil)
	return nil
}

func (e *plummerLoopbackEndpoint) MemoryDomain() transport.MemoryDomain { return plummerLoopbackMemoryDomain{} }

type plummerLoopbackMemoryDomain struct{}

func (plummerLoopbackMemoryDomain) Register(buf []byte) (transport.MemoryHandle, error) {
	return plummerLoopbackHandle{}, nil
}
func (plummerLoopbackMemoryDomain) MaxRegisteredBytes() int { return 0 }

type plummerLoopbackHandle struct{}

func (plummerLoopbackHandle) Release() error { return nil }

type plummerLoopbackResolver struct{}

func (plummerLoopbackResolver) ResolveAddress(int) ([]byte, error) { return nil, nil }
func (plummerLoopbackResolver) ReleaseAddress([]byte)              {}

// TestPlummerAllToAllVEightRanks reproduces spec section 8 scenario 6: eight
// ranks split across four two-process nodes run a Plummer alltoallv where
// every rank's send buffer carries, at slot d, the value rank*100+d; the
// spec's invariant is that every rank d's receive buffer, read in ascending
// source-rank order, equals [s*100+d for s in 0..7].
func TestPlummerAllToAllVEightRanks(t *testing.T) {
	const n = 8
	const procsPerNode = 2

	h := int32Host{}
	net := newPlummerLoopbackNetwork(n)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	type rankState struct {
		grp    *group.Group
		router *demux.Router
		req    *exec.Request
		recv   []byte
	}
	ranks := make([]*rankState, n)

	sendCounts := make([]int, n)
	sendDispls := make([]int, n)
	for i := range sendCounts {
		sendCounts[i] = plummerElemSize
		sendDispls[i] = i * plummerElemSize
	}

	connect := func(grp *group.Group) plan.Connector {
		return func(peerIndex, _ int) error {
			_, err := grp.Connect(context.Background(), peerIndex)
			return err
		}
	}

	for r := 0; r < n; r++ {
		grp, err := group.Open(group.Params{
			ID:          1,
			MemberCount: n,
			MemberIndex: r,
			Topology:    group.Topology{ProcsPerNode: procsPerNode, Continuous: true},
			WindowSize:  8,
		}, net.worker(r), plummerLoopbackResolver{}, h)
		require.NoError(t, err)

		router := demux.New(logger)
		router.Register(grp)
		net.worker(r).RegisterAMHandler(64, router.Handler())

		ranks[r] = &rankState{grp: grp, router: router}
	}

	for r := 0; r < n; r++ {
		rs := ranks[r]

		p, err := plan.BuildPlummer(plan.GroupParams{
			ID:           1,
			MemberCount:  n,
			MemberIndex:  r,
			ProcsPerNode: procsPerNode,
			Continuous:   true,
			Distance:     func(i, j int) host.Distance { return h.RankDistance(1, i, j) },
		}, plan.BuildConfig{
			Thresholds: plan.Thresholds{MaxShortOne: 4096, MaxShortMax: 4096},
		}, plan.CollParams{
			Type:        plan.CollAllToAllV,
			Count:       n,
			Commutative: true,
		}, connect(rs.grp))
		require.NoError(t, err)
		require.NoError(t, p.Validate())

		sendVals := make([]int32, n)
		for d := 0; d < n; d++ {
			sendVals[d] = int32(r*100 + d)
		}
		rs.recv = make([]byte, n*plummerElemSize)

		inv := op.Invocation{
			SendBuffer: encodePlummerInt32s(sendVals),
			RecvBuffer: rs.recv,
			Count:      n,
			Datatype:   "int32",
			Op:         "none",
			SendCounts: sendCounts,
			SendDispls: sendDispls,
			RecvCounts: sendCounts,
			RecvDispls: sendDispls,
		}

		materialized, err := op.Materialize(p, inv, op.MaterializeConfig{
			Defaults: plan.Thresholds{MaxShortOne: 4096, MaxShortMax: 4096},
		}, h, plummerLoopbackMemoryDomain{})
		require.NoError(t, err)

		rs.req = exec.New(exec.Params{
			ID:       uuid.New(),
			CollID:   7,
			Op:       materialized,
			Group:    rs.grp,
			Host:     h,
			Datatype: "int32",
			Reducer:  "none",
			BaseAMID: 64,
			Backoff:  backoff.DefaultPolicy(),
		})
	}

	for r := 0; r < n; r++ {
		require.NoError(t, ranks[r].req.Start(context.Background()))
	}

	for {
		allDone := true
		progressed := 0
		for r := 0; r < n; r++ {
			if ranks[r].req.State() != exec.StateDone {
				allDone = false
			}
			progressed += net.worker(r).Progress(context.Background())
		}
		if allDone {
			break
		}
		require.NotZero(t, progressed, "simulated fleet made no progress before every rank reached StateDone")
	}

	for d := 0; d < n; d++ {
		require.NoError(t, ranks[d].req.Status())
		got := decodePlummerInt32s(ranks[d].recv)
		require.Len(t, got, n)
		for s := 0; s < n; s++ {
			require.Equal(t, int32(s*100+d), got[s], "rank %d's slot for source %d", d, s)
		}
	}
}
